package agent

import (
	"context"
	"strings"
	"testing"
)

func TestStubSend(t *testing.T) {
	t.Parallel()

	resp, err := Stub{}.Send(context.Background(), "c1", " What is Go? ", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasSuffix(resp.Text(), "You asked: What is Go?") {
		t.Fatalf("Text() = %q", resp.Text())
	}

	resp, err = Stub{Reply: "Hello!"}.Send(context.Background(), "c1", "Hi", "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Fatalf("Text() = %q", resp.Text())
	}
}

func TestStubHonorsCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Stub{}).Send(ctx, "c1", "Hi", ""); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
