package sse

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriterFrames(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()

	w, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	w.Prepare()
	if err := w.WriteData("Hello!"); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if err := w.WriteData("second"); err != nil {
		t.Fatalf("WriteData: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Fatalf("Cache-Control = %q", got)
	}
	if got := rec.Header().Get("Connection"); got != "keep-alive" {
		t.Fatalf("Connection = %q", got)
	}
	if got := rec.Body.String(); got != "data: Hello!\n\ndata: second\n\n" {
		t.Fatalf("body = %q", got)
	}
	if !rec.Flushed {
		t.Fatal("response was not flushed")
	}
}

func TestWriterError(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	w, _ := NewWriter(rec)
	w.Prepare()
	if err := w.WriteError("agent request failed"); err != nil {
		t.Fatalf("WriteError: %v", err)
	}
	if got := rec.Body.String(); got != "event: error\ndata: agent request failed\n\n" {
		t.Fatalf("body = %q", got)
	}
}

type noFlush struct{ http.ResponseWriter }

func TestNewWriterRequiresFlusher(t *testing.T) {
	t.Parallel()
	if _, err := NewWriter(noFlush{httptest.NewRecorder()}); err != ErrStreamingUnsupported {
		t.Fatalf("err = %v, want ErrStreamingUnsupported", err)
	}
}

func readAll(t *testing.T, d *Decoder) []string {
	t.Helper()
	var out []string
	for {
		ev, err := d.Next()
		if IsEOF(err) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, ev.Data)
	}
}

func TestDecoder(t *testing.T) {
	t.Parallel()
	stream := "data: one\n\n: comment\n\nevent: ping\n\n  data:two\n\ndata: three\n\ndata: partial"

	got := readAll(t, NewDecoder(strings.NewReader(stream)))
	want := []string{"one", "two", "three"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("chunks = %q, want %q", got, want)
	}
}

func TestDecoderSplitAcrossReads(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	go func() {
		for _, part := range []string{"da", "ta: Hel", "lo!\n", "\ndata: b", "ye\n\n"} {
			_, _ = pw.Write([]byte(part))
		}
		_ = pw.Close()
	}()

	got := readAll(t, NewDecoder(pr))
	if len(got) != 2 || got[0] != "Hello!" || got[1] != "bye" {
		t.Fatalf("chunks = %q", got)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	w, _ := NewWriter(rec)
	w.Prepare()
	for _, c := range []string{"a", "b c", "d"} {
		_ = w.WriteData(c)
	}

	got := readAll(t, NewDecoder(rec.Body))
	if strings.Join(got, "|") != "a|b c|d" {
		t.Fatalf("chunks = %q", got)
	}
}

func TestRoundTripMultiline(t *testing.T) {
	t.Parallel()
	chunks := []string{
		"First paragraph.\n\nSecond paragraph.",
		"- item\n  - nested\n",
		"  leading spaces",
		"",
	}
	rec := httptest.NewRecorder()
	w, _ := NewWriter(rec)
	w.Prepare()
	for _, c := range chunks {
		if err := w.WriteData(c); err != nil {
			t.Fatalf("WriteData: %v", err)
		}
	}

	got := readAll(t, NewDecoder(rec.Body))
	if len(got) != len(chunks) {
		t.Fatalf("chunks = %q, want %q", got, chunks)
	}
	for i := range chunks {
		if got[i] != chunks[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], chunks[i])
		}
	}
}

func TestWriteDataSplitsLines(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	w, _ := NewWriter(rec)
	w.Prepare()
	_ = w.WriteData("a\n\nb")

	if got := rec.Body.String(); got != "data: a\ndata: \ndata: b\n\n" {
		t.Fatalf("body = %q", got)
	}
}

func TestDecoderReportsErrorEvent(t *testing.T) {
	t.Parallel()
	stream := "data: partial answer\n\nevent: error\ndata: agent request failed\n\n"
	d := NewDecoder(strings.NewReader(stream))

	ev, err := d.Next()
	if err != nil || ev.IsError() || ev.Data != "partial answer" {
		t.Fatalf("first event = %+v, %v", ev, err)
	}
	ev, err = d.Next()
	if err != nil || !ev.IsError() || ev.Data != "agent request failed" {
		t.Fatalf("second event = %+v, %v", ev, err)
	}
	if _, err := d.Next(); !IsEOF(err) {
		t.Fatalf("err = %v, want EOF", err)
	}
}

func TestParseFrame(t *testing.T) {
	t.Parallel()
	if ev, ok := ParseFrame("data:x"); !ok || ev.Data != "x" || ev.Name != "" {
		t.Fatalf("ParseFrame = %+v, %v", ev, ok)
	}
	if ev, ok := ParseFrame("event: error\ndata: boom"); !ok || !ev.IsError() || ev.Data != "boom" {
		t.Fatalf("ParseFrame = %+v, %v", ev, ok)
	}
	if _, ok := ParseFrame("id: 3"); ok {
		t.Fatal("non-data frame accepted")
	}
	if _, ok := ParseFrame("event: ping"); ok {
		t.Fatal("frame without data accepted")
	}
}
