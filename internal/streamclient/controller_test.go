package streamclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/pilotchat/internal/sse"
)

type recorder struct {
	mu        sync.Mutex
	chunks    []string
	errors    []string
	completed int
	chunkCh   chan string
}

func newRecorder() *recorder {
	return &recorder{chunkCh: make(chan string, 16)}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnChunk: func(c string) {
			r.mu.Lock()
			r.chunks = append(r.chunks, c)
			r.mu.Unlock()
			r.chunkCh <- c
		},
		OnCompleted: func() {
			r.mu.Lock()
			r.completed++
			r.mu.Unlock()
		},
		OnError: func(reason string) {
			r.mu.Lock()
			r.errors = append(r.errors, reason)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]string, []string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chunks...), append([]string(nil), r.errors...), r.completed
}

func newTestController() *Controller {
	return NewController(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func sseServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamCompletes(t *testing.T) {
	t.Parallel()
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: Hello!\n\ndata: again\n\n")
	})

	ctl := newTestController()
	rec := newRecorder()
	h := ctl.Start(context.Background(), srv.URL, map[string]string{"message": "Hi"}, rec.handler())
	ctl.Wait(h)

	chunks, errs, completed := rec.snapshot()
	require.Equal(t, []string{"Hello!", "again"}, chunks)
	require.Empty(t, errs)
	require.Equal(t, 1, completed)
	require.Equal(t, 0, ctl.Active())
}

func TestCancelAfterFirstChunk(t *testing.T) {
	t.Parallel()
	serverDone := make(chan struct{})
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		defer close(serverDone)
		_, _ = io.WriteString(w, "data: first\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctl := newTestController()
	rec := newRecorder()
	h := ctl.Start(context.Background(), srv.URL, map[string]string{"message": "Hi"}, rec.handler())

	select {
	case <-rec.chunkCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no chunk received")
	}

	ctl.Cancel(h)
	ctl.Wait(h)

	chunks, errs, completed := rec.snapshot()
	require.Equal(t, []string{"first"}, chunks)
	require.Equal(t, []string{AbortedReason}, errs)
	require.Equal(t, 0, completed)
	require.Equal(t, 0, ctl.Active())

	// The connection was released, so the server saw the cancellation.
	select {
	case <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("server request was not cancelled")
	}

	// Cancelling again, or cancelling an unknown handle, is a no-op.
	ctl.Cancel(h)
	ctl.Cancel(Handle(9999))
	_, errs, _ = rec.snapshot()
	require.Len(t, errs, 1)
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()
	srv := sseServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "quota exceeded"}`, http.StatusTooManyRequests)
	})

	ctl := newTestController()
	rec := newRecorder()
	h := ctl.Start(context.Background(), srv.URL, map[string]string{"message": "Hi"}, rec.handler())
	ctl.Wait(h)

	chunks, errs, completed := rec.snapshot()
	require.Empty(t, chunks)
	require.Equal(t, []string{fmt.Sprintf("HTTP %d", http.StatusTooManyRequests)}, errs)
	require.Equal(t, 0, completed)
}

func TestTransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	ctl := newTestController()
	rec := newRecorder()
	h := ctl.Start(context.Background(), url, nil, rec.handler())
	ctl.Wait(h)

	_, errs, completed := rec.snapshot()
	require.Len(t, errs, 1)
	require.NotEqual(t, AbortedReason, errs[0])
	require.NotEmpty(t, errs[0])
	require.Equal(t, 0, completed)
}

func TestCancelIsolatedPerHandle(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: hi\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	ctl := newTestController()
	recA, recB := newRecorder(), newRecorder()
	a := ctl.Start(context.Background(), srv.URL, nil, recA.handler())
	b := ctl.Start(context.Background(), srv.URL, nil, recB.handler())
	require.Greater(t, int64(b), int64(a))

	<-recA.chunkCh
	<-recB.chunkCh

	ctl.Cancel(a)
	ctl.Wait(a)
	close(release)
	ctl.Wait(b)

	_, errsA, completedA := recA.snapshot()
	_, errsB, completedB := recB.snapshot()
	require.Equal(t, []string{AbortedReason}, errsA)
	require.Equal(t, 0, completedA)
	require.Empty(t, errsB)
	require.Equal(t, 1, completedB)
}

func TestParentContextCancelReportsAborted(t *testing.T) {
	t.Parallel()
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: x\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	ctl := newTestController()
	rec := newRecorder()
	h := ctl.Start(ctx, srv.URL, nil, rec.handler())

	<-rec.chunkCh
	cancel()
	ctl.Wait(h)

	_, errs, _ := rec.snapshot()
	require.Equal(t, []string{AbortedReason}, errs)
}

func TestHeadersAreSent(t *testing.T) {
	t.Parallel()
	got := make(chan http.Header, 1)
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	})

	ctl := NewController(WithHeader("Authorization", "Bearer abc"), WithHTTPClient(srv.Client()))
	rec := newRecorder()
	ctl.Wait(ctl.Start(context.Background(), srv.URL, map[string]string{"message": "Hi"}, rec.handler()))

	hdr := <-got
	require.Equal(t, "Bearer abc", hdr.Get("Authorization"))
	require.Equal(t, "application/json", hdr.Get("Content-Type"))
	require.Equal(t, "text/event-stream", hdr.Get("Accept"))
}

func TestServerErrorEventReportsError(t *testing.T) {
	t.Parallel()
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		stream, err := sse.NewWriter(w)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		stream.Prepare()
		_ = stream.WriteError("the assistant is unavailable")
	})

	ctl := newTestController()
	rec := newRecorder()
	ctl.Wait(ctl.Start(context.Background(), srv.URL, nil, rec.handler()))

	chunks, errs, completed := rec.snapshot()
	require.Empty(t, chunks)
	require.Equal(t, []string{"the assistant is unavailable"}, errs)
	require.Equal(t, 0, completed)
	require.Equal(t, 0, ctl.Active())
}

func TestErrorEventAfterChunk(t *testing.T) {
	t.Parallel()
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		stream, _ := sse.NewWriter(w)
		stream.Prepare()
		_ = stream.WriteData("partial")
		_ = stream.WriteError("agent request failed")
		_ = stream.WriteData("ignored")
	})

	ctl := newTestController()
	rec := newRecorder()
	ctl.Wait(ctl.Start(context.Background(), srv.URL, nil, rec.handler()))

	chunks, errs, completed := rec.snapshot()
	require.Equal(t, []string{"partial"}, chunks)
	require.Equal(t, []string{"agent request failed"}, errs)
	require.Equal(t, 0, completed)
}

func TestMultilineChunkArrivesWhole(t *testing.T) {
	t.Parallel()
	reply := "First paragraph.\n\nSecond paragraph."
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		stream, _ := sse.NewWriter(w)
		stream.Prepare()
		_ = stream.WriteData(reply)
	})

	ctl := newTestController()
	rec := newRecorder()
	ctl.Wait(ctl.Start(context.Background(), srv.URL, nil, rec.handler()))

	chunks, errs, completed := rec.snapshot()
	require.Equal(t, []string{reply}, chunks)
	require.Empty(t, errs)
	require.Equal(t, 1, completed)
}
