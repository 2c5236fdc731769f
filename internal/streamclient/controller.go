// Package streamclient consumes chat event streams and lets callers cancel
// them by handle.
package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ashureev/pilotchat/internal/sse"
)

// AbortedReason is reported through OnError when a stream was cancelled.
const AbortedReason = "aborted"

// Handle identifies one in-flight stream.
type Handle int64

// Handler receives the events of one stream. Exactly one of OnCompleted and
// OnError is called, always last. Nil callbacks are skipped.
type Handler struct {
	OnChunk     func(chunk string)
	OnCompleted func()
	OnError     func(reason string)
}

type stream struct {
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled atomic.Bool

	// deliverMu is held while a chunk is handed to the handler.
	deliverMu sync.Mutex
}

// Controller starts streams and tracks them until they finish.
type Controller struct {
	client  *http.Client
	headers http.Header
	logger  *slog.Logger

	next atomic.Int64

	mu      sync.Mutex
	streams map[Handle]*stream
}

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient sets the client used for requests. It must not set an
// overall timeout shorter than the longest expected answer.
func WithHTTPClient(c *http.Client) Option {
	return func(ctl *Controller) {
		if c != nil {
			ctl.client = c
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(ctl *Controller) {
		ctl.headers.Add(key, value)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) {
		if l != nil {
			ctl.logger = l
		}
	}
}

// NewController creates a stream controller.
func NewController(opts ...Option) *Controller {
	ctl := &Controller{
		client:  http.DefaultClient,
		headers: make(http.Header),
		logger:  slog.Default(),
		streams: make(map[Handle]*stream),
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

// Start posts payload as JSON to url and delivers the response frames to h
// from a new goroutine. The returned handle stays valid until the stream's
// terminal callback ran.
func (c *Controller) Start(ctx context.Context, url string, payload any, h Handler) Handle {
	handle := Handle(c.next.Add(1))
	ctx, cancel := context.WithCancel(ctx)
	st := &stream{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.streams[handle] = st
	c.mu.Unlock()

	go c.run(ctx, handle, st, url, payload, h)
	return handle
}

// Cancel aborts the stream and releases its connection. Unknown or finished
// handles are ignored. Once Cancel returned no further chunk is delivered;
// it waits for a chunk callback already in progress, so OnChunk must not
// cancel its own stream synchronously.
func (c *Controller) Cancel(handle Handle) {
	c.mu.Lock()
	st, ok := c.streams[handle]
	c.mu.Unlock()
	if !ok {
		return
	}
	st.cancelled.Store(true)
	st.cancel()

	st.deliverMu.Lock()
	//nolint:staticcheck // empty critical section waits for an in-flight chunk.
	st.deliverMu.Unlock()
}

// Wait blocks until the stream finished and its terminal callback returned.
func (c *Controller) Wait(handle Handle) {
	c.mu.Lock()
	st, ok := c.streams[handle]
	c.mu.Unlock()
	if ok {
		<-st.done
	}
}

// Active returns the number of streams still in flight.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *Controller) run(ctx context.Context, handle Handle, st *stream, url string, payload any, h Handler) {
	defer close(st.done)
	defer c.remove(handle)
	defer st.cancel()

	err := c.consume(ctx, st, url, payload, h)

	switch {
	case st.cancelled.Load() || (err != nil && ctx.Err() != nil):
		c.logger.Debug("Stream aborted", "handle", int64(handle))
		if h.OnError != nil {
			h.OnError(AbortedReason)
		}
	case err != nil:
		c.logger.Warn("Stream failed", "handle", int64(handle), "error", err)
		if h.OnError != nil {
			h.OnError(err.Error())
		}
	default:
		if h.OnCompleted != nil {
			h.OnCompleted()
		}
	}
}

func (c *Controller) remove(handle Handle) {
	c.mu.Lock()
	delete(c.streams, handle)
	c.mu.Unlock()
}

// statusError reports a non-2xx response.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.status)
}

// eventError carries the message of a server-sent error event.
type eventError struct {
	message string
}

func (e *eventError) Error() string {
	if e.message == "" {
		return "stream error"
	}
	return e.message
}

func (c *Controller) consume(ctx context.Context, st *stream, url string, payload any, h Handler) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && ctx.Err() == nil {
			c.logger.Debug("failed to close stream body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{status: resp.StatusCode}
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if sse.IsEOF(err) {
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case ev.IsError():
			return &eventError{message: ev.Data}
		case ev.Name != "" && ev.Name != "message":
			c.logger.Debug("Skipping stream event", "event", ev.Name)
			continue
		}
		if !c.deliver(st, h, ev.Data) {
			return context.Canceled
		}
	}
}

// deliver hands chunk to the handler unless the stream was cancelled.
func (c *Controller) deliver(st *stream, h Handler, chunk string) bool {
	st.deliverMu.Lock()
	defer st.deliverMu.Unlock()

	if st.cancelled.Load() {
		return false
	}
	if h.OnChunk != nil {
		h.OnChunk(chunk)
	}
	return true
}

// IsAborted reports whether reason is the cancellation reason.
func IsAborted(reason string) bool {
	return reason == AbortedReason
}
