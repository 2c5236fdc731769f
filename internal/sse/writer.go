// Package sse frames chat chunks as server-sent events and decodes them again.
package sse

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// EventError names the terminal error event.
const EventError = "error"

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Writer writes event frames, flushing after each one.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter wraps w. It fails when w cannot flush.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// Prepare sets the event-stream headers and commits the response status.
func (s *Writer) Prepare() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// WriteData writes chunk as one data frame. Each line of chunk becomes its
// own "data:" line, so blank lines inside chunk survive the framing.
func (s *Writer) WriteData(chunk string) error {
	return s.writeFrame("", chunk)
}

// WriteError writes a terminal error event.
func (s *Writer) WriteError(msg string) error {
	return s.writeFrame(EventError, msg)
}

func (s *Writer) writeFrame(event, data string) error {
	if _, err := io.WriteString(s.w, encodeFrame(event, data)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// encodeFrame renders one frame, including its terminating blank line.
func encodeFrame(event, data string) string {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
