package sse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

const (
	dataPrefix  = "data:"
	eventPrefix = "event:"
)

// Event is one decoded frame. Name is empty for plain data frames.
type Event struct {
	Name string
	Data string
}

// IsError reports whether the event is a terminal error event.
func (e Event) IsError() bool {
	return e.Name == EventError
}

// Decoder reads event frames from a stream. Frames are separated by a blank
// line; frames without any "data:" line are skipped.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 8<<20)
	s.Split(splitFrames)
	return &Decoder{scanner: s}
}

// Next returns the next event. It returns io.EOF once the stream ended; a
// trailing frame without its delimiter is discarded.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		if ev, ok := ParseFrame(d.scanner.Text()); ok {
			return ev, nil
		}
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// ParseFrame decodes one frame. Consecutive "data:" lines are joined with
// "\n" and a single space after the colon is dropped. Comment, id and retry
// lines are ignored.
func ParseFrame(frame string) (Event, bool) {
	var (
		ev    Event
		lines []string
	)
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimLeft(line, " \t")
		switch {
		case strings.HasPrefix(line, dataPrefix):
			lines = append(lines, fieldValue(line[len(dataPrefix):]))
		case strings.HasPrefix(line, eventPrefix):
			ev.Name = strings.TrimSpace(line[len(eventPrefix):])
		}
	}
	if lines == nil {
		return Event{}, false
	}
	ev.Data = strings.Join(lines, "\n")
	return ev, true
}

func fieldValue(v string) string {
	return strings.TrimPrefix(v, " ")
}

var frameDelimiter = []byte("\n\n")

func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.Index(data, frameDelimiter); i >= 0 {
		return i + len(frameDelimiter), data[:i], nil
	}
	if atEOF {
		if len(data) == 0 {
			return 0, nil, nil
		}
		return len(data), nil, bufio.ErrFinalToken
	}
	return 0, nil, nil
}

// IsEOF reports whether err marks the normal end of a stream.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
