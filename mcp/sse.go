package mcp

import (
	"bytes"
	"strings"
)

// sseEvent is one blank-line-delimited server-sent event record.
type sseEvent struct {
	Event string
	Data  string
	ID    string
}

// eventBuffer accumulates stream bytes and yields complete records. Each
// feed only scans bytes that were not examined before.
type eventBuffer struct {
	buf     []byte
	scanned int
}

func (b *eventBuffer) feed(p []byte) []sseEvent {
	b.buf = append(b.buf, p...)

	var events []sseEvent
	for {
		end, delim := findRecordEnd(b.buf, b.scanned)
		if end < 0 {
			// a delimiter may straddle the next read
			b.scanned = max(0, len(b.buf)-2)
			return events
		}

		if ev, ok := parseRecord(b.buf[:end]); ok {
			events = append(events, ev)
		}

		rest := b.buf[end+delim:]
		b.buf = append(b.buf[:0:0], rest...)
		b.scanned = 0
	}
}

// flush returns a trailing record that never got its blank line.
func (b *eventBuffer) flush() (sseEvent, bool) {
	ev, ok := parseRecord(b.buf)
	b.reset()
	return ev, ok
}

func (b *eventBuffer) reset() {
	b.buf = nil
	b.scanned = 0
}

// findRecordEnd locates a blank line at or after from. It returns the
// record length and the delimiter length, or -1.
func findRecordEnd(buf []byte, from int) (int, int) {
	for i := from; i < len(buf); i++ {
		if buf[i] != '\n' {
			continue
		}
		if i+1 < len(buf) && buf[i+1] == '\n' {
			return i, 2
		}
		if i+2 < len(buf) && buf[i+1] == '\r' && buf[i+2] == '\n' {
			return i, 3
		}
	}
	return -1, 0
}

func parseRecord(record []byte) (sseEvent, bool) {
	var (
		ev       sseEvent
		data     []string
		hasField bool
	)

	for _, line := range bytes.Split(record, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 || line[0] == ':' {
			continue
		}

		field, value, _ := strings.Cut(string(line), ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Event = value
			hasField = true
		case "data":
			data = append(data, value)
			hasField = true
		case "id":
			ev.ID = value
		}
	}

	ev.Data = strings.Join(data, "\n")
	return ev, hasField
}

// parseEventStream splits a complete SSE body into records.
func parseEventStream(body []byte) []sseEvent {
	var b eventBuffer
	events := b.feed(body)
	if ev, ok := b.flush(); ok {
		events = append(events, ev)
	}
	return events
}
