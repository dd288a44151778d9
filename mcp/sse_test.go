package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBufferSplitsRecords(t *testing.T) {
	var b eventBuffer
	events := b.feed([]byte("event: endpoint\ndata: /message?sessionId=1\n\nevent: message\ndata: {\"id\":1}\n\n"))

	require.Len(t, events, 2)
	assert.Equal(t, "endpoint", events[0].Event)
	assert.Equal(t, "/message?sessionId=1", events[0].Data)
	assert.Equal(t, "message", events[1].Event)
	assert.Equal(t, `{"id":1}`, events[1].Data)
}

func TestEventBufferAcrossReads(t *testing.T) {
	stream := "event: message\ndata: {\"a\":1}\r\n\r\nid: 7\ndata: part one\ndata: part two\n\n"

	var (
		b      eventBuffer
		events []sseEvent
	)
	// one byte at a time exercises delimiters split over reads
	for i := 0; i < len(stream); i++ {
		events = append(events, b.feed([]byte{stream[i]})...)
	}

	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, events[0].Data)
	assert.Equal(t, "", events[1].Event)
	assert.Equal(t, "7", events[1].ID)
	assert.Equal(t, "part one\npart two", events[1].Data)
	assert.Empty(t, b.buf)
}

func TestEventBufferIgnoresComments(t *testing.T) {
	var b eventBuffer
	events := b.feed([]byte(": keep-alive\n\n: ping\ndata: x\n\n"))

	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Data)
}

func TestEventBufferHoldsPartialRecord(t *testing.T) {
	var b eventBuffer
	assert.Empty(t, b.feed([]byte("event: message\ndata: {\"id\"")))
	assert.Empty(t, b.feed([]byte(":2}\n")))

	events := b.feed([]byte("\n"))
	require.Len(t, events, 1)
	assert.Equal(t, `{"id":2}`, events[0].Data)
}

func TestParseEventStreamFlushesTrailingRecord(t *testing.T) {
	events := parseEventStream([]byte("data: first\n\ndata: second"))

	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Data)
	assert.Equal(t, "second", events[1].Data)
}
