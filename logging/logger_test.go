package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubAddsSubsystemField(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug").Sub("mcp")

	log.Info().Str("server", "weather").Msg("connected")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "mcp", entry["subsystem"])
	assert.Equal(t, "weather", entry["server"])
	assert.Equal(t, "connected", entry["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"silent", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	assert.NotPanics(t, func() {
		log.Sub("x").Info().Msg("nothing")
		log.Debug().Msg("nothing")
	})
}

func TestEveryLevelWrites(t *testing.T) {
	tests := []struct {
		level string
		emit  func(l *Logger) *zerolog.Event
	}{
		{"debug", (*Logger).Debug},
		{"info", (*Logger).Info},
		{"warn", (*Logger).Warn},
		{"error", (*Logger).Error},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(&buf, "debug").With("server", "weather")

			tt.emit(log).Msg("hello")

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "weather", entry["server"])
			assert.Equal(t, "hello", entry["message"])
		})
	}
}
