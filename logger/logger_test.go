package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(&Options{Level: slog.LevelDebug, Writer: &buf, NoColor: true})

	With("node", "n1").Info("block accepted", "height", 3)
	Debug("tick")

	out := buf.String()
	assert.Contains(t, out, "block accepted")
	assert.Contains(t, out, "node=n1")
	assert.Contains(t, out, "height=3")
	assert.Contains(t, out, "tick")
}
