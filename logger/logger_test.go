package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeRecorder struct {
	bytes.Buffer
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}

	return out
}

func TestNewZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(zerolog.New(&buf), "connection", zerolog.InfoLevel)

	l.Debug("hidden")
	l.Info("state changed", Field{Key: "state", Value: "ready"})
	l.Error("receive failed", ErrorField(errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "connection", lines[0]["component"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "state changed", lines[0]["message"])
	assert.Equal(t, "ready", lines[0]["state"])
	assert.Contains(t, lines[0], "time")

	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, "boom", lines[1]["error"])
}

func TestZerologLogger_With(t *testing.T) {
	var buf bytes.Buffer
	base := NewZerologLogger(zerolog.New(&buf), "server", zerolog.DebugLevel)
	derived := base.With(Field{Key: "session_id", Value: 7})

	derived.Warn("slow consumer")
	base.Debug("plain")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.EqualValues(t, 7, lines[0]["session_id"])
	assert.NotContains(t, lines[1], "session_id")
}

func TestNewWriterLogger_Close(t *testing.T) {
	w := &closeRecorder{}
	l := NewWriterLogger(w, "cli", zerolog.InfoLevel)

	l.Info("hello")
	assert.Contains(t, w.String(), "hello")

	t.Run("derived logger does not close the writer", func(t *testing.T) {
		require.NoError(t, l.With(Field{Key: "k", Value: "v"}).Close())
		assert.Equal(t, 0, w.closed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		require.NoError(t, l.Close())
		require.NoError(t, l.Close())
		assert.Equal(t, 1, w.closed)
	})
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Info("ignored", Field{Key: "a", Value: 1})
		l.With(ErrorField(errors.New("x"))).Error("ignored")
	})
	assert.NoError(t, l.Close())
}
