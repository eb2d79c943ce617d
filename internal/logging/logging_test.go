package logging

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	l, err := New(&buf, "info")
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("connected", zap.Uint32("baud", 115200))
	l.Warn("slow")

	assert.Equal(t, "connected {\"baud\": 115200}\nWARN slow\n", buf.String())
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "chatty")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestBootloaderAdapter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := Bootloader(zap.New(core))

	l.Debug("handshake", "baud", 115200)
	l.Info("connected", "attempt", 2)
	l.Error("close port", "error", "busy")

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, "bootloader", entries[0].LoggerName)
	assert.Equal(t, map[string]interface{}{"baud": int64(115200)}, entries[0].ContextMap())

	assert.Equal(t, zap.InfoLevel, entries[1].Level)
	assert.Equal(t, "connected", entries[1].Message)

	assert.Equal(t, zap.ErrorLevel, entries[2].Level)
	assert.Equal(t, map[string]interface{}{"error": "busy"}, entries[2].ContextMap())
}
