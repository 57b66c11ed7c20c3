package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("info", true, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("Node created", zap.Int64("node_id", 7))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "Node created", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(7), entry["node_id"])
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("debug", false, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Debug("Daemon request", zap.String("path", "/api/system"))
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "Daemon request")
}

func TestNewWithWriter_InvalidLevel(t *testing.T) {
	_, err := NewWithWriter("loud", false, zapcore.AddSync(&bytes.Buffer{}))
	assert.Error(t, err)
}
