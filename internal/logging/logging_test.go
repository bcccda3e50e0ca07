package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadbuddy/fleetwatch/internal/config"
)

func TestNewWritesRotatedFile(t *testing.T) {
	cfg := config.Baseline().Log
	cfg.File = filepath.Join(t.TempDir(), "fleetwatch.log")

	logger, err := New(cfg)
	require.NoError(t, err)

	logger.Info("session opened")
	_ = logger.Sync()

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "session opened", entry["msg"])
	assert.Equal(t, "fleetwatch", entry["service"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewRejectsBadLevel(t *testing.T) {
	cfg := config.Baseline().Log
	cfg.Level = "loud"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewRejectsBadFormat(t *testing.T) {
	cfg := config.Baseline().Log
	cfg.Format = "xml"

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewConsoleFormat(t *testing.T) {
	cfg := config.Baseline().Log
	cfg.Format = "console"
	cfg.Level = "debug"

	logger, err := New(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))
}
