package muxconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mux.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_service: checkout\nlocal_ip: 10.0.0.2\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "checkout", cfg.DefaultService)
	assert.Equal(t, "10.0.0.2", cfg.LocalIP)
	// Untouched fields keep their DefaultConfig value.
	assert.Equal(t, DefaultConfig().MempoolName, cfg.MempoolName)
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
