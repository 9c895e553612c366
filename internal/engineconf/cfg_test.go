package engineconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mempool_name: custom-pool\ncores: [0, 1]\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "custom-pool", cfg.MempoolName)
	assert.Equal(t, []int{0, 1}, cfg.Cores)
	// Untouched fields keep their DefaultConfig value.
	assert.Equal(t, DefaultConfig().RendezvousAddr, cfg.RendezvousAddr)
}

func TestLoadConfigRejectsMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestCoreMapBuildsBitmask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cores = []int{0, 3, 5}

	m := cfg.CoreMap()
	assert.Equal(t, 3, m.Len())

	var seen []uint32
	for core := range m.Iter() {
		seen = append(seen, core)
	}
	assert.Equal(t, []uint32{0, 3, 5}, seen)
}
