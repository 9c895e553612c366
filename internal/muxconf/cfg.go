// Package muxconf is the mux process's YAML configuration.
package muxconf

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/vdp-project/govdp/common/go/logging"
)

// Config is the mux process's configuration.
type Config struct {
	// ChannelName must match the engine's engineconf.Config.ChannelName.
	ChannelName string `yaml:"channel_name"`
	// MempoolName must match the engine's engineconf.Config.MempoolName.
	MempoolName   string            `yaml:"mempool_name"`
	MempoolMemory datasize.ByteSize `yaml:"mempool_memory"`

	// LocalMAC and LocalIP are this dataplane's own addresses, used to
	// decide which inbound frames are addressed to it and to source ARP
	// replies.
	LocalMAC string `yaml:"local_mac"`
	LocalIP  string `yaml:"local_ip"`

	// ClientSocketPath is the Unix domain socket clients connect to.
	ClientSocketPath string `yaml:"client_socket_path"`
	// ClientRegionSize is the per-client shared-memory region's ring
	// capacity, expressed in bytes and converted to a slot count at
	// startup (each slot is shmring.MTU bytes, per ring, two rings).
	ClientRegionSize datasize.ByteSize `yaml:"client_region_size"`

	// DefaultService is the client-table key new connections are filed
	// under absent any richer routing rule -- a config-driven
	// generalization of the original's hardcoded "dummy" service name,
	// while keeping the lookup itself an exact string match
	// (spec.md §3 "Client table").
	DefaultService string `yaml:"default_service"`

	// RendezvousAddr is the engine address mux dials at startup to signal
	// readiness (spec.md §6).
	RendezvousAddr string `yaml:"rendezvous_addr"`

	Logging logging.Config `yaml:"logging"`
}

// DefaultConfig returns the mux's default configuration.
func DefaultConfig() *Config {
	return &Config{
		ChannelName:      "engine-mux",
		MempoolName:      "GLOBAL_MEMPOOL",
		MempoolMemory:    350 * datasize.MB,
		LocalMAC:         "90:e2:ba:87:6b:e8",
		LocalIP:          "192.168.1.2",
		ClientSocketPath: "/tmp/fd-passrd.socket",
		ClientRegionSize: 20 * 1536 * 2 * datasize.B,
		DefaultService:   "dummy",
		RendezvousAddr:   "127.0.0.1:53211",
		Logging:          logging.Config{Level: zapcore.InfoLevel},
	}
}

// LoadConfig reads and parses the mux configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("muxconf: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("muxconf: parse %s: %w", path, err)
	}
	return cfg, nil
}
