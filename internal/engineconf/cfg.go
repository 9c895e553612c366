// Package engineconf is the engine process's YAML configuration, loaded the
// way coordinator/cfg.go loads the teacher's own coordinator configuration:
// a DefaultConfig overlaid by yaml.Unmarshal.
package engineconf

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/vdp-project/govdp/common/go/logging"
	"github.com/vdp-project/govdp/common/go/numa"
)

// PortConfig describes one NIC port to configure at startup.
type PortConfig struct {
	// Device is the driver-specific device identifier.
	Device string `yaml:"device"`
	// Queues is the total number of RX/TX queues to configure on this port.
	// The poll loop reads from queue 0 and writes to queue 0^1, per
	// spec.md's queue-id convention, so Queues MUST be even.
	Queues uint16 `yaml:"queues"`
}

// Config is the engine process's configuration.
type Config struct {
	// Ports lists the NIC ports to configure and poll. A second entry
	// enables the two-port topology the original prototype's
	// dpdk_loop/l3engine variant demonstrates.
	Ports []PortConfig `yaml:"ports"`
	// Cores is the set of CPU cores the poll loops may be pinned to. Each
	// configured port's poll loop takes one core, in ascending core order,
	// wrapping around when there are more ports than cores.
	Cores []int `yaml:"cores"`
	// MempoolName is the name other processes (mux) use to look up the
	// shared packet pool.
	MempoolName string `yaml:"mempool_name"`
	// MempoolMemory bounds the packet pool's total backing memory; the
	// buffer count is derived from it at startup.
	MempoolMemory datasize.ByteSize `yaml:"mempool_memory"`
	// ChannelName is the name of the shared-memory engine<->mux packet
	// ring channel.
	ChannelName string `yaml:"channel_name"`
	// RendezvousAddr is the address the engine listens on for mux's
	// startup rendezvous message.
	RendezvousAddr string `yaml:"rendezvous_addr"`

	Logging logging.Config `yaml:"logging"`
}

// CoreMap returns Cores as a numa.NUMAMap, the same bitmask representation
// the teacher uses for core/NUMA sets, rather than a plain slice index.
// Entries outside [0, 32) are dropped: that range is what NUMAMap, and the
// unix.CPUSet it ultimately feeds, can represent on a single engine host.
func (c *Config) CoreMap() numa.NUMAMap {
	var m numa.NUMAMap
	for _, core := range c.Cores {
		if core < 0 || core >= 32 {
			continue
		}
		m |= numa.NewWithOneBitSet(uint32(core))
	}
	return m
}

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ports:          []PortConfig{{Device: "port0", Queues: 2}},
		Cores:          []int{0},
		MempoolName:    "GLOBAL_MEMPOOL",
		MempoolMemory:  350 * datasize.MB,
		ChannelName:    "engine-mux",
		RendezvousAddr: "127.0.0.1:53211",
		Logging:        logging.Config{Level: zapcore.InfoLevel},
	}
}

// LoadConfig reads and parses the engine configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engineconf: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("engineconf: parse %s: %w", path, err)
	}
	return cfg, nil
}
