// Package port models a NIC port and the queue/RSS/offload configuration
// spec.md §4.3 describes, without embedding any real kernel-bypass driver:
// the actual RX/TX and device-configuration work is delegated to an injected
// Driver collaborator. spec.md's Non-goals are explicit that "the
// kernel-bypass driver library itself" is out of scope; grounded on
// l3enginelib/src/apis/port.rs, whose rte_eth_* calls this interface stands
// in for.
package port

import "github.com/vdp-project/govdp/internal/mbuf"

// Offload enumerates the checksum/segmentation offloads a port may request.
type Offload uint32

const (
	OffloadNone Offload = 0
	// OffloadRxChecksum requests IPv4/TCP/UDP RX checksum validation.
	OffloadRxChecksum Offload = 1 << iota
	// OffloadTxFastFree requests TX fast-free semantics: the driver frees
	// sent buffers without a separate free-bulk round trip.
	OffloadTxFastFree
)

// Config describes how a port should be configured.
type Config struct {
	// Device is the driver-specific device identifier (e.g. a PCI address
	// or a test fixture name); meaningless to this package, passed through
	// to Driver.Configure.
	Device string
	// NumQueues is the total number of RX/TX queues to configure. The
	// queue-id convention (queue for receive, queue^1 for transmit) requires
	// an even NumQueues.
	NumQueues uint16
	RxOffloads Offload
	TxOffloads Offload
}

// Capability describes what a configured port supports, as reported by the
// driver after Configure.
type Capability struct {
	MaxRxQueues uint16
	MaxTxQueues uint16
	RxOffloads  Offload
	TxOffloads  Offload
}

// Driver is the injected NIC collaborator. A real implementation would bind
// a kernel-bypass driver (DPDK or similar); this module never does, per its
// Non-goals. internal/port/loopback.go ships a software-only default
// cmd/engine wires in for development and the cmd/client demonstration
// workload; port_test.go's fakeDriver is a separate, unexported double used
// only by this package's own tests.
type Driver interface {
	// Capabilities reports what the named device supports.
	Capabilities(device string) (Capability, error)
	// Configure applies cfg to the device and returns the negotiated
	// capability.
	Configure(cfg Config) (Capability, error)
	// Start enables the port for RX/TX after Configure.
	Start() error
	// Stop disables the port.
	Stop() error
	// SetPromiscuous toggles promiscuous mode.
	SetPromiscuous(enabled bool) error
	// SetRSSKey installs the symmetric RSS hash key.
	SetRSSKey(key []byte) error
	// RxBurst polls up to len(out) packets from queueID into out, which the
	// driver is responsible for allocating from pool, and returns how many
	// were filled.
	RxBurst(queueID uint16, pool *mbuf.Mempool, out []*mbuf.Mbuf) (int, error)
	// TxBurst attempts to transmit every buffer in pkts on queueID and
	// returns how many were actually accepted; the caller must free any
	// unsent tail.
	TxBurst(queueID uint16, pkts []*mbuf.Mbuf) (int, error)
}
