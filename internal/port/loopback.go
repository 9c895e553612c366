package port

import (
	"sync"

	"github.com/vdp-project/govdp/internal/mbuf"
)

// LoopbackDriver is a software-only Driver that never touches a NIC: every
// frame handed to TxBurst is queued and handed back out on a subsequent
// RxBurst. It turns the engine process into a self-contained ARP responder
// and echo device, which is enough to drive cmd/client's demonstration
// workload end to end without the kernel-bypass binding this module's
// Non-goals exclude (internal/port/driver.go).
type LoopbackDriver struct {
	mu          sync.Mutex
	wire        [][]byte
	promiscuous bool
	rssKey      []byte
}

// NewLoopbackDriver returns a LoopbackDriver ready to Configure.
func NewLoopbackDriver() *LoopbackDriver { return &LoopbackDriver{} }

// Capabilities reports a single RX/TX queue pair, since the loopback wire
// has no notion of multiple queues to distribute across.
func (d *LoopbackDriver) Capabilities(string) (Capability, error) {
	return Capability{MaxRxQueues: 1, MaxTxQueues: 1}, nil
}

// Configure accepts any requested offloads; the loopback wire has no
// checksum or segmentation hardware to negotiate against.
func (d *LoopbackDriver) Configure(cfg Config) (Capability, error) {
	return Capability{
		MaxRxQueues: cfg.NumQueues,
		MaxTxQueues: cfg.NumQueues,
		RxOffloads:  cfg.RxOffloads,
		TxOffloads:  cfg.TxOffloads,
	}, nil
}

func (d *LoopbackDriver) Start() error { return nil }
func (d *LoopbackDriver) Stop() error  { return nil }

func (d *LoopbackDriver) SetPromiscuous(enabled bool) error {
	d.mu.Lock()
	d.promiscuous = enabled
	d.mu.Unlock()
	return nil
}

func (d *LoopbackDriver) SetRSSKey(key []byte) error {
	d.mu.Lock()
	d.rssKey = append(d.rssKey[:0], key...)
	d.mu.Unlock()
	return nil
}

// RxBurst hands back up to len(out) frames previously queued by TxBurst,
// allocating each from pool.
func (d *LoopbackDriver) RxBurst(_ uint16, pool *mbuf.Mempool, out []*mbuf.Mbuf) (int, error) {
	d.mu.Lock()
	n := len(d.wire)
	if n > len(out) {
		n = len(out)
	}
	frames := d.wire[:n]
	d.wire = d.wire[n:]
	d.mu.Unlock()

	for i, frame := range frames {
		mb, err := pool.FromBytes(frame)
		if err != nil {
			return i, err
		}
		out[i] = mb
	}
	return n, nil
}

// TxBurst queues a copy of every packet's bytes for a later RxBurst and
// releases the transmitted buffers, matching a real driver's
// transmit-consumes-the-buffer contract (Port.Send only frees the unsent
// tail; the driver owns freeing whatever it actually accepted).
func (d *LoopbackDriver) TxBurst(_ uint16, pkts []*mbuf.Mbuf) (int, error) {
	d.mu.Lock()
	for _, pkt := range pkts {
		d.wire = append(d.wire, append([]byte(nil), pkt.Data()...))
	}
	d.mu.Unlock()

	for _, pkt := range pkts {
		pkt.Release()
	}
	return len(pkts), nil
}
