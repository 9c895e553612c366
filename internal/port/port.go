package port

import (
	"fmt"

	"github.com/vdp-project/govdp/internal/mbuf"
)

const (
	// RxBurstMax and TxBurstMax bound a single poll-loop iteration's work,
	// matching l3enginelib/src/apis/port.rs's RX_BURST_MAX/TX_BURST_MAX.
	RxBurstMax = 32
	TxBurstMax = 32

	// QueueDepth is the RX and TX descriptor ring depth per queue
	// (RTE_MP_RX_DESC_DEFAULT / RTE_MP_TX_DESC_DEFAULT in the original).
	QueueDepth = 512
)

// RSSSymmetricKey is the fixed 40-byte symmetric RSS hash key carried over
// from l3enginelib/src/apis/port.rs's RSS_SYMMETRIC_KEY, chosen so that
// forward and reverse flow directions of a connection hash to the same
// queue.
var RSSSymmetricKey = [40]byte{
	0x6d, 0x5a, 0x6d, 0x5a, 0x6d, 0x5a, 0x6d, 0x5a,
	0x6d, 0x5a, 0x6d, 0x5a, 0x6d, 0x5a, 0x6d, 0x5a,
	0x6d, 0x5a, 0x6d, 0x5a, 0x6d, 0x5a, 0x6d, 0x5a,
	0x6d, 0x5a, 0x6d, 0x5a, 0x6d, 0x5a, 0x6d, 0x5a,
	0x6d, 0x5a, 0x6d, 0x5a, 0x6d, 0x5a, 0x6d, 0x5a,
}

// Port is one configured NIC port: a driver handle plus the negotiated
// capability, offering burst RX/TX in terms of mbuf.Mbuf handles.
type Port struct {
	id     uint16
	device string
	driver Driver
	cap    Capability
}

// New configures device on driver with the given config and enables
// promiscuous mode and the symmetric RSS key once configuration succeeds,
// mirroring Port::configure's sequencing in the original (queues, offloads,
// RSS, then promiscuous last).
func New(id uint16, driver Driver, cfg Config) (*Port, error) {
	cfg.RxOffloads |= OffloadRxChecksum

	capab, err := driver.Configure(cfg)
	if err != nil {
		return nil, fmt.Errorf("port %d (%s): configure: %w", id, cfg.Device, err)
	}

	if err := driver.SetRSSKey(RSSSymmetricKey[:]); err != nil {
		return nil, fmt.Errorf("port %d (%s): set rss key: %w", id, cfg.Device, err)
	}

	if err := driver.SetPromiscuous(true); err != nil {
		return nil, fmt.Errorf("port %d (%s): set promiscuous: %w", id, cfg.Device, err)
	}

	return &Port{id: id, device: cfg.Device, driver: driver, cap: capab}, nil
}

// ID returns the port's configured identifier.
func (p *Port) ID() uint16 { return p.id }

// Capability returns the negotiated capability.
func (p *Port) Capability() Capability { return p.cap }

// Start enables the port for RX/TX.
func (p *Port) Start() error {
	if err := p.driver.Start(); err != nil {
		return fmt.Errorf("port %d (%s): start: %w", p.id, p.device, err)
	}
	return nil
}

// Stop disables the port.
func (p *Port) Stop() error {
	if err := p.driver.Stop(); err != nil {
		return fmt.Errorf("port %d (%s): stop: %w", p.id, p.device, err)
	}
	return nil
}

// Receive polls up to RxBurstMax packets from queueID, allocating buffers
// from pool.
func (p *Port) Receive(queueID uint16, pool *mbuf.Mempool) ([]*mbuf.Mbuf, error) {
	out := make([]*mbuf.Mbuf, RxBurstMax)
	n, err := p.driver.RxBurst(queueID, pool, out)
	if err != nil {
		return nil, fmt.Errorf("port %d (%s): rx_burst queue %d: %w", p.id, p.device, queueID, err)
	}
	return out[:n], nil
}

// Send transmits as many of pkts as the driver accepts on queueID. Any
// unsent tail is freed back to its pool in bulk, matching Port::send's
// mbuf_free_bulk fallback in the original prototype.
func (p *Port) Send(queueID uint16, pkts []*mbuf.Mbuf) (int, error) {
	sent, err := p.driver.TxBurst(queueID, pkts)
	if err != nil {
		return sent, fmt.Errorf("port %d (%s): tx_burst queue %d: %w", p.id, p.device, queueID, err)
	}
	if sent < len(pkts) {
		mbuf.FreeBulk(pkts[sent:])
	}
	return sent, nil
}
