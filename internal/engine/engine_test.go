package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vdp-project/govdp/internal/engineconf"
	"github.com/vdp-project/govdp/internal/mbuf"
	"github.com/vdp-project/govdp/internal/port"
)

// idleDriver never produces RX traffic and accepts everything offered on TX;
// it exists only to exercise New/Run/Close wiring without a real NIC.
type idleDriver struct {
	mu      sync.Mutex
	started bool
}

func (d *idleDriver) Capabilities(string) (port.Capability, error) { return port.Capability{}, nil }

func (d *idleDriver) Configure(cfg port.Config) (port.Capability, error) {
	return port.Capability{MaxRxQueues: 1, MaxTxQueues: 1, RxOffloads: cfg.RxOffloads}, nil
}

func (d *idleDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

func (d *idleDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}

func (d *idleDriver) SetPromiscuous(bool) error   { return nil }
func (d *idleDriver) SetRSSKey([]byte) error      { return nil }
func (d *idleDriver) RxBurst(uint16, *mbuf.Mempool, []*mbuf.Mbuf) (int, error) { return 0, nil }
func (d *idleDriver) TxBurst(_ uint16, pkts []*mbuf.Mbuf) (int, error)         { return len(pkts), nil }

// queueRecordingDriver records every queue id RxBurst/TxBurst was called
// with, to verify pollLoop's receive-on-queue / transmit-on-queue^1
// convention.
type queueRecordingDriver struct {
	idleDriver
	rxQueues []uint16
	txQueues []uint16
	rxBursts int
}

func (d *queueRecordingDriver) RxBurst(queueID uint16, pool *mbuf.Mempool, out []*mbuf.Mbuf) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxQueues = append(d.rxQueues, queueID)
	d.rxBursts++
	if d.rxBursts > 1 {
		return 0, nil
	}
	mb, err := pool.FromBytes([]byte("probe"))
	if err != nil {
		return 0, err
	}
	out[0] = mb
	return 1, nil
}

func (d *queueRecordingDriver) TxBurst(queueID uint16, pkts []*mbuf.Mbuf) (int, error) {
	d.mu.Lock()
	d.txQueues = append(d.txQueues, queueID)
	d.mu.Unlock()
	return d.idleDriver.TxBurst(queueID, pkts)
}

func testConfig(t *testing.T) *engineconf.Config {
	t.Helper()
	cfg := engineconf.DefaultConfig()
	// Unique names per test run so parallel/successive tests don't collide
	// on the same /dev/shm path.
	suffix := fmt.Sprintf("engtest-%d", rand.Int63())
	cfg.MempoolName = suffix
	cfg.ChannelName = suffix
	cfg.MempoolMemory = 4 << 20
	cfg.RendezvousAddr = "127.0.0.1:0"
	return cfg
}

func TestNewConfiguresPortsAndPool(t *testing.T) {
	cfg := testConfig(t)
	driver := &idleDriver{}

	e, err := New(cfg, driver)
	require.NoError(t, err)
	defer e.Close()

	require.Len(t, e.ports, len(cfg.Ports))
	require.NotNil(t, e.pool)
	require.NotNil(t, e.channel)
}

func TestPinCorePinsCallingThread(t *testing.T) {
	require.NoError(t, pinCore(0))
}

func TestCoreMapDropsOutOfRangeEntries(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cores = []int{0, 2, -1, 64}
	m := cfg.CoreMap()
	require.Equal(t, 2, m.Len())
}

func TestPollLoopReceivesOnQueueAndTransmitsOnQueueXorOne(t *testing.T) {
	cfg := testConfig(t)
	driver := &queueRecordingDriver{}

	e, err := New(cfg, driver)
	require.NoError(t, err)
	defer e.Close()

	mb, err := e.pool.FromBytes([]byte("queued-for-tx"))
	require.NoError(t, err)
	require.True(t, e.channel.MuxSendToEngine(mb.Handle()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = e.pollLoop(ctx, e.ports[0], 0)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	driver.mu.Lock()
	defer driver.mu.Unlock()
	require.NotEmpty(t, driver.rxQueues)
	require.Equal(t, uint16(0), driver.rxQueues[0])
	require.NotEmpty(t, driver.txQueues)
	require.Equal(t, uint16(1), driver.txQueues[0])
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunStopsOnContextCancelDuringRendezvous(t *testing.T) {
	cfg := testConfig(t)
	cfg.RendezvousAddr = freeAddr(t)
	driver := &idleDriver{}

	e, err := New(cfg, driver)
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err = e.Run(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	require.True(t, driver.started)
}
