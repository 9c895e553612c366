// Package engine implements the engine process: the half of the dataplane
// that owns the NIC ports and the packet pool, polling RX/TX in a tight loop
// and exchanging packet handles with mux over internal/dpring. Grounded on
// l3enginelib/src/lib.rs's run loop and on
// github.com/yanet-platform/yanet2/coordinator/coordinator.go's
// options/Run/Close shape.
package engine

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/vdp-project/govdp/internal/dpring"
	"github.com/vdp-project/govdp/internal/engineconf"
	"github.com/vdp-project/govdp/internal/mbuf"
	"github.com/vdp-project/govdp/internal/port"
)

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{Log: zap.NewNop().Sugar()}
}

// Option configures an Engine.
type Option func(*options)

// WithLog sets the logger the engine reports through.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) { o.Log = log }
}

// Engine owns the packet pool, the engine<->mux channel, and the configured
// ports, and drives the RX/TX poll loop.
type Engine struct {
	cfg     *engineconf.Config
	pool    *mbuf.Mempool
	channel *dpring.Channel
	ports   []*port.Port
	log     *zap.SugaredLogger
}

// New creates the pool and channel, configures every port in cfg against
// driver, and returns a ready-to-run Engine. driver is the injected NIC
// collaborator (see internal/port.Driver); this package never links a real
// kernel-bypass driver itself.
func New(cfg *engineconf.Config, driver port.Driver, opts ...Option) (*Engine, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := o.Log
	log.Infow("initializing engine", zap.Any("config", cfg))

	n := mbuf.BufferCount(int64(cfg.MempoolMemory))
	pool, err := mbuf.Create(cfg.MempoolName, n)
	if err != nil {
		return nil, fmt.Errorf("engine: create pool: %w", err)
	}

	channel, err := dpring.Create(cfg.ChannelName)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("engine: create channel: %w", err)
	}

	ports := make([]*port.Port, 0, len(cfg.Ports))
	for i, pc := range cfg.Ports {
		p, err := port.New(uint16(i), driver, port.Config{Device: pc.Device, NumQueues: pc.Queues})
		if err != nil {
			channel.Close()
			pool.Close()
			return nil, fmt.Errorf("engine: configure port %d (%s): %w", i, pc.Device, err)
		}
		ports = append(ports, p)
	}

	return &Engine{cfg: cfg, pool: pool, channel: channel, ports: ports, log: log}, nil
}

// Run starts every configured port, waits for mux's startup rendezvous, then
// polls all ports until ctx is cancelled. Each port runs its own poll-loop
// goroutine; all of them drain the same engine<->mux channel, so a
// multi-port configuration load-balances transmission across ports rather
// than pinning outbound traffic to one designated uplink.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("running engine")
	defer e.log.Info("stopped engine")

	for _, p := range e.ports {
		if err := p.Start(); err != nil {
			return fmt.Errorf("engine: start port %d: %w", p.ID(), err)
		}
	}

	if err := e.waitRendezvous(ctx); err != nil {
		return fmt.Errorf("engine: rendezvous: %w", err)
	}

	var cores []uint32
	for core := range e.cfg.CoreMap().Iter() {
		cores = append(cores, core)
	}

	wg, runCtx := errgroup.WithContext(ctx)
	for i, p := range e.ports {
		i, p := i, p
		wg.Go(func() error {
			// LockOSThread is required for SchedSetaffinity to pin the
			// goroutine actually doing the polling, rather than whichever
			// OS thread happened to run this setup code.
			runtime.LockOSThread()
			if len(cores) > 0 {
				core := cores[i%len(cores)]
				if err := pinCore(core); err != nil {
					e.log.Warnw("failed to pin poll loop to configured core",
						zap.Error(err), zap.Uint32("core", core), zap.Uint16("port", p.ID()))
				}
			}
			// Per spec.md's queue convention, queue 0 receives and queue 1
			// (0^1) transmits; each configured port must offer both.
			return e.pollLoop(runCtx, p, 0)
		})
	}
	runErr := wg.Wait()

	var result *multierror.Error
	if runErr != nil {
		result = multierror.Append(result, runErr)
	}
	for _, p := range e.ports {
		if err := p.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// waitRendezvous listens on the configured rendezvous address and blocks
// until mux dials in and sends its single opaque readiness message (spec.md
// §6). The message's contents are not interpreted; its arrival is the
// signal.
func (e *Engine) waitRendezvous(ctx context.Context) error {
	lst, err := net.Listen("tcp", e.cfg.RendezvousAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", e.cfg.RendezvousAddr, err)
	}
	defer lst.Close()

	e.log.Infow("waiting for mux rendezvous", zap.String("addr", e.cfg.RendezvousAddr))

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	ch := make(chan acceptResult, 1)
	go func() {
		conn, err := lst.Accept()
		ch <- acceptResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		defer res.conn.Close()

		buf := make([]byte, 64)
		n, _ := res.conn.Read(buf)
		e.log.Infow("mux rendezvous received", zap.ByteString("payload", buf[:n]))
		return nil
	}
}

// pollLoop repeatedly drains port p's RX queue onto the engine<->mux
// channel and drains the channel's transmit side onto p, until ctx is
// cancelled. It mirrors l3enginelib's poll loop: one RX burst, one TX burst,
// per iteration, with a brief sleep only when both directions were idle so
// an unloaded port does not spin a core at 100%. Per spec.md's queue
// convention (mirrored in dpdk_loop/l3engine/src/main.rs's xmit_pkts), RX
// uses queueID and TX uses queueID^1: ports MUST be configured with an even
// number of queues so every RX queue has a paired TX queue.
func (e *Engine) pollLoop(ctx context.Context, p *port.Port, queueID uint16) error {
	txQueueID := queueID ^ 1

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rx, err := p.Receive(queueID, e.pool)
		if err != nil {
			return fmt.Errorf("rx port %d: %w", p.ID(), err)
		}
		if len(rx) > 0 {
			handles := make([]uint32, len(rx))
			for i, m := range rx {
				handles[i] = m.Handle()
			}
			sent := e.channel.EngineSendToMuxBulk(handles)
			if sent < len(handles) {
				dropped := make([]*mbuf.Mbuf, 0, len(handles)-sent)
				for _, h := range handles[sent:] {
					dropped = append(dropped, mbuf.FromHandle(e.pool, h))
				}
				mbuf.FreeBulk(dropped)
				e.log.Warnw("engine->mux ring full, dropped packets",
					zap.Int("dropped", len(handles)-sent), zap.Uint16("port", p.ID()))
			}
		}

		txHandles := e.channel.EngineRecvFromMuxBurst(port.TxBurstMax)
		if len(txHandles) > 0 {
			pkts := make([]*mbuf.Mbuf, len(txHandles))
			for i, h := range txHandles {
				pkts[i] = mbuf.FromHandle(e.pool, h)
			}
			if _, err := p.Send(txQueueID, pkts); err != nil {
				return fmt.Errorf("tx port %d: %w", p.ID(), err)
			}
		}

		if len(rx) == 0 && len(txHandles) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

// pinCore pins the calling OS thread to core. It is a best-effort call to
// unix.SchedSetaffinity, the Go rendering of the original's pthread core
// pinning (l3enginelib's worker setup); Run logs rather than fails when it
// returns an error, since a sandboxed or containerized environment may
// legitimately deny it.
func pinCore(core uint32) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(int(core))
	return unix.SchedSetaffinity(0, &set)
}

// Close releases the pool and channel's shared-memory mappings.
func (e *Engine) Close() error {
	var result *multierror.Error
	if err := e.channel.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.pool.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
