// Package mux implements the mux process: the half of the dataplane that
// owns client connections. It attaches to the engine's packet pool and
// engine<->mux channel, accepts clients over a Unix domain socket, maps each
// client's shared-memory interface region, classifies frames the engine
// received off the wire, answers ARP itself, and routes everything else to
// the client registered for its destination service.
//
// Grounded on l3enginemux/src/main.rs for the accept/dispatch split and on
// github.com/yanet-platform/yanet2/coordinator/coordinator.go for the
// options/Run/Close shape.
package mux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gopacket/gopacket"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vdp-project/govdp/internal/classify"
	"github.com/vdp-project/govdp/internal/dperr"
	"github.com/vdp-project/govdp/internal/dpring"
	"github.com/vdp-project/govdp/internal/mbuf"
	"github.com/vdp-project/govdp/internal/memenpsf"
	"github.com/vdp-project/govdp/internal/mux/clienttable"
	"github.com/vdp-project/govdp/internal/muxconf"
	"github.com/vdp-project/govdp/internal/shmring"
)

// dispatchBurst bounds how many handles the dispatch loop drains from the
// engine in one pass.
const dispatchBurst = 32

type options struct {
	Log *zap.SugaredLogger
}

func newOptions() *options {
	return &options{Log: zap.NewNop().Sugar()}
}

// Option configures a Mux.
type Option func(*options)

// WithLog sets the logger the mux reports through.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) { o.Log = log }
}

// Mux attaches to an already-running engine's pool and channel and serves
// clients.
type Mux struct {
	cfg     *muxconf.Config
	pool    *mbuf.Mempool
	channel *dpring.Channel
	local   classify.LocalIPMac
	table   *clienttable.Table
	log     *zap.SugaredLogger
}

// New parses cfg's local address and builds an otherwise empty Mux. It does
// not yet attach to the engine's pool and channel: process start order
// between engine and mux is not guaranteed, so that attach happens in Run,
// right after the rendezvous handshake proves the engine is up.
func New(cfg *muxconf.Config, opts ...Option) (*Mux, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	log := o.Log
	log.Infow("initializing mux", zap.Any("config", cfg))

	mac, err := net.ParseMAC(cfg.LocalMAC)
	if err != nil {
		return nil, fmt.Errorf("mux: parse local_mac %q: %w", cfg.LocalMAC, err)
	}
	ip := net.ParseIP(cfg.LocalIP)
	if ip == nil {
		return nil, fmt.Errorf("mux: parse local_ip %q: %w", cfg.LocalIP, dperr.ErrInvalid)
	}

	return &Mux{
		cfg:   cfg,
		local: classify.LocalIPMac{IP: ip, MAC: mac},
		table: clienttable.New(),
		log:   log,
	}, nil
}

// Run performs the startup rendezvous with the engine, attaches to the pool
// and channel the engine created, then serves client connections and
// dispatches engine traffic until ctx is cancelled.
func (m *Mux) Run(ctx context.Context) error {
	m.log.Info("running mux")
	defer m.log.Info("stopped mux")

	if err := m.rendezvous(ctx); err != nil {
		return fmt.Errorf("mux: rendezvous: %w", err)
	}

	pool, err := mbuf.Lookup(m.cfg.MempoolName, mbuf.BufferCount(int64(m.cfg.MempoolMemory)))
	if err != nil {
		return fmt.Errorf("mux: lookup pool %q: %w", m.cfg.MempoolName, err)
	}
	channel, err := dpring.Lookup(m.cfg.ChannelName)
	if err != nil {
		pool.Close()
		return fmt.Errorf("mux: lookup channel %q: %w", m.cfg.ChannelName, err)
	}
	m.pool, m.channel = pool, channel

	if err := os.RemoveAll(m.cfg.ClientSocketPath); err != nil {
		return fmt.Errorf("mux: remove stale socket %s: %w", m.cfg.ClientSocketPath, err)
	}
	addr, err := net.ResolveUnixAddr("unix", m.cfg.ClientSocketPath)
	if err != nil {
		return fmt.Errorf("mux: resolve %s: %w", m.cfg.ClientSocketPath, err)
	}
	lst, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("mux: listen %s: %w", m.cfg.ClientSocketPath, err)
	}
	defer os.Remove(m.cfg.ClientSocketPath)

	m.log.Infow("accepting clients", zap.String("socket", m.cfg.ClientSocketPath))

	wg, runCtx := errgroup.WithContext(ctx)
	wg.Go(func() error { return m.acceptLoop(runCtx, lst) })
	wg.Go(func() error { return m.dispatchLoop(runCtx) })

	<-ctx.Done()
	lst.Close()
	return wg.Wait()
}

// rendezvous dials the engine's rendezvous listener and sends a single
// opaque readiness message, retrying with exponential backoff until the
// engine is listening (spec.md §6); the engine normally starts first, but
// process start order is not guaranteed.
func (m *Mux) rendezvous(ctx context.Context) error {
	m.log.Infow("dialing engine rendezvous", zap.String("addr", m.cfg.RendezvousAddr))

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		conn, err := net.Dial("tcp", m.cfg.RendezvousAddr)
		if err != nil {
			return struct{}{}, err
		}
		defer conn.Close()
		_, err = conn.Write([]byte("mux-ready"))
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(30*time.Second))
	return err
}

// acceptLoop accepts client connections on lst until ctx is cancelled or lst
// is closed.
func (m *Mux) acceptLoop(ctx context.Context, lst *net.UnixListener) error {
	for {
		conn, err := lst.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("mux: accept: %w", err)
		}
		go m.handleClient(ctx, conn)
	}
}

// handleClient establishes one client's shared-memory interface, files it
// in the client table under the configured default service, and relays
// traffic in both directions until ctx is cancelled, the client's entry is
// replaced by a newer connection, or the connection fails.
func (m *Mux) handleClient(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	client, err := memenpsf.NewServerSide(conn, m.ringCapacity())
	if err != nil {
		m.log.Warnw("failed to establish client interface", zap.Error(err))
		return
	}
	defer client.Close()

	service := m.cfg.DefaultService
	entry := m.table.Insert(service)
	defer m.table.Remove(service, entry)
	m.log.Infow("client connected", zap.String("service", service))
	defer m.log.Infow("client disconnected", zap.String("service", service))

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		m.clientRecvLoop(ctx, client, entry)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-entry.Stop:
			return
		case <-recvDone:
			return
		case frame, ok := <-entry.Sender:
			if !ok {
				return
			}
			if err := client.XmitToClient(frame); err != nil {
				m.log.Warnw("failed to deliver frame to client", zap.String("service", service), zap.Error(err))
				return
			}
		}
	}
}

// clientRecvLoop polls frames the client pushed onto its side of the shared
// region and forwards each one to the engine for transmission.
func (m *Mux) clientRecvLoop(ctx context.Context, client *memenpsf.MemEnpsf, entry *clienttable.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-entry.Stop:
			return
		default:
		}

		frame, err := client.RecvFromClient()
		if err != nil {
			if errors.Is(err, dperr.ErrNoEntries) {
				time.Sleep(time.Millisecond)
				continue
			}
			m.log.Warnw("client recv error", zap.Error(err))
			return
		}

		mb, err := m.pool.FromBytes(frame)
		if err != nil {
			m.log.Warnw("failed to allocate buffer for client frame", zap.Error(err))
			continue
		}
		h := mb.Handle()
		if !m.channel.MuxSendToEngine(h) {
			mbuf.FreeBulk([]*mbuf.Mbuf{mbuf.FromHandle(m.pool, h)})
			m.log.Warnw("mux->engine ring full, dropped client frame")
		}
	}
}

// dispatchLoop drains handles the engine received off the wire, answering
// ARP itself and routing everything else toward the client table.
func (m *Mux) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		handles := m.channel.MuxRecvFromEngineBurst(dispatchBurst)
		if len(handles) == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		for _, h := range handles {
			m.handleReceived(h)
		}
	}
}

func (m *Mux) handleReceived(h mbuf.Handle) {
	mb := mbuf.FromHandle(m.pool, h)
	defer mb.Release()

	pkt, err := classify.Parse(mb.Data())
	if err != nil {
		m.log.Debugw("dropping unparseable frame", zap.Error(err))
		return
	}

	if classify.IsARP(pkt) {
		m.handleARP(pkt)
		return
	}

	if _, err := classify.FiveTuple(m.local, pkt); err != nil {
		m.log.Debugw("dropping frame", zap.Error(err))
		return
	}

	entry, ok := m.table.Lookup(m.cfg.DefaultService)
	if !ok {
		m.log.Debugw("dropping frame for unregistered service", zap.String("service", m.cfg.DefaultService))
		return
	}

	frame := append([]byte(nil), mb.Data()...)
	select {
	case entry.Sender <- frame:
	default:
		m.log.Warnw("client sender full, dropping frame", zap.String("service", m.cfg.DefaultService))
	}
}

func (m *Mux) handleARP(pkt gopacket.Packet) {
	arp := classify.ARPLayer(pkt)
	if arp == nil {
		return
	}
	reply, err := classify.BuildARPReply(m.local, arp)
	if err != nil {
		m.log.Warnw("failed to build arp reply", zap.Error(err))
		return
	}
	replyBuf, err := m.pool.FromBytes(reply)
	if err != nil {
		m.log.Warnw("failed to allocate arp reply buffer", zap.Error(err))
		return
	}
	h := replyBuf.Handle()
	if !m.channel.MuxSendToEngine(h) {
		mbuf.FreeBulk([]*mbuf.Mbuf{mbuf.FromHandle(m.pool, h)})
		m.log.Warnw("mux->engine ring full, dropped arp reply")
	}
}

// ringCapacity derives a client region's per-ring slot count from the
// configured region size: the region holds two rings of equal size.
func (m *Mux) ringCapacity() int {
	capacity := int(m.cfg.ClientRegionSize) / (2 * shmring.MTU)
	if capacity < 2 {
		capacity = 2
	}
	return capacity
}

// Close releases the pool and channel's shared-memory mappings (which this
// process attached to, rather than created). Safe to call even if Run never
// reached the rendezvous that attaches them.
func (m *Mux) Close() error {
	var result *multierror.Error
	if m.channel != nil {
		if err := m.channel.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if m.pool != nil {
		if err := m.pool.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
