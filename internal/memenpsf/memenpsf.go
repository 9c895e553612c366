// Package memenpsf implements the per-client shared-memory interface region
// (spec.md §4.7), grounded on memenpsf/src/lib.rs and, for the client-side
// construction the distilled spec does not describe,
// client_container/async_client/src/main.rs.
//
// A region holds two SPSC byte rings back to back: server (mux) to client,
// then client to server. The client creates the backing memory (an
// anonymous memfd) and hands its descriptor to mux over the already
// connected Unix socket with internal/fdpass; mux receives and maps it.
package memenpsf

import (
	"fmt"
	"net"

	"github.com/vdp-project/govdp/internal/fdpass"
	"github.com/vdp-project/govdp/internal/shmring"
	"github.com/vdp-project/govdp/internal/shmseg"
)

// MemEnpsf is one client's shared-memory interface region, paired with the
// Unix socket used as a side channel to notify the peer of index updates
// without busy-polling shared memory.
type MemEnpsf struct {
	conn *net.UnixConn
	seg  *shmseg.Segment
	s2c  *shmring.RingBuf // server (mux) -> client
	c2s  *shmring.RingBuf // client -> server (mux)
}

func regionLayout(capacity int) (total int64, half int64) {
	half = shmring.RegionSize(capacity)
	return 2 * half, half
}

// NewServerSide constructs the mux-side handle: it receives the region's
// file descriptor from an already-connected client over conn.
func NewServerSide(conn *net.UnixConn, capacity int) (*MemEnpsf, error) {
	fd, err := fdpass.Recv(conn)
	if err != nil {
		return nil, fmt.Errorf("memenpsf: server side: %w", err)
	}

	total, half := regionLayout(capacity)
	seg, err := shmseg.FromFD(fd, total)
	if err != nil {
		return nil, fmt.Errorf("memenpsf: server side: map received fd: %w", err)
	}

	return &MemEnpsf{
		conn: conn,
		seg:  seg,
		s2c:  shmring.New(seg.Data[:half], capacity, false),
		c2s:  shmring.New(seg.Data[half:], capacity, false),
	}, nil
}

// NewClientSide constructs the client-side handle: it creates the backing
// anonymous shared memory and hands the descriptor to mux over conn.
func NewClientSide(conn *net.UnixConn, capacity int) (*MemEnpsf, error) {
	total, half := regionLayout(capacity)

	seg, err := shmseg.Anonymous("govdp-client-region", total)
	if err != nil {
		return nil, fmt.Errorf("memenpsf: client side: %w", err)
	}

	if err := fdpass.Send(conn, seg.FD()); err != nil {
		seg.Close()
		return nil, fmt.Errorf("memenpsf: client side: send fd: %w", err)
	}

	return &MemEnpsf{
		conn: conn,
		seg:  seg,
		s2c:  shmring.New(seg.Data[:half], capacity, false),
		c2s:  shmring.New(seg.Data[half:], capacity, false),
	}, nil
}

// Close unmaps the region. It does not close conn.
func (m *MemEnpsf) Close() error { return m.seg.Close() }

// notify writes the current (write, read) pair of the client->server ring
// to the side channel, after every operation on either ring -- matching the
// original's literal (if asymmetric-looking) behavior of always reporting
// c2s state regardless of which ring just changed.
func (m *MemEnpsf) notify() error {
	write, read := m.c2s.Indices()
	_, err := m.conn.Write([]byte{byte(write), byte(read)})
	return err
}

// XmitToClient pushes frame onto the server->client ring. Called by mux.
func (m *MemEnpsf) XmitToClient(frame []byte) error {
	if err := m.s2c.Push(frame); err != nil {
		return fmt.Errorf("memenpsf: xmit_to_client: %w", err)
	}
	return m.notify()
}

// RecvFromClient pops one frame off the client->server ring. Called by mux.
func (m *MemEnpsf) RecvFromClient() ([]byte, error) {
	frame, err := m.c2s.Pop()
	if err != nil {
		return nil, err
	}
	if err := m.notify(); err != nil {
		return frame, err
	}
	return frame, nil
}

// XmitToSrv pushes frame onto the client->server ring. Called by the client.
func (m *MemEnpsf) XmitToSrv(frame []byte) error {
	if err := m.c2s.Push(frame); err != nil {
		return fmt.Errorf("memenpsf: xmit_to_srv: %w", err)
	}
	return m.notify()
}

// RecvFromSrv pops one frame off the server->client ring. Called by the
// client.
func (m *MemEnpsf) RecvFromSrv() ([]byte, error) {
	frame, err := m.s2c.Pop()
	if err != nil {
		return nil, err
	}
	if err := m.notify(); err != nil {
		return frame, err
	}
	return frame, nil
}
