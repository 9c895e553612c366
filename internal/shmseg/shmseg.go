// Package shmseg wraps the three ways a POSIX shared-memory region is
// obtained in this dataplane: a named tmpfs path looked up by both ends (the
// packet pool), a descriptor received over a Unix socket (a client's
// MemEnpsf region), and an anonymous memfd created to hand off to a peer (a
// client creating that same region). All three end up mmap'd with
// golang.org/x/sys/unix, matching the teacher's own use of x/sys/unix for
// every raw OS primitive the standard library does not expose.
package shmseg

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Segment is a memory-mapped region backed by a shared-memory file
// descriptor. Data aliases the mapping directly; callers must not retain
// slices derived from Data past Close.
type Segment struct {
	fd   int
	size int64
	Data []byte

	ownsFD bool
}

// FromPath creates (or attaches to, if it already exists with the right
// size) a named shared-memory segment backed by a tmpfs file. Both ends of
// the packet pool reach it by the same name, mirroring DPDK's memzone
// lookup-by-name semantics without requiring fd-passing between engine and
// mux.
func FromPath(path string, size int64) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmseg: open %s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmseg: stat %s: %w", path, err)
	}
	if st.Size() != size {
		if err := unix.Ftruncate(int(f.Fd()), size); err != nil {
			f.Close()
			return nil, fmt.Errorf("shmseg: ftruncate %s to %d: %w", path, size, err)
		}
	}

	return mapFile(f, size, true)
}

// Anonymous creates an unnamed, unlinked shared-memory region (via
// memfd_create) sized to size. The returned Segment's FD can be handed to a
// peer process with fdpass.Send; the caller retains its own mapping.
func Anonymous(name string, size int64) (*Segment, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("shmseg: memfd_create %s: %w", name, err)
	}
	f := os.NewFile(uintptr(fd), name)

	if err := unix.Ftruncate(fd, size); err != nil {
		f.Close()
		return nil, fmt.Errorf("shmseg: ftruncate memfd %s to %d: %w", name, size, err)
	}

	return mapFile(f, size, true)
}

// FromFD wraps a descriptor received from a peer (typically over
// fdpass.Recv) and maps it at the given size. The caller owns fd and is
// expected to close the resulting Segment exactly once.
func FromFD(fd int, size int64) (*Segment, error) {
	f := os.NewFile(uintptr(fd), "shmseg-received")
	return mapFile(f, size, true)
}

func mapFile(f *os.File, size int64, ownsFD bool) (*Segment, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmseg: mmap: %w", err)
	}

	return &Segment{
		fd:     int(f.Fd()),
		size:   size,
		Data:   data,
		ownsFD: ownsFD,
	}, nil
}

// FD returns the underlying file descriptor, for handing off via SCM_RIGHTS.
func (s *Segment) FD() int { return s.fd }

// Size returns the mapped region length in bytes.
func (s *Segment) Size() int64 { return s.size }

// Close unmaps the region and closes the backing descriptor.
func (s *Segment) Close() error {
	if err := unix.Munmap(s.Data); err != nil {
		return fmt.Errorf("shmseg: munmap: %w", err)
	}
	if s.ownsFD {
		if err := unix.Close(s.fd); err != nil {
			return fmt.Errorf("shmseg: close fd: %w", err)
		}
	}
	return nil
}
