// Package fdpass sends and receives a single file descriptor over a Unix
// domain socket using SCM_RIGHTS ancillary data, the mechanism
// client_container/async_client and memenpsf/src/lib.rs use to hand the
// client interface region's shared-memory descriptor from client to mux.
package fdpass

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// cookie is the single byte payload sent alongside the ancillary data, the
// same convention fdpass-rs uses: some platforms refuse to deliver
// ancillary data on a message with zero-length regular payload.
var cookie = []byte{0}

// Send transmits fd as SCM_RIGHTS ancillary data over conn.
func Send(conn *net.UnixConn, fd int) error {
	rights := unix.UnixRights(fd)

	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("fdpass: syscall conn: %w", err)
	}

	var sendErr error
	ctlErr := raw.Control(func(sockFD uintptr) {
		sendErr = unix.Sendmsg(int(sockFD), cookie, rights, nil, 0)
	})
	if ctlErr != nil {
		return fmt.Errorf("fdpass: control: %w", ctlErr)
	}
	if sendErr != nil {
		return fmt.Errorf("fdpass: sendmsg: %w", sendErr)
	}
	return nil
}

// Recv blocks until it receives one file descriptor over conn, returning it.
// The caller owns the returned descriptor.
func Recv(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("fdpass: syscall conn: %w", err)
	}

	// unix.CmsgSpace(4) is the padded size of one SCM_RIGHTS int, including
	// the platform's size_t alignment of cmsg data (4 bytes of padding on
	// x86_64, matching fdpass-rs's FdPadding struct).
	oob := make([]byte, unix.CmsgSpace(4))
	buf := make([]byte, len(cookie))

	var (
		n, oobn int
		recvErr error
	)
	ctlErr := raw.Read(func(sockFD uintptr) bool {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(sockFD), buf, oob, 0)
		return recvErr != unix.EAGAIN
	})
	if ctlErr != nil {
		return -1, fmt.Errorf("fdpass: control: %w", ctlErr)
	}
	if recvErr != nil {
		return -1, fmt.Errorf("fdpass: recvmsg: %w", recvErr)
	}
	if n != len(cookie) {
		return -1, fmt.Errorf("fdpass: expected %d-byte cookie, got %d bytes", len(cookie), n)
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("fdpass: parse control message: %w", err)
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		if len(fds) != 1 {
			return -1, fmt.Errorf("fdpass: expected exactly 1 descriptor, got %d", len(fds))
		}
		return fds[0], nil
	}

	return -1, fmt.Errorf("fdpass: no SCM_RIGHTS control message received")
}
