package memenpsf

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	toConn := func(fd int) *net.UnixConn {
		f := os.NewFile(uintptr(fd), "sockpair")
		c, err := net.FileConn(f)
		require.NoError(t, err)
		f.Close()
		return c.(*net.UnixConn)
	}

	a, b := toConn(fds[0]), toConn(fds[1])
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestClientServerRoundTrip(t *testing.T) {
	clientConn, serverConn := socketPair(t)

	const capacity = 8
	serverCh := make(chan *MemEnpsf, 1)
	serverErr := make(chan error, 1)
	go func() {
		srv, err := NewServerSide(serverConn, capacity)
		serverErr <- err
		serverCh <- srv
	}()

	client, err := NewClientSide(clientConn, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, <-serverErr)
	server := <-serverCh
	t.Cleanup(func() { _ = server.Close() })

	require.NoError(t, server.XmitToClient([]byte("hello client")))

	_ = clientConn.SetReadDeadline(time.Now().Add(time.Second))
	var notifyBuf [2]byte
	_, err = clientConn.Read(notifyBuf[:])
	require.NoError(t, err)

	got, err := client.RecvFromSrv()
	require.NoError(t, err)
	require.Equal(t, "hello client", string(got))

	require.NoError(t, client.XmitToSrv([]byte("hello server")))
	_ = serverConn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = serverConn.Read(notifyBuf[:])
	require.NoError(t, err)

	got, err = server.RecvFromClient()
	require.NoError(t, err)
	require.Equal(t, "hello server", string(got))
}
