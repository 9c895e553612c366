// Command govdp-client is a minimal demonstration workload for the client
// side of the shared-memory interface: it dials mux's Unix socket, maps the
// negotiated region via memenpsf.NewClientSide, and exercises the protocol
// end to end by sending each line of input and logging the size of every
// frame mux routes back, in a loop until interrupted.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vdp-project/govdp/common/go/logging"
	"github.com/vdp-project/govdp/common/go/xcmd"
	"github.com/vdp-project/govdp/internal/dperr"
	"github.com/vdp-project/govdp/internal/memenpsf"
	"github.com/vdp-project/govdp/internal/shmring"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// SocketPath is the mux client socket to dial.
	SocketPath string
	// RegionSize is the client region's total byte size; must match the
	// capacity mux derives from muxconf.Config.ClientRegionSize.
	RegionSize int64
}

var rootCmd = &cobra.Command{
	Use:   "govdp-client",
	Short: "govdp client: demonstrates the client shared-memory protocol",
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			if errors.Is(err, xcmd.Interrupted{}) {
				return
			}
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.SocketPath, "socket", "s", "/tmp/fd-passrd.socket", "Path to the mux client socket")
	rootCmd.Flags().Int64VarP(&cmd.RegionSize, "region-size", "r", 20*1536*2, "Client region size in bytes, matching muxconf's client_region_size")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	log, _, err := logging.Init(&logging.Config{Level: zapcore.InfoLevel})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()

	log.Infow("dialing mux", "socket", cmd.SocketPath)
	conn, err := dial(ctx, cmd.SocketPath)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", cmd.SocketPath, err)
	}

	capacity := ringCapacity(cmd.RegionSize)
	iface, err := memenpsf.NewClientSide(conn, capacity)
	if err != nil {
		conn.Close()
		return fmt.Errorf("client: establish interface: %w", err)
	}
	defer iface.Close()

	log.Infow("connected to mux", "ring_capacity", capacity)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvErrCh := make(chan error, 1)
	go func() { recvErrCh <- recvLoop(ctx, iface, log) }()

	sendErrCh := make(chan error, 1)
	go func() { sendErrCh <- sendLoop(ctx, iface) }()

	sigErrCh := make(chan error, 1)
	go func() { sigErrCh <- xcmd.WaitInterrupted(ctx) }()

	select {
	case err := <-recvErrCh:
		cancel()
		return err
	case err := <-sendErrCh:
		cancel()
		return err
	case err := <-sigErrCh:
		cancel()
		<-recvErrCh
		<-sendErrCh
		return err
	}
}

// dial connects to mux's socket, retrying with exponential backoff since the
// mux process may not have started listening yet.
func dial(ctx context.Context, path string) (*net.UnixConn, error) {
	return backoff.Retry(ctx, func() (*net.UnixConn, error) {
		conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(30*time.Second))
}

// sendLoop reads lines from stdin and forwards each one to mux as a frame.
func sendLoop(ctx context.Context, iface *memenpsf.MemEnpsf) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := iface.XmitToSrv(scanner.Bytes()); err != nil {
			return fmt.Errorf("client: send: %w", err)
		}
	}
	return scanner.Err()
}

// recvLoop polls frames mux routed back and logs the byte length of each one.
func recvLoop(ctx context.Context, iface *memenpsf.MemEnpsf, log *zap.SugaredLogger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := iface.RecvFromSrv()
		if err != nil {
			if errors.Is(err, dperr.ErrNoEntries) {
				time.Sleep(time.Millisecond)
				continue
			}
			return fmt.Errorf("client: recv: %w", err)
		}
		log.Infow("received frame", zap.Int("bytes", len(frame)))
	}
}

// ringCapacity mirrors mux's own derivation (internal/mux.Mux.ringCapacity):
// a region holds two equal-sized rings of shmring.MTU-sized slots.
func ringCapacity(regionSize int64) int {
	capacity := int(regionSize) / (2 * shmring.MTU)
	if capacity < 2 {
		capacity = 2
	}
	return capacity
}
