package protocol

import (
	"context"
	"net"

	"golang.org/x/sync/errgroup"

	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
	"github.com/oar-team/batsim-go/pkg/retry"
)

// SocketDialer opens the connection a socket-mode EDC is reached through.
// Batsim itself only ever dials TCP or Unix sockets.
type SocketDialer func(ctx context.Context) (net.Conn, error)

// DialTCP returns a SocketDialer connecting to addr over TCP.
func DialTCP(addr string) SocketDialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// DialUnix returns a SocketDialer connecting to a Unix domain socket path.
func DialUnix(path string) SocketDialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", path)
	}
}

// socketTransport performs one binary-framed request/reply exchange over a
// persistent net.Conn, reconnecting via backoff on a transient failure. The
// actual read/write pair runs on its own goroutine group so a hung EDC
// cannot block the caller past its context deadline; logical simulation
// time never advances concurrently with this I/O, since the caller (the
// Server's dedicated request/reply round trip) blocks on the
// result before resuming its single-threaded event loop.
type socketTransport struct {
	dial    SocketDialer
	backoff retry.BackoffStrategy
	conn    net.Conn
}

// NewSocketTransport builds the raw byte transport for a socket-mode EDC,
// plus its matching close function. The transport is meant to be wrapped
// in a middleware.Chain (logging, metrics, timeout, retry) before being
// handed to NewClient.
func NewSocketTransport(dial SocketDialer, backoff retry.BackoffStrategy) (transport func(ctx context.Context, req []byte) ([]byte, error), closeFn func() error) {
	st := &socketTransport{dial: dial, backoff: backoff}
	return st.roundTrip, st.Close
}

func (st *socketTransport) ensureConnected(ctx context.Context) error {
	if st.conn != nil {
		return nil
	}
	conn, err := retry.RetryWithResult(ctx, st.backoff, func() (net.Conn, error) {
		return st.dial(ctx)
	})
	if err != nil {
		return batsimerrors.NewProtocolError(batsimerrors.ErrorCodeEDCFailure, "connecting to EDC socket: %v", err)
	}
	st.conn = conn
	return nil
}

func (st *socketTransport) roundTrip(ctx context.Context, req []byte) ([]byte, error) {
	if err := st.ensureConnected(ctx); err != nil {
		return nil, err
	}

	group, ctx := errgroup.WithContext(ctx)
	var resp []byte

	group.Go(func() error {
		return WriteBinaryFrame(st.conn, req)
	})
	group.Go(func() error {
		frame, err := ReadBinaryFrame(st.conn)
		if err != nil {
			return err
		}
		resp = frame
		return nil
	})

	if err := group.Wait(); err != nil {
		st.conn.Close()
		st.conn = nil
		return nil, batsimerrors.NewProtocolError(batsimerrors.ErrorCodeEDCFailure, "EDC socket exchange failed: %v", err)
	}
	return resp, nil
}

// Close shuts down the underlying connection, if any.
func (st *socketTransport) Close() error {
	if st.conn == nil {
		return nil
	}
	err := st.conn.Close()
	st.conn = nil
	return err
}
