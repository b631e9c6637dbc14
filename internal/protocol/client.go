package protocol

import (
	"context"

	"github.com/oar-team/batsim-go/pkg/middleware"
)

// Client is the EDC invocation boundary, with two interchangeable
// implementations: library mode (an in-process shared library) and socket
// mode (an external process over a request/reply connection). Both reduce
// to the same take_decisions-shaped call: send one encoded Message, get
// one encoded Message back.
type Client interface {
	// RoundTrip sends msg to the EDC and returns its reply, synchronously.
	RoundTrip(ctx context.Context, msg Message) (Message, error)
	// Close releases any resources the client holds (a loaded library
	// handle, an open socket).
	Close() error
}

// clientFunc adapts a middleware.RoundTripFunc-shaped byte exchange plus a
// Codec into a Client, so library and socket transports only need to
// implement "bytes in, bytes out" and get Message-level wrapping on top of
// whatever middleware.Chain the caller already applied to the exchange.
type clientFunc struct {
	codec     Codec
	transport middleware.RoundTripFunc
	closeFn   func() error
}

// NewClient wraps a raw byte-oriented transport (library call or socket
// exchange), already decorated with whatever middleware.Chain the caller
// wants, into a Message-level Client.
func NewClient(codec Codec, transport middleware.RoundTripFunc, closeFn func() error) Client {
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &clientFunc{codec: codec, transport: transport, closeFn: closeFn}
}

func (c *clientFunc) RoundTrip(ctx context.Context, msg Message) (Message, error) {
	reqBytes, err := c.codec.Encode(msg)
	if err != nil {
		return Message{}, err
	}
	respBytes, err := c.transport(ctx, reqBytes)
	if err != nil {
		return Message{}, err
	}
	return c.codec.Decode(respBytes)
}

func (c *clientFunc) Close() error {
	return c.closeFn()
}
