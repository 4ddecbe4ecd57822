// Package transport implements the synchronous request/reply channel used to
// reach a remotely hosted objective.
//
// A Channel is strictly half-duplex: a request must be answered before the
// next one is sent. A failed round trip leaves the peer in an unknown state,
// so the channel is marked broken and every later call fails without
// touching the wire. Nothing here retries.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/copyleftdev/dro/internal/config"
	"github.com/copyleftdev/dro/internal/errors"
)

// Channel sends one request and blocks for its reply.
type Channel interface {
	RoundTrip(ctx context.Context, request []byte) ([]byte, error)
	// Endpoint names the peer for error messages.
	Endpoint() string
	Close() error
}

// Dial opens a channel of the given kind (config.TransportZMQ or
// config.TransportHTTP) to hostport. timeout bounds each reply; zero waits
// until ctx is done.
func Dial(ctx context.Context, kind, hostport string, timeout time.Duration) (Channel, error) {
	switch kind {
	case config.TransportZMQ:
		return DialZMQ(ctx, hostport, timeout)
	case config.TransportHTTP:
		return NewHTTP(hostport, timeout), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// guard serializes round trips and remembers a failure.
type guard struct {
	mu       sync.Mutex
	endpoint string
	broken   error
	closed   bool
}

// do runs fn under the lock unless the channel is broken or closed. Any error
// from fn breaks the channel.
func (g *guard) do(fn func() ([]byte, error)) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, &errors.ProtocolError{Endpoint: g.endpoint, Reason: "channel is closed"}
	}
	if g.broken != nil {
		return nil, &errors.ProtocolError{Endpoint: g.endpoint, Reason: "channel is broken by an earlier failure", Err: g.broken}
	}

	reply, err := fn()
	if err != nil {
		g.broken = err
		return nil, err
	}
	return reply, nil
}

func (g *guard) markClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.closed = true
	return true
}

func (g *guard) fail(reason string, err error) error {
	return &errors.ProtocolError{Endpoint: g.endpoint, Reason: reason, Err: err}
}
