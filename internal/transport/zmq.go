package transport

import (
	"context"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/copyleftdev/dro/internal/errors"
)

// ZMQ is a REQ socket connected to a REP peer.
type ZMQ struct {
	guard
	sock    zmq4.Socket
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// DialZMQ connects a REQ socket to tcp://hostport. The socket lives until
// Close or until ctx is done.
func DialZMQ(ctx context.Context, hostport string, timeout time.Duration) (*ZMQ, error) {
	endpoint := "tcp://" + hostport
	sock := zmq4.NewReq(ctx)
	if err := sock.Dial(endpoint); err != nil {
		_ = sock.Close()
		return nil, &errors.ProtocolError{Endpoint: endpoint, Reason: "dial failed", Err: err}
	}
	return &ZMQ{
		guard:   guard{endpoint: endpoint},
		sock:    sock,
		timeout: timeout,
	}, nil
}

func (z *ZMQ) Endpoint() string { return z.endpoint }

// RoundTrip sends request and waits for exactly one reply. On timeout or
// cancellation the socket is closed, since a REQ socket with an unanswered
// request cannot send again.
func (z *ZMQ) RoundTrip(ctx context.Context, request []byte) ([]byte, error) {
	return z.do(func() ([]byte, error) {
		type result struct {
			reply []byte
			err   error
		}
		done := make(chan result, 1)
		go func() {
			if err := z.sock.Send(zmq4.NewMsg(request)); err != nil {
				done <- result{err: z.fail("send failed", err)}
				return
			}
			msg, err := z.sock.Recv()
			if err != nil {
				done <- result{err: z.fail("receive failed", err)}
				return
			}
			if len(msg.Frames) != 1 {
				done <- result{err: z.fail("reply must be a single frame", nil)}
				return
			}
			done <- result{reply: msg.Bytes()}
		}()

		var expired <-chan time.Time
		if z.timeout > 0 {
			timer := time.NewTimer(z.timeout)
			defer timer.Stop()
			expired = timer.C
		}

		select {
		case r := <-done:
			return r.reply, r.err
		case <-expired:
			z.closeSocket()
			return nil, z.fail("no reply within "+z.timeout.String(), nil)
		case <-ctx.Done():
			z.closeSocket()
			return nil, z.fail("wait for reply aborted", ctx.Err())
		}
	})
}

// Close releases the socket. It is safe to call more than once.
func (z *ZMQ) Close() error {
	z.markClosed()
	return z.closeSocket()
}

func (z *ZMQ) closeSocket() error {
	z.closeOnce.Do(func() {
		z.closeErr = z.sock.Close()
	})
	return z.closeErr
}
