package objective

import (
	"context"
	"fmt"
	"time"

	"github.com/copyleftdev/dro/internal/errors"
	"github.com/copyleftdev/dro/internal/metrics"
	"github.com/copyleftdev/dro/internal/transport"
)

// Remote evaluates points on a peer reached through a transport.Channel.
// Each Evaluate is exactly one request and one reply; the adapter does not
// own the channel and never closes it.
type Remote struct {
	ch        transport.Channel
	names     []string
	scaler    *Scaler
	direction Direction
	metrics   *metrics.Metrics

	// broken holds the first protocol failure; no request follows it.
	broken error
}

// NewRemote builds a remote adapter. names label the request fields and fix
// the dimension; ranges must match them.
func NewRemote(ch transport.Channel, names []string, ranges []Range, direction Direction, m *metrics.Metrics) (*Remote, error) {
	if ch == nil {
		return nil, fmt.Errorf("remote objective: nil channel")
	}
	if len(ranges) != len(names) {
		return nil, fmt.Errorf("remote objective: %d ranges for %d parameters", len(ranges), len(names))
	}
	scaler, err := NewScaler(ranges)
	if err != nil {
		return nil, fmt.Errorf("remote objective: %w", err)
	}
	return &Remote{
		ch:        ch,
		names:     append([]string(nil), names...),
		scaler:    scaler,
		direction: direction,
		metrics:   m,
	}, nil
}

// Evaluate implements Objective. A reply equal to StopSentinel is returned
// unchanged with Stop set. A reply that cannot be decoded is a
// *errors.ProtocolError; the channel refuses further requests after it.
func (r *Remote) Evaluate(ctx context.Context, point []float64) (Evaluation, error) {
	if len(point) != len(r.names) {
		return Evaluation{}, fmt.Errorf("remote objective: point has %d coordinates, want %d", len(point), len(r.names))
	}
	if r.broken != nil {
		return Evaluation{}, &errors.ProtocolError{Endpoint: r.ch.Endpoint(), Reason: "objective is broken by an earlier failure", Err: r.broken}
	}

	request, err := transport.EncodeRequest(r.names, r.scaler.Denormalize(point))
	if err != nil {
		return Evaluation{}, err
	}

	start := time.Now()
	reply, err := r.ch.RoundTrip(ctx, request)
	r.metrics.ObserveRemote(time.Since(start))
	if err != nil {
		r.broken = err
		return Evaluation{}, err
	}

	y, err := transport.DecodeReply(reply)
	if err != nil {
		r.broken = err
		return Evaluation{}, &errors.ProtocolError{Endpoint: r.ch.Endpoint(), Reason: "malformed reply", Err: err}
	}
	if y == StopSentinel {
		return Evaluation{Value: StopSentinel, Stop: true}, nil
	}
	return Evaluation{Value: r.direction.Sign() * y}, nil
}
