package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EvaluatePath is the route the objective server answers on.
const EvaluatePath = "/evaluate"

// maxReplyBytes caps the reply body; a scalar never comes close.
const maxReplyBytes = 1 << 16

// HTTP posts each request to http://hostport/evaluate.
type HTTP struct {
	guard
	client *http.Client
	url    string
}

// NewHTTP returns an HTTP channel. timeout bounds each round trip; zero
// relies on the request context alone.
func NewHTTP(hostport string, timeout time.Duration) *HTTP {
	url := "http://" + hostport + EvaluatePath
	return &HTTP{
		guard:  guard{endpoint: url},
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

func (h *HTTP) Endpoint() string { return h.url }

// RoundTrip posts request and returns the reply body of a 200 response.
func (h *HTTP) RoundTrip(ctx context.Context, request []byte) ([]byte, error) {
	return h.do(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(request))
		if err != nil {
			return nil, h.fail("building request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			return nil, h.fail("request failed", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
		if err != nil {
			return nil, h.fail("reading reply", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, h.fail(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, h.fail("empty reply", nil)
		}
		return body, nil
	})
}

// Close marks the channel closed and drops idle connections.
func (h *HTTP) Close() error {
	if h.markClosed() {
		h.client.CloseIdleConnections()
	}
	return nil
}
