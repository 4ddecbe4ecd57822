package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/dro/internal/config"
	"github.com/copyleftdev/dro/internal/errors"
)

func hostport(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestHTTPRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, EvaluatePath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a": 1}`, string(body))
		_, _ = w.Write([]byte("0.75"))
	}))
	defer srv.Close()

	ch, err := Dial(context.Background(), config.TransportHTTP, hostport(srv), time.Second)
	require.NoError(t, err)
	defer ch.Close()

	reply, err := ch.RoundTrip(context.Background(), []byte(`{"a": 1}`))
	require.NoError(t, err)
	assert.Equal(t, "0.75", string(reply))
	assert.Equal(t, srv.URL+EvaluatePath, ch.Endpoint())
}

func TestHTTPFailureBreaksChannel(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"empty body", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			ch := NewHTTP(hostport(srv), time.Second)
			defer ch.Close()

			_, err := ch.RoundTrip(context.Background(), []byte(`{}`))
			var perr *errors.ProtocolError
			require.True(t, errors.As(err, &perr))

			_, err = ch.RoundTrip(context.Background(), []byte(`{}`))
			require.True(t, errors.As(err, &perr))
			assert.Contains(t, perr.Reason, "broken")
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "no second request after a failure")
		})
	}
}

func TestHTTPTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ch := NewHTTP(hostport(srv), 50*time.Millisecond)
	_, err := ch.RoundTrip(context.Background(), []byte(`{}`))
	var perr *errors.ProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestClosedChannelRejectsRequests(t *testing.T) {
	ch := NewHTTP("127.0.0.1:1", time.Second)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	_, err := ch.RoundTrip(context.Background(), []byte(`{}`))
	var perr *errors.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "channel is closed", perr.Reason)
}

func TestDialUnknownTransport(t *testing.T) {
	_, err := Dial(context.Background(), "smoke-signals", "127.0.0.1:1", 0)
	assert.Error(t, err)
}
