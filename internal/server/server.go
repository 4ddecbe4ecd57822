// Package server is the remote objective peer: it answers evaluation
// requests over HTTP and over a ZeroMQ REP socket using a built-in objective.
// It is what a remote-mode run talks to in tests and demos.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-zeromq/zmq4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/copyleftdev/dro/internal/config"
	"github.com/copyleftdev/dro/internal/errors"
	"github.com/copyleftdev/dro/internal/logging"
	"github.com/copyleftdev/dro/internal/metrics"
	"github.com/copyleftdev/dro/internal/transport"
)

// maxRequestBytes bounds an evaluation request body.
const maxRequestBytes = 1 << 20

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server answers evaluation requests from step optimizer runs.
type Server struct {
	cfg     *config.Config
	logger  Logger
	eval    *Evaluator
	metrics *metrics.Metrics
	// limiter is nil when evaluations are not paced.
	limiter *rate.Limiter

	mu      sync.Mutex
	sockets []zmq4.Socket
}

// NewServer creates a server that evaluates cfg.Objective.Function.
func NewServer(cfg *config.Config, logger Logger, m *metrics.Metrics) (*Server, error) {
	eval, err := NewEvaluator(cfg.Objective.Function, cfg.Objective.Params, cfg.Objective.StopAfter)
	if err != nil {
		return nil, err
	}
	srv := &Server{
		cfg:     cfg,
		logger:  logger,
		eval:    eval,
		metrics: m,
	}
	if cfg.Objective.RateLimit > 0 {
		srv.limiter = rate.NewLimiter(rate.Limit(cfg.Objective.RateLimit), 1)
	}
	return srv, nil
}

// Evaluator exposes the request handler shared by both transports.
func (s *Server) Evaluator() *Evaluator { return s.eval }

// RegisterRoutes mounts the evaluation and health endpoints.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post(transport.EvaluatePath, s.handleEvaluate)
	r.Get("/healthz", s.handleHealth)
}

// Router builds the complete HTTP handler: middleware, the server routes and
// /metrics served from gatherer.
func (s *Server) Router(base *logging.Logger, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(base))
	r.Use(errors.RecoveryMiddleware(base))
	r.Use(errors.ErrorHandler(base))

	s.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// throttle blocks until the next evaluation may run.
func (s *Server) throttle(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if err := s.throttle(r.Context()); err != nil {
		s.metrics.ObserveServed(config.TransportHTTP, ResultError)
		http.Error(w, "Request abandoned while throttled", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		s.metrics.ObserveServed(config.TransportHTTP, ResultError)
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	reply, kind, err := s.eval.Evaluate(body)
	s.metrics.ObserveServed(config.TransportHTTP, kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if kind == ResultStop {
		s.logger.Info("Evaluation budget exhausted, sending stop", map[string]interface{}{
			"transport": config.TransportHTTP,
			"served":    s.eval.Served(),
		})
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(reply)))
	w.WriteHeader(http.StatusOK)
	w.Write(reply)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	logging.FromContext(r.Context()).Debug("Health check")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ListenZMQ binds a REP socket to tcp://addr. Call ServeZMQ to answer
// requests on it.
func (s *Server) ListenZMQ(ctx context.Context, addr string) (zmq4.Socket, error) {
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen("tcp://" + addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.sockets = append(s.sockets, sock)
	s.mu.Unlock()
	return sock, nil
}

// ServeZMQ answers requests on sock until ctx is done. Every request gets
// exactly one reply; requests that cannot be evaluated are answered with an
// error text, which clients treat as a protocol error.
func (s *Server) ServeZMQ(ctx context.Context, sock zmq4.Socket) error {
	s.logger.Info("Serving objective over ZeroMQ", map[string]interface{}{
		"address":  sock.Addr().String(),
		"function": s.cfg.Objective.Function,
	})
	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if err := s.throttle(ctx); err != nil {
			return nil
		}

		reply, kind, err := s.eval.Evaluate(msg.Bytes())
		s.metrics.ObserveServed(config.TransportZMQ, kind)
		if err != nil {
			s.logger.Warn("Rejected evaluation request", map[string]interface{}{
				"transport": config.TransportZMQ,
				"error":     err.Error(),
			})
			reply = []byte("error: " + err.Error())
		} else if kind == ResultStop {
			s.logger.Info("Evaluation budget exhausted, sending stop", map[string]interface{}{
				"transport": config.TransportZMQ,
				"served":    s.eval.Served(),
			})
		}

		if err := sock.Send(zmq4.NewMsg(reply)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send: %w", err)
		}
	}
}

// Close releases every socket opened by ListenZMQ.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for _, sock := range s.sockets {
		if err := sock.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.sockets = nil
	return first
}
