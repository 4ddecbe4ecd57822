package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/copyleftdev/dro/internal/config"
	"github.com/copyleftdev/dro/internal/metrics"
	"github.com/copyleftdev/dro/internal/server"
)

var (
	serveTransport string
	servePort      int
	serveZMQAddr   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a built-in objective to remote runs",
	Long: `Answers evaluation requests for OBJECTIVE_FUNCTION over HTTP (POST /evaluate)
or a ZeroMQ REP socket. Once OBJECTIVE_STOP_AFTER evaluations have been
answered every further request receives the stop sentinel.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", config.TransportHTTP, "Transport to serve (http or zmq)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (default: HTTP_PORT)")
	serveCmd.Flags().StringVar(&serveZMQAddr, "zmq-addr", "", "host:port for the REP socket (default: OBJECTIVE_ZMQ_ADDR)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	switch serveTransport {
	case config.TransportHTTP, config.TransportZMQ:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", serveTransport, config.TransportHTTP, config.TransportZMQ)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service":   "dro-objective",
		"env":       cfg.Environment,
		"function":  cfg.Objective.Function,
		"transport": serveTransport,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv, err := server.NewServer(cfg, serviceLogger, metrics.New(reg))
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			serviceLogger.Error("error closing server resources", map[string]interface{}{"error": err.Error()})
		}
	}()

	errc := make(chan error, 1)
	var httpServer *http.Server

	if serveTransport == config.TransportZMQ {
		addr := serveZMQAddr
		if addr == "" {
			addr = cfg.Objective.ZMQAddr
		}
		sock, err := srv.ListenZMQ(ctx, addr)
		if err != nil {
			return err
		}
		if cfg.Run.MetricsAddr != "" {
			shutdown := serveMetrics(cfg.Run.MetricsAddr, reg, serviceLogger)
			defer shutdown()
		}
		go func() { errc <- srv.ServeZMQ(ctx, sock) }()
	} else {
		port := servePort
		if port == 0 {
			port = cfg.HTTP.Port
		}
		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      srv.Router(logger, reg),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}
		go func() {
			serviceLogger.Info("Starting server", map[string]interface{}{
				"address": httpServer.Addr,
			})
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
				return
			}
			errc <- nil
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			serviceLogger.Error("Server failed", map[string]interface{}{"error": err.Error()})
			return err
		}
	}

	serviceLogger.Info("Shutting down server...")
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
			return err
		}
	}
	serviceLogger.Info("Server stopped", map[string]interface{}{
		"served": srv.Evaluator().Served(),
	})
	return nil
}
