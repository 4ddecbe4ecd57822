// Package config loads the runtime environment of the dro binary. The
// optimization settings document itself is handled by internal/settings.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/dro/internal/logging"
)

// Transport names accepted by REMOTE_TRANSPORT.
const (
	TransportZMQ  = "zmq"
	TransportHTTP = "http"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	Logging     logging.Config
	Remote struct {
		Transport string `env:"REMOTE_TRANSPORT" envDefault:"zmq"`
		// Timeout bounds the wait for a single reply. Zero waits forever.
		Timeout time.Duration `env:"REMOTE_TIMEOUT" envDefault:"0s"`
	}
	Run struct {
		// Seed for the starting-point sampler. Zero seeds from the clock.
		Seed        uint64 `env:"RANDOM_SEED" envDefault:"0"`
		MetricsAddr string `env:"METRICS_ADDR"`
	}
	HTTP struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Objective struct {
		Function string `env:"OBJECTIVE_FUNCTION" envDefault:"quadratic"`
		// Params fixes the parameter names and their order. Empty accepts
		// any names and orders them lexically.
		Params []string `env:"OBJECTIVE_PARAMS" envSeparator:","`
		// ZMQAddr is the host:port the REP socket binds to.
		ZMQAddr string `env:"OBJECTIVE_ZMQ_ADDR" envDefault:"127.0.0.1:5555"`
		// StopAfter is the number of evaluations answered before the server
		// replies with the stop sentinel. Zero never stops.
		StopAfter int `env:"OBJECTIVE_STOP_AFTER" envDefault:"0"`
		// RateLimit paces evaluations per second, as a slow instrument
		// would. Zero answers immediately.
		RateLimit float64 `env:"OBJECTIVE_RATE_LIMIT" envDefault:"0"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if _, err := logging.ParseFormat(cfg.Logging.Format); err != nil {
		return nil, fmt.Errorf("LOG_FORMAT: %w", err)
	}

	switch cfg.Remote.Transport {
	case TransportZMQ, TransportHTTP:
	default:
		return nil, fmt.Errorf("REMOTE_TRANSPORT: unknown transport %q (want %s or %s)",
			cfg.Remote.Transport, TransportZMQ, TransportHTTP)
	}

	if cfg.Remote.Timeout < 0 {
		return nil, fmt.Errorf("REMOTE_TIMEOUT: must not be negative, got %s", cfg.Remote.Timeout)
	}
	if cfg.Objective.StopAfter < 0 {
		return nil, fmt.Errorf("OBJECTIVE_STOP_AFTER: must not be negative, got %d", cfg.Objective.StopAfter)
	}
	if cfg.Objective.RateLimit < 0 {
		return nil, fmt.Errorf("OBJECTIVE_RATE_LIMIT: must not be negative, got %g", cfg.Objective.RateLimit)
	}

	return cfg, nil
}
