package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, TransportZMQ, cfg.Remote.Transport)
	assert.Equal(t, time.Duration(0), cfg.Remote.Timeout)
	assert.Equal(t, uint64(0), cfg.Run.Seed)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "quadratic", cfg.Objective.Function)
	assert.Empty(t, cfg.Objective.Params)
	assert.Equal(t, "127.0.0.1:5555", cfg.Objective.ZMQAddr)
	assert.Zero(t, cfg.Objective.RateLimit)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("REMOTE_TRANSPORT", "http")
	t.Setenv("REMOTE_TIMEOUT", "250ms")
	t.Setenv("RANDOM_SEED", "42")
	t.Setenv("OBJECTIVE_STOP_AFTER", "7")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("OBJECTIVE_PARAMS", "temperature,flow_rate")
	t.Setenv("OBJECTIVE_RATE_LIMIT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportHTTP, cfg.Remote.Transport)
	assert.Equal(t, 250*time.Millisecond, cfg.Remote.Timeout)
	assert.Equal(t, uint64(42), cfg.Run.Seed)
	assert.Equal(t, 7, cfg.Objective.StopAfter)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, []string{"temperature", "flow_rate"}, cfg.Objective.Params)
	assert.Equal(t, 2.5, cfg.Objective.RateLimit)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown transport", "REMOTE_TRANSPORT", "carrier-pigeon"},
		{"negative timeout", "REMOTE_TIMEOUT", "-1s"},
		{"negative stop budget", "OBJECTIVE_STOP_AFTER", "-3"},
		{"unknown log level", "LOG_LEVEL", "verbose"},
		{"unknown log format", "LOG_FORMAT", "yaml"},
		{"negative rate limit", "OBJECTIVE_RATE_LIMIT", "-1"},
		{"unparsable port", "HTTP_PORT", "eighty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
