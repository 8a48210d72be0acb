package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""
)

// Realtime holds tuning knobs for the websocket layer.
type Realtime struct {
	// SendBuffer is the per-connection outbound queue size; overflow drops
	// the oldest queued message.
	SendBuffer     int           `envconfig:"WS_SEND_BUFFER" default:"64"`
	AuthTimeout    time.Duration `envconfig:"WS_AUTH_TIMEOUT" default:"10s"`
	PingInterval   time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	PongWait       time.Duration `envconfig:"WS_PONG_WAIT" default:"60s"`
	WriteWait      time.Duration `envconfig:"WS_WRITE_WAIT" default:"10s"`
	MaxMessageSize int64         `envconfig:"WS_MAX_MESSAGE_SIZE" default:"65536"`
}

// Sweep holds tuning knobs for the background queue sweeper.
type Sweep struct {
	Interval time.Duration `envconfig:"SWEEP_INTERVAL" default:"15s"`
}

// Env is the full environment-driven configuration, under the TASKFLOW
// namespace (e.g. TASKFLOW_WS_SEND_BUFFER).
type Env struct {
	Realtime Realtime
	Sweep    Sweep
}

const namespace = "TASKFLOW"

// LoadEnv reads the environment into an Env, applying defaults.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}
