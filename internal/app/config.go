package app

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ConfigPath is the theater file. Empty selects the built-in theater in
	// the working directory.
	ConfigPath string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	// TraceFile receives OpenTelemetry spans as JSON lines. Empty disables
	// tracing.
	TraceFile string
	// StatusURL is a Socket.IO endpoint progress is mirrored to.
	StatusURL       string
	StatusNamespace string
	StatusEvent     string
	// StatusInsecure skips TLS certificate verification for StatusURL.
	StatusInsecure bool
	// MaxThreads overrides the theater's runtime.max_threads when positive.
	MaxThreads int
}

// NewConfig validates cfg and returns a copy.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("healthcheck port %d is out of range", cfg.HealthcheckPort)
	}
	if cfg.MaxThreads < 0 {
		return nil, errors.New("max threads must not be negative")
	}
	if cfg.StatusNamespace != "" && !strings.HasPrefix(cfg.StatusNamespace, "/") {
		return nil, fmt.Errorf("status namespace %q must start with '/'", cfg.StatusNamespace)
	}
	return &cfg, nil
}
