package config

import (
	"fmt"
	"time"
)

// BackendMode selects the container execution backend.
type BackendMode string

// Backend modes
const (
	// BackendModeLocal talks to a local Docker daemon.
	BackendModeLocal BackendMode = "local"
	// BackendModeHosted talks to a remote Docker-compatible container service.
	BackendModeHosted BackendMode = "hosted"
	// BackendModeFake keeps containers in memory. Development and tests only.
	BackendModeFake BackendMode = "fake"
)

// Backend defaults
const (
	// DefaultBackendTimeout is generous because hosted engines can be very slow.
	DefaultBackendTimeout = 10 * time.Minute
	DefaultRetryAttempts  = 10
	DefaultRetryDelay     = 10 * time.Second
)

// ExecutionBackendConfig is everything needed to construct a backend client.
type ExecutionBackendConfig struct {
	Mode BackendMode
	// DockerHost overrides the daemon address in local mode; empty means the
	// client default from the environment.
	DockerHost string
	// Endpoint, AccessKey and SecretKey are used in hosted mode.
	Endpoint  string
	AccessKey string
	SecretKey string
	Timeout   time.Duration
	// RetryAttempts bounds the number of attempts for a hosted request.
	RetryAttempts int
	RetryDelay    time.Duration
	// InstanceType is applied as a machine label in hosted mode.
	InstanceType string
	// Network is attached to jobs so they can reach the webhook endpoint.
	Network string
}

// Validate checks the backend settings for the selected mode.
func (c ExecutionBackendConfig) Validate() error {
	switch c.Mode {
	case BackendModeLocal, BackendModeFake:
	case BackendModeHosted:
		if c.Endpoint == "" {
			return fmt.Errorf("endpoint is required in hosted mode")
		}
		if c.AccessKey == "" {
			return fmt.Errorf("access key is required in hosted mode")
		}
	default:
		return fmt.Errorf("unsupported backend mode: %s", c.Mode)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	return nil
}
