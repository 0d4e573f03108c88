package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds all configurable timeout values.
// These values can be customized via environment variables.
type Timeouts struct {
	TaskShort     time.Duration // quick tasks: power toggles, clones, deletes
	TaskLong      time.Duration // long tasks: downloads, uploads, template builds
	AgentWait     time.Duration // waiting for the guest agent to answer pings
	CloudInitWait time.Duration // waiting for first-boot cloud-init to finish

	RetryMaxAttempts  int           // retry attempts for idempotent reads
	RetryInitialDelay time.Duration // initial delay between retries
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment variables:
//   - PVESBX_TIMEOUT_TASK_SHORT (default: 2m)
//   - PVESBX_TIMEOUT_TASK_LONG (default: 20m)
//   - PVESBX_TIMEOUT_AGENT_WAIT (default: 5m)
//   - PVESBX_TIMEOUT_CLOUDINIT_WAIT (default: 10m)
//   - PVESBX_RETRY_MAX_ATTEMPTS (default: 3)
//   - PVESBX_RETRY_INITIAL_DELAY (default: 500ms)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		TaskShort:         parseDuration("PVESBX_TIMEOUT_TASK_SHORT", 2*time.Minute),
		TaskLong:          parseDuration("PVESBX_TIMEOUT_TASK_LONG", 20*time.Minute),
		AgentWait:         parseDuration("PVESBX_TIMEOUT_AGENT_WAIT", 5*time.Minute),
		CloudInitWait:     parseDuration("PVESBX_TIMEOUT_CLOUDINIT_WAIT", 10*time.Minute),
		RetryMaxAttempts:  parseInt("PVESBX_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay: parseDuration("PVESBX_RETRY_INITIAL_DELAY", 500*time.Millisecond),
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}

	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}

	return i
}
