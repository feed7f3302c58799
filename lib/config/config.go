// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for a duplex deployment.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// StateDir is where a duplex daemon persists any local state (none
	// at present, but reserved so a future crash-recovery feature has
	// somewhere to live without a config format change).
	StateDir string `yaml:"state_dir"`

	// Socket configures the per-peer endpoint tunables.
	Socket SocketConfig `yaml:"socket"`

	// Punch configures the rendezvous hole-punch collaborator.
	Punch PunchConfig `yaml:"punch"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Socket *SocketConfig `yaml:"socket,omitempty"`
	Punch  *PunchConfig  `yaml:"punch,omitempty"`
}

// SocketConfig configures a socket.Endpoint's tunables. Durations are
// strings on the wire (e.g. "200ms") and parsed by [SocketConfig.Parsed].
type SocketConfig struct {
	// KeepAlivePeriod is how long the send loop waits with nothing to
	// do before enqueuing a keepalive message.
	// Default: 200ms
	KeepAlivePeriod string `yaml:"keepalive_period"`

	// ReceiveTimeoutPeriod is how long the receive loop waits for any
	// datagram before declaring the peer unreachable.
	// Default: 1000ms
	ReceiveTimeoutPeriod string `yaml:"receive_timeout_period"`

	// PacerMicrosPerByte sets the congestion pacer's delay per byte of
	// the last packet sent, modeling a conservative bitrate floor.
	// Default: 200us (a ~40 kbit/s floor)
	PacerMicrosPerByte string `yaml:"pacer_micros_per_byte"`

	// MaxPendingReliableMessages bounds the pending-reassembly map when
	// no reliable receive callback ever drains it. Zero means
	// unbounded, matching the wire contract as specified.
	// Default: 0 (unbounded)
	MaxPendingReliableMessages int `yaml:"max_pending_reliable_messages"`
}

// PunchConfig configures rendezvous connection establishment.
type PunchConfig struct {
	// RetryInterval is how often punch.UDPRacer re-sends the first
	// packet while waiting for a matching reply.
	// Default: 250ms
	RetryInterval string `yaml:"retry_interval"`

	// Timeout bounds the whole handshake; exceeding it without a reply
	// fails rendezvous connection.
	// Default: 30s
	Timeout string `yaml:"timeout"`

	// STUNServers, if non-empty, are tried in order by
	// punch.STUNReflexive to resolve this host's server-reflexive
	// address before racing the first packet toward the peer.
	// Default: none (host-candidate only, suitable for LAN/loopback)
	STUNServers []string `yaml:"stun_servers"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		StateDir:    filepath.Join(homeDir, ".cache", "duplex"),
		Socket: SocketConfig{
			KeepAlivePeriod:      "200ms",
			ReceiveTimeoutPeriod: "1000ms",
			PacerMicrosPerByte:   "200us",
		},
		Punch: PunchConfig{
			RetryInterval: "250ms",
			Timeout:       "30s",
		},
	}
}

// Load loads configuration from the DUPLEX_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if DUPLEX_CONFIG is not set, this
// fails. This ensures deterministic, auditable configuration with no
// hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("DUPLEX_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("DUPLEX_CONFIG environment variable not set; " +
			"set it to the path of your duplex.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do
// not override config values - this ensures deterministic, auditable
// configuration. The only expansion performed is ${HOME} and similar
// path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production default: a more conservative pacer floor. The STUN
		// server list is left as loaded (empty unless the file names one).
		if overrides == nil {
			overrides = &ConfigOverrides{
				Socket: &SocketConfig{
					PacerMicrosPerByte: "400us",
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Socket != nil {
		if overrides.Socket.KeepAlivePeriod != "" {
			c.Socket.KeepAlivePeriod = overrides.Socket.KeepAlivePeriod
		}
		if overrides.Socket.ReceiveTimeoutPeriod != "" {
			c.Socket.ReceiveTimeoutPeriod = overrides.Socket.ReceiveTimeoutPeriod
		}
		if overrides.Socket.PacerMicrosPerByte != "" {
			c.Socket.PacerMicrosPerByte = overrides.Socket.PacerMicrosPerByte
		}
		if overrides.Socket.MaxPendingReliableMessages != 0 {
			c.Socket.MaxPendingReliableMessages = overrides.Socket.MaxPendingReliableMessages
		}
	}

	if overrides.Punch != nil {
		if overrides.Punch.RetryInterval != "" {
			c.Punch.RetryInterval = overrides.Punch.RetryInterval
		}
		if overrides.Punch.Timeout != "" {
			c.Punch.Timeout = overrides.Punch.Timeout
		}
		if len(overrides.Punch.STUNServers) > 0 {
			c.Punch.STUNServers = overrides.Punch.STUNServers
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.StateDir = expandVars(c.StateDir, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if _, err := time.ParseDuration(c.Socket.KeepAlivePeriod); err != nil {
		errs = append(errs, fmt.Errorf("socket.keepalive_period: %w", err))
	}
	if _, err := time.ParseDuration(c.Socket.ReceiveTimeoutPeriod); err != nil {
		errs = append(errs, fmt.Errorf("socket.receive_timeout_period: %w", err))
	}
	if _, err := time.ParseDuration(c.Socket.PacerMicrosPerByte); err != nil {
		errs = append(errs, fmt.Errorf("socket.pacer_micros_per_byte: %w", err))
	}
	if c.Socket.MaxPendingReliableMessages < 0 {
		errs = append(errs, fmt.Errorf("socket.max_pending_reliable_messages must be >= 0"))
	}

	if _, err := time.ParseDuration(c.Punch.RetryInterval); err != nil {
		errs = append(errs, fmt.Errorf("punch.retry_interval: %w", err))
	}
	if _, err := time.ParseDuration(c.Punch.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("punch.timeout: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Parsed converts the string duration fields of SocketConfig to
// time.Duration, falling back to [Default]'s values on a parse error
// (Validate should be called first to surface such errors to the
// operator).
func (s SocketConfig) Parsed() (keepAlive, receiveTimeout, pacer time.Duration) {
	keepAlive, err := time.ParseDuration(s.KeepAlivePeriod)
	if err != nil {
		keepAlive = 200 * time.Millisecond
	}
	receiveTimeout, err = time.ParseDuration(s.ReceiveTimeoutPeriod)
	if err != nil {
		receiveTimeout = 1000 * time.Millisecond
	}
	pacer, err = time.ParseDuration(s.PacerMicrosPerByte)
	if err != nil {
		pacer = 200 * time.Microsecond
	}
	return keepAlive, receiveTimeout, pacer
}

// EnsureStateDir creates StateDir if it doesn't exist.
func (c *Config) EnsureStateDir() error {
	if c.StateDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.StateDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.StateDir, err)
	}
	return nil
}
