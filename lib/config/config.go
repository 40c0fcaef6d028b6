// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for processes that embed
// this client.
//
// Configuration is loaded from a single file specified by:
//   - ZEPHYR_CONFIG environment variable, or
//   - an explicit path passed to LoadFile
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
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

// Config is the master configuration for a client process.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations, including the CnC file.
	Paths PathsConfig `yaml:"paths"`

	// Driver configures the timeouts this client applies to its
	// handshake and liveness checks against the driver process.
	Driver DriverConfig `yaml:"driver"`

	// Client configures the conductor's own duty cycle.
	Client ClientConfig `yaml:"client"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
	Driver *DriverConfig `yaml:"driver,omitempty"`
	Client *ClientConfig `yaml:"client,omitempty"`
}

// PathsConfig configures directory and file locations.
type PathsConfig struct {
	// AeronDir is the directory the driver publishes its CnC file and
	// term buffers into. Default: ${TMPDIR}/aeron-${USER}.
	AeronDir string `yaml:"aeron_dir"`

	// CncFile is the full path to the command-and-control file.
	// Default: cnc.dat inside the default AeronDir. It is not
	// re-derived when a file sets aeron_dir; write
	// ${AERON_DIR}/cnc.dat to follow the configured AeronDir.
	CncFile string `yaml:"cnc_file"`
}

// DriverConfig configures the client's expectations of the driver process
// it connects to.
type DriverConfig struct {
	// DriverTimeout bounds how long the client waits for the CnC file
	// to appear and for its heartbeat to become fresh during the
	// initial handshake. Default: 10s.
	DriverTimeout string `yaml:"driver_timeout"`

	// ClientLivenessTimeout bounds how long the conductor may go
	// between successful duty cycles before it considers itself
	// disconnected from the driver. Default: 10s.
	ClientLivenessTimeout string `yaml:"client_liveness_timeout"`

	// PublicationConnectionTimeout bounds how long a publication waits
	// to find a matching subscriber before being reported as
	// disconnected. Default: 5s.
	PublicationConnectionTimeout string `yaml:"publication_connection_timeout"`
}

// ClientConfig configures the conductor's own behavior.
type ClientConfig struct {
	// KeepaliveInterval is how often the conductor writes a keepalive
	// command onto the to-driver ring buffer. Default: 500ms.
	KeepaliveInterval string `yaml:"keepalive_interval"`

	// ResourceLingerDuration is how long a released publication or
	// subscription's resources remain mapped before being reclaimed.
	// Default: 3s.
	ResourceLingerDuration string `yaml:"resource_linger_duration"`

	// IdleStrategy selects the backoff policy for an embedded
	// [agent.Runner]'s duty cycle. One of: sleeping, backoff, busy-spin,
	// noop. Default: backoff.
	IdleStrategy string `yaml:"idle_strategy"`

	// PreTouchMappedMemory controls whether newly mapped term buffers
	// are touched page-by-page at creation so first use does not pay a
	// page-fault cost. Default: false.
	PreTouchMappedMemory bool `yaml:"pre_touch_mapped_memory"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	aeronDir := filepath.Join(os.TempDir(), "aeron-"+currentUser())

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			AeronDir: aeronDir,
			CncFile:  filepath.Join(aeronDir, "cnc.dat"),
		},
		Driver: DriverConfig{
			DriverTimeout:                "10s",
			ClientLivenessTimeout:        "10s",
			PublicationConnectionTimeout: "5s",
		},
		Client: ClientConfig{
			KeepaliveInterval:      "500ms",
			ResourceLingerDuration: "3s",
			IdleStrategy:           "backoff",
			PreTouchMappedMemory:   false,
		},
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default"
}

// Load loads configuration from the ZEPHYR_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if ZEPHYR_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("ZEPHYR_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("ZEPHYR_CONFIG environment variable not set; " +
			"set it to the path of your zephyr.yaml config file")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
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
		// Production defaults, used only when the file has no
		// production section: term buffers are pre-touched to avoid a
		// page fault on the hot path. No timeout is changed.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Client: &ClientConfig{
					PreTouchMappedMemory: true,
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.AeronDir != "" {
			c.Paths.AeronDir = overrides.Paths.AeronDir
		}
		if overrides.Paths.CncFile != "" {
			c.Paths.CncFile = overrides.Paths.CncFile
		}
	}

	if overrides.Driver != nil {
		if overrides.Driver.DriverTimeout != "" {
			c.Driver.DriverTimeout = overrides.Driver.DriverTimeout
		}
		if overrides.Driver.ClientLivenessTimeout != "" {
			c.Driver.ClientLivenessTimeout = overrides.Driver.ClientLivenessTimeout
		}
		if overrides.Driver.PublicationConnectionTimeout != "" {
			c.Driver.PublicationConnectionTimeout = overrides.Driver.PublicationConnectionTimeout
		}
	}

	if overrides.Client != nil {
		if overrides.Client.KeepaliveInterval != "" {
			c.Client.KeepaliveInterval = overrides.Client.KeepaliveInterval
		}
		if overrides.Client.ResourceLingerDuration != "" {
			c.Client.ResourceLingerDuration = overrides.Client.ResourceLingerDuration
		}
		if overrides.Client.IdleStrategy != "" {
			c.Client.IdleStrategy = overrides.Client.IdleStrategy
		}
		// PreTouchMappedMemory is a bool, so we always apply it from overrides.
		c.Client.PreTouchMappedMemory = overrides.Client.PreTouchMappedMemory
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"AERON_DIR": c.Paths.AeronDir,
		"HOME":      os.Getenv("HOME"),
	}

	c.Paths.AeronDir = expandVars(c.Paths.AeronDir, vars)
	vars["AERON_DIR"] = c.Paths.AeronDir // Update for dependent paths.

	c.Paths.CncFile = expandVars(c.Paths.CncFile, vars)
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

	if c.Paths.AeronDir == "" {
		errs = append(errs, fmt.Errorf("paths.aeron_dir is required"))
	}

	if c.Paths.CncFile == "" {
		errs = append(errs, fmt.Errorf("paths.cnc_file is required"))
	}

	if _, err := time.ParseDuration(c.Driver.DriverTimeout); err != nil {
		errs = append(errs, fmt.Errorf("driver.driver_timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Driver.ClientLivenessTimeout); err != nil {
		errs = append(errs, fmt.Errorf("driver.client_liveness_timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Driver.PublicationConnectionTimeout); err != nil {
		errs = append(errs, fmt.Errorf("driver.publication_connection_timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Client.KeepaliveInterval); err != nil {
		errs = append(errs, fmt.Errorf("client.keepalive_interval: %w", err))
	}
	if _, err := time.ParseDuration(c.Client.ResourceLingerDuration); err != nil {
		errs = append(errs, fmt.Errorf("client.resource_linger_duration: %w", err))
	}

	idleStrategies := []string{"sleeping", "backoff", "busy-spin", "noop"}
	if !contains(idleStrategies, c.Client.IdleStrategy) {
		errs = append(errs, fmt.Errorf("client.idle_strategy must be one of: %v", idleStrategies))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the directories this configuration depends on, if
// they don't already exist.
func (c *Config) EnsurePaths() error {
	if c.Paths.AeronDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Paths.AeronDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.AeronDir, err)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
