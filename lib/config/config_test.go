// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}

	if cfg.Client.IdleStrategy != "backoff" {
		t.Errorf("expected idle_strategy=backoff, got %s", cfg.Client.IdleStrategy)
	}

	if cfg.Driver.DriverTimeout != "10s" {
		t.Errorf("expected driver_timeout=10s, got %s", cfg.Driver.DriverTimeout)
	}

	if cfg.Client.PreTouchMappedMemory {
		t.Error("expected pre_touch_mapped_memory=false for development")
	}
}

func TestLoad_RequiresZephyrConfig(t *testing.T) {
	// Save and restore ZEPHYR_CONFIG.
	origConfig := os.Getenv("ZEPHYR_CONFIG")
	defer os.Setenv("ZEPHYR_CONFIG", origConfig)

	// Unset ZEPHYR_CONFIG - Load() should fail.
	os.Unsetenv("ZEPHYR_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ZEPHYR_CONFIG not set, got nil")
	}

	expectedMsg := "ZEPHYR_CONFIG environment variable not set"
	if err.Error()[:len(expectedMsg)] != expectedMsg {
		t.Errorf("expected error message to start with %q, got %q", expectedMsg, err.Error())
	}
}

func TestLoad_WithZephyrConfig(t *testing.T) {
	// Save and restore ZEPHYR_CONFIG.
	origConfig := os.Getenv("ZEPHYR_CONFIG")
	defer os.Setenv("ZEPHYR_CONFIG", origConfig)

	// Create temp config file.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "zephyr.yaml")

	configContent := `
environment: staging
paths:
  aeron_dir: /test/aeron
driver:
  driver_timeout: 20s
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	// Set ZEPHYR_CONFIG and load.
	os.Setenv("ZEPHYR_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}

	if cfg.Paths.AeronDir != "/test/aeron" {
		t.Errorf("expected aeron_dir=/test/aeron, got %s", cfg.Paths.AeronDir)
	}
}

func TestLoadFile(t *testing.T) {
	// Create temp config file.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "zephyr.yaml")

	configContent := `
environment: staging

paths:
  aeron_dir: /custom/aeron
  cnc_file: /custom/aeron/cnc.dat

driver:
  driver_timeout: 15s
  client_liveness_timeout: 12s

client:
  idle_strategy: sleeping
  keepalive_interval: 250ms
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}

	if cfg.Paths.AeronDir != "/custom/aeron" {
		t.Errorf("expected aeron_dir=/custom/aeron, got %s", cfg.Paths.AeronDir)
	}

	if cfg.Driver.DriverTimeout != "15s" {
		t.Errorf("expected driver_timeout=15s, got %s", cfg.Driver.DriverTimeout)
	}

	if cfg.Client.IdleStrategy != "sleeping" {
		t.Errorf("expected idle_strategy=sleeping, got %s", cfg.Client.IdleStrategy)
	}

	if cfg.Client.KeepaliveInterval != "250ms" {
		t.Errorf("expected keepalive_interval=250ms, got %s", cfg.Client.KeepaliveInterval)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "zephyr.yaml")

	configContent := `
environment: production

paths:
  aeron_dir: /default/aeron

client:
  idle_strategy: backoff
  pre_touch_mapped_memory: false

production:
  paths:
    aeron_dir: /prod/aeron
  client:
    pre_touch_mapped_memory: true
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	// Production overrides should be applied.
	if cfg.Paths.AeronDir != "/prod/aeron" {
		t.Errorf("expected aeron_dir=/prod/aeron, got %s", cfg.Paths.AeronDir)
	}

	if !cfg.Client.PreTouchMappedMemory {
		t.Error("expected pre_touch_mapped_memory=true from production override")
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	// Verify that environment variables do NOT override config file values.
	// The config file is the single source of truth for deterministic configuration.

	// Save and restore env vars.
	origDir := os.Getenv("AERON_DIR")
	origEnv := os.Getenv("ZEPHYR_ENVIRONMENT")
	defer func() {
		os.Setenv("AERON_DIR", origDir)
		os.Setenv("ZEPHYR_ENVIRONMENT", origEnv)
	}()

	// Set env vars that should be ignored.
	os.Setenv("AERON_DIR", "/env/aeron")
	os.Setenv("ZEPHYR_ENVIRONMENT", "staging")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "zephyr.yaml")

	configContent := `
environment: development
paths:
  aeron_dir: /file/aeron
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	// File values should be used, NOT env vars.
	if cfg.Environment != Development {
		t.Errorf("expected environment=development from file, got %s (env vars should not override)", cfg.Environment)
	}

	if cfg.Paths.AeronDir != "/file/aeron" {
		t.Errorf("expected aeron_dir=/file/aeron from file, got %s (env vars should not override)", cfg.Paths.AeronDir)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/aeron",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/aeron",
		},
		{
			input:    "${MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid environment",
			modify: func(c *Config) {
				c.Environment = "invalid"
			},
			wantErr: true,
		},
		{
			name: "empty aeron dir",
			modify: func(c *Config) {
				c.Paths.AeronDir = ""
			},
			wantErr: true,
		},
		{
			name: "empty cnc file",
			modify: func(c *Config) {
				c.Paths.CncFile = ""
			},
			wantErr: true,
		},
		{
			name: "invalid driver timeout",
			modify: func(c *Config) {
				c.Driver.DriverTimeout = "not-a-duration"
			},
			wantErr: true,
		},
		{
			name: "invalid idle strategy",
			modify: func(c *Config) {
				c.Client.IdleStrategy = "invalid"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsurePaths(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := Default()
	cfg.Paths.AeronDir = filepath.Join(tmpDir, "aeron")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}

	info, err := os.Stat(cfg.Paths.AeronDir)
	if err != nil {
		t.Errorf("path %s not created: %v", cfg.Paths.AeronDir, err)
		return
	}
	if !info.IsDir() {
		t.Errorf("path %s is not a directory", cfg.Paths.AeronDir)
	}
}
