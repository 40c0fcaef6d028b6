// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for processes that
// embed this client.
//
// Configuration is loaded from a single file specified by either the
// ZEPHYR_CONFIG environment variable (via [Load]) or an explicit path
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery, and
// no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. A production file with no production
// section gets one built-in override: term buffers are pre-touched at
// creation rather than faulted in lazily.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${AERON_DIR}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Driver, Client sections
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other packages in this module.
package config
