// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for this module's
// packages.
//
// [ScratchDir] creates a temporary directory in which a test can build
// a fake CnC file and term buffers, removed automatically when the
// test completes.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls. Some tests still use
// time.After or wall-clock deadlines directly.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no dependencies on other packages in this module.
package testutil
