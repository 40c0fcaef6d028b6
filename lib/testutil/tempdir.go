// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"
)

// ScratchDir creates a temporary directory suitable for holding a CnC
// file and term buffers during a test. The directory is removed when
// the test completes.
func ScratchDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("", "zephyr-test-*")
	if err != nil {
		t.Fatalf("creating scratch directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
