// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

package diagnostics

import (
	"bytes"
	"testing"

	"github.com/zephyrmq/zephyr-go/counters"
	"github.com/zephyrmq/zephyr-go/internal/cncfile"
)

func newTestMetadata(t *testing.T) *cncfile.Metadata {
	t.Helper()
	buf := make([]byte, cncfile.MetaDataLength)
	meta, err := cncfile.NewMetadata(buf)
	if err != nil {
		t.Fatalf("NewMetadata: %v", err)
	}
	meta.WriteDefaults(8192, 8192, 4096, 4096, 1024, int64(10_000_000_000))
	meta.SetVersion(cncfile.Version)
	return meta
}

func newTestCounters(t *testing.T) *counters.Reader {
	t.Helper()
	metadata := make([]byte, 4*counters.MetadataStride)
	values := make([]byte, 4*counters.ValueStride)
	reader := counters.NewReader(metadata, values)
	reader.Allocate(0, 1, "publisher-limit")
	reader.Allocate(2, 2, "subscriber-position")
	reader.AddValue(0, 100)
	reader.AddValue(2, 55)
	return reader
}

func TestBuildIncludesOnlyAllocatedCounters(t *testing.T) {
	snap := Build(newTestMetadata(t), newTestCounters(t))

	if len(snap.Counters) != 2 {
		t.Fatalf("len(Counters) = %d, want 2", len(snap.Counters))
	}
	if snap.Counters[0].CounterID != 0 || snap.Counters[0].Value != 100 {
		t.Errorf("counter 0 = %+v", snap.Counters[0])
	}
	if snap.Counters[1].CounterID != 2 || snap.Counters[1].Value != 55 {
		t.Errorf("counter 1 = %+v", snap.Counters[1])
	}
}

func TestExportDecodeRoundtrip(t *testing.T) {
	snap := Build(newTestMetadata(t), newTestCounters(t))

	var buf bytes.Buffer
	if err := Export(&buf, snap); err != nil {
		t.Fatalf("Export: %v", err)
	}

	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Metadata.Version != snap.Metadata.Version {
		t.Errorf("Version = %d, want %d", decoded.Metadata.Version, snap.Metadata.Version)
	}
	if decoded.Metadata.Fingerprint != snap.Metadata.Fingerprint {
		t.Errorf("Fingerprint mismatch")
	}
	if len(decoded.Counters) != len(snap.Counters) {
		t.Fatalf("len(Counters) = %d, want %d", len(decoded.Counters), len(snap.Counters))
	}
}

func TestExportIsDeterministic(t *testing.T) {
	snap := Build(newTestMetadata(t), newTestCounters(t))

	var first, second bytes.Buffer
	if err := Export(&first, snap); err != nil {
		t.Fatalf("first Export: %v", err)
	}
	if err := Export(&second, snap); err != nil {
		t.Fatalf("second Export: %v", err)
	}

	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Errorf("snapshot export is not deterministic: %x != %x", first.Bytes(), second.Bytes())
	}
}

func TestFingerprintDiffersOnDifferentIncarnations(t *testing.T) {
	a := newTestMetadata(t)

	bufB := make([]byte, cncfile.MetaDataLength)
	b, err := cncfile.NewMetadata(bufB)
	if err != nil {
		t.Fatalf("NewMetadata: %v", err)
	}
	// A different to-driver buffer length stands in for a driver
	// started with different configuration, the way two incarnations
	// of the same driver binary could still diverge.
	b.WriteDefaults(16384, 8192, 4096, 4096, 1024, int64(10_000_000_000))
	b.SetVersion(cncfile.Version)

	if a.Fingerprint() == b.Fingerprint() {
		t.Error("expected fingerprints to differ for different region sizing")
	}
}
