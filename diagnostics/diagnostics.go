// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package diagnostics exports a point-in-time snapshot of a client's
// CnC metadata and counters to a single compressed, deterministic
// artifact an operator can attach to a bug report instead of a raw
// memory dump.
package diagnostics

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/flate"

	"github.com/zephyrmq/zephyr-go/counters"
	"github.com/zephyrmq/zephyr-go/internal/cncfile"
	"github.com/zephyrmq/zephyr-go/lib/codec"
)

// CounterSnapshot is one allocated counter's state at export time.
type CounterSnapshot struct {
	CounterID int32  `cbor:"counter_id"`
	TypeID    int32  `cbor:"type_id"`
	Label     string `cbor:"label"`
	Value     int64  `cbor:"value"`
}

// MetadataSnapshot mirrors the fields of a bound CnC metadata header.
type MetadataSnapshot struct {
	Version                 int32  `cbor:"version"`
	Fingerprint             string `cbor:"fingerprint"`
	ToDriverBufferLength    int32  `cbor:"to_driver_buffer_length"`
	ToClientBufferLength    int32  `cbor:"to_client_buffer_length"`
	CountersMetadataLength  int32  `cbor:"counters_metadata_length"`
	CountersValuesLength    int32  `cbor:"counters_values_length"`
	ErrorLogLength          int32  `cbor:"error_log_length"`
	ClientLivenessTimeoutNs int64  `cbor:"client_liveness_timeout_ns"`
	StartTimestampMs        int64  `cbor:"start_timestamp_ms"`
	Pid                     int64  `cbor:"pid"`
}

// Snapshot is the full exported record: metadata plus every currently
// allocated counter, in counter id order.
type Snapshot struct {
	Metadata MetadataSnapshot  `cbor:"metadata"`
	Counters []CounterSnapshot `cbor:"counters"`
}

// Build walks meta and every allocated counter in reader into a
// Snapshot. Unallocated counter slots are omitted.
func Build(meta *cncfile.Metadata, reader *counters.Reader) Snapshot {
	snap := Snapshot{
		Metadata: MetadataSnapshot{
			Version:                 meta.Version(),
			Fingerprint:             meta.Fingerprint(),
			ToDriverBufferLength:    meta.ToDriverBufferLength(),
			ToClientBufferLength:    meta.ToClientBufferLength(),
			CountersMetadataLength:  meta.CountersMetadataLength(),
			CountersValuesLength:    meta.CountersValuesLength(),
			ErrorLogLength:          meta.ErrorLogLength(),
			ClientLivenessTimeoutNs: meta.ClientLivenessTimeoutNs(),
			StartTimestampMs:        meta.StartTimestampMs(),
			Pid:                     meta.Pid(),
		},
	}

	maxID := reader.MaxCounterID()
	for id := int32(0); id <= maxID; id++ {
		if !reader.IsAllocated(id) {
			continue
		}
		snap.Counters = append(snap.Counters, CounterSnapshot{
			CounterID: id,
			TypeID:    reader.TypeID(id),
			Label:     reader.Label(id),
			Value:     reader.Value(id),
		})
	}

	return snap
}

// Export encodes snap as Core Deterministic CBOR and writes it to w
// through a DEFLATE compressor at the best-compression level. Two
// calls with equal snapshots produce byte-identical output: the CBOR
// encoding is deterministic and flate.BestCompression is a pure
// function of its input.
func Export(w io.Writer, snap Snapshot) error {
	payload, err := codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("diagnostics: encoding snapshot: %w", err)
	}

	fw, err := flate.NewWriter(w, flate.BestCompression)
	if err != nil {
		return fmt.Errorf("diagnostics: creating compressor: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		fw.Close()
		return fmt.Errorf("diagnostics: writing snapshot: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("diagnostics: flushing snapshot: %w", err)
	}
	return nil
}

// WriteFile exports snap to a new file at path, created with mode
// 0o644. It truncates any existing file at path.
func WriteFile(path string, snap Snapshot) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("diagnostics: opening %s: %w", path, err)
	}
	defer f.Close()

	return Export(f, snap)
}

// Decode reverses Export, returning the snapshot that was written to
// r. Used by operator tooling and by this package's own tests.
func Decode(r io.Reader) (Snapshot, error) {
	fr := flate.NewReader(r)
	defer fr.Close()

	payload, err := io.ReadAll(fr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("diagnostics: inflating snapshot: %w", err)
	}

	var snap Snapshot
	if err := codec.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("diagnostics: decoding snapshot: %w", err)
	}
	return snap, nil
}
