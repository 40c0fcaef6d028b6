// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package cncfile describes the byte layout of the command-and-control
// file a driver publishes and a client maps to discover it.
//
// The file has a fixed-length metadata header followed by five
// variable-length sub-regions whose lengths the header itself
// declares. Nothing in this package touches process memory outside a
// caller-supplied byte slice; it is a pure set of offset computations
// plus the one field (the version) that must be read with acquire
// semantics during the handshake.
package cncfile

import "fmt"

// Version is the CnC metadata version this client was built against.
// A mismatch between this constant and the value observed in a mapped
// file's metadata header is fatal.
const Version int32 = 14

// MetaDataLength is the fixed size, in bytes, of the metadata header
// at the start of the CnC file.
const MetaDataLength = 4096

// Offsets of fixed-size fields within the metadata header. All
// multi-byte fields are little-endian.
const (
	versionOffset                  = 0
	toDriverBufferLengthOffset     = 4
	toClientBufferLengthOffset     = 8
	countersMetadataLengthOffset   = 12
	countersValuesLengthOffset     = 16
	errorLogLengthOffset           = 20
	clientLivenessTimeoutOffset    = 24
	startTimestampOffset           = 32
	pidOffset                      = 40
	minimumMetadataHeaderFieldSize = 48
)

// Layout describes the absolute byte offsets of every sub-region
// inside a CnC file, derived from the lengths declared in its
// metadata header.
type Layout struct {
	ToDriverBufferOffset     int64
	ToDriverBufferLength     int32
	ToClientBufferOffset     int64
	ToClientBufferLength     int32
	CountersMetadataOffset   int64
	CountersMetadataLength   int32
	CountersValuesOffset     int64
	CountersValuesLength     int32
	ErrorLogOffset           int64
	ErrorLogLength           int32
	TotalLength              int64
}

// NewLayout computes a Layout from the lengths declared in a
// metadata header. It performs no I/O and does not validate the
// version field; callers check that separately since it may not have
// been published yet.
func NewLayout(m *Metadata) (Layout, error) {
	if MetaDataLength < minimumMetadataHeaderFieldSize {
		return Layout{}, fmt.Errorf("cncfile: metadata header too small")
	}

	toDriverLen := m.ToDriverBufferLength()
	toClientLen := m.ToClientBufferLength()
	countersMetaLen := m.CountersMetadataLength()
	countersValuesLen := m.CountersValuesLength()
	errorLogLen := m.ErrorLogLength()

	for name, length := range map[string]int32{
		"to-driver buffer length":   toDriverLen,
		"to-client buffer length":   toClientLen,
		"counters metadata length":  countersMetaLen,
		"counters values length":    countersValuesLen,
		"error log length":          errorLogLen,
	} {
		if length <= 0 {
			return Layout{}, fmt.Errorf("cncfile: %s is not positive: %d", name, length)
		}
	}

	toDriverOffset := int64(MetaDataLength)
	toClientOffset := toDriverOffset + int64(toDriverLen)
	countersMetaOffset := toClientOffset + int64(toClientLen)
	countersValuesOffset := countersMetaOffset + int64(countersMetaLen)
	errorLogOffset := countersValuesOffset + int64(countersValuesLen)
	total := errorLogOffset + int64(errorLogLen)

	return Layout{
		ToDriverBufferOffset:   toDriverOffset,
		ToDriverBufferLength:   toDriverLen,
		ToClientBufferOffset:   toClientOffset,
		ToClientBufferLength:   toClientLen,
		CountersMetadataOffset: countersMetaOffset,
		CountersMetadataLength: countersMetaLen,
		CountersValuesOffset:   countersValuesOffset,
		CountersValuesLength:   countersValuesLen,
		ErrorLogOffset:         errorLogOffset,
		ErrorLogLength:         errorLogLen,
		TotalLength:            total,
	}, nil
}
