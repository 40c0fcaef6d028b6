// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

package cncfile

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/zeebo/blake3"
)

// Metadata is a read-only view over the metadata header of a mapped
// CnC file. Every accessor reads directly from the backing slice; the
// version field is read with acquire semantics since the driver
// publishes it as the final step of its own initialization.
type Metadata struct {
	buf []byte
}

// NewMetadata wraps buf, which must be at least MetaDataLength bytes,
// as a Metadata view. buf is retained, not copied: writes the driver
// makes to the underlying mapping are visible through subsequent
// accessor calls.
func NewMetadata(buf []byte) (*Metadata, error) {
	if len(buf) < MetaDataLength {
		return nil, errTooShort(len(buf))
	}
	return &Metadata{buf: buf[:MetaDataLength]}, nil
}

func errTooShort(n int) error {
	return &shortBufferError{n}
}

type shortBufferError struct{ n int }

func (e *shortBufferError) Error() string {
	return "cncfile: metadata buffer shorter than MetaDataLength"
}

func (m *Metadata) int32At(offset int) int32 {
	return atomic.LoadInt32((*int32)(unsafe.Pointer(&m.buf[offset])))
}

func (m *Metadata) int64At(offset int) int64 {
	return atomic.LoadInt64((*int64)(unsafe.Pointer(&m.buf[offset])))
}

// Version reads the CnC version field with acquire semantics. A
// driver that has created but not yet initialized the file leaves
// this as zero.
func (m *Metadata) Version() int32 {
	return m.int32At(versionOffset)
}

// SetVersion publishes the version field. Used only by tests acting
// as a fake driver.
func (m *Metadata) SetVersion(v int32) {
	atomic.StoreInt32((*int32)(unsafe.Pointer(&m.buf[versionOffset])), v)
}

// ToDriverBufferLength returns the declared length of the to-driver
// command ring sub-region.
func (m *Metadata) ToDriverBufferLength() int32 { return m.int32At(toDriverBufferLengthOffset) }

// ToClientBufferLength returns the declared length of the to-client
// broadcast sub-region.
func (m *Metadata) ToClientBufferLength() int32 { return m.int32At(toClientBufferLengthOffset) }

// CountersMetadataLength returns the declared length of the counters
// metadata sub-region.
func (m *Metadata) CountersMetadataLength() int32 {
	return m.int32At(countersMetadataLengthOffset)
}

// CountersValuesLength returns the declared length of the counters
// values sub-region.
func (m *Metadata) CountersValuesLength() int32 { return m.int32At(countersValuesLengthOffset) }

// ErrorLogLength returns the declared length of the error log
// sub-region.
func (m *Metadata) ErrorLogLength() int32 { return m.int32At(errorLogLengthOffset) }

// ClientLivenessTimeoutNs returns the driver's declared
// client-liveness-timeout, in nanoseconds. A client that does not
// explicitly configure an inter-service timeout uses this value.
func (m *Metadata) ClientLivenessTimeoutNs() int64 {
	return m.int64At(clientLivenessTimeoutOffset)
}

// StartTimestampMs returns the epoch-millisecond timestamp the driver
// recorded when it started.
func (m *Metadata) StartTimestampMs() int64 { return m.int64At(startTimestampOffset) }

// Pid returns the driver process's PID as recorded in the header.
func (m *Metadata) Pid() int64 { return m.int64At(pidOffset) }

// Fingerprint returns a BLAKE3 digest of the fields that identify a
// particular driver incarnation: version, the five region lengths,
// the liveness timeout, the start timestamp, and the PID. Two
// fingerprints match only if a client reconnected to the exact same
// running driver process, so operators can compare the hex digest
// logged by two client processes instead of diffing raw offsets.
func (m *Metadata) Fingerprint() string {
	var buf [48]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.Version()))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.ToDriverBufferLength()))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(m.ToClientBufferLength()))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(m.CountersMetadataLength()))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(m.CountersValuesLength()))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(m.ErrorLogLength()))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(m.ClientLivenessTimeoutNs()))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(m.StartTimestampMs()))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(m.Pid()))

	sum := blake3.Sum256(buf[:48])
	return fingerprintHex(sum[:])
}

func fingerprintHex(sum []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}

// WriteDefaults populates the five region lengths and the client
// liveness timeout; it leaves the version, start timestamp and PID
// untouched. Used by tests and by
// fake-driver helpers; production code never writes a CnC file, only
// reads one a real driver produced.
func (m *Metadata) WriteDefaults(toDriverLen, toClientLen, countersMetaLen, countersValuesLen, errorLogLen int32, livenessTimeoutNs int64) {
	putInt32 := func(offset int, v int32) {
		atomic.StoreInt32((*int32)(unsafe.Pointer(&m.buf[offset])), v)
	}
	putInt64 := func(offset int, v int64) {
		atomic.StoreInt64((*int64)(unsafe.Pointer(&m.buf[offset])), v)
	}

	putInt32(toDriverBufferLengthOffset, toDriverLen)
	putInt32(toClientBufferLengthOffset, toClientLen)
	putInt32(countersMetadataLengthOffset, countersMetaLen)
	putInt32(countersValuesLengthOffset, countersValuesLen)
	putInt32(errorLogLengthOffset, errorLogLen)
	putInt64(clientLivenessTimeoutOffset, livenessTimeoutNs)
}
