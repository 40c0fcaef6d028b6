// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package counters reads the counters metadata and values sub-regions
// of a mapped CnC file.
//
// Counter reads never go through the conductor: an application thread
// calling [Reader.Value] talks directly to the shared memory, the
// same way the driver itself updates counters without any client
// involvement. Metadata records are fixed-stride; values are one
// cache-line-aligned 64-bit slot per counter to avoid false sharing
// between counters different threads update concurrently.
package counters

import (
	"sync/atomic"
	"unsafe"
)

const (
	// MetadataStride is the fixed size, in bytes, of one counter's
	// metadata record.
	MetadataStride = 512

	// ValueStride is the fixed size, in bytes, of one counter's value
	// slot. Only the first 8 bytes hold the value; the remainder
	// exists purely to keep each counter on its own cache line.
	ValueStride = 64

	// LabelMaxLength is the maximum number of US-ASCII bytes a
	// counter label may occupy within its metadata record.
	LabelMaxLength = MetadataStride - labelLengthFieldSize - stateFieldSize - typeIDFieldSize

	stateFieldSize       = 4
	typeIDFieldSize      = 4
	labelLengthFieldSize = 4
)

// State values for a counter metadata record.
const (
	StateUnused int32 = 0
	StateAllocated int32 = 1
)

// Reader wraps the counters metadata and values sub-regions of a
// mapped CnC file.
type Reader struct {
	metadata []byte
	values   []byte
}

// NewReader wraps metadata and values as a counters reader. Both
// slices alias shared memory; values this client's own process or the
// driver writes become visible on the next call.
func NewReader(metadata, values []byte) *Reader {
	return &Reader{metadata: metadata, values: values}
}

// MaxCounterID returns the highest counter id the values buffer could
// hold, based on its length.
func (r *Reader) MaxCounterID() int32 {
	return int32(len(r.values)/ValueStride) - 1
}

func (r *Reader) metadataOffset(counterID int32) int {
	return int(counterID) * MetadataStride
}

func (r *Reader) valueOffset(counterID int32) int {
	return int(counterID) * ValueStride
}

// State returns the allocation state of counterID.
func (r *Reader) State(counterID int32) int32 {
	offset := r.metadataOffset(counterID)
	return atomic.LoadInt32((*int32)(unsafe.Pointer(&r.metadata[offset])))
}

// IsAllocated reports whether counterID currently refers to a live
// counter.
func (r *Reader) IsAllocated(counterID int32) bool {
	return r.State(counterID) == StateAllocated
}

// TypeID returns the counter-type identifier recorded for counterID.
// Its meaning is defined by whatever registered the counter; this
// package only stores and retrieves it.
func (r *Reader) TypeID(counterID int32) int32 {
	offset := r.metadataOffset(counterID) + stateFieldSize
	return atomic.LoadInt32((*int32)(unsafe.Pointer(&r.metadata[offset])))
}

// Label returns the US-ASCII label recorded for counterID.
func (r *Reader) Label(counterID int32) string {
	offset := r.metadataOffset(counterID) + stateFieldSize + typeIDFieldSize
	length := atomic.LoadInt32((*int32)(unsafe.Pointer(&r.metadata[offset])))
	if length <= 0 || int(length) > LabelMaxLength {
		return ""
	}
	labelOffset := offset + labelLengthFieldSize
	return string(r.metadata[labelOffset : labelOffset+int(length)])
}

// Value returns the current value of counterID.
func (r *Reader) Value(counterID int32) int64 {
	offset := r.valueOffset(counterID)
	return atomic.LoadInt64((*int64)(unsafe.Pointer(&r.values[offset])))
}

// AddValue atomically adds delta to counterID's value and returns the
// new value.
func (r *Reader) AddValue(counterID int32, delta int64) int64 {
	offset := r.valueOffset(counterID)
	return atomic.AddInt64((*int64)(unsafe.Pointer(&r.values[offset])), delta)
}

// Allocate marks counterID as allocated with the given type id and
// label, and zeroes its value. Production code never calls this — a
// client only observes counters the driver allocates — but tests use
// it to populate a fake driver's counters region.
func (r *Reader) Allocate(counterID, typeID int32, label string) {
	if len(label) > LabelMaxLength {
		label = label[:LabelMaxLength]
	}

	offset := r.metadataOffset(counterID)
	atomic.StoreInt32((*int32)(unsafe.Pointer(&r.metadata[offset+stateFieldSize])), typeID)

	labelLengthOffset := offset + stateFieldSize + typeIDFieldSize
	labelOffset := labelLengthOffset + labelLengthFieldSize
	copy(r.metadata[labelOffset:labelOffset+len(label)], label)
	atomic.StoreInt32((*int32)(unsafe.Pointer(&r.metadata[labelLengthOffset])), int32(len(label)))

	atomic.StoreInt64((*int64)(unsafe.Pointer(&r.values[r.valueOffset(counterID)])), 0)

	// Publish last, with release semantics, so a concurrent reader
	// never observes StateAllocated before type/label are visible.
	atomic.StoreInt32((*int32)(unsafe.Pointer(&r.metadata[offset])), StateAllocated)
}
