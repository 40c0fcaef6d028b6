// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package ringbuffer implements a lock-free many-producer/one-consumer
// ring buffer over a caller-supplied byte slice, typically a region of
// memory mapped from the CnC file.
//
// Producers and the consumer never take a Go mutex: all coordination
// is through atomic loads and stores on trailer fields living at the
// end of the buffer, because the consumer (the driver) is a separate
// process that cannot observe a Go lock. Within this process, many
// goroutines may call TryClaim concurrently; the head/tail CAS loop
// makes that safe without serializing them through a client-side lock.
//
// Each record is a little-endian header followed by its payload:
//
//	offset+0: length int32 -- 0 while empty, negative while a producer
//	          is still writing the payload, positive once committed
//	offset+4: msgTypeID int32
//	offset+8: payload, length-8 bytes (length counts the header too)
//
// The length field doubles as the record's publication sentinel: a
// consumer only processes a slot once it observes a positive length,
// which the producer stores last, with release semantics.
package ringbuffer

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	lengthFieldLength = 4
	typeFieldLength   = 4
	headerLength      = lengthFieldLength + typeFieldLength
	alignment         = 8

	// paddingMsgTypeID marks a record the consumer must skip without
	// dispatching, written when a record would otherwise wrap past
	// the end of the buffer.
	paddingMsgTypeID = -1
)

// Trailer field offsets, each padded to its own cache line so
// producers incrementing the tail and the consumer advancing the head
// never share a cache line.
const (
	tailPositionOffset          = 0
	headCachePositionOffset     = 64
	headPositionOffset          = 128
	correlationCounterOffset    = 192
	consumerHeartbeatTimeOffset = 256

	// TrailerLength is the fixed size of the trailer region a ring
	// buffer expects at the end of its backing slice.
	TrailerLength = 320
)

var (
	// ErrInsufficientCapacity is returned by TryClaim when there is
	// not enough free space on the ring right now. Callers should
	// retry on a later duty cycle rather than block.
	ErrInsufficientCapacity = errors.New("ringbuffer: insufficient capacity")

	// ErrMessageTooLarge is returned by TryClaim when length exceeds
	// what the ring could ever hold, even empty.
	ErrMessageTooLarge = errors.New("ringbuffer: message exceeds ring capacity")
)

// ManyToOneRingBuffer is a many-producer/one-consumer ring living
// inside a shared, externally mapped byte slice.
type ManyToOneRingBuffer struct {
	buffer   []byte
	capacity int32
	mask     int32

	tailAddr        *int64
	headCacheAddr   *int64
	headAddr        *int64
	correlationAddr *int64
	heartbeatAddr   *int64
}

// New wraps buf as a ring buffer. len(buf) must equal a power-of-two
// capacity plus TrailerLength.
func New(buf []byte) (*ManyToOneRingBuffer, error) {
	capacity := int32(len(buf)) - TrailerLength
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ringbuffer: capacity %d must be a positive power of two", capacity)
	}

	trailer := buf[capacity:]
	return &ManyToOneRingBuffer{
		buffer:          buf,
		capacity:        capacity,
		mask:            capacity - 1,
		tailAddr:        (*int64)(unsafe.Pointer(&trailer[tailPositionOffset])),
		headCacheAddr:   (*int64)(unsafe.Pointer(&trailer[headCachePositionOffset])),
		headAddr:        (*int64)(unsafe.Pointer(&trailer[headPositionOffset])),
		correlationAddr: (*int64)(unsafe.Pointer(&trailer[correlationCounterOffset])),
		heartbeatAddr:   (*int64)(unsafe.Pointer(&trailer[consumerHeartbeatTimeOffset])),
	}, nil
}

// Capacity returns the usable message capacity of the ring, excluding
// the trailer.
func (r *ManyToOneRingBuffer) Capacity() int32 { return r.capacity }

// ReadConsumerHeartbeatTime reads the consumer heartbeat timestamp
// directly from the trailer of a to-driver buffer, without
// constructing a full ring. The connector uses this during the
// handshake, before it knows whether the declared capacity is even a
// valid power of two, to judge whether the driver on the other end is
// still alive.
func ReadConsumerHeartbeatTime(buf []byte) (int64, error) {
	if len(buf) < TrailerLength {
		return 0, fmt.Errorf("ringbuffer: buffer shorter than trailer")
	}
	trailer := buf[len(buf)-TrailerLength:]
	return atomic.LoadInt64((*int64)(unsafe.Pointer(&trailer[consumerHeartbeatTimeOffset]))), nil
}

func alignedLength(n int32) int32 {
	return (n + alignment - 1) &^ (alignment - 1)
}

// NextCorrelationID atomically allocates and returns the next
// correlation id from the ring's shared counter. The same counter
// also mints the facade's client id at construction, so client ids
// and correlation ids are drawn from one monotonically increasing
// sequence, as the driver expects.
func (r *ManyToOneRingBuffer) NextCorrelationID() int64 {
	return atomic.AddInt64(r.correlationAddr, 1)
}

// ConsumerHeartbeatTime returns the last heartbeat timestamp the
// consumer (driver) published, in epoch milliseconds.
func (r *ManyToOneRingBuffer) ConsumerHeartbeatTime() int64 {
	return atomic.LoadInt64(r.heartbeatAddr)
}

// SetConsumerHeartbeatTime publishes a heartbeat timestamp. Production
// code never calls this — only the driver, which this package does
// not implement; tests use it to stand in for a fake driver.
func (r *ManyToOneRingBuffer) SetConsumerHeartbeatTime(epochMs int64) {
	atomic.StoreInt64(r.heartbeatAddr, epochMs)
}

func int32At(buf []byte, offset int32) int32 {
	return atomic.LoadInt32((*int32)(unsafe.Pointer(&buf[offset])))
}

func putInt32At(buf []byte, offset, v int32) {
	atomic.StoreInt32((*int32)(unsafe.Pointer(&buf[offset])), v)
}

// TryClaim reserves space for a record of the given payload length
// and message type, returning the buffer offset at which the caller
// must write exactly length bytes of payload before calling Commit.
// It never blocks: if the ring is currently full it returns
// ErrInsufficientCapacity so the caller can retry on its next duty
// cycle.
func (r *ManyToOneRingBuffer) TryClaim(msgTypeID int32, length int32) (int32, error) {
	if length < 0 {
		return 0, fmt.Errorf("ringbuffer: negative length %d", length)
	}
	required := alignedLength(headerLength + length)
	if required > r.capacity {
		return 0, ErrMessageTooLarge
	}

	for {
		head := atomic.LoadInt64(r.headCacheAddr)
		tail := atomic.LoadInt64(r.tailAddr)
		available := int64(r.capacity) - (tail - head)

		if int64(required) > available {
			// Refresh the cached head from the authoritative
			// consumer-owned field before giving up.
			head = atomic.LoadInt64(r.headAddr)
			atomic.StoreInt64(r.headCacheAddr, head)
			available = int64(r.capacity) - (tail - head)
			if int64(required) > available {
				return 0, ErrInsufficientCapacity
			}
		}

		index := int32(tail & int64(r.mask))
		toEndOfBuffer := r.capacity - index

		if required > toEndOfBuffer {
			// The record would wrap; claim through to the end of the
			// buffer as padding so the payload is never split across
			// the wrap, then retry the claim at offset 0.
			if !atomic.CompareAndSwapInt64(r.tailAddr, tail, tail+int64(toEndOfBuffer)) {
				continue
			}
			putInt32At(r.buffer, index+lengthFieldLength, paddingMsgTypeID)
			atomic.StoreInt32((*int32)(unsafe.Pointer(&r.buffer[index])), toEndOfBuffer)
			continue
		}

		if !atomic.CompareAndSwapInt64(r.tailAddr, tail, tail+int64(required)) {
			continue
		}

		putInt32At(r.buffer, index+lengthFieldLength, msgTypeID)
		atomic.StoreInt32((*int32)(unsafe.Pointer(&r.buffer[index])), -(headerLength + length))
		return index + headerLength, nil
	}
}

// ClaimedSpan returns the length bytes of backing buffer a caller
// claimed via TryClaim, for it to fill in before calling Commit. The
// returned slice aliases the ring's shared memory.
func (r *ManyToOneRingBuffer) ClaimedSpan(index, length int32) []byte {
	return r.buffer[index : index+length]
}

// Commit makes a previously claimed record visible to the consumer by
// flipping its length field positive with release semantics.
func (r *ManyToOneRingBuffer) Commit(index int32) error {
	headerOffset := index - headerLength
	length := int32At(r.buffer, headerOffset)
	if length >= 0 {
		return fmt.Errorf("ringbuffer: index %d was not claimed", index)
	}
	atomic.StoreInt32((*int32)(unsafe.Pointer(&r.buffer[headerOffset])), -length)
	return nil
}

// Abort discards a previously claimed record, marking it as padding
// so the consumer skips it without requiring the payload to ever be
// filled in. Used when a producer fails after TryClaim but before it
// has anything meaningful to commit.
func (r *ManyToOneRingBuffer) Abort(index int32) error {
	headerOffset := index - headerLength
	length := int32At(r.buffer, headerOffset)
	if length >= 0 {
		return fmt.Errorf("ringbuffer: index %d was not claimed", index)
	}
	putInt32At(r.buffer, headerOffset+lengthFieldLength, paddingMsgTypeID)
	atomic.StoreInt32((*int32)(unsafe.Pointer(&r.buffer[headerOffset])), -length)
	return nil
}

// Read consumes committed messages from the ring, in order, invoking
// handler with each message's type id and payload slice (which
// aliases the ring's backing buffer and is only valid until the next
// Read call), up to limit messages. It returns the number of messages
// dispatched to handler, which excludes padding records it skipped.
// Read is not safe to call concurrently with itself: this ring has a
// single consumer.
func (r *ManyToOneRingBuffer) Read(limit int, handler func(msgTypeID int32, payload []byte)) int {
	head := atomic.LoadInt64(r.headAddr)
	bytesRead := int32(0)
	dispatched := 0

	for dispatched < limit {
		index := int32(head & int64(r.mask))
		length := int32At(r.buffer, index)
		if length <= 0 {
			break // empty, or claimed but not yet committed
		}

		msgTypeID := int32At(r.buffer, index+lengthFieldLength)
		recordLength := alignedLength(length)

		if msgTypeID != paddingMsgTypeID {
			payload := r.buffer[index+headerLength : index+length]
			handler(msgTypeID, payload)
			dispatched++
		}

		// Clear the header so a reused slot starts from zero again.
		putInt32At(r.buffer, index+lengthFieldLength, 0)
		atomic.StoreInt32((*int32)(unsafe.Pointer(&r.buffer[index])), 0)

		bytesRead += recordLength
		head += int64(recordLength)

		if bytesRead >= r.capacity {
			break // defensive: never spin past one full lap in a single Read
		}
	}

	if bytesRead > 0 {
		atomic.StoreInt64(r.headAddr, head)
	}
	return dispatched
}
