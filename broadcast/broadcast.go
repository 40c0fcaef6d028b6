// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package broadcast implements a single-producer/many-observer
// broadcast buffer over a caller-supplied byte slice, typically the
// to-client region of a mapped CnC file.
//
// Unlike the command ring, a broadcast has no flow control: a slow
// observer can be lapped by the producer. [CopyBroadcastReceiver]
// copies each record out of the shared buffer before acting on it and
// re-validates the copy against the producer's tail afterward,
// discarding (and catching its cursor up past) any record it
// discovers was overwritten mid-copy. Lost records are not
// retransmitted; this mirrors the driver's own broadcast semantics,
// where responses are advisory and a client that falls behind is
// expected to notice via the request/response correlation timeout
// rather than rely on every broadcast frame arriving.
package broadcast

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

	paddingMsgTypeID = -1
)

const (
	tailIntentCounterOffset = 0
	tailCounterOffset       = 64
	latestCounterOffset     = 128

	// TrailerLength is the fixed size of the trailer region a
	// broadcast buffer expects at the end of its backing slice.
	TrailerLength = 192
)

// ErrMessageTooLarge is returned by Transmit when length exceeds what
// the buffer could ever hold, even empty.
var ErrMessageTooLarge = errors.New("broadcast: message exceeds buffer capacity")

func alignedLength(n int32) int32 {
	return (n + alignment - 1) &^ (alignment - 1)
}

// Transmitter is the single producer side of a broadcast buffer. In
// this client, nothing constructs one in production — the driver is
// the sole producer — but tests use it to stand in for a fake driver.
type Transmitter struct {
	buffer   []byte
	capacity int32
	mask     int32

	tailIntentAddr *int64
	tailAddr       *int64
	latestAddr     *int64
}

// NewTransmitter wraps buf as the producer side of a broadcast buffer.
// len(buf) must equal a power-of-two capacity plus TrailerLength.
func NewTransmitter(buf []byte) (*Transmitter, error) {
	capacity := int32(len(buf)) - TrailerLength
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("broadcast: capacity %d must be a positive power of two", capacity)
	}
	trailer := buf[capacity:]
	return &Transmitter{
		buffer:         buf,
		capacity:       capacity,
		mask:           capacity - 1,
		tailIntentAddr: (*int64)(unsafe.Pointer(&trailer[tailIntentCounterOffset])),
		tailAddr:       (*int64)(unsafe.Pointer(&trailer[tailCounterOffset])),
		latestAddr:     (*int64)(unsafe.Pointer(&trailer[latestCounterOffset])),
	}, nil
}

// Transmit publishes a single record to every observer currently
// keeping up with the buffer. It never blocks.
func (tx *Transmitter) Transmit(msgTypeID int32, payload []byte) error {
	recordLength := headerLength + int32(len(payload))
	required := alignedLength(recordLength)
	if required > tx.capacity {
		return ErrMessageTooLarge
	}

	tail := atomic.LoadInt64(tx.tailAddr)
	index := int32(tail & int64(tx.mask))
	toEndOfBuffer := tx.capacity - index

	if required > toEndOfBuffer {
		newTail := tail + int64(toEndOfBuffer)
		atomic.StoreInt64(tx.tailIntentAddr, newTail)
		putInt32At(tx.buffer, index+lengthFieldLength, paddingMsgTypeID)
		putInt32At(tx.buffer, index, toEndOfBuffer)
		atomic.StoreInt64(tx.tailAddr, newTail)
		tail = newTail
		index = 0
	}

	newTail := tail + int64(required)
	atomic.StoreInt64(tx.tailIntentAddr, newTail)

	putInt32At(tx.buffer, index+lengthFieldLength, msgTypeID)
	copy(tx.buffer[index+headerLength:], payload)
	putInt32At(tx.buffer, index, recordLength)
	atomic.StoreInt64(tx.latestAddr, tail)

	atomic.StoreInt64(tx.tailAddr, newTail)
	return nil
}

func putInt32At(buf []byte, offset, v int32) {
	atomic.StoreInt32((*int32)(unsafe.Pointer(&buf[offset])), v)
}

func int32At(buf []byte, offset int32) int32 {
	return atomic.LoadInt32((*int32)(unsafe.Pointer(&buf[offset])))
}

// Message is a single record copied out of a broadcast buffer.
type Message struct {
	MsgTypeID int32
	Payload   []byte
}

// CopyBroadcastReceiver is one observer's view of a broadcast buffer.
// It is not safe for concurrent use: exactly one goroutine (the
// conductor) should call Receive.
type CopyBroadcastReceiver struct {
	buffer   []byte
	capacity int32
	mask     int32
	cursor   int64

	tailAddr   *int64
	latestAddr *int64

	// LappedCount counts how many times this receiver detected it had
	// fallen behind the producer and skipped forward.
	LappedCount int64
}

// NewCopyBroadcastReceiver wraps buf as an observer of a broadcast
// buffer. len(buf) must equal a power-of-two capacity plus
// TrailerLength.
func NewCopyBroadcastReceiver(buf []byte) (*CopyBroadcastReceiver, error) {
	capacity := int32(len(buf)) - TrailerLength
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("broadcast: capacity %d must be a positive power of two", capacity)
	}
	trailer := buf[capacity:]
	return &CopyBroadcastReceiver{
		buffer:     buf,
		capacity:   capacity,
		mask:       capacity - 1,
		tailAddr:   (*int64)(unsafe.Pointer(&trailer[tailCounterOffset])),
		latestAddr: (*int64)(unsafe.Pointer(&trailer[latestCounterOffset])),
	}, nil
}

// Receive returns the next message this receiver has not yet
// observed, or ok=false if it is caught up with the producer. If the
// producer has lapped this receiver since its last call, Receive
// skips forward to the latest record the producer published and
// increments LappedCount; the records in between are lost.
func (rx *CopyBroadcastReceiver) Receive() (Message, bool) {
	for {
		tail := atomic.LoadInt64(rx.tailAddr)
		if tail == rx.cursor {
			return Message{}, false
		}

		if tail-rx.cursor > int64(rx.capacity) {
			rx.cursor = atomic.LoadInt64(rx.latestAddr)
			rx.LappedCount++
		}

		index := int32(rx.cursor & int64(rx.mask))
		length := int32At(rx.buffer, index)
		if length <= 0 {
			return Message{}, false // producer has claimed but not yet published this slot
		}
		msgTypeID := int32At(rx.buffer, index+lengthFieldLength)

		var payload []byte
		if msgTypeID != paddingMsgTypeID {
			payload = make([]byte, length-headerLength)
			copy(payload, rx.buffer[index+headerLength:index+length])
		}

		recordLength := alignedLength(length)
		nextCursor := rx.cursor + int64(recordLength)

		// If the producer advanced far enough during our copy that it
		// may have overwritten what we just read, the copy is torn:
		// discard it and catch up instead of risking corrupt data.
		if atomic.LoadInt64(rx.tailAddr)-nextCursor > int64(rx.capacity) {
			rx.cursor = nextCursor
			rx.LappedCount++
			continue
		}

		rx.cursor = nextCursor
		if msgTypeID == paddingMsgTypeID {
			continue
		}
		return Message{MsgTypeID: msgTypeID, Payload: payload}, true
	}
}
