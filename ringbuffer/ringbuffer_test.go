// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

package ringbuffer

import (
	"sync"
	"testing"
)

func newTestRing(t *testing.T, capacity int32) *ManyToOneRingBuffer {
	t.Helper()
	buf := make([]byte, capacity+TrailerLength)
	r, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func writeAndCommit(t *testing.T, r *ManyToOneRingBuffer, msgTypeID int32, payload []byte) {
	t.Helper()
	index, err := r.TryClaim(msgTypeID, int32(len(payload)))
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	n := copy(r.buffer[index:], payload)
	if n != len(payload) {
		t.Fatalf("short copy: %d != %d", n, len(payload))
	}
	if err := r.Commit(index); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestNewRejectsNonPowerOfTwoCapacity(t *testing.T) {
	if _, err := New(make([]byte, 100+TrailerLength)); err == nil {
		t.Fatal("expected error for non-power-of-two capacity")
	}
}

func TestWriteAndReadSingleMessage(t *testing.T) {
	r := newTestRing(t, 1024)
	writeAndCommit(t, r, 7, []byte("add-publication"))

	var gotType int32
	var gotPayload string
	n := r.Read(10, func(msgTypeID int32, payload []byte) {
		gotType = msgTypeID
		gotPayload = string(payload)
	})

	if n != 1 {
		t.Fatalf("Read dispatched %d messages, want 1", n)
	}
	if gotType != 7 {
		t.Errorf("msgTypeID = %d, want 7", gotType)
	}
	if gotPayload != "add-publication" {
		t.Errorf("payload = %q, want %q", gotPayload, "add-publication")
	}
}

func TestReadPreservesOrder(t *testing.T) {
	r := newTestRing(t, 1024)
	messages := []string{"first", "second", "third"}
	for i, m := range messages {
		writeAndCommit(t, r, int32(i), []byte(m))
	}

	var got []string
	n := r.Read(10, func(_ int32, payload []byte) {
		got = append(got, string(payload))
	})

	if n != len(messages) {
		t.Fatalf("Read dispatched %d, want %d", n, len(messages))
	}
	for i, want := range messages {
		if got[i] != want {
			t.Errorf("message %d = %q, want %q", i, got[i], want)
		}
	}
}

func TestUncommittedClaimIsNotVisible(t *testing.T) {
	r := newTestRing(t, 1024)
	if _, err := r.TryClaim(1, 8); err != nil {
		t.Fatalf("TryClaim: %v", err)
	}

	n := r.Read(10, func(int32, []byte) { t.Fatal("handler should not run before Commit") })
	if n != 0 {
		t.Fatalf("Read dispatched %d before Commit, want 0", n)
	}
}

func TestAbortSkipsRecord(t *testing.T) {
	r := newTestRing(t, 1024)
	index, err := r.TryClaim(1, 8)
	if err != nil {
		t.Fatalf("TryClaim: %v", err)
	}
	if err := r.Abort(index); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	writeAndCommit(t, r, 2, []byte("after-abort"))

	var got []int32
	r.Read(10, func(msgTypeID int32, _ []byte) { got = append(got, msgTypeID) })
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("Read results = %v, want [2] (aborted record skipped)", got)
	}
}

func TestTryClaimRejectsMessageTooLarge(t *testing.T) {
	r := newTestRing(t, 64) // capacity minus trailer, small ring
	_, err := r.TryClaim(1, 1000)
	if err != ErrMessageTooLarge {
		t.Fatalf("TryClaim error = %v, want ErrMessageTooLarge", err)
	}
}

func TestTryClaimFailsWhenFull(t *testing.T) {
	r := newTestRing(t, 64)
	// Fill the ring without draining it.
	var lastErr error
	for i := 0; i < 100; i++ {
		_, lastErr = r.TryClaim(1, 24)
		if lastErr != nil {
			break
		}
	}
	if lastErr != ErrInsufficientCapacity {
		t.Fatalf("expected ErrInsufficientCapacity eventually, got %v", lastErr)
	}
}

func TestConcurrentProducersPreserveAllMessages(t *testing.T) {
	r := newTestRing(t, 1<<16)
	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for {
					index, err := r.TryClaim(int32(p), 8)
					if err == ErrInsufficientCapacity {
						continue
					}
					if err != nil {
						t.Errorf("TryClaim: %v", err)
						return
					}
					if err := r.Commit(index); err != nil {
						t.Errorf("Commit: %v", err)
					}
					break
				}
			}
		}(p)
	}
	wg.Wait()

	total := 0
	for total < producers*perProducer {
		total += r.Read(producers*perProducer, func(int32, []byte) {})
	}
	if total != producers*perProducer {
		t.Fatalf("total dispatched = %d, want %d", total, producers*perProducer)
	}
}

func TestNextCorrelationIDMonotonic(t *testing.T) {
	r := newTestRing(t, 1024)
	prev := r.NextCorrelationID()
	for i := 0; i < 100; i++ {
		next := r.NextCorrelationID()
		if next <= prev {
			t.Fatalf("NextCorrelationID not increasing: %d then %d", prev, next)
		}
		prev = next
	}
}

func TestConsumerHeartbeatTimeRoundtrip(t *testing.T) {
	r := newTestRing(t, 1024)
	if r.ConsumerHeartbeatTime() != 0 {
		t.Fatal("expected zero heartbeat before SetConsumerHeartbeatTime")
	}
	r.SetConsumerHeartbeatTime(12345)
	if r.ConsumerHeartbeatTime() != 12345 {
		t.Fatalf("ConsumerHeartbeatTime() = %d, want 12345", r.ConsumerHeartbeatTime())
	}
}
