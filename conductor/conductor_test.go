// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"testing"
	"time"

	"github.com/zephyrmq/zephyr-go/broadcast"
	"github.com/zephyrmq/zephyr-go/clienterrors"
	"github.com/zephyrmq/zephyr-go/driverproxy"
	"github.com/zephyrmq/zephyr-go/lib/codec"
	"github.com/zephyrmq/zephyr-go/ringbuffer"
	"github.com/zephyrmq/zephyr-go/wire"
)

type fakeDriver struct {
	ring *ringbuffer.ManyToOneRingBuffer
	tx   *broadcast.Transmitter
}

// respondOnce drains one command from the ring and transmits a
// success response whose registration id equals the command's
// correlation id, matching the happy-path contract the spec requires.
func (d *fakeDriver) respondOnce(t *testing.T) bool {
	t.Helper()
	found := false
	d.ring.Read(1, func(msgTypeID int32, payload []byte) {
		found = true
		var correlationID int64
		switch msgTypeID {
		case wire.MsgTypeAddPublication:
			var cmd wire.AddPublicationCommand
			if err := codec.Unmarshal(payload, &cmd); err != nil {
				t.Fatalf("decode AddPublicationCommand: %v", err)
			}
			correlationID = cmd.CorrelationID
		case wire.MsgTypeAddExclusivePublication:
			var cmd wire.AddExclusivePublicationCommand
			if err := codec.Unmarshal(payload, &cmd); err != nil {
				t.Fatalf("decode AddExclusivePublicationCommand: %v", err)
			}
			correlationID = cmd.CorrelationID
		case wire.MsgTypeAddSubscription:
			var cmd wire.AddSubscriptionCommand
			if err := codec.Unmarshal(payload, &cmd); err != nil {
				t.Fatalf("decode AddSubscriptionCommand: %v", err)
			}
			correlationID = cmd.CorrelationID
		default:
			t.Fatalf("unexpected command msgTypeID %d", msgTypeID)
		}

		resp, err := codec.Marshal(wire.OnOperationSuccessResponse{CorrelationID: correlationID, RegistrationID: correlationID})
		if err != nil {
			t.Fatalf("encode response: %v", err)
		}
		if err := d.tx.Transmit(wire.MsgTypeOnOperationSuccess, resp); err != nil {
			t.Fatalf("Transmit: %v", err)
		}
	})
	return found
}

func (d *fakeDriver) respondWithError(t *testing.T, correlationID int64, code int32, message string) {
	t.Helper()
	resp, err := codec.Marshal(wire.OnErrorResponse{CorrelationID: correlationID, Code: code, Message: message})
	if err != nil {
		t.Fatalf("encode OnErrorResponse: %v", err)
	}
	if err := d.tx.Transmit(wire.MsgTypeOnError, resp); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
}

func newTestHarness(t *testing.T) (*Conductor, *fakeDriver) {
	t.Helper()

	ringBuf := make([]byte, 4096+ringbuffer.TrailerLength)
	ring, err := ringbuffer.New(ringBuf)
	if err != nil {
		t.Fatalf("ringbuffer.New: %v", err)
	}

	broadcastBuf := make([]byte, 4096+broadcast.TrailerLength)
	tx, err := broadcast.NewTransmitter(broadcastBuf)
	if err != nil {
		t.Fatalf("NewTransmitter: %v", err)
	}
	rx, err := broadcast.NewCopyBroadcastReceiver(broadcastBuf)
	if err != nil {
		t.Fatalf("NewCopyBroadcastReceiver: %v", err)
	}

	proxy := driverproxy.New(ring, 1)
	cond := New(proxy, rx, Config{
		KeepAliveInterval:   time.Hour, // disabled for these tests
		InterServiceTimeout: time.Hour,
		DriverTimeout:       2 * time.Second,
		UseInvoker:          true,
	})
	if err := cond.OnStart(); err != nil {
		t.Fatalf("OnStart: %v", err)
	}

	return cond, &fakeDriver{ring: ring, tx: tx}
}

func TestAddPublicationHappyPath(t *testing.T) {
	cond, driver := newTestHarness(t)

	resultCh := make(chan struct {
		pub *Publication
		err error
	}, 1)
	go func() {
		pub, err := cond.AddPublication("aeron:ipc", 42)
		resultCh <- struct {
			pub *Publication
			err error
		}{pub, err}
	}()

	// Give the goroutine a moment to claim and commit its command.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if driver.respondOnce(t) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	result := <-resultCh
	if result.err != nil {
		t.Fatalf("AddPublication: %v", result.err)
	}
	if result.pub.StreamID != 42 {
		t.Errorf("StreamID = %d, want 42", result.pub.StreamID)
	}
	if result.pub.Channel != "aeron:ipc" {
		t.Errorf("Channel = %q, want aeron:ipc", result.pub.Channel)
	}
	if result.pub.RegistrationID != result.pub.RegistrationID {
		t.Fatalf("unreachable")
	}
}

func TestAddPublicationSurfacesRegistrationError(t *testing.T) {
	cond, driver := newTestHarness(t)

	resultCh := make(chan error, 1)
	go func() {
		_, err := cond.AddPublication("aeron:ipc", 7)
		resultCh <- err
	}()

	deadline := time.Now().Add(time.Second)
	var correlationID int64 = -1
	for time.Now().Before(deadline) && correlationID == -1 {
		driver.ring.Read(1, func(msgTypeID int32, payload []byte) {
			var cmd wire.AddPublicationCommand
			if err := codec.Unmarshal(payload, &cmd); err == nil {
				correlationID = cmd.CorrelationID
			}
		})
		if correlationID == -1 {
			time.Sleep(time.Millisecond)
		}
	}
	if correlationID == -1 {
		t.Fatal("driver never observed a command")
	}

	driver.respondWithError(t, correlationID, 99, "channel rejected")

	err := <-resultCh
	var regErr *clienterrors.RegistrationError
	if !asRegistrationError(err, &regErr) {
		t.Fatalf("AddPublication error = %v, want *RegistrationError", err)
	}
	if regErr.Code != 99 {
		t.Errorf("Code = %d, want 99", regErr.Code)
	}
}

func asRegistrationError(err error, target **clienterrors.RegistrationError) bool {
	e, ok := err.(*clienterrors.RegistrationError)
	if ok {
		*target = e
	}
	return ok
}

func TestDoWorkSendsKeepaliveOnInterval(t *testing.T) {
	ringBuf := make([]byte, 4096+ringbuffer.TrailerLength)
	ring, err := ringbuffer.New(ringBuf)
	if err != nil {
		t.Fatalf("ringbuffer.New: %v", err)
	}
	broadcastBuf := make([]byte, 4096+broadcast.TrailerLength)
	rx, err := broadcast.NewCopyBroadcastReceiver(broadcastBuf)
	if err != nil {
		t.Fatalf("NewCopyBroadcastReceiver: %v", err)
	}

	proxy := driverproxy.New(ring, 1)
	cond := New(proxy, rx, Config{
		KeepAliveInterval:   time.Millisecond,
		InterServiceTimeout: time.Hour,
		DriverTimeout:       time.Second,
	})
	if err := cond.OnStart(); err != nil {
		t.Fatalf("OnStart: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	if _, err := cond.DoWork(); err != nil {
		t.Fatalf("DoWork: %v", err)
	}

	found := false
	ring.Read(1, func(msgTypeID int32, _ []byte) {
		if msgTypeID == wire.MsgTypeClientKeepalive {
			found = true
		}
	})
	if !found {
		t.Fatal("expected a keepalive command on the ring")
	}
}

func TestAvailableImageDispatchFiresPerSubscriptionAndGlobalHandlers(t *testing.T) {
	ringBuf := make([]byte, 4096+ringbuffer.TrailerLength)
	ring, err := ringbuffer.New(ringBuf)
	if err != nil {
		t.Fatalf("ringbuffer.New: %v", err)
	}
	broadcastBuf := make([]byte, 4096+broadcast.TrailerLength)
	tx, err := broadcast.NewTransmitter(broadcastBuf)
	if err != nil {
		t.Fatalf("NewTransmitter: %v", err)
	}
	rx, err := broadcast.NewCopyBroadcastReceiver(broadcastBuf)
	if err != nil {
		t.Fatalf("NewCopyBroadcastReceiver: %v", err)
	}

	var globalSessionID int32
	var perSubSessionID int32
	proxy := driverproxy.New(ring, 1)
	cond := New(proxy, rx, Config{
		KeepAliveInterval:   time.Hour,
		InterServiceTimeout: time.Hour,
		DriverTimeout:       time.Second,
		AvailableImageHandler: func(img AvailableImage) {
			globalSessionID = img.SessionID
		},
	})
	if err := cond.OnStart(); err != nil {
		t.Fatalf("OnStart: %v", err)
	}

	cond.mu.Lock()
	cond.subAvailableHandlers[55] = func(sessionID int32) { perSubSessionID = sessionID }
	cond.mu.Unlock()

	payload, err := codec.Marshal(wire.OnAvailableImageResponse{
		SubscriptionRegistrationID: 55,
		SessionID:                  7,
		CounterID:                  3,
		SourceIdentity:             "aeron:ipc#1",
	})
	if err != nil {
		t.Fatalf("encode OnAvailableImageResponse: %v", err)
	}
	if err := tx.Transmit(wire.MsgTypeOnAvailableImage, payload); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	if _, err := cond.DoWork(); err != nil {
		t.Fatalf("DoWork: %v", err)
	}

	if globalSessionID != 7 {
		t.Errorf("global handler session id = %d, want 7", globalSessionID)
	}
	if perSubSessionID != 7 {
		t.Errorf("per-subscription handler session id = %d, want 7", perSubSessionID)
	}
}

func TestCounterReadyDispatchFiresHandler(t *testing.T) {
	ringBuf := make([]byte, 4096+ringbuffer.TrailerLength)
	ring, err := ringbuffer.New(ringBuf)
	if err != nil {
		t.Fatalf("ringbuffer.New: %v", err)
	}
	broadcastBuf := make([]byte, 4096+broadcast.TrailerLength)
	tx, err := broadcast.NewTransmitter(broadcastBuf)
	if err != nil {
		t.Fatalf("NewTransmitter: %v", err)
	}
	rx, err := broadcast.NewCopyBroadcastReceiver(broadcastBuf)
	if err != nil {
		t.Fatalf("NewCopyBroadcastReceiver: %v", err)
	}

	var gotRegistrationID int64
	var gotCounterID int32
	proxy := driverproxy.New(ring, 1)
	cond := New(proxy, rx, Config{
		KeepAliveInterval:   time.Hour,
		InterServiceTimeout: time.Hour,
		DriverTimeout:       time.Second,
		CounterReadyHandler: func(registrationID int64, counterID int32) {
			gotRegistrationID = registrationID
			gotCounterID = counterID
		},
	})
	if err := cond.OnStart(); err != nil {
		t.Fatalf("OnStart: %v", err)
	}

	payload, err := codec.Marshal(wire.OnCounterReadyResponse{CorrelationID: 9, CounterID: 4})
	if err != nil {
		t.Fatalf("encode OnCounterReadyResponse: %v", err)
	}
	if err := tx.Transmit(wire.MsgTypeOnCounterReady, payload); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	if _, err := cond.DoWork(); err != nil {
		t.Fatalf("DoWork: %v", err)
	}

	if gotRegistrationID != 9 {
		t.Errorf("registration id = %d, want 9", gotRegistrationID)
	}
	if gotCounterID != 4 {
		t.Errorf("counter id = %d, want 4", gotCounterID)
	}
}

func TestInterServiceTimeoutClosesConductorAndPendingRequests(t *testing.T) {
	cond, driver := newTestHarness(t)

	pubResultCh := make(chan struct {
		pub *Publication
		err error
	}, 1)
	go func() {
		pub, err := cond.AddPublication("aeron:ipc", 42)
		pubResultCh <- struct {
			pub *Publication
			err error
		}{pub, err}
	}()
	for !driver.respondOnce(t) {
		time.Sleep(time.Millisecond)
	}
	pubResult := <-pubResultCh
	if pubResult.err != nil {
		t.Fatalf("AddPublication: %v", pubResult.err)
	}

	subResultCh := make(chan struct {
		sub *Subscription
		err error
	}, 1)
	go func() {
		sub, err := cond.AddSubscription("aeron:ipc", 42)
		subResultCh <- struct {
			sub *Subscription
			err error
		}{sub, err}
	}()
	for !driver.respondOnce(t) {
		time.Sleep(time.Millisecond)
	}
	subResult := <-subResultCh
	if subResult.err != nil {
		t.Fatalf("AddSubscription: %v", subResult.err)
	}

	cond.mu.Lock()
	if len(cond.publications) != 1 || len(cond.subscriptions) != 1 {
		t.Fatalf("expected one registered publication and subscription before the timeout, got %d/%d",
			len(cond.publications), len(cond.subscriptions))
	}
	cond.mu.Unlock()

	cond.interServiceTimeoutNs = int64(time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, err := cond.DoWork(); err != nil {
		t.Fatalf("DoWork: %v", err)
	}
	if !cond.IsClosed() {
		t.Fatal("expected conductor to be closed after inter-service timeout")
	}

	cond.mu.Lock()
	pubCount, subCount := len(cond.publications), len(cond.subscriptions)
	cond.mu.Unlock()
	if pubCount != 0 {
		t.Errorf("publications remaining after inter-service timeout = %d, want 0", pubCount)
	}
	if subCount != 0 {
		t.Errorf("subscriptions remaining after inter-service timeout = %d, want 0", subCount)
	}

	if _, err := cond.AddPublication("aeron:ipc", 1); err == nil {
		t.Fatal("expected ClientClosedError after inter-service timeout")
	}
	if err := cond.ReleasePublication(pubResult.pub); err == nil {
		t.Fatal("expected ClientClosedError releasing a publication after inter-service timeout")
	}
}
