// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package conductor implements the single-threaded cooperative agent
// that runs a client's half of the driver protocol: it drains
// response broadcasts, sends keepalives, enforces the inter-service
// timeout, and services publication and subscription registration on
// behalf of application threads.
//
// A Conductor advances only inside DoWork, invoked by an
// agent.Runner or agent.Invoker. Application threads never touch its
// state directly; they call the exported registration methods, which
// write a command and then cooperatively poll DoWork's own progress
// until the driver responds or the driver timeout elapses.
package conductor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zephyrmq/zephyr-go/broadcast"
	"github.com/zephyrmq/zephyr-go/clienterrors"
	"github.com/zephyrmq/zephyr-go/driverproxy"
	"github.com/zephyrmq/zephyr-go/lib/clock"
	"github.com/zephyrmq/zephyr-go/lib/codec"
	"github.com/zephyrmq/zephyr-go/wire"
)

// State is the conductor's lifecycle state.
type State int

const (
	// Running accepts new registrations and services its duty cycle.
	Running State = iota
	// Closed rejects every public operation with ClientClosedError.
	Closed
)

// Publication is a registered, shared (non-exclusive) publication.
type Publication struct {
	RegistrationID int64
	Channel        string
	StreamID       int32
}

// Subscription is a registered subscription.
type Subscription struct {
	RegistrationID int64
	Channel        string
	StreamID       int32
}

type pendingRequest struct {
	result chan requestResult
}

// AvailableImage describes a subscription's newly connected image, as
// reported by an OnAvailableImage response.
type AvailableImage struct {
	SubscriptionRegistrationID int64
	SessionID                  int32
	CounterID                  int32
	SourceIdentity             string
}

// UnavailableImage describes a subscription's image that has gone
// away, as reported by an OnUnavailableImage response.
type UnavailableImage struct {
	SubscriptionRegistrationID int64
	SessionID                  int32
}

type requestResult struct {
	registrationID int64
	err            error
}

// Conductor drives the client/driver protocol. It implements
// agent.Agent so it can be run by either an agent.Runner or an
// agent.Invoker.
type Conductor struct {
	proxy     *driverproxy.Proxy
	broadcast *broadcast.CopyBroadcastReceiver

	nanoClock clock.NanoClock
	realClock clock.Clock
	logger    *slog.Logger
	onError   func(error)

	onAvailableImage     func(AvailableImage)
	onUnavailableImage   func(UnavailableImage)
	onCounterReady       func(registrationID int64, counterID int32)
	onCounterUnavailable func(registrationID int64, counterID int32)

	keepAliveIntervalNs   int64
	interServiceTimeoutNs int64
	driverTimeout         time.Duration

	// invokerMode is true when no dedicated goroutine drives DoWork:
	// the calling application thread must pump it itself while
	// awaiting a response. When false (a Runner owns the duty cycle),
	// awaiting must never call DoWork, since that would race with the
	// Runner's own goroutine over the single-consumer broadcast
	// receiver.
	invokerMode bool

	mu                   sync.Mutex
	state                State
	publications         map[int64]*Publication
	subscriptions        map[int64]*Subscription
	pending              map[int64]*pendingRequest
	subAvailableHandlers map[int64]func(sessionID int32)

	lastWorkNs      int64
	lastKeepaliveNs int64
}

// Config carries the tunables a Conductor needs beyond its IPC
// collaborators.
type Config struct {
	KeepAliveInterval   time.Duration
	InterServiceTimeout time.Duration
	DriverTimeout       time.Duration
	NanoClock           clock.NanoClock
	RealClock           clock.Clock
	Logger              *slog.Logger
	ErrorHandler        func(error)

	// AvailableImageHandler is invoked for every OnAvailableImage
	// response the conductor observes, regardless of which
	// subscription it concerns. AddSubscriptionWithAvailableHandler
	// additionally lets a caller supply a per-subscription callback
	// that runs alongside this one.
	AvailableImageHandler func(AvailableImage)

	// UnavailableImageHandler is invoked for every OnUnavailableImage
	// response the conductor observes.
	UnavailableImageHandler func(UnavailableImage)

	// CounterReadyHandler is invoked when a counter backing a
	// publication or subscription becomes readable.
	CounterReadyHandler func(registrationID int64, counterID int32)

	// CounterUnavailableHandler is invoked when such a counter is
	// deallocated and must no longer be read.
	CounterUnavailableHandler func(registrationID int64, counterID int32)

	// UseInvoker must match whatever harness the caller will drive
	// this conductor with: true for agent.Invoker, false for
	// agent.Runner. It changes how AddPublication and friends wait
	// for a response, never how DoWork itself behaves.
	UseInvoker bool
}

// New constructs a Conductor bound to proxy and receiver. The caller
// retains ownership of the CnC mapping those collaborators wrap.
func New(proxy *driverproxy.Proxy, receiver *broadcast.CopyBroadcastReceiver, cfg Config) *Conductor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(err error) {
			cfg.Logger.Error("conductor error", "error", err)
		}
	}
	if cfg.RealClock == nil {
		cfg.RealClock = clock.Real()
	}
	if cfg.NanoClock == nil {
		cfg.NanoClock = clock.NewNanoClock(cfg.RealClock)
	}
	if cfg.AvailableImageHandler == nil {
		cfg.AvailableImageHandler = func(AvailableImage) {}
	}
	if cfg.UnavailableImageHandler == nil {
		cfg.UnavailableImageHandler = func(UnavailableImage) {}
	}
	if cfg.CounterReadyHandler == nil {
		cfg.CounterReadyHandler = func(int64, int32) {}
	}
	if cfg.CounterUnavailableHandler == nil {
		cfg.CounterUnavailableHandler = func(int64, int32) {}
	}

	return &Conductor{
		proxy:                 proxy,
		broadcast:             receiver,
		nanoClock:             cfg.NanoClock,
		realClock:             cfg.RealClock,
		logger:                cfg.Logger,
		onError:               cfg.ErrorHandler,
		onAvailableImage:      cfg.AvailableImageHandler,
		onUnavailableImage:    cfg.UnavailableImageHandler,
		onCounterReady:        cfg.CounterReadyHandler,
		onCounterUnavailable:  cfg.CounterUnavailableHandler,
		keepAliveIntervalNs:   cfg.KeepAliveInterval.Nanoseconds(),
		interServiceTimeoutNs: cfg.InterServiceTimeout.Nanoseconds(),
		driverTimeout:         cfg.DriverTimeout,
		invokerMode:           cfg.UseInvoker,
		state:                 Running,
		publications:          make(map[int64]*Publication),
		subscriptions:         make(map[int64]*Subscription),
		pending:               make(map[int64]*pendingRequest),
		subAvailableHandlers:  make(map[int64]func(sessionID int32)),
	}
}

// RoleName identifies this agent for the harness.
func (c *Conductor) RoleName() string { return "client-conductor" }

// OnStart initializes the duty-cycle clocks.
func (c *Conductor) OnStart() error {
	now := c.nanoClock.TimeNanos()
	c.mu.Lock()
	c.lastWorkNs = now
	c.lastKeepaliveNs = now
	c.mu.Unlock()
	return nil
}

// OnClose is a no-op; the owning facade is responsible for unmapping
// the CnC region the conductor's collaborators wrap.
func (c *Conductor) OnClose() error { return nil }

// IsClosed reports whether the conductor has transitioned to Closed.
func (c *Conductor) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Closed
}

// DoWork performs one duty cycle: inter-service timeout check,
// broadcast drain, keepalive. It returns the number of units of work
// performed, for the harness's idle strategy.
func (c *Conductor) DoWork() (int, error) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return 0, nil
	}
	c.mu.Unlock()

	now := c.nanoClock.TimeNanos()

	c.mu.Lock()
	elapsed := now - c.lastWorkNs
	c.mu.Unlock()

	if c.interServiceTimeoutNs > 0 && elapsed > c.interServiceTimeoutNs {
		c.onInterServiceTimeout(elapsed)
		return 0, nil
	}

	c.mu.Lock()
	c.lastWorkNs = now
	c.mu.Unlock()

	work := 0
	for {
		msg, ok := c.broadcast.Receive()
		if !ok {
			break
		}
		c.dispatch(msg)
		work++
	}

	c.mu.Lock()
	sinceKeepalive := now - c.lastKeepaliveNs
	c.mu.Unlock()

	if c.keepAliveIntervalNs > 0 && sinceKeepalive >= c.keepAliveIntervalNs {
		if err := c.proxy.ClientKeepalive(); err != nil {
			c.logger.Warn("keepalive send failed, will retry next cycle", "error", err)
		} else {
			c.mu.Lock()
			c.lastKeepaliveNs = now
			c.mu.Unlock()
			work++
		}
	}

	return work, nil
}

func (c *Conductor) onInterServiceTimeout(elapsedNs int64) {
	c.mu.Lock()
	c.state = Closed
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.publications = make(map[int64]*Publication)
	c.subscriptions = make(map[int64]*Subscription)
	c.subAvailableHandlers = make(map[int64]func(sessionID int32))
	c.mu.Unlock()

	err := &clienterrors.InterServiceTimeoutError{ElapsedNs: elapsedNs, LimitNs: c.interServiceTimeoutNs}
	c.logger.Error("conductor inter-service timeout, closing", "elapsed_ns", elapsedNs, "limit_ns", c.interServiceTimeoutNs)

	for _, p := range pending {
		p.result <- requestResult{err: err}
	}
	c.onError(err)
}

func (c *Conductor) dispatch(msg broadcast.Message) {
	switch msg.MsgTypeID {
	case wire.MsgTypeOnOperationSuccess:
		var resp wire.OnOperationSuccessResponse
		if err := codec.Unmarshal(msg.Payload, &resp); err != nil {
			c.logger.Warn("dropping malformed OnOperationSuccess", "error", err)
			return
		}
		c.resolve(resp.CorrelationID, requestResult{registrationID: resp.RegistrationID})
	case wire.MsgTypeOnError:
		var resp wire.OnErrorResponse
		if err := codec.Unmarshal(msg.Payload, &resp); err != nil {
			c.logger.Warn("dropping malformed OnError", "error", err)
			return
		}
		c.resolve(resp.CorrelationID, requestResult{err: &clienterrors.RegistrationError{Code: resp.Code, Message: resp.Message}})
	case wire.MsgTypeOnAvailableImage:
		var resp wire.OnAvailableImageResponse
		if err := codec.Unmarshal(msg.Payload, &resp); err != nil {
			c.logger.Warn("dropping malformed OnAvailableImage", "error", err)
			return
		}
		c.dispatchAvailableImage(resp)
	case wire.MsgTypeOnUnavailableImage:
		var resp wire.OnUnavailableImageResponse
		if err := codec.Unmarshal(msg.Payload, &resp); err != nil {
			c.logger.Warn("dropping malformed OnUnavailableImage", "error", err)
			return
		}
		c.onUnavailableImage(UnavailableImage{
			SubscriptionRegistrationID: resp.SubscriptionRegistrationID,
			SessionID:                  resp.SessionID,
		})
	case wire.MsgTypeOnCounterReady:
		var resp wire.OnCounterReadyResponse
		if err := codec.Unmarshal(msg.Payload, &resp); err != nil {
			c.logger.Warn("dropping malformed OnCounterReady", "error", err)
			return
		}
		c.onCounterReady(resp.CorrelationID, resp.CounterID)
	case wire.MsgTypeOnCounterUnavailable:
		var resp wire.OnCounterUnavailableResponse
		if err := codec.Unmarshal(msg.Payload, &resp); err != nil {
			c.logger.Warn("dropping malformed OnCounterUnavailable", "error", err)
			return
		}
		c.onCounterUnavailable(resp.CorrelationID, resp.CounterID)
	default:
		c.logger.Warn("dropping broadcast message with unknown type", "msg_type_id", msg.MsgTypeID)
	}
}

// dispatchAvailableImage fires both the per-subscription handler
// registered through AddSubscriptionWithAvailableHandler, if any, and
// the conductor-wide handler every OnAvailableImage response triggers.
func (c *Conductor) dispatchAvailableImage(resp wire.OnAvailableImageResponse) {
	c.mu.Lock()
	handler := c.subAvailableHandlers[resp.SubscriptionRegistrationID]
	c.mu.Unlock()

	if handler != nil {
		handler(resp.SessionID)
	}
	c.onAvailableImage(AvailableImage{
		SubscriptionRegistrationID: resp.SubscriptionRegistrationID,
		SessionID:                  resp.SessionID,
		CounterID:                  resp.CounterID,
		SourceIdentity:             resp.SourceIdentity,
	})
}

func (c *Conductor) resolve(correlationID int64, result requestResult) {
	c.mu.Lock()
	p, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	c.mu.Unlock()

	if ok {
		p.result <- result
	}
}

func (c *Conductor) register(correlationID int64) *pendingRequest {
	p := &pendingRequest{result: make(chan requestResult, 1)}
	c.mu.Lock()
	c.pending[correlationID] = p
	c.mu.Unlock()
	return p
}

// await blocks the calling application thread until correlationID's
// response arrives or the driver timeout elapses.
//
// In invoker mode no goroutine drives DoWork on its own, so await
// pumps it directly; in Runner mode a dedicated goroutine already owns
// DoWork, and calling it again here would race over the single-
// consumer broadcast receiver, so await only waits on the channel the
// Runner's own dispatch resolves.
func (c *Conductor) await(correlationID int64, p *pendingRequest) (int64, error) {
	deadline := c.realClock.Now().Add(c.driverTimeout)
	for {
		if c.invokerMode {
			if _, err := c.DoWork(); err != nil {
				return 0, err
			}
		}

		select {
		case result := <-p.result:
			return result.registrationID, result.err
		case <-c.realClock.After(time.Millisecond):
		}

		if c.IsClosed() {
			c.mu.Lock()
			delete(c.pending, correlationID)
			c.mu.Unlock()
			return 0, &clienterrors.ClientClosedError{}
		}

		if c.realClock.Now().After(deadline) {
			c.mu.Lock()
			delete(c.pending, correlationID)
			c.mu.Unlock()
			return 0, &clienterrors.DriverTimeoutError{Reason: fmt.Sprintf("no response for correlation id %d", correlationID)}
		}
	}
}

// AddPublication registers a shared publication and blocks until the
// driver confirms it or the driver timeout elapses.
func (c *Conductor) AddPublication(channel string, streamID int32) (*Publication, error) {
	if c.IsClosed() {
		return nil, &clienterrors.ClientClosedError{}
	}

	correlationID, err := c.proxy.AddPublication(channel, streamID)
	if err != nil {
		return nil, &clienterrors.TransportError{Cause: err}
	}

	p := c.register(correlationID)
	registrationID, err := c.await(correlationID, p)
	if err != nil {
		return nil, err
	}

	pub := &Publication{RegistrationID: registrationID, Channel: channel, StreamID: streamID}
	c.mu.Lock()
	c.publications[registrationID] = pub
	c.mu.Unlock()
	return pub, nil
}

// AddExclusivePublication registers an exclusive publication.
func (c *Conductor) AddExclusivePublication(channel string, streamID int32) (*Publication, error) {
	if c.IsClosed() {
		return nil, &clienterrors.ClientClosedError{}
	}

	correlationID, err := c.proxy.AddExclusivePublication(channel, streamID)
	if err != nil {
		return nil, &clienterrors.TransportError{Cause: err}
	}

	p := c.register(correlationID)
	registrationID, err := c.await(correlationID, p)
	if err != nil {
		return nil, err
	}

	pub := &Publication{RegistrationID: registrationID, Channel: channel, StreamID: streamID}
	c.mu.Lock()
	c.publications[registrationID] = pub
	c.mu.Unlock()
	return pub, nil
}

// AddSubscription registers a subscription with no handler of its
// own; its response is matched by correlation id like any other
// registration. Image availability is still reported through
// the conductor-wide AvailableImageHandler/UnavailableImageHandler;
// AddSubscriptionWithAvailableHandler is the other arity, for callers
// that also want a handler scoped to this one subscription.
func (c *Conductor) AddSubscription(channel string, streamID int32) (*Subscription, error) {
	return c.addSubscription(channel, streamID)
}

// AddSubscriptionWithAvailableHandler registers a subscription and
// records onAvailable to be invoked, in addition to any conductor-wide
// AvailableImageHandler, whenever an OnAvailableImage response whose
// SubscriptionRegistrationID matches this subscription arrives.
// onAvailable may be nil, in which case this behaves like
// AddSubscription.
func (c *Conductor) AddSubscriptionWithAvailableHandler(channel string, streamID int32, onAvailable func(sessionID int32)) (*Subscription, error) {
	sub, err := c.addSubscription(channel, streamID)
	if err != nil {
		return nil, err
	}
	if onAvailable != nil {
		c.mu.Lock()
		c.subAvailableHandlers[sub.RegistrationID] = onAvailable
		c.mu.Unlock()
	}
	return sub, nil
}

func (c *Conductor) addSubscription(channel string, streamID int32) (*Subscription, error) {
	if c.IsClosed() {
		return nil, &clienterrors.ClientClosedError{}
	}

	correlationID, err := c.proxy.AddSubscription(channel, streamID)
	if err != nil {
		return nil, &clienterrors.TransportError{Cause: err}
	}

	p := c.register(correlationID)
	registrationID, err := c.await(correlationID, p)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{RegistrationID: registrationID, Channel: channel, StreamID: streamID}
	c.mu.Lock()
	c.subscriptions[registrationID] = sub
	c.mu.Unlock()
	return sub, nil
}

// ReleasePublication releases a previously registered publication.
func (c *Conductor) ReleasePublication(pub *Publication) error {
	if c.IsClosed() {
		return &clienterrors.ClientClosedError{}
	}
	if _, err := c.proxy.RemovePublication(pub.RegistrationID); err != nil {
		return &clienterrors.TransportError{Cause: err}
	}
	c.mu.Lock()
	delete(c.publications, pub.RegistrationID)
	c.mu.Unlock()
	return nil
}

// ReleaseSubscription releases a previously registered subscription.
func (c *Conductor) ReleaseSubscription(sub *Subscription) error {
	if c.IsClosed() {
		return &clienterrors.ClientClosedError{}
	}
	if _, err := c.proxy.RemoveSubscription(sub.RegistrationID); err != nil {
		return &clienterrors.TransportError{Cause: err}
	}
	c.mu.Lock()
	delete(c.subscriptions, sub.RegistrationID)
	delete(c.subAvailableHandlers, sub.RegistrationID)
	c.mu.Unlock()
	return nil
}
