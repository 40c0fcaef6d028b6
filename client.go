// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

package zephyr

import (
	"fmt"
	"io"
	"sync"

	"github.com/zephyrmq/zephyr-go/agent"
	"github.com/zephyrmq/zephyr-go/broadcast"
	"github.com/zephyrmq/zephyr-go/conductor"
	"github.com/zephyrmq/zephyr-go/counters"
	"github.com/zephyrmq/zephyr-go/diagnostics"
	"github.com/zephyrmq/zephyr-go/driverproxy"
	"github.com/zephyrmq/zephyr-go/ringbuffer"
)

// Publication is a registered, shared publication. See
// [conductor.Publication].
type Publication = conductor.Publication

// Subscription is a registered subscription. See
// [conductor.Subscription].
type Subscription = conductor.Subscription

// AvailableImage describes a subscription's newly connected image. See
// [conductor.AvailableImage].
type AvailableImage = conductor.AvailableImage

// UnavailableImage describes a subscription's image that has gone
// away. See [conductor.UnavailableImage].
type UnavailableImage = conductor.UnavailableImage

// Client is a connected client: the concluded Context, the conductor
// driving the duty cycle, and the harness running it. Every public
// operation takes the client-wide lock, delegates to the conductor,
// and releases the lock via defer, matching the conductor's own
// single-threaded contract from the application's point of view.
type Client struct {
	mu sync.Mutex

	ctx       *Context
	cond      *conductor.Conductor
	runner    *agent.Runner
	invoker   *agent.Invoker
	countersR *counters.Reader
	closed    bool
}

// Connect concludes ctx (if not already concluded), builds the
// conductor and its IPC collaborators, and starts the harness
// ctx.UseConductorAgentInvoker selected. On any failure it closes ctx
// and returns the error; the caller does not need to call ctx.Close
// in that case.
func Connect(ctx *Context) (*Client, error) {
	if err := ctx.Conclude(); err != nil {
		return nil, err
	}

	client, err := buildClient(ctx)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	return client, nil
}

func buildClient(ctx *Context) (*Client, error) {
	regions := ctx.regions

	ring, err := ringbuffer.New(regions.ToDriverBuffer)
	if err != nil {
		return nil, fmt.Errorf("zephyr: constructing command ring: %w", err)
	}
	receiver, err := broadcast.NewCopyBroadcastReceiver(regions.ToClientBuffer)
	if err != nil {
		return nil, fmt.Errorf("zephyr: constructing broadcast receiver: %w", err)
	}

	clientID := ring.NextCorrelationID()
	proxy := driverproxy.New(ring, clientID)

	cond := conductor.New(proxy, receiver, conductor.Config{
		KeepAliveInterval:         ctx.keepAliveInterval,
		InterServiceTimeout:       ctx.interServiceTimeout,
		DriverTimeout:             ctx.driverTimeout,
		RealClock:                 ctx.clock,
		Logger:                    ctx.logger,
		ErrorHandler:              ctx.errorHandler,
		AvailableImageHandler:     ctx.availableImageHandler,
		UnavailableImageHandler:   ctx.unavailableImageHandler,
		CounterReadyHandler:       ctx.counterReadyHandler,
		CounterUnavailableHandler: ctx.counterUnavailHandler,
		UseInvoker:                ctx.useConductorAgentInvoker,
	})

	client := &Client{
		ctx:       ctx,
		cond:      cond,
		countersR: counters.NewReader(regions.CountersMetadata, regions.CountersValues),
	}

	if ctx.useConductorAgentInvoker {
		client.invoker = agent.NewInvoker(cond, ctx.logger)
		if _, err := client.invoker.Invoke(); err != nil {
			return nil, fmt.Errorf("zephyr: starting conductor: %w", err)
		}
	} else {
		client.runner = agent.NewRunner(cond, ctx.idleStrategy(), ctx.errorHandler, ctx.logger)
		client.runner.Start()
	}

	return client, nil
}

// DutyCycle drives one tick of the conductor when the client was
// built with UseConductorAgentInvoker(true). It is an error to call
// this on a client using the default Runner harness, which drives its
// own dedicated goroutine.
func (c *Client) DutyCycle() (int, error) {
	if c.invoker == nil {
		return 0, fmt.Errorf("zephyr: DutyCycle called but client is not using the embedded invoker")
	}
	return c.invoker.Invoke()
}

// AddPublication registers a shared publication and blocks until the
// driver confirms it or the driver timeout elapses.
func (c *Client) AddPublication(channel string, streamID int32) (*Publication, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cond.AddPublication(channel, streamID)
}

// AddExclusivePublication registers an exclusive publication.
func (c *Client) AddExclusivePublication(channel string, streamID int32) (*Publication, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cond.AddExclusivePublication(channel, streamID)
}

// AddSubscription registers a subscription.
func (c *Client) AddSubscription(channel string, streamID int32) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cond.AddSubscription(channel, streamID)
}

// AddSubscriptionWithAvailableHandler registers a subscription and
// invokes onAvailable when a matching image becomes available.
func (c *Client) AddSubscriptionWithAvailableHandler(channel string, streamID int32, onAvailable func(sessionID int32)) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cond.AddSubscriptionWithAvailableHandler(channel, streamID, onAvailable)
}

// ReleasePublication releases a previously registered publication.
func (c *Client) ReleasePublication(pub *Publication) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cond.ReleasePublication(pub)
}

// ReleaseSubscription releases a previously registered subscription.
func (c *Client) ReleaseSubscription(sub *Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cond.ReleaseSubscription(sub)
}

// CountersReader returns the reader over this client's counters
// metadata and values sub-regions.
func (c *Client) CountersReader() *counters.Reader {
	return c.countersR
}

// ExportDiagnostics writes a compressed snapshot of this client's
// bound CnC metadata and counters to w.
func (c *Client) ExportDiagnostics(w io.Writer) error {
	snap := diagnostics.Build(c.ctx.metadata(), c.countersR)
	return diagnostics.Export(w, snap)
}

// Close stops the harness (joining its goroutine, for the Runner
// case) and unmaps the CnC region. Safe to call once; a second call
// is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if c.runner != nil {
		c.runner.Close()
	} else if c.invoker != nil {
		c.invoker.Close()
	}

	return c.ctx.Close()
}
