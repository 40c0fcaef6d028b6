// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package zephyr is the client-side bootstrap and lifecycle manager for
// a high-throughput messaging library whose data plane lives in a
// separate driver process. A [Context] is configured with fluent
// setters and then handed to [Connect], which performs the CnC
// handshake, starts the conductor's duty cycle, and returns a [Client]
// bound to it.
package zephyr

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zephyrmq/zephyr-go/conductor"
	"github.com/zephyrmq/zephyr-go/internal/cncfile"
	"github.com/zephyrmq/zephyr-go/internal/connector"
	"github.com/zephyrmq/zephyr-go/lib/clock"
	"github.com/zephyrmq/zephyr-go/lib/config"
	"github.com/zephyrmq/zephyr-go/lib/idlestrategy"
)

// Context carries every configuration value a [Connect] call needs.
// Construct it with [NewContext], adjust it with its chained setters,
// and pass it to [Connect]. Conclude may also be called directly to
// perform the handshake without constructing a Client, for example
// from a diagnostics-only tool.
type Context struct {
	cncFilePath              string
	driverTimeout            time.Duration
	interServiceTimeout      time.Duration
	keepAliveInterval        time.Duration
	useConductorAgentInvoker bool
	idleStrategyName         string
	errorHandler             func(error)
	availableImageHandler    func(conductor.AvailableImage)
	unavailableImageHandler  func(conductor.UnavailableImage)
	counterReadyHandler      func(registrationID int64, counterID int32)
	counterUnavailHandler    func(registrationID int64, counterID int32)
	logger                   *slog.Logger
	clock                    clock.Clock

	mu        sync.Mutex
	concluded bool
	regions   *connector.Regions
}

// NewContext returns a Context populated with [config.Default]'s
// values, except the inter-service timeout, which is left unset so
// that [Context.Conclude] takes it from the driver's CnC metadata.
// Callers typically narrow a loaded [config.Config] onto it with
// [Context.ApplyConfig] before adjusting anything by hand.
func NewContext() *Context {
	c := &Context{
		idleStrategyName: "backoff",
	}
	defaults := config.Default()
	c.ApplyConfig(defaults)
	c.interServiceTimeout = 0
	return c
}

// ApplyConfig copies cfg's values onto the context, parsing its
// duration strings, including the driver section's client liveness
// timeout as the inter-service timeout. It does not mark the context
// concluded. Call this before any setter overrides you want to take
// precedence over the file.
func (c *Context) ApplyConfig(cfg *config.Config) *Context {
	c.cncFilePath = cfg.Paths.CncFile
	if d, err := time.ParseDuration(cfg.Driver.DriverTimeout); err == nil {
		c.driverTimeout = d
	}
	if d, err := time.ParseDuration(cfg.Driver.ClientLivenessTimeout); err == nil {
		c.interServiceTimeout = d
	}
	if d, err := time.ParseDuration(cfg.Client.KeepaliveInterval); err == nil {
		c.keepAliveInterval = d
	}
	if cfg.Client.IdleStrategy != "" {
		c.idleStrategyName = cfg.Client.IdleStrategy
	}
	return c
}

// CncFilePath overrides the path to the driver's command-and-control
// file.
func (c *Context) CncFilePath(path string) *Context {
	c.cncFilePath = path
	return c
}

// DriverTimeout overrides how long the handshake waits for the CnC
// file to appear and its heartbeat to become fresh.
func (c *Context) DriverTimeout(d time.Duration) *Context {
	c.driverTimeout = d
	return c
}

// InterServiceTimeout overrides how long the conductor may go between
// serviced duty cycles before declaring itself disconnected. If never
// set, [Context.Conclude] defaults it to the driver's own declared
// client liveness timeout.
func (c *Context) InterServiceTimeout(d time.Duration) *Context {
	c.interServiceTimeout = d
	return c
}

// KeepAliveInterval overrides how often the conductor sends a
// keepalive command.
func (c *Context) KeepAliveInterval(d time.Duration) *Context {
	c.keepAliveInterval = d
	return c
}

// UseConductorAgentInvoker selects the embedded-invoker harness
// instead of the default dedicated-goroutine Runner. When true, the
// embedding application must call [Client.DutyCycle] itself.
func (c *Context) UseConductorAgentInvoker(v bool) *Context {
	c.useConductorAgentInvoker = v
	return c
}

// IdleStrategy overrides the Runner idle strategy by name: one of
// "sleeping", "backoff", "busy-spin", "noop". Has no effect when
// UseConductorAgentInvoker is true, since an Invoker never idles on
// its own.
func (c *Context) IdleStrategy(name string) *Context {
	c.idleStrategyName = name
	return c
}

// ErrorHandler overrides the conductor's error handler. The default
// logs the error and leaves the conductor closed.
func (c *Context) ErrorHandler(f func(error)) *Context {
	c.errorHandler = f
	return c
}

// AvailableImageHandler overrides the handler invoked for every
// OnAvailableImage response the conductor observes, regardless of
// which subscription it concerns. The default does nothing; use
// [Client.AddSubscriptionWithAvailableHandler] for a handler scoped to
// one subscription instead.
func (c *Context) AvailableImageHandler(f func(conductor.AvailableImage)) *Context {
	c.availableImageHandler = f
	return c
}

// UnavailableImageHandler overrides the handler invoked for every
// OnUnavailableImage response the conductor observes. The default does
// nothing.
func (c *Context) UnavailableImageHandler(f func(conductor.UnavailableImage)) *Context {
	c.unavailableImageHandler = f
	return c
}

// CounterReadyHandler overrides the handler invoked when a counter
// backing a publication or subscription becomes readable. The default
// does nothing.
func (c *Context) CounterReadyHandler(f func(registrationID int64, counterID int32)) *Context {
	c.counterReadyHandler = f
	return c
}

// CounterUnavailableHandler overrides the handler invoked when such a
// counter is deallocated and must no longer be read. The default does
// nothing.
func (c *Context) CounterUnavailableHandler(f func(registrationID int64, counterID int32)) *Context {
	c.counterUnavailHandler = f
	return c
}

// Logger overrides the structured logger used throughout the client.
func (c *Context) Logger(l *slog.Logger) *Context {
	c.logger = l
	return c
}

// Clock overrides the time source. Tests inject [clock.Fake]; all
// production code should leave this unset and let Conclude default to
// [clock.Real].
func (c *Context) Clock(clk clock.Clock) *Context {
	c.clock = clk
	return c
}

// Conclude fills in defaults and performs the CnC handshake against
// the configured file, if one has not already succeeded. It is
// idempotent: a second call returns nil without repeating the
// handshake.
func (c *Context) Conclude() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.concluded {
		return nil
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.driverTimeout == 0 {
		c.driverTimeout = 10 * time.Second
	}
	if c.keepAliveInterval == 0 {
		c.keepAliveInterval = 500 * time.Millisecond
	}
	if c.cncFilePath == "" {
		return fmt.Errorf("zephyr: no cnc file path configured")
	}

	regions, err := connector.Connect(c.cncFilePath, c.driverTimeout, c.clock)
	if err != nil {
		return fmt.Errorf("zephyr: connecting to driver: %w", err)
	}

	if c.interServiceTimeout == 0 {
		c.interServiceTimeout = time.Duration(regions.Metadata.ClientLivenessTimeoutNs())
	}

	c.logger.Info("connected to driver",
		"cnc_file", c.cncFilePath,
		"cnc_fingerprint", regions.Metadata.Fingerprint(),
		"cnc_version", regions.Metadata.Version())

	c.regions = regions
	c.concluded = true
	return nil
}

func (c *Context) idleStrategy() idlestrategy.Strategy {
	switch c.idleStrategyName {
	case "busy-spin":
		return idlestrategy.BusySpin()
	case "sleeping":
		return idlestrategy.Sleeping(c.clock, 16*time.Millisecond)
	case "noop":
		return idlestrategy.NoOp()
	default:
		return idlestrategy.Backoff(c.clock, time.Millisecond, 16*time.Millisecond)
	}
}

// Close unmaps the CnC region, if Conclude ever mapped one. Safe to
// call even if Conclude was never called or failed.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.regions == nil {
		return nil
	}
	regions := c.regions
	c.regions = nil
	return regions.Close()
}

func (c *Context) metadata() *cncfile.Metadata {
	return c.regions.Metadata
}
