// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent provides the two harnesses this client uses to drive
// a cooperative duty cycle: [Runner], which dedicates a goroutine to
// repeated DoWork calls, and [Invoker], which lets an embedding
// application call DoWork from its own loop instead.
//
// Both harnesses wrap an [Agent] — most commonly a conductor — and
// never run its DoWork concurrently with itself, matching the
// single-threaded, cooperative design the conductor depends on.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zephyrmq/zephyr-go/clienterrors"
	"github.com/zephyrmq/zephyr-go/lib/idlestrategy"
)

// Agent is the minimal lifecycle a harness drives: a name for
// diagnostics, a one-time start hook, a repeated work callback, and a
// one-time close hook.
type Agent interface {
	// RoleName identifies this agent in logs and panics.
	RoleName() string

	// OnStart is called once before the first DoWork call.
	OnStart() error

	// DoWork performs one unit of work and returns how much progress
	// was made. A Runner or Invoker uses this count to decide whether
	// to idle before the next call.
	DoWork() (int, error)

	// OnClose is called once, after the last DoWork call, whether the
	// harness stopped normally or due to an error.
	OnClose() error
}

// ErrorHandler is invoked with any error DoWork or OnStart returns.
// The default handler used when none is supplied just logs the
// error; an OnStart error always stops the harness, and a DoWork
// error stops it only if it is a *clienterrors.DriverTimeoutError,
// otherwise the duty cycle keeps running.
type ErrorHandler func(err error)

// Runner drives an Agent's duty cycle on a dedicated goroutine, idling
// between zero-work cycles according to a configurable Strategy.
type Runner struct {
	agent    Agent
	strategy idlestrategy.Strategy
	onError  ErrorHandler
	logger   *slog.Logger

	done    chan struct{}
	closing atomic.Bool
	runErr  atomic.Value // error
	onReady func(error)
}

// NewRunner returns a Runner that drives agent on its own goroutine
// once Start is called. onError may be nil, in which case errors are
// only logged via logger; see [ErrorHandler] for which errors stop
// the goroutine.
func NewRunner(a Agent, strategy idlestrategy.Strategy, onError ErrorHandler, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		agent:    a,
		strategy: strategy,
		onError:  onError,
		logger:   logger,
		done:     make(chan struct{}),
	}
	if r.onError == nil {
		r.onError = r.defaultErrorHandler
	}
	return r
}

// defaultErrorHandler runs on the Runner's own goroutine, inside run's
// call frame. It must not call Close: Close blocks on r.done, which
// only the deferred close in run unblocks, and that defer has not yet
// fired while run is still executing this handler. It only logs;
// deciding whether an error is fatal (and therefore whether to record
// runErr and stop the loop) is run's job, since a DoWork error is not
// always terminal.
func (r *Runner) defaultErrorHandler(err error) {
	r.logger.Error("agent error", "role", r.agent.RoleName(), "error", err)
}

// Start spawns the dedicated goroutine and returns immediately. It
// must be called at most once.
func (r *Runner) Start() {
	go r.run()
}

// StartAndWaitForReady spawns the dedicated goroutine and blocks until
// OnStart has returned, so a test or caller that needs the agent fully
// initialized before proceeding does not race the goroutine's startup.
// If OnStart fails, the goroutine still exits through the normal error
// path and StartAndWaitForReady returns that error.
func (r *Runner) StartAndWaitForReady() error {
	ready := make(chan error, 1)
	r.onReady = func(err error) { ready <- err }
	go r.run()
	return <-ready
}

func (r *Runner) run() {
	defer close(r.done)

	if err := r.agent.OnStart(); err != nil {
		wrapped := fmt.Errorf("%s: OnStart: %w", r.agent.RoleName(), err)
		if r.onReady != nil {
			r.onReady(wrapped)
		}
		r.onError(wrapped)
		r.runErr.Store(wrapped)
		r.closing.Store(true)
		r.closeAgent()
		return
	}
	if r.onReady != nil {
		r.onReady(nil)
	}

	for !r.closing.Load() {
		workCount, err := r.agent.DoWork()
		if err != nil {
			wrapped := fmt.Errorf("%s: DoWork: %w", r.agent.RoleName(), err)
			r.onError(wrapped)

			// Only a DriverTimeout ends the loop; any other DoWork
			// error is reported and the agent keeps running.
			var driverTimeout *clienterrors.DriverTimeoutError
			if errors.As(err, &driverTimeout) {
				r.runErr.Store(wrapped)
				r.closing.Store(true)
				break
			}
			continue
		}
		r.strategy.Idle(workCount)
	}

	r.closeAgent()
}

func (r *Runner) closeAgent() {
	if err := r.agent.OnClose(); err != nil {
		r.logger.Error("agent close failed", "role", r.agent.RoleName(), "error", err)
	}
}

// Close signals the runner's goroutine to stop after its current
// DoWork call returns, then blocks until it has exited and OnClose has
// run.
func (r *Runner) Close() {
	if r.closing.CompareAndSwap(false, true) {
		<-r.done
		return
	}
	<-r.done
}

// Err returns the error that caused the runner to stop, or nil if it
// has not stopped or stopped via Close without a DoWork error.
func (r *Runner) Err() error {
	if v := r.runErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Invoker embeds an Agent's duty cycle into a caller-controlled loop
// instead of spawning a goroutine. The embedding application calls
// Invoke repeatedly (for example from its own event loop), and must
// call Close exactly once when done. Invoker never spawns a goroutine
// of its own.
type Invoker struct {
	agent   Agent
	logger  *slog.Logger
	once    sync.Once
	started bool
	closed  bool
}

// NewInvoker returns an Invoker wrapping agent. OnStart is deferred
// until the first Invoke call.
func NewInvoker(a Agent, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{agent: a, logger: logger}
}

// Invoke runs OnStart (on the first call only) and then one DoWork
// call, returning the work count DoWork reported. Calling Invoke after
// Close returns an error without touching the agent.
func (inv *Invoker) Invoke() (int, error) {
	if inv.closed {
		return 0, fmt.Errorf("%s: invoked after close", inv.agent.RoleName())
	}
	if !inv.started {
		inv.started = true
		if err := inv.agent.OnStart(); err != nil {
			return 0, fmt.Errorf("%s: OnStart: %w", inv.agent.RoleName(), err)
		}
	}
	return inv.agent.DoWork()
}

// Close calls OnClose exactly once, even if Close is called multiple
// times or concurrently.
func (inv *Invoker) Close() error {
	var err error
	inv.once.Do(func() {
		inv.closed = true
		err = inv.agent.OnClose()
	})
	return err
}

// RunUntil is a convenience helper for Runner-style usage without
// spawning a goroutine: it calls Invoke in a loop, idling between
// zero-work cycles, until ctx is cancelled or DoWork returns an error.
func RunUntil(ctx context.Context, inv *Invoker, strategy idlestrategy.Strategy) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		workCount, err := inv.Invoke()
		if err != nil {
			return err
		}
		strategy.Idle(workCount)
	}
}
