// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

package idlestrategy

import (
	"runtime"
	"time"

	"github.com/zephyrmq/zephyr-go/lib/clock"
)

// Strategy is invoked by an agent harness after every DoWork call with
// the number of work units that call performed. A Strategy that
// receives zero repeatedly should back off; one that receives
// positive work counts should reset and return immediately so the
// next cycle starts without added latency.
type Strategy interface {
	// Idle is called once per duty cycle with the work count from the
	// most recent DoWork invocation. Implementations must return
	// promptly when workCount > 0.
	Idle(workCount int)

	// Reset clears any accumulated backoff state. Harnesses call this
	// when they want the next Idle call to behave as if no idle
	// cycles had occurred — for example, right after start.
	Reset()
}

// sleeping parks the calling goroutine for a fixed duration whenever
// DoWork reports no work. A Context selects it by the name "sleeping"
// and then sleeps 16ms per idle cycle; it is not the Context default,
// which is Backoff.
type sleeping struct {
	clock    clock.Clock
	duration time.Duration
}

// Sleeping returns a Strategy that sleeps for the given duration on
// every zero-work cycle and returns immediately otherwise. Pass
// [clock.Real] in production; tests can inject [clock.Fake] to avoid
// real wall-clock delay.
func Sleeping(c clock.Clock, duration time.Duration) Strategy {
	return &sleeping{clock: c, duration: duration}
}

func (s *sleeping) Idle(workCount int) {
	if workCount > 0 {
		return
	}
	s.clock.Sleep(s.duration)
}

func (s *sleeping) Reset() {}

// busySpin never yields. Use only for latency-critical embedding
// where the caller dedicates a core to the agent and accepts 100% CPU
// usage while idle.
type busySpin struct{}

// BusySpin returns a Strategy that never sleeps or yields. Every Idle
// call returns immediately regardless of work count.
func BusySpin() Strategy { return busySpin{} }

func (busySpin) Idle(int) {}
func (busySpin) Reset()   {}

// backoff escalates from spinning, to yielding the OS thread, to
// parking for increasing durations, resetting back to a spin the
// moment work resumes. This trades a little latency on the first idle
// cycles for much lower CPU usage when the driver genuinely has
// nothing to say for an extended period.
type backoff struct {
	clock clock.Clock

	spinLimit  int
	yieldLimit int
	minPark    time.Duration
	maxPark    time.Duration

	state    int
	parkTime time.Duration
}

// Backoff returns an escalating Strategy: spin, then
// runtime.Gosched, then park for a duration that doubles from minPark
// up to maxPark on sustained idleness.
func Backoff(c clock.Clock, minPark, maxPark time.Duration) Strategy {
	return &backoff{
		clock:      c,
		spinLimit:  10,
		yieldLimit: 20,
		minPark:    minPark,
		maxPark:    maxPark,
	}
}

func (b *backoff) Idle(workCount int) {
	if workCount > 0 {
		b.Reset()
		return
	}

	switch {
	case b.state < b.spinLimit:
		b.state++
	case b.state < b.spinLimit+b.yieldLimit:
		runtime.Gosched()
		b.state++
	default:
		if b.parkTime == 0 {
			b.parkTime = b.minPark
		}
		b.clock.Sleep(b.parkTime)
		if b.parkTime < b.maxPark {
			b.parkTime *= 2
			if b.parkTime > b.maxPark {
				b.parkTime = b.maxPark
			}
		}
	}
}

func (b *backoff) Reset() {
	b.state = 0
	b.parkTime = 0
}

// noOp never idles and never sleeps; DoWork is expected to be called
// again immediately by the caller. Useful when an external scheduler
// (not this package's harnesses) controls pacing.
type noOp struct{}

// NoOp returns a Strategy whose Idle call is a no-op.
func NoOp() Strategy { return noOp{} }

func (noOp) Idle(int) {}
func (noOp) Reset()   {}
