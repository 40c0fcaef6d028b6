// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// EpochClock returns wall-clock time in milliseconds since the Unix
// epoch, the unit of the timestamps the driver writes into the CnC
// file. The conductor and the CnC connector do not use it: the
// connector reads epoch milliseconds from its [Clock] directly.
type EpochClock interface {
	// TimeMillis returns the current time in epoch milliseconds.
	TimeMillis() int64
}

// NanoClock returns a high-resolution, monotonic timestamp in
// nanoseconds. The conductor uses this for interval measurements
// (inter-service timeout, keepalive interval) where wall-clock jumps
// (NTP adjustments, DST) must not perturb the duty cycle.
type NanoClock interface {
	// TimeNanos returns the current time in nanoseconds. The epoch is
	// unspecified — only differences between two calls are meaningful.
	TimeNanos() int64
}

// NewEpochClock adapts a Clock into an EpochClock backed by the
// same time source. Pass [Real]() in production and [Fake]() in
// tests so epoch and nano readings stay consistent with whatever
// timers the test is driving.
func NewEpochClock(c Clock) EpochClock {
	return epochClock{c}
}

type epochClock struct{ c Clock }

func (e epochClock) TimeMillis() int64 {
	return e.c.Now().UnixMilli()
}

// NewNanoClock adapts a Clock into a NanoClock backed by the same
// time source.
func NewNanoClock(c Clock) NanoClock {
	return nanoClock{c: c, base: c.Now()}
}

type nanoClock struct {
	c    Clock
	base time.Time
}

// TimeNanos measures from the reading taken at construction, so a
// real Clock's monotonic reading is used rather than wall-clock time.
func (n nanoClock) TimeNanos() int64 {
	return int64(n.c.Now().Sub(n.base))
}

// systemEpochClock and systemNanoClock are zero-allocation clocks
// backed directly by the time package rather than going through a
// Clock indirection. Context does not use them: it works from a
// [Clock] ([Real] unless one is injected), and the conductor defaults
// its NanoClock to [NewNanoClock] over its own Clock.
type systemEpochClock struct{}

// SystemEpochClock returns an EpochClock that reads time.Now.
func SystemEpochClock() EpochClock { return systemEpochClock{} }

func (systemEpochClock) TimeMillis() int64 { return time.Now().UnixMilli() }

type systemNanoClock struct{}

// processStart anchors systemNanoClock so its readings come from the
// monotonic clock.
var processStart = time.Now()

// SystemNanoClock returns a NanoClock that measures monotonic time
// elapsed since this package was initialized.
func SystemNanoClock() NanoClock { return systemNanoClock{} }

func (systemNanoClock) TimeNanos() int64 { return int64(time.Since(processStart)) }
