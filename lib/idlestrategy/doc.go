// Copyright 2026 The Zephyr Authors
// SPDX-License-Identifier: Apache-2.0

// Package idlestrategy provides pluggable backoff policies for agent
// duty cycles that found no work on their last pass.
//
// An [agent.Agent]'s DoWork method returns a work count; harnesses
// call [Strategy.Idle] with that count after every invocation. A
// strategy that sees repeated zero-work cycles backs off — from a
// tight spin, to yielding the processor, to parking the goroutine on a
// timer — so an idle conductor does not burn a core while waiting for
// the next driver heartbeat or application call.
package idlestrategy
