// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code takes a
// Clock (usually as a struct field) instead of calling the time package
// directly; tests inject a Fake clock and advance it deterministically.
//
// The interface is deliberately small: it covers the operations the
// coordination core actually performs (deadline reads, backoff sleeps,
// periodic loops). Anything else belongs to the standard library.
package clock

import "time"

// Clock is the time source injected into every component that reads the
// current time, sleeps, or runs a periodic loop.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering on C every d. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker is a periodic timer. Its C channel has capacity 1; ticks the
// consumer misses are dropped, not queued.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop ends delivery. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (systemClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}

func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }
