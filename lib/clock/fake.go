// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a deterministic clock frozen at initial. Time moves only
// through Advance. Sleeps, After channels, and tickers register waiters
// that fire when Advance crosses their deadline.
//
// Safe for concurrent use. Tests that start goroutines which register
// timers should call WaitForWaiters before Advance to close the window
// between registration and advancement.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{current: initial}
	fake.registered = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock implements Clock with manually controlled time.
type FakeClock struct {
	mu         sync.Mutex
	current    time.Time
	waiters    []*waiter
	registered *sync.Cond
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time

	// period is non-zero for ticker waiters, which reschedule at
	// deadline+period after each fire.
	period time.Duration

	stopped bool
}

// Now returns the frozen current time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// After registers a one-shot waiter due at now+d. Non-positive d
// delivers immediately without registering.
func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.current
		return ch
	}
	f.waiters = append(f.waiters, &waiter{deadline: f.current.Add(d), ch: ch})
	f.registered.Broadcast()
	return ch
}

// NewTicker registers a repeating waiter with period d.
func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &waiter{deadline: f.current.Add(d), ch: ch, period: d}
	f.waiters = append(f.waiters, w)
	f.registered.Broadcast()

	return &Ticker{
		C: ch,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			w.stopped = true
		},
	}
}

// Sleep blocks until Advance moves the clock past now+d.
func (f *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-f.After(d)
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline falls inside the new window, in deadline order. Channel
// sends are non-blocking: a full buffer drops the tick, matching
// time.Ticker. Tickers spanning several periods fire once per period.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	target := f.current
	f.mu.Unlock()

	for {
		due := f.takeDue(target)
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})
		for _, w := range due {
			select {
			case w.ch <- target:
			default:
			}
		}
	}
}

// takeDue removes waiters due at or before target, rescheduling tickers
// for their next period.
func (f *FakeClock) takeDue(target time.Time) []*waiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due, keep []*waiter
	for _, w := range f.waiters {
		if w.stopped {
			continue
		}
		if w.deadline.After(target) {
			keep = append(keep, w)
			continue
		}
		due = append(due, w)
		if w.period > 0 {
			w.deadline = w.deadline.Add(w.period)
			keep = append(keep, w)
		}
	}
	f.waiters = keep
	return due
}

// WaitForWaiters blocks until at least n waiters are registered and
// live. Call this after starting a goroutine that sleeps or ticks, and
// before Advance, to make the test deterministic.
func (f *FakeClock) WaitForWaiters(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.liveLocked() < n {
		f.registered.Wait()
	}
}

// Waiters returns the number of live registered waiters.
func (f *FakeClock) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveLocked()
}

func (f *FakeClock) liveLocked() int {
	n := 0
	for _, w := range f.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}
