// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that polling and
// supervision loops can be tested deterministically.
//
// Code that paces itself with time.Now, time.After, time.NewTicker, or
// time.Sleep takes a Clock instead, either as a parameter or as a struct
// field. Production wiring passes System(); tests pass a *Fake whose time
// only moves when Advance is called:
//
//	fake := clock.NewFake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
//	poller := &Poller{clock: fake}
//	go poller.Run(ctx)
//	fake.WaitForSleepers(1)      // loop has registered its tick
//	fake.Advance(time.Minute)    // fire it deterministically
package clock

import "time"

// Clock is the time surface used by Lyra's loops: current time, one-shot
// waits, periodic ticks, and plain sleeps.
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

// Ticker delivers periodic ticks on C. C is buffered with capacity 1;
// a consumer that falls behind loses ticks instead of queueing them,
// matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop turns the ticker off. It does not close C.
func (t *Ticker) Stop() { t.stop() }

// Reset changes the interval; the next tick arrives after the new
// duration.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// System returns a Clock backed by the time package.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (systemClock) Sleep(d time.Duration)                  { time.Sleep(d) }

func (systemClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{
		C:     ticker.C,
		stop:  ticker.Stop,
		reset: ticker.Reset,
	}
}
