// Package clock abstracts wall time so the engine can be driven
// deterministically in tests.
package clock

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Clock supplies wall time and cancellable sleeps.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the production clock.
type System struct{}

// NewSystem returns the real-time clock.
func NewSystem() System { return System{} }

// Now returns the current wall time.
func (System) Now() time.Time { return time.Now() }

// Since reports the elapsed wall time from t.
func (System) Since(t time.Time) time.Duration { return time.Since(t) }

// Sleep blocks for d or until ctx is done, whichever comes first.
func (System) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Manual is a test clock whose time only moves via Advance. Sleep returns
// immediately so loops driven by it can be stepped from the test body.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a manual clock pinned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the pinned time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Since reports elapsed pinned time from t.
func (m *Manual) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Sleep consumes no real time; it only honors prior cancellation.
func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Advance(d)
	return nil
}

// Advance moves the pinned time forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// SampleDelay draws a uniformly distributed duration from [min, max].
// Degenerate ranges collapse to min.
func SampleDelay(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	return min + time.Duration(rng.Int63n(span+1))
}
