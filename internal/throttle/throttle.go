// Package throttle limits PIN attempts per origin address.
//
// An origin is clear until its first failure. Failures are counted in a window
// that starts at the first failure of the current streak; reaching the
// threshold inside the window locks the origin for a fixed duration. A success
// clears the origin.
//
// Allow reserves an attempt before the credential is checked, and the
// reservation counts against the threshold until Fail, Succeed or Release
// settles it. Concurrent attempts from one origin therefore never reach
// verification more often than the threshold allows.
package throttle

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Defaults.
const (
	DefaultMaxFailures   = 5
	DefaultWindow        = 15 * time.Minute
	DefaultLockDuration  = 5 * time.Minute
	DefaultGCProbability = 0.01
)

var ErrLocked = errors.New("too many failed attempts")

// LockedError reports a locked origin and how long the lock still holds.
type LockedError struct {
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%v, retry in %d seconds", ErrLocked, e.RetryAfterSeconds())
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// RetryAfterSeconds rounds the remaining lock up to whole seconds.
func (e *LockedError) RetryAfterSeconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

// Result is the state of an origin after a failed attempt.
type Result struct {
	// Remaining is the number of failures left before a lock.
	Remaining int
	// LockedFor is non-zero when the origin is locked after this failure.
	LockedFor time.Duration
	// Locked is set only on the failure that imposed the lock.
	Locked bool
}

// Throttle tracks failed attempts per origin key.
type Throttle struct {
	store         Store
	now           func() time.Time
	maxFailures   int
	window        time.Duration
	lockDuration  time.Duration
	gcProbability float64
	random        func() float64
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// WithLimits sets the failure threshold, counting window and lock duration.
func WithLimits(maxFailures int, window, lock time.Duration) Option {
	return func(t *Throttle) {
		t.maxFailures = maxFailures
		t.window = window
		t.lockDuration = lock
	}
}

// WithGCProbability sets the chance that an Allow call purges expired records.
func WithGCProbability(p float64) Option {
	return func(t *Throttle) { t.gcProbability = p }
}

// New returns a throttle over store. A nil store gets a fresh MemoryStore.
func New(store Store, opts ...Option) *Throttle {
	t := &Throttle{
		now:           time.Now,
		maxFailures:   DefaultMaxFailures,
		window:        DefaultWindow,
		lockDuration:  DefaultLockDuration,
		gcProbability: DefaultGCProbability,
		random:        rand.Float64,
	}
	for _, opt := range opts {
		opt(t)
	}
	if store == nil {
		store = NewMemoryStore(t.window + t.lockDuration)
	}
	t.store = store
	return t
}

// Allow reserves an attempt for key. It returns a *LockedError if key is
// locked, or if failures and attempts still in flight already reach the
// threshold. An expired lock is cleared. Every nil return must be settled with
// Fail, Succeed or Release.
func (t *Throttle) Allow(key string) error {
	if t.gcProbability > 0 && t.random() < t.gcProbability {
		t.store.Purge()
	}

	now := t.now()
	var remaining time.Duration
	t.store.Update(key, func(rec *Record) {
		if !rec.LockedUntil.IsZero() {
			if now.Before(rec.LockedUntil) {
				remaining = rec.LockedUntil.Sub(now)
				return
			}
			*rec = Record{Pending: rec.Pending}
		}
		if rec.Failures > 0 && now.Sub(rec.WindowStart) >= t.window {
			rec.Failures = 0
			rec.WindowStart = time.Time{}
		}
		if rec.Failures+rec.Pending >= t.maxFailures {
			// The attempts in flight decide whether the origin locks.
			remaining = t.lockDuration
			return
		}
		rec.Pending++
	})

	if remaining > 0 {
		return &LockedError{Remaining: remaining}
	}
	return nil
}

// Release gives back a reservation that ended without checking a credential.
func (t *Throttle) Release(key string) {
	t.store.Update(key, func(rec *Record) {
		if rec.Pending > 0 {
			rec.Pending--
		}
	})
}

// Fail settles a reservation of key as a failed attempt. The increment and
// the threshold comparison happen in one store update.
func (t *Throttle) Fail(key string) Result {
	now := t.now()
	var res Result
	t.store.Update(key, func(rec *Record) {
		if rec.Pending > 0 {
			rec.Pending--
		}
		if !rec.LockedUntil.IsZero() {
			if now.Before(rec.LockedUntil) {
				res.LockedFor = rec.LockedUntil.Sub(now)
				return
			}
			*rec = Record{Pending: rec.Pending}
		}

		if rec.Failures == 0 || now.Sub(rec.WindowStart) >= t.window {
			rec.Failures = 0
			rec.WindowStart = now
		}
		rec.Failures++

		if rec.Failures >= t.maxFailures {
			*rec = Record{Pending: rec.Pending, LockedUntil: now.Add(t.lockDuration)}
			res.LockedFor = t.lockDuration
			res.Locked = true
			return
		}
		res.Remaining = t.maxFailures - rec.Failures
	})
	return res
}

// Succeed settles a reservation of key as a successful attempt and clears the
// failures of key. Other attempts still in flight keep their reservations.
func (t *Throttle) Succeed(key string) {
	t.store.Update(key, func(rec *Record) {
		pending := rec.Pending
		if pending > 0 {
			pending--
		}
		*rec = Record{Pending: pending}
	})
}
