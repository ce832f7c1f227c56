// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package retry provides bounded retry with exponential backoff for opening
// ports and connecting to brokers. It is never used on the goroutine that
// owns the bus.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Policy describes how often and how fast to retry
type Policy struct {
	MaxAttempts int // 0 retries forever
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the delay added at random
}

// DefaultPolicy reconnects forever, from one second doubling to 30 seconds
func DefaultPolicy() Policy {
	return Policy{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.25,
	}
}

// Backoff calculates exponential backoff delays with jitter
type Backoff struct {
	mu       sync.Mutex
	policy   Policy
	current  time.Duration
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a backoff calculator, filling unset policy fields from
// DefaultPolicy
func NewBackoff(p Policy) *Backoff {
	def := DefaultPolicy()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return &Backoff{
		policy:  p,
		current: p.Initial,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next delay (with jitter) and advances the backoff
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)
	b.attempts++
	next := time.Duration(float64(b.current) * b.policy.Multiplier)
	if next > b.policy.Max {
		next = b.policy.Max
	}
	b.current = next
	return delay
}

// Peek returns the current delay without advancing
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Reset returns to the initial delay. Call it after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.policy.Initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.policy.Jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.policy.Jitter*b.rng.Float64())
}

// ErrExhausted wraps the last error once MaxAttempts is reached
var ErrExhausted = errors.New("retry attempts exhausted")

// Permanent marks an error that must not be retried
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Do calls fn until it succeeds, returns a Permanent error, the policy runs
// out of attempts or ctx is done. onRetry, when set, is told about each
// failure before the wait.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	b := NewBackoff(p)
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		wait := b.Next()
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
