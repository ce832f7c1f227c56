// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"time"

	"github.com/pandagarage/garagelink/pkg/door"
)

// Outcome is how a submitted intent ended
type Outcome int

const (
	// Completed: the drive confirmed the intent, or it was already satisfied
	Completed Outcome = iota
	// TimedOut: no confirming status arrived in time
	TimedOut
	// BusBusy: no idle window to transmit in
	BusBusy
	// Rejected: the door state was untrusted when the intent came up
	Rejected
	// Failed: encoding failed or the engine stopped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed out"
	case BusBusy:
		return "bus busy"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the resolution of a submitted intent
type Result struct {
	Intent      door.Intent
	Outcome     Outcome
	Err         error
	Noop        bool // completed without transmitting
	Enqueued    time.Time
	Transmitted time.Time // zero when nothing was sent
	Resolved    time.Time
}

// Pending is a queued intent waiting for its result
type Pending struct {
	Intent   door.Intent
	Enqueued time.Time

	done   chan struct{}
	result Result

	// dispatch bookkeeping, touched only by the engine goroutine
	waitingSince time.Time
	lastErr      error
}

func newPending(i door.Intent, now time.Time) *Pending {
	return &Pending{Intent: i, Enqueued: now, done: make(chan struct{})}
}

func (p *Pending) resolve(r Result) {
	p.result = r
	close(p.done)
}

// Done is closed once the result is available
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the result. Only valid after Done is closed.
func (p *Pending) Result() Result {
	<-p.done
	return p.result
}

// Wait blocks until the intent resolves or ctx is done
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.result.Err
	case <-ctx.Done():
		return Result{Intent: p.Intent, Enqueued: p.Enqueued}, ctx.Err()
	}
}
