// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package engine runs the door bus: a single polling goroutine reads and
// decodes frames, keeps the door model current and dispatches queued
// commands one at a time onto the half-duplex line.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/hcp"
)

// Engine errors
var (
	ErrUntrusted = errors.New("door state untrusted")
	ErrBusBusy   = errors.New("no idle bus window")
	ErrTimedOut  = errors.New("command not confirmed")
	ErrQueueFull = errors.New("command queue full")
	ErrStopped   = errors.New("engine stopped")
)

// Transport is the half-duplex line the engine owns
type Transport interface {
	ReadAvailable() ([]byte, error)
	Idle() bool
	Transmit(frame []byte) error
}

// Codec turns bytes into door frames and intents into bytes
type Codec interface {
	Decode(buf []byte) (*door.Frame, int, error)
	Encode(i door.Intent) ([]byte, error)
}

// Clock tells time; tests substitute a fake
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config holds engine tuning
type Config struct {
	QueueSize       int
	CycleInterval   time.Duration
	IdleTimeout     time.Duration // waiting for an idle window
	ConfirmTimeout  time.Duration // waiting for a confirming status
	MaxMissedFrames int           // non-confirming status frames tolerated
	SilenceWindow   time.Duration // without status frames before trust is lost
	Clock           Clock
}

// DefaultConfig returns the settings used in production
func DefaultConfig() Config {
	return Config{
		QueueSize:       8,
		CycleInterval:   5 * time.Millisecond,
		IdleTimeout:     2 * time.Second,
		ConfirmTimeout:  5 * time.Second,
		MaxMissedFrames: 20,
		SilenceWindow:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = def.CycleInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = def.ConfirmTimeout
	}
	if c.MaxMissedFrames <= 0 {
		c.MaxMissedFrames = def.MaxMissedFrames
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = def.SilenceWindow
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	return c
}

// maxBuffered bounds undecoded input kept between cycles
const maxBuffered = 4096

type inflight struct {
	p        *Pending
	baseline door.Snapshot
	sent     time.Time
	missed   int
}

// Engine is the door protocol engine
type Engine struct {
	cfg       Config
	log       *zap.SugaredLogger
	transport Transport
	codec     Codec
	clock     Clock

	feed    *door.Feed
	machine *door.Machine
	cursor  *door.Cursor
	stats   *Stats

	mu      sync.Mutex // guards stopped against queue sends
	stopped bool
	queue   chan *Pending
	kick    chan struct{}

	// owned by the polling goroutine
	buf        []byte
	head       *Pending
	flight     *inflight
	readFailed bool
}

// New creates an engine. Nothing happens on the bus until Run.
func New(t Transport, c Codec, cfg Config, log *zap.SugaredLogger) *Engine {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	feed := door.NewFeed()
	return &Engine{
		cfg:       cfg,
		log:       log,
		transport: t,
		codec:     c,
		clock:     cfg.Clock,
		feed:      feed,
		machine:   door.NewMachine(feed),
		cursor:    feed.Subscribe(),
		stats:     newStats(cfg.Clock.Now()),
		queue:     make(chan *Pending, cfg.QueueSize),
		kick:      make(chan struct{}, 1),
	}
}

// Run polls the bus until ctx is done, then resolves every queued and
// in-flight intent with ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Infow("Engine started",
		"cycle", e.cfg.CycleInterval,
		"queue", e.cfg.QueueSize,
		"silence_window", e.cfg.SilenceWindow)
	defer e.shutdown()

	ticker := time.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		e.Cycle()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-e.kick:
		}
	}
}

// Cycle runs one polling cycle: frame intake, trust expiry, confirmation
// timeout, then at most one dispatch step. Run calls it; tests drive it
// directly.
func (e *Engine) Cycle() {
	e.intake()

	now := e.clock.Now()
	if e.machine.Expire(now, e.cfg.SilenceWindow) {
		e.stats.TrustLosses.Add(1)
		e.log.Warnw("Door state no longer trusted", "silence", e.cfg.SilenceWindow)
	}

	e.checkFlight(now)
	e.dispatch(now)
}

func (e *Engine) intake() {
	data, err := e.transport.ReadAvailable()
	if err != nil {
		if !e.readFailed {
			e.log.Warnw("Bus read failed", "error", err)
			e.readFailed = true
		}
	} else if e.readFailed {
		e.log.Infow("Bus read recovered")
		e.readFailed = false
	}
	if len(data) == 0 && len(e.buf) == 0 {
		return
	}
	e.stats.BytesReceived.Add(uint64(len(data)))
	e.buf = append(e.buf, data...)

	rest := e.buf
	for len(rest) > 0 {
		f, n, err := e.codec.Decode(rest)
		if n > len(rest) {
			n = len(rest)
		}
		rest = rest[n:]

		if err != nil {
			e.countDecodeError(err)
		} else if f != nil {
			e.apply(*f)
		}
		if n == 0 {
			break
		}
	}

	if len(rest) > maxBuffered {
		rest = rest[len(rest)-maxBuffered:]
	}
	e.buf = append(e.buf[:0], rest...)
}

func (e *Engine) countDecodeError(err error) {
	switch {
	case errors.Is(err, hcp.ErrCRCMismatch):
		e.stats.CRCErrors.Add(1)
	case errors.Is(err, hcp.ErrInvalidPayload):
		e.stats.InvalidPayloads.Add(1)
	default:
		e.stats.DecodeErrors.Add(1)
	}
	e.log.Debugw("Discarded frame", "error", err)
}

func (e *Engine) apply(f door.Frame) {
	now := e.clock.Now()
	e.stats.frameSeen(now)

	switch f.Kind {
	case door.FrameStatus:
		e.stats.StatusFrames.Add(1)
	case door.FrameLight:
		e.stats.LightFrames.Add(1)
	default:
		e.stats.ForeignFrames.Add(1)
		return
	}

	wasTrusted := e.machine.IsTrusted()
	if e.machine.ApplyFrame(f, now) {
		s := e.machine.Snapshot()
		if !wasTrusted && s.Trusted {
			e.log.Infow("Door state trusted", "state", s.Label, "position", s.CurrentPercent())
		}
		e.log.Debugw("Door changed", "state", s.Label, "position", s.CurrentPercent(),
			"target", s.TargetPercent(), "light", s.Light, "revision", s.Revision)
	}

	if e.flight == nil {
		return
	}
	s := e.machine.Snapshot()
	if s.Confirms(e.flight.p.Intent, e.flight.baseline) {
		fl := e.flight
		e.flight = nil
		e.finish(fl.p, Completed, nil, false)
		return
	}
	if f.Kind == door.FrameStatus {
		e.flight.missed++
	}
}

func (e *Engine) checkFlight(now time.Time) {
	fl := e.flight
	if fl == nil {
		return
	}
	if fl.missed < e.cfg.MaxMissedFrames && now.Sub(fl.sent) < e.cfg.ConfirmTimeout {
		return
	}
	e.flight = nil
	e.finish(fl.p, TimedOut, fmt.Errorf("%w: %s after %d status frames", ErrTimedOut, fl.p.Intent, fl.missed), false)
}

func (e *Engine) dispatch(now time.Time) {
	if e.flight != nil {
		return
	}
	if e.head == nil {
		select {
		case p := <-e.queue:
			p.waitingSince = now
			e.head = p
		default:
			return
		}
	}

	p := e.head
	s := e.machine.Snapshot()

	if !s.Trusted {
		e.head = nil
		e.finish(p, Rejected, ErrUntrusted, false)
		return
	}
	if s.Redundant(p.Intent) {
		e.head = nil
		e.finish(p, Completed, nil, true)
		return
	}

	if !e.transport.Idle() {
		e.expireHead(p, now)
		return
	}

	frame, err := e.codec.Encode(p.Intent)
	if err != nil {
		e.head = nil
		e.finish(p, Failed, err, false)
		return
	}

	if err := e.transport.Transmit(frame); err != nil {
		e.stats.TransmitErrors.Add(1)
		p.lastErr = err
		e.log.Debugw("Transmit deferred", "intent", p.Intent.String(), "error", err)
		e.expireHead(p, now)
		return
	}

	e.stats.Transmissions.Add(1)
	e.head = nil
	p.result.Transmitted = now
	e.flight = &inflight{p: p, baseline: s, sent: now}
	e.log.Infow("Command sent", "intent", p.Intent.String(), "state", s.Label)
}

// expireHead fails the head intent once it waited IdleTimeout for the line
func (e *Engine) expireHead(p *Pending, now time.Time) {
	if now.Sub(p.waitingSince) < e.cfg.IdleTimeout {
		return
	}
	e.head = nil
	err := ErrBusBusy
	if p.lastErr != nil {
		err = fmt.Errorf("%w: %w", ErrBusBusy, p.lastErr)
	}
	e.finish(p, BusBusy, err, false)
}

func (e *Engine) finish(p *Pending, outcome Outcome, err error, noop bool) {
	r := Result{
		Intent:      p.Intent,
		Outcome:     outcome,
		Err:         err,
		Noop:        noop,
		Enqueued:    p.Enqueued,
		Transmitted: p.result.Transmitted,
		Resolved:    e.clock.Now(),
	}

	switch outcome {
	case Completed:
		if noop {
			e.stats.Noops.Add(1)
		} else {
			e.stats.Completed.Add(1)
		}
	case TimedOut:
		e.stats.TimedOut.Add(1)
	case BusBusy:
		e.stats.BusBusy.Add(1)
	case Rejected:
		e.stats.Rejected.Add(1)
	default:
		e.stats.Failed.Add(1)
	}

	if err != nil && !errors.Is(err, ErrStopped) {
		e.log.Warnw("Command "+outcome.String(), "intent", p.Intent.String(), "error", err)
	} else {
		e.log.Infow("Command "+outcome.String(), "intent", p.Intent.String(), "noop", noop,
			"latency", r.Resolved.Sub(p.Enqueued))
	}
	p.resolve(r)
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	if e.flight != nil {
		e.finish(e.flight.p, Failed, ErrStopped, false)
		e.flight = nil
	}
	if e.head != nil {
		e.finish(e.head, Failed, ErrStopped, false)
		e.head = nil
	}
	for {
		select {
		case p := <-e.queue:
			e.finish(p, Failed, ErrStopped, false)
		default:
			e.log.Infow("Engine stopped")
			return
		}
	}
}

// Enqueue validates an intent and queues it for dispatch. Invalid intents,
// intents while the door is untrusted and intents that find the queue full
// are refused synchronously and never queued.
func (e *Engine) Enqueue(i door.Intent) (*Pending, error) {
	if err := i.Validate(); err != nil {
		e.stats.Rejected.Add(1)
		return nil, err
	}
	if !e.feed.Latest().Trusted {
		e.stats.Rejected.Add(1)
		return nil, ErrUntrusted
	}

	p := newPending(i, e.clock.Now())

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, ErrStopped
	}
	select {
	case e.queue <- p:
	default:
		e.stats.QueueFull.Add(1)
		return nil, ErrQueueFull
	}

	select {
	case e.kick <- struct{}{}:
	default:
	}
	return p, nil
}

// Submit enqueues an intent and waits for its result
func (e *Engine) Submit(ctx context.Context, i door.Intent) (Result, error) {
	p, err := e.Enqueue(i)
	if err != nil {
		return Result{Intent: i, Outcome: Rejected, Err: err}, err
	}
	return p.Wait(ctx)
}

// Snapshot returns the latest published door snapshot
func (e *Engine) Snapshot() door.Snapshot {
	return e.feed.Latest()
}

// IsTrusted reports whether the door state reflects recent bus traffic
func (e *Engine) IsTrusted() bool {
	return e.feed.Latest().Trusted
}

// PollChanged returns the latest snapshot once per revision, on the
// engine's own cursor
func (e *Engine) PollChanged() (door.Snapshot, bool) {
	return e.cursor.PollChanged()
}

// Acknowledge marks the last polled snapshot as handled
func (e *Engine) Acknowledge() {
	e.cursor.Acknowledge()
}

// Changed reports whether an unacknowledged change exists
func (e *Engine) Changed() bool {
	return e.cursor.Changed()
}

// Subscribe returns a cursor for an additional consumer
func (e *Engine) Subscribe() *door.Cursor {
	return e.feed.Subscribe()
}

// Unsubscribe releases a cursor obtained from Subscribe
func (e *Engine) Unsubscribe(c *door.Cursor) {
	e.feed.Unsubscribe(c)
}

// Stats returns the live counters
func (e *Engine) Stats() *Stats {
	return e.stats
}

// StatsSnapshot copies the counters
func (e *Engine) StatsSnapshot() StatsSnapshot {
	return e.stats.Snapshot(e.clock.Now())
}
