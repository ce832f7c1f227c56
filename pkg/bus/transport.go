// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bus implements the half-duplex transport under the door protocol:
// a background reader, line idle detection and transmit-enable handling.
package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pandagarage/garagelink/pkg/retry"
)

// Transport errors
var (
	ErrLineBusy = errors.New("bus line busy")
	ErrPortDown = errors.New("bus port down")
	ErrClosed   = errors.New("transport closed")
)

// Clock tells time; tests substitute a fake
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// Drainer is implemented by ports that can wait for the transmit buffer to
// empty (serial.Port does)
type Drainer interface {
	Drain() error
}

// Dialer reopens the port after it failed
type Dialer func(ctx context.Context) (io.ReadWriter, error)

// Config holds transport settings
type Config struct {
	// QuietInterval is how long the line must be silent before we talk
	QuietInterval time.Duration
	// Reopen, when set, is used to recover from port read errors
	Reopen Dialer
	// ReopenPolicy is the backoff used with Reopen
	ReopenPolicy retry.Policy
	// Clock defaults to SystemClock
	Clock Clock
}

// DefaultQuietInterval is roughly three character times at 19200 baud plus
// margin for the drive's turnaround.
const DefaultQuietInterval = 3 * time.Millisecond

// Transport is a half-duplex bus connection. ReadAvailable, Idle and
// Transmit are meant to be called from the single goroutine that owns the
// bus; the reader runs in the background.
type Transport struct {
	log   *zap.SugaredLogger
	dir   DirectionLine
	clock Clock
	quiet time.Duration

	reopen Dialer
	policy retry.Policy

	portMu sync.Mutex
	port   io.ReadWriter

	txMu sync.Mutex

	lastActivity atomic.Int64 // unix nanoseconds
	down         atomic.Bool
	rx           chan []byte

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a transport on port. Call Start to begin reading.
func New(port io.ReadWriter, dir DirectionLine, cfg Config, log *zap.SugaredLogger) *Transport {
	if dir == nil {
		dir = NoLine{}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.QuietInterval <= 0 {
		cfg.QuietInterval = DefaultQuietInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	t := &Transport{
		log:    log,
		dir:    dir,
		clock:  cfg.Clock,
		quiet:  cfg.QuietInterval,
		reopen: cfg.Reopen,
		policy: cfg.ReopenPolicy,
		port:   port,
		rx:     make(chan []byte, 64),
	}
	// Nothing is sent before one full quiet interval has been observed
	t.touch()
	return t
}

// Start launches the background reader
func (t *Transport) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.rx)
		t.pump(ctx)
	}()
}

// Close stops the reader and releases the port and direction line
func (t *Transport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}

	var errs []error
	if c, ok := t.currentPort().(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, t.dir.Close())
	t.wg.Wait()
	return errors.Join(errs...)
}

func (t *Transport) currentPort() io.ReadWriter {
	t.portMu.Lock()
	defer t.portMu.Unlock()
	return t.port
}

func (t *Transport) touch() {
	t.lastActivity.Store(t.clock.Now().UnixNano())
}

func (t *Transport) pump(ctx context.Context) {
	buf := make([]byte, 256)
	for {
		n, err := t.currentPort().Read(buf)
		if n > 0 {
			t.touch()
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.rx <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}

		t.down.Store(true)
		if t.reopen == nil {
			t.log.Errorw("Bus port read failed", "error", err)
			return
		}
		t.log.Warnw("Bus port read failed, reopening", "error", err)
		if !t.reconnect(ctx) {
			return
		}
	}
}

func (t *Transport) reconnect(ctx context.Context) bool {
	if c, ok := t.currentPort().(io.Closer); ok {
		_ = c.Close()
	}

	err := retry.Do(ctx, t.policy, func(ctx context.Context) error {
		port, err := t.reopen(ctx)
		if err != nil {
			return err
		}
		t.portMu.Lock()
		t.port = port
		t.portMu.Unlock()
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		t.log.Warnw("Bus port reopen failed", "attempt", attempt, "retry_in", wait, "error", err)
	})
	if err != nil {
		t.log.Errorw("Giving up on bus port", "error", err)
		return false
	}

	t.log.Infow("Bus port reopened")
	t.touch()
	t.down.Store(false)
	return true
}

// ReadAvailable returns the bytes received since the last call without
// blocking. It returns ErrClosed once the reader has stopped and every
// received byte was handed out.
func (t *Transport) ReadAvailable() ([]byte, error) {
	var out []byte
	for {
		select {
		case chunk, ok := <-t.rx:
			if !ok {
				if len(out) > 0 {
					return out, nil
				}
				return nil, ErrClosed
			}
			out = append(out, chunk...)
		default:
			return out, nil
		}
	}
}

// Idle reports whether the line has been silent for the quiet interval
func (t *Transport) Idle() bool {
	last := time.Unix(0, t.lastActivity.Load())
	return t.clock.Now().Sub(last) >= t.quiet
}

// Down reports whether the port has failed and is not yet reopened
func (t *Transport) Down() bool {
	return t.down.Load()
}

// Transmit sends one frame. It refuses when the line is not idle, holds
// transmit enable only for the duration of the write and always releases
// it, including on write errors.
func (t *Transport) Transmit(frame []byte) (err error) {
	if t.down.Load() {
		return ErrPortDown
	}
	if !t.Idle() {
		return ErrLineBusy
	}

	t.txMu.Lock()
	defer t.txMu.Unlock()

	if err := t.dir.SetTransmit(true); err != nil {
		return fmt.Errorf("failed to assert transmit enable: %w", err)
	}
	defer func() {
		if rerr := t.dir.SetTransmit(false); rerr != nil {
			t.log.Errorw("Failed to release transmit enable", "error", rerr)
			if err == nil {
				err = fmt.Errorf("failed to release transmit enable: %w", rerr)
			}
		}
		t.touch()
	}()

	port := t.currentPort()
	if _, err := port.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if d, ok := port.(Drainer); ok {
		if err := d.Drain(); err != nil {
			return fmt.Errorf("failed to drain port: %w", err)
		}
	}
	return nil
}
