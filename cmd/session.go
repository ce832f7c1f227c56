// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pandagarage/garagelink/pkg/bus"
	"github.com/pandagarage/garagelink/pkg/config"
	"github.com/pandagarage/garagelink/pkg/engine"
	"github.com/pandagarage/garagelink/pkg/hcp"
	"github.com/pandagarage/garagelink/pkg/retry"
)

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// setup loads the configuration and builds the logger
func setup() (config.Config, *zap.SugaredLogger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// Session is a running engine on an open bus link
type Session struct {
	Link      *Link
	Transport *bus.Transport
	Engine    *engine.Engine

	done chan struct{}
}

// OpenSession opens the configured link and starts the transport and the
// engine. The engine stops when ctx is cancelled.
func OpenSession(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*Session, error) {
	link, err := OpenConnection(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Infow("Bus connected", "link", link.Info)

	t := bus.New(link.Conn, link.Dir, bus.Config{
		QuietInterval: cfg.Bus.QuietInterval,
		Reopen:        link.Reopen,
		ReopenPolicy:  retry.DefaultPolicy(),
	}, log.Named("bus"))
	t.Start(ctx)

	eng := engine.New(t, hcp.NewCodec(), cfg.Engine, log.Named("engine"))

	s := &Session{
		Link:      link,
		Transport: t,
		Engine:    eng,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := eng.Run(ctx); err != nil {
			log.Errorw("Engine stopped", "error", err)
		}
	}()
	return s, nil
}

// WaitTrusted blocks until the engine has a trusted door state
func (s *Session) WaitTrusted(ctx context.Context) error {
	cur := s.Engine.Subscribe()
	defer s.Engine.Unsubscribe(cur)
	for !s.Engine.IsTrusted() {
		select {
		case <-cur.C():
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close waits for the engine to stop and releases the bus. The caller
// cancels the session context first. The transport owns the port and the
// direction line from here on, so the link is not closed separately.
func (s *Session) Close() error {
	<-s.done
	return s.Transport.Close()
}
