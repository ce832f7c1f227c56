// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pandagarage/garagelink/pkg/bus"
	"github.com/pandagarage/garagelink/pkg/config"
	"github.com/pandagarage/garagelink/pkg/hcp"
)

// probePoll is how often the diagnostic commands drain the transport
const probePoll = 2 * time.Millisecond

// probe is a bare transport for diagnostic commands that talk to the bus
// without the engine
type probe struct {
	link    *Link
	t       *bus.Transport
	decoder *hcp.Decoder
}

func openProbe(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*probe, error) {
	link, err := OpenConnection(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	t := bus.New(link.Conn, link.Dir, bus.Config{QuietInterval: cfg.Bus.QuietInterval}, log.Named("bus"))
	t.Start(ctx)
	return &probe{link: link, t: t, decoder: hcp.NewDecoder()}, nil
}

func (p *probe) Close() error {
	return p.t.Close()
}

// send waits for a quiet line and transmits frame
func (p *probe) send(ctx context.Context, frame []byte) error {
	ticker := time.NewTicker(probePoll)
	defer ticker.Stop()
	for {
		err := p.t.Transmit(frame)
		if !errors.Is(err, bus.ErrLineBusy) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// receive decodes frames until fn returns false, the transport closes or
// ctx is done. Decode errors are skipped.
func (p *probe) receive(ctx context.Context, fn func(*hcp.Packet) bool) error {
	ticker := time.NewTicker(probePoll)
	defer ticker.Stop()
	for {
		data, err := p.t.ReadAvailable()
		for _, b := range data {
			packet, derr := p.decoder.DecodeByte(b)
			if derr != nil || packet == nil {
				continue
			}
			if !fn(packet) {
				return nil
			}
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
