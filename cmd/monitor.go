// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/logging"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and controlling the door",
	Long: `Watch and control the garage door via an interactive terminal UI.

Features:
  - Live door state, position and light
  - Door and light commands with confirmation results
  - Go-to-position input
  - Bus statistics (frames, errors, transmissions, outcomes)
  - Event logging
  - Automatic reconnection on connection loss

Commands are refused until a valid DOOR_STATUS has been received. Tab
switches between the action list and the position input.

Supports serial, WebSocket and simulated connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	// The TUI owns the terminal; keep log lines out of it
	log := logging.Nop()

	ctx, cancel := signalContext()
	defer cancel()

	session, err := OpenSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer session.Close()
	defer cancel()

	m := initialMonitorModel(session.Engine, session.Link.Info, session.Transport.Down)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	go followDoor(ctx, session, p)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// followDoor forwards every published door snapshot to the TUI
func followDoor(ctx context.Context, session *Session, p *tea.Program) {
	cur := session.Engine.Subscribe()
	defer session.Engine.Unsubscribe(cur)

	send := func() {
		if s, ok := cur.PollChanged(); ok {
			p.Send(snapshotMsg(s))
			cur.Acknowledge()
		}
	}

	send()
	for {
		select {
		case <-ctx.Done():
			return
		case <-cur.C():
			send()
		}
	}
}

// snapshotMsg carries a published door snapshot
type snapshotMsg door.Snapshot
