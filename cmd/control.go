// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pandagarage/garagelink/pkg/api"
	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/engine"
)

var controlTimeout int

var controlCmd = &cobra.Command{
	Use:   "control <action> [arg]",
	Short: "Send one command to the door and wait for the result",
	Long: `Send a single intent to the door operator and wait until the drive
confirms it, the command times out, or the bus stays busy.

Actions:
  open, close, stop, half, vent, toggle
  light [on|off]      no argument toggles
  position <percent>  0 (closed) to 100 (open)

The command waits for the first valid DOOR_STATUS before sending anything;
an unknown door state is never acted on.

Examples:
  garagelink control open --port /dev/ttyUSB0 --direction rts
  garagelink control position 40 --simulate
  garagelink control light off --url ws://bridge.local/bus

Exit codes:
  0 - Command completed
  1 - Command rejected, timed out or failed
  2 - Connection error`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().IntVar(&controlTimeout, "timeout", 15, "Seconds to wait for the door state and the result")
}

func runControl(cmd *cobra.Command, args []string) error {
	arg := ""
	if len(args) > 1 {
		arg = args[1]
	}
	// Parse before touching the bus
	intent, err := api.ParseControl(args[0], arg, arg)
	if err != nil {
		return err
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	session, err := OpenSession(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	code := control(ctx, session, intent)
	cancel()
	session.Close()
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

func control(ctx context.Context, session *Session, intent door.Intent) int {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(controlTimeout)*time.Second)
	defer cancel()

	fmt.Printf("garagelink - Control\n")
	fmt.Printf("Connection: %s\n", session.Link.Info)
	fmt.Printf("Waiting for door state...\n")

	if err := session.WaitTrusted(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "No valid DOOR_STATUS received: %v\n", err)
		return 2
	}
	before := session.Engine.Snapshot()
	fmt.Printf("Door: %s at %d%%, light %s\n", before.State, before.CurrentPercent(), onOffLabel(before.Light))

	fmt.Printf("Sending %s...\n", intent)
	result, err := session.Engine.Submit(ctx, intent)
	if err != nil && result.Resolved.IsZero() {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		return 1
	}
	printResult(result)

	after := session.Engine.Snapshot()
	fmt.Printf("Door: %s at %d%%, light %s\n", after.State, after.CurrentPercent(), onOffLabel(after.Light))

	if result.Outcome != engine.Completed {
		return 1
	}
	return 0
}

func printResult(r engine.Result) {
	switch {
	case r.Outcome != engine.Completed:
		fmt.Printf("%s: %s (%v)\n", r.Outcome, r.Intent, r.Err)
	case r.Noop:
		fmt.Printf("completed: %s (already there, nothing sent)\n", r.Intent)
	default:
		fmt.Printf("completed: %s, sent after %v, confirmed after %v\n", r.Intent,
			r.Transmitted.Sub(r.Enqueued).Round(time.Millisecond),
			r.Resolved.Sub(r.Transmitted).Round(time.Millisecond))
	}
}
