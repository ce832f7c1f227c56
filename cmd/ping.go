// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pandagarage/garagelink/pkg/hcp"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the bus by sending STATUS_REQUEST to the drive",
	Long: `Send STATUS_REQUEST frames to the drive and wait for DOOR_STATUS.

This command tests bidirectional communication with the door operator. It
waits for a quiet line before each request, so it can share the bus with a
wall panel.

The drive also broadcasts DOOR_STATUS on its own while the door moves, so the
measured round trip is an upper bound on the drive's turnaround.

This is useful for verifying:
  - The transmit enable line is wired and switching
  - The drive accepts frames from the controller address
  - A WebSocket bridge forwards in both directions

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 2, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	p, err := openProbe(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer p.Close()

	fmt.Printf("garagelink - Bus Ping Test\n")
	fmt.Printf("Connection: %s\n", p.link.Info)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	request := hcp.MustEncodePacket(hcp.NewStatusRequest(hcp.AddressDrive))
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount && ctx.Err() == nil; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		if err := pingOnce(ctx, p, request); err != nil {
			fmt.Printf("%v\n", err)
			failCount++
		} else {
			successCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(pingCount-successCount)/float64(pingCount)*100)

	if failCount > 0 || successCount < pingCount {
		p.Close()
		os.Exit(1)
	}
	return nil
}

func pingOnce(ctx context.Context, p *probe, request []byte) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(pingTimeout)*time.Second)
	defer cancel()

	// Anything queued before the request does not count
	p.t.ReadAvailable()
	p.decoder.Reset()

	if err := p.send(ctx, request); err != nil {
		return fmt.Errorf("SEND FAILED: %w", err)
	}
	start := time.Now()

	var reply *hcp.Packet
	err := p.receive(ctx, func(packet *hcp.Packet) bool {
		if packet.Address() == hcp.AddressDrive && packet.Type() == hcp.MsgDoorStatus {
			reply = packet
			return false
		}
		return true
	})
	if reply == nil {
		if ctx.Err() != nil {
			return fmt.Errorf("TIMEOUT (no response in %ds)", pingTimeout)
		}
		return fmt.Errorf("READ FAILED: %w", err)
	}

	f := hcp.FrameFromPacket(reply)
	fmt.Printf("DOOR_STATUS from %s, state=%s, position=%.1f%%, rtt=%v\n",
		hcp.FormatAddress(reply.Address()), f.State, f.Current*100, time.Since(start).Round(time.Millisecond))
	return nil
}
