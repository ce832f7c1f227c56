// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/hcp"
)

var (
	discoveryTimeout int
	discoveryPassive bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover stations on the bus",
	Long: `Send a broadcast STATUS_REQUEST and list every station heard on the bus.

The drive answers with DOOR_STATUS; wall panels show up through their
PANEL_BEACON keep-alives. Frames from any address are counted for the
duration of the timeout.

Modes:
  Active (default): Send broadcast STATUS_REQUEST, then listen.
  Passive (--passive): Only listen. Nothing is transmitted.

Examples:
  garagelink discovery --port /dev/ttyUSB0 --direction rts
  garagelink discovery --url ws://bridge.local/bus --passive

Exit codes:
  0 - Discovery successful (at least one station found)
  1 - Discovery failed (no stations)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 5, "Timeout in seconds for discovery")
	discoveryCmd.Flags().BoolVar(&discoveryPassive, "passive", false, "Listen only, do not transmit")
}

// station is one bus address seen during discovery
type station struct {
	address   uint8
	frames    int
	types     map[uint8]int
	firstSeen time.Time
	status    *door.Frame
}

func runDiscovery(cmd *cobra.Command, args []string) error {
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

	mode := "active"
	if discoveryPassive {
		mode = "passive"
	}

	fmt.Printf("garagelink - Station Discovery\n")
	fmt.Printf("Connection: %s\n", p.link.Info)
	fmt.Printf("Mode: %s\n", mode)
	fmt.Printf("Timeout: %d seconds\n\n", discoveryTimeout)

	listen, stop := context.WithTimeout(ctx, time.Duration(discoveryTimeout)*time.Second)
	defer stop()

	if !discoveryPassive {
		fmt.Printf("Sending STATUS_REQUEST (address=%s)...\n", hcp.FormatAddress(hcp.AddressBroadcast))
		frame := hcp.MustEncodePacket(hcp.NewStatusRequest(hcp.AddressBroadcast))
		if err := p.send(listen, frame); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			os.Exit(2)
		}
	}

	stations := map[uint8]*station{}
	err = p.receive(listen, func(packet *hcp.Packet) bool {
		addr := packet.Address()
		if addr == hcp.AddressController {
			return true
		}
		s, ok := stations[addr]
		if !ok {
			s = &station{address: addr, types: map[uint8]int{}, firstSeen: packet.Timestamp()}
			stations[addr] = s
			fmt.Printf("\nStation found: %s (%s)\n", hcp.FormatAddress(addr), hcp.FormatMessageType(packet.Type()))
		}
		s.frames++
		s.types[packet.Type()]++
		if packet.Type() == hcp.MsgDoorStatus {
			if len(hcp.ValidatePacket(packet)) == 0 {
				f := hcp.FrameFromPacket(packet)
				s.status = &f
			}
		}
		return true
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		fmt.Printf("READ FAILED: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Stations found: %d\n", len(stations))

	addrs := make([]int, 0, len(stations))
	for a := range stations {
		addrs = append(addrs, int(a))
	}
	sort.Ints(addrs)
	for _, a := range addrs {
		s := stations[uint8(a)]
		fmt.Printf("\n  %s: %d frames\n", hcp.FormatAddress(s.address), s.frames)
		for t, n := range s.types {
			fmt.Printf("    %-16s %5d\n", hcp.FormatMessageType(t), n)
		}
		if s.status != nil {
			fmt.Printf("    Door: %s at %.1f%%\n", s.status.State, s.status.Current*100)
		}
	}

	if len(stations) == 0 {
		fmt.Printf("No stations discovered. Check wiring and operator power.\n")
		p.Close()
		os.Exit(1)
	}
	return nil
}
