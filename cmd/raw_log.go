// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pandagarage/garagelink/pkg/hcp"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display bus frames as they arrive.

Shows each frame with timestamp, sender, message type and decoded payload.
Nothing is transmitted, so this is safe to run next to a wall panel.

Supports serial, WebSocket and simulated connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	link, err := OpenConnection(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer link.Close()
	// Closing the link unblocks the read below
	go func() {
		<-ctx.Done()
		link.Conn.Close()
	}()

	fmt.Printf("garagelink - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", link.Info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := hcp.NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := link.Conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				log.Infow("Connection closed")
				return nil
			}
			log.Warnw("Read error", "error", err)
			continue
		}

		for i := 0; i < n; i++ {
			packet, err := decoder.DecodeByte(buf[i])
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if packet != nil {
				fmt.Print(hcp.FormatPacket(packet))
			}
		}
	}
}
