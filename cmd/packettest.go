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
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid bus frame",
	Long: `Wait for a valid bus frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
frame. It ignores invalid bytes and waits for a complete frame that passes
the CRC check.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking the wiring to the door operator or a serial bridge.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(packetTestTimeout)*time.Second)
	defer cancel()

	link, err := OpenConnection(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	fmt.Printf("garagelink - Frame Test\n")
	fmt.Printf("Connection: %s\n", link.Info)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	decoder := hcp.NewDecoder()
	buf := make([]byte, 128)

	packetChan := make(chan *hcp.Packet, 1)
	errChan := make(chan error, 1)

	go func() {
		invalidBytes := 0
		for {
			n, err := link.Conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				packet, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					invalidBytes++
					continue
				}
				if packet != nil {
					if invalidBytes > 0 {
						fmt.Printf("(skipped %d invalid bytes before sync)\n", invalidBytes)
					}
					packetChan <- packet
					return
				}
			}
		}
	}()

	select {
	case packet := <-packetChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Type: %s (0x%02X)\n", hcp.FormatMessageType(packet.Type()), packet.Type())
		fmt.Printf("  Address: %s\n", hcp.FormatAddress(packet.Address()))
		fmt.Printf("  Length: %d bytes\n", packet.Length())
		fmt.Printf("  CRC: 0x%04X\n", packet.CRC())
		link.Close()
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		link.Close()
		os.Exit(2)

	case <-ctx.Done():
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		link.Close()
		os.Exit(1)
	}

	return nil
}
