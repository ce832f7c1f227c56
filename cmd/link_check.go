// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var linkCheckCmd = &cobra.Command{
	Use:   "link_check",
	Short: "Test raw connection stability",
	Long: `Test the connection without decoding or sending any bus data.

This command connects to the serial port or WebSocket bridge and just waits,
logging any data received or errors encountered. Useful for debugging
connection stability issues, such as a bridge dropping idle sessions.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	RunE: runLinkCheck,
}

var linkCheckDuration int

func init() {
	rootCmd.AddCommand(linkCheckCmd)
	linkCheckCmd.Flags().IntVar(&linkCheckDuration, "duration", 30, "Test duration in seconds")
}

func runLinkCheck(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	link, err := OpenConnection(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer link.Close()

	fmt.Printf("Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", link.Info)
	fmt.Printf("Duration: %d seconds\n\n", linkCheckDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := link.Conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				readChan <- data
			}
		}
	}()

	start := time.Now()
	end := start.Add(time.Duration(linkCheckDuration) * time.Second)
	bytesReceived := 0
	chunksReceived := 0
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	fmt.Printf("Listening for data...\n\n")

	for time.Now().Before(end) {
		select {
		case data := <-readChan:
			bytesReceived += len(data)
			chunksReceived++
			fmt.Printf("[%s] Received %d bytes: %x\n",
				time.Now().Format("15:04:05.000"), len(data), data)

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			fmt.Printf("\n--- Test Results ---\n")
			fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("Reads: %d\n", chunksReceived)
			fmt.Printf("Bytes received: %d\n", bytesReceived)
			fmt.Printf("Result: FAILED (connection error)\n")
			link.Close()
			os.Exit(1)

		case <-ctx.Done():
			fmt.Printf("\nInterrupted\n")
			end = time.Now()

		case <-heartbeat.C:
			remaining := time.Until(end).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), remaining)
		}
	}

	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Second))
	fmt.Printf("Reads: %d\n", chunksReceived)
	fmt.Printf("Bytes received: %d\n", bytesReceived)
	fmt.Printf("Result: PASSED (connection stable)\n")

	return nil
}
