// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pandagarage/garagelink/pkg/hcp"
	"github.com/pandagarage/garagelink/pkg/logging"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and errors",
	Long: `Track frame errors, malformed payloads and anomalous values with statistics.

This command validates each frame and detects:
  - CRC errors and framing failures
  - Malformed payloads (missing fields, undecodable CBOR)
  - Anomalous values (unknown drive states, positions past 100%)
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.

Nothing is transmitted. Frames are validated in real-time, with errors
highlighted immediately and periodic statistics summaries displayed at
configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
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
	go func() {
		<-ctx.Done()
		link.Conn.Close()
	}()

	if useTUI {
		// The TUI owns the terminal; keep log lines out of it
		return runTUIMode(ctx, link, logging.Nop())
	}
	return runTextMode(ctx, link, log)
}

// readChunks copies bytes from the link onto a channel until it fails
func readChunks(ctx context.Context, link *Link, log *zap.SugaredLogger) <-chan []byte {
	out := make(chan []byte, 10)
	go func() {
		defer close(out)
		buf := make([]byte, 128)
		for {
			n, err := link.Conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				out <- data
			}
			if err != nil {
				if ctx.Err() == nil {
					log.Warnw("Read error", "error", err)
				}
				return
			}
		}
	}()
	return out
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> DECODE FAILED <<<\n\n")
}

// printDriveFault prints a DOOR_STATUS that carries an error code
func printDriveFault(packet *hcp.Packet) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	code, _ := hcp.GetMapUint(packet.PayloadMap(), 4)
	fmt.Printf("[%s] \033[1;35mDRIVE FAULT:\033[0m %s (%d)\n\n", timestamp, hcp.FormatDriveError(code), code)
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(packet *hcp.Packet, errors []hcp.ValidationError) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	msgType := hcp.FormatMessageType(packet.Type())

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X) from %s\n",
		timestamp, msgType, packet.Type(), hcp.FormatAddress(packet.Address()))
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range errors {
		switch err.Type {
		case hcp.AnomalyMissingField, hcp.AnomalyDecodeError:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		case hcp.AnomalyInvalidState:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if state, ok := err.Details["state"].(uint64); ok {
				fmt.Printf("    state=%d (known: 0-%d)\n", state, hcp.DriveHalfOpen)
			}

		case hcp.AnomalyPositionRange:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if value, ok := err.Details["value"].(uint64); ok {
				fmt.Printf("    position=%d half-percent (%.1f%%, max 100%%)\n", value, float64(value)/2)
			}

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	if packet.Type() == hcp.MsgDoorStatus {
		m := packet.PayloadMap()
		if state, ok := hcp.GetMapUint(m, 0); ok {
			fmt.Printf("  State: %s (0x%02X)\n", hcp.FormatDriveState(hcp.DriveState(state)), state)
		}
	}

	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(ctx context.Context, link *Link, log *zap.SugaredLogger) error {
	decoder := hcp.NewDecoder()
	synchronized := false
	invalidBytesBeforeSync := 0

	m := initialModel(link.Info, statsInterval, showAll)
	p := tea.NewProgram(m, tea.WithContext(ctx))

	go func() {
		for data := range readChunks(ctx, link, log) {
			for _, b := range data {
				packet, decodeErr := decoder.DecodeByte(b)

				if decodeErr != nil {
					if synchronized {
						p.Send(busDataMsg{decodeErr: decodeErr})
					} else {
						invalidBytesBeforeSync++
					}
				} else if packet != nil {
					if !synchronized {
						synchronized = true
						p.Send(syncMsg{invalidBytes: invalidBytesBeforeSync})
					}

					p.Send(busDataMsg{
						packet:           packet,
						validationErrors: hcp.ValidatePacket(packet),
					})
				}
			}
		}
		p.Send(linkClosedMsg{})
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(ctx context.Context, link *Link, log *zap.SugaredLogger) error {
	fmt.Printf("garagelink - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", link.Info)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := hcp.NewDecoder()
	stats := hcp.NewStatistics()

	// Decode errors before the first valid frame are line noise
	synchronized := false
	invalidBytesBeforeSync := 0

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	chunks := readChunks(ctx, link, log)

	for {
		select {
		case data, ok := <-chunks:
			if !ok {
				fmt.Println()
				fmt.Print(stats.String())
				return nil
			}
			for _, b := range data {
				packet, decodeErr := decoder.DecodeByte(b)

				if decodeErr != nil {
					if synchronized {
						stats.Update(decodeErr, nil)
						printDecodeError(decodeErr)
					} else {
						invalidBytesBeforeSync++
					}
				} else if packet != nil {
					if !synchronized {
						synchronized = true
						if invalidBytesBeforeSync > 0 {
							fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", invalidBytesBeforeSync)
						} else {
							fmt.Printf("[SYNC] Synchronized\n\n")
						}
					}

					validationErrors := hcp.ValidatePacket(packet)
					stats.Update(nil, validationErrors)

					switch {
					case len(validationErrors) > 0:
						printValidationErrors(packet, validationErrors)
					case packet.Type() == hcp.MsgDoorStatus && hasDriveFault(packet):
						// Always shown, even without --show-all
						printDriveFault(packet)
					case showAll:
						fmt.Print(hcp.FormatPacket(packet))
					}
				}
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}

func hasDriveFault(packet *hcp.Packet) bool {
	code, ok := hcp.GetMapUint(packet.PayloadMap(), 4)
	return ok && code != hcp.DriveErrorNone
}
