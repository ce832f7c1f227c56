// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats counts bus and dispatch events. Counters are updated by the engine
// goroutine and may be read from anywhere.
type Stats struct {
	start time.Time

	BytesReceived   atomic.Uint64
	StatusFrames    atomic.Uint64
	LightFrames     atomic.Uint64
	ForeignFrames   atomic.Uint64
	CRCErrors       atomic.Uint64
	DecodeErrors    atomic.Uint64
	InvalidPayloads atomic.Uint64
	Transmissions   atomic.Uint64
	TransmitErrors  atomic.Uint64
	Completed       atomic.Uint64
	Noops           atomic.Uint64
	TimedOut        atomic.Uint64
	BusBusy         atomic.Uint64
	Rejected        atomic.Uint64
	Failed          atomic.Uint64
	QueueFull       atomic.Uint64
	TrustLosses     atomic.Uint64

	lastFrame atomic.Int64 // unix nanoseconds, 0 when none
}

func newStats(now time.Time) *Stats {
	return &Stats{start: now}
}

func (s *Stats) frameSeen(now time.Time) {
	s.lastFrame.Store(now.UnixNano())
}

// LastFrame returns when the last valid frame was decoded
func (s *Stats) LastFrame() time.Time {
	ns := s.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// StatsSnapshot is a plain copy of the counters
type StatsSnapshot struct {
	Uptime          time.Duration `json:"uptime_ns"`
	BytesReceived   uint64        `json:"bytes_received"`
	StatusFrames    uint64        `json:"status_frames"`
	LightFrames     uint64        `json:"light_frames"`
	ForeignFrames   uint64        `json:"foreign_frames"`
	CRCErrors       uint64        `json:"crc_errors"`
	DecodeErrors    uint64        `json:"decode_errors"`
	InvalidPayloads uint64        `json:"invalid_payloads"`
	Transmissions   uint64        `json:"transmissions"`
	TransmitErrors  uint64        `json:"transmit_errors"`
	Completed       uint64        `json:"completed"`
	Noops           uint64        `json:"noops"`
	TimedOut        uint64        `json:"timed_out"`
	BusBusy         uint64        `json:"bus_busy"`
	Rejected        uint64        `json:"rejected"`
	Failed          uint64        `json:"failed"`
	QueueFull       uint64        `json:"queue_full"`
	TrustLosses     uint64        `json:"trust_losses"`
	LastFrame       time.Time     `json:"last_frame"`
}

// Snapshot copies the counters
func (s *Stats) Snapshot(now time.Time) StatsSnapshot {
	return StatsSnapshot{
		Uptime:          now.Sub(s.start),
		BytesReceived:   s.BytesReceived.Load(),
		StatusFrames:    s.StatusFrames.Load(),
		LightFrames:     s.LightFrames.Load(),
		ForeignFrames:   s.ForeignFrames.Load(),
		CRCErrors:       s.CRCErrors.Load(),
		DecodeErrors:    s.DecodeErrors.Load(),
		InvalidPayloads: s.InvalidPayloads.Load(),
		Transmissions:   s.Transmissions.Load(),
		TransmitErrors:  s.TransmitErrors.Load(),
		Completed:       s.Completed.Load(),
		Noops:           s.Noops.Load(),
		TimedOut:        s.TimedOut.Load(),
		BusBusy:         s.BusBusy.Load(),
		Rejected:        s.Rejected.Load(),
		Failed:          s.Failed.Load(),
		QueueFull:       s.QueueFull.Load(),
		TrustLosses:     s.TrustLosses.Load(),
		LastFrame:       s.LastFrame(),
	}
}

// Frames returns the number of valid frames decoded
func (s StatsSnapshot) Frames() uint64 {
	return s.StatusFrames + s.LightFrames + s.ForeignFrames
}

// Errors returns the number of frames discarded
func (s StatsSnapshot) Errors() uint64 {
	return s.CRCErrors + s.DecodeErrors + s.InvalidPayloads
}

// String returns a formatted statistics summary
func (s StatsSnapshot) String() string {
	var errorPercent float64
	if total := s.Frames() + s.Errors(); total > 0 {
		errorPercent = float64(s.Errors()) * 100.0 / float64(total)
	}

	result := fmt.Sprintf("=== Bus Statistics (%.0f seconds) ===\n", s.Uptime.Seconds())
	result += fmt.Sprintf("Bytes Received:  %8d\n", s.BytesReceived)
	result += fmt.Sprintf("Valid Frames:    %8d (status %d, light %d, other %d)\n",
		s.Frames(), s.StatusFrames, s.LightFrames, s.ForeignFrames)
	result += fmt.Sprintf("Bad Frames:      %8d (%.1f%%)\n", s.Errors(), errorPercent)
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("  CRC Errors:       %5d\n", s.CRCErrors)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("  Framing Errors:   %5d\n", s.DecodeErrors)
	}
	if s.InvalidPayloads > 0 {
		result += fmt.Sprintf("  Invalid Payloads: %5d\n", s.InvalidPayloads)
	}
	result += fmt.Sprintf("Transmissions:   %8d (errors %d)\n", s.Transmissions, s.TransmitErrors)
	result += fmt.Sprintf("Commands:        completed %d, no-op %d, timed out %d, bus busy %d, rejected %d, failed %d\n",
		s.Completed, s.Noops, s.TimedOut, s.BusBusy, s.Rejected, s.Failed)
	if s.QueueFull > 0 {
		result += fmt.Sprintf("Queue Full:      %8d\n", s.QueueFull)
	}
	result += fmt.Sprintf("Trust Losses:    %8d\n", s.TrustLosses)
	if !s.LastFrame.IsZero() {
		result += fmt.Sprintf("Last Frame:      %s\n", s.LastFrame.Format("15:04:05.000"))
	}
	result += "================================\n"
	return result
}
