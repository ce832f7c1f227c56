// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets     uint64
	ValidPackets     uint64
	CRCErrors        uint64
	DecodeErrors     uint64
	MalformedPackets uint64
	MissingFields    uint64
	AnomalousValues  uint64
	InvalidStates    uint64
	PositionRange    uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one decode attempt and its validation result
func (s *Statistics) Update(decodeErr error, validationErrors []ValidationError) {
	s.TotalPackets++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrCRCMismatch) {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if len(validationErrors) == 0 {
		s.ValidPackets++
		return
	}

	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyMissingField, AnomalyDecodeError:
			s.MissingFields++
			s.MalformedPackets++
		case AnomalyInvalidState:
			s.InvalidStates++
			s.AnomalousValues++
		case AnomalyPositionRange:
			s.PositionRange++
			s.AnomalousValues++
		case AnomalyInvalidValue:
			s.AnomalousValues++
		}
	}
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		errorCount := s.CRCErrors + s.DecodeErrors + s.MalformedPackets + s.AnomalousValues
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalPackets == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalPackets)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Packets:   %8d\n", s.TotalPackets)
	result += fmt.Sprintf("Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, percent(s.ValidPackets))

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.MalformedPackets > 0 {
		result += fmt.Sprintf("Malformed Pkts:  %8d (%.1f%%)\n", s.MalformedPackets, percent(s.MalformedPackets))
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, percent(s.AnomalousValues))
		if s.InvalidStates > 0 {
			result += fmt.Sprintf("  Invalid State:    %5d\n", s.InvalidStates)
		}
		if s.PositionRange > 0 {
			result += fmt.Sprintf("  Position Range:   %5d\n", s.PositionRange)
		}
	}

	result += fmt.Sprintf("Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
