// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DirectionLine drives the transceiver's transmit-enable input. It is
// asserted for exactly one frame at a time.
type DirectionLine interface {
	SetTransmit(on bool) error
	Close() error
}

// RTSLine uses the serial port's RTS output as transmit enable, the usual
// wiring for USB RS-485 adapters without automatic direction control.
type RTSLine struct {
	port   serial.Port
	invert bool
}

// NewRTSLine returns a direction line on port's RTS pin
func NewRTSLine(port serial.Port, invert bool) *RTSLine {
	return &RTSLine{port: port, invert: invert}
}

// SetTransmit sets RTS
func (r *RTSLine) SetTransmit(on bool) error {
	return r.port.SetRTS(on != r.invert)
}

// Close releases nothing; the port is closed by its owner
func (r *RTSLine) Close() error {
	return nil
}

// NoLine is used with transceivers that switch direction on their own, and
// with bridged connections where direction is handled remotely.
type NoLine struct{}

func (NoLine) SetTransmit(bool) error { return nil }
func (NoLine) Close() error           { return nil }

// OpenSerial opens a serial port 8N1 at baud. A read timeout lets the
// reader notice shutdown without waiting for traffic.
func OpenSerial(name string, baud int, readTimeout time.Duration) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
		}
	}
	return port, nil
}
