// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// Decode errors. The decoder always resets to idle after returning one, so
// the next START byte begins a fresh frame.
var (
	ErrCRCMismatch    = errors.New("CRC mismatch")
	ErrUnexpectedEnd  = errors.New("unexpected END byte")
	ErrMissingEnd     = errors.New("missing END byte")
	ErrInvalidLength  = errors.New("invalid length")
	ErrBufferOverflow = errors.New("buffer overflow")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Decoder is the byte-at-a-time frame decoder state machine
type Decoder struct {
	state       int
	buffer      []byte
	bufferIndex int
	escapeNext  bool
	packet      *Packet
	rawBuffer   []byte // raw bytes including framing
	now         func() time.Time
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, MaxPacketSize),
		rawBuffer: make([]byte, 0, MaxPacketSize*2),
		now:       time.Now,
	}
}

// Reset returns the decoder to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.bufferIndex = 0
	d.escapeNext = false
	d.packet = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the raw bytes accumulated for the current frame
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// InFrame reports whether the decoder is inside a frame
func (d *Decoder) InFrame() bool {
	return d.state != stateIdle
}

// DecodeByte processes a single byte.
// Returns a completed packet, or nil if the frame is incomplete.
func (d *Decoder) DecodeByte(b byte) (*Packet, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	// Framing bytes never appear escaped, so they act even after ESC
	switch b {
	case StartByte:
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateLength
		return nil, nil

	case EndByte:
		d.escapeNext = false
		return d.finish()
	}

	if d.escapeNext {
		d.escapeNext = false
		return d.accept(b ^ EscXor)
	}

	if b == EscByte {
		if d.state != stateIdle {
			d.escapeNext = true
		}
		return nil, nil
	}

	return d.accept(b)
}

func (d *Decoder) finish() (*Packet, error) {
	if d.state == stateIdle {
		d.Reset()
		return nil, nil
	}
	if d.state != stateEnd {
		state := d.state
		d.Reset()
		return nil, fmt.Errorf("%w in state %d", ErrUnexpectedEnd, state)
	}

	packet := d.packet
	calculated := CalculateCRC(d.buffer[:d.bufferIndex])
	if packet.crc != calculated {
		d.Reset()
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRCMismatch, calculated, packet.crc)
	}

	packet.timestamp = d.now()
	d.Reset()
	return packet, nil
}

// accept runs one unstuffed byte through the state machine
func (d *Decoder) accept(b byte) (*Packet, error) {
	switch d.state {
	case stateIdle:
		return nil, nil

	case stateLength:
		if b == 0 || b > MaxPayloadSize {
			d.Reset()
			return nil, fmt.Errorf("%w: %d (max %d)", ErrInvalidLength, b, MaxPayloadSize)
		}
		d.packet = &Packet{length: b, cborPayload: make([]byte, 0, b)}
		return d.store(b, stateAddress)

	case stateAddress:
		d.packet.address = b
		return d.store(b, statePayload)

	case statePayload:
		d.packet.cborPayload = append(d.packet.cborPayload, b)
		next := statePayload
		if len(d.packet.cborPayload) >= int(d.packet.length) {
			next = stateCRC1
		}
		return d.store(b, next)

	case stateCRC1:
		d.packet.crc = uint16(b) << 8
		d.state = stateCRC2
		return nil, nil

	case stateCRC2:
		d.packet.crc |= uint16(b)
		d.state = stateEnd
		return nil, nil

	case stateEnd:
		d.Reset()
		return nil, fmt.Errorf("%w: got 0x%02X after CRC", ErrMissingEnd, b)

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state: %d", d.state)
	}
}

// store appends b to the checksummed body and advances to next
func (d *Decoder) store(b byte, next int) (*Packet, error) {
	if d.bufferIndex >= MaxPacketSize {
		d.Reset()
		return nil, fmt.Errorf("%w in state %d", ErrBufferOverflow, d.state)
	}
	d.buffer[d.bufferIndex] = b
	d.bufferIndex++
	d.state = next
	return nil, nil
}

// Scan decodes the first complete frame at the front of buf.
//
// Bytes before the first START byte are noise and are always consumed. A
// frame that fails to decode is consumed through the failing byte and the
// error is returned. When buf ends in the middle of a frame, Scan returns a
// nil packet and consumed points at that frame's START byte so the caller
// can retry once more bytes arrive.
func Scan(buf []byte) (packet *Packet, consumed int, err error) {
	start := bytes.IndexByte(buf, StartByte)
	if start < 0 {
		return nil, len(buf), nil
	}

	d := NewDecoder()
	frameStart := start
	for i := start; i < len(buf); i++ {
		if buf[i] == StartByte {
			frameStart = i
		}
		p, err := d.DecodeByte(buf[i])
		if err != nil {
			return nil, i + 1, err
		}
		if p != nil {
			return p, i + 1, nil
		}
	}
	return nil, frameStart, nil
}

// DecodePacket decodes exactly one frame from data
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame data")
	}
	p, _, err := Scan(data)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("incomplete frame")
	}
	return p, nil
}
