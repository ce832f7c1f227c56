// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import "time"

// Packet is a decoded bus frame
type Packet struct {
	length      uint8
	address     uint8
	cborPayload []byte // Raw CBOR bytes: [msg_type, payload_map]
	crc         uint16
	timestamp   time.Time

	// Lazily parsed from cborPayload
	msgType    uint8
	payloadMap map[int]interface{}
	parsed     bool
	parseErr   error
}

// NewPacket creates a packet from raw frame fields
func NewPacket(length uint8, address uint8, cborPayload []byte, crc uint16) *Packet {
	return &Packet{
		length:      length,
		address:     address,
		cborPayload: cborPayload,
		crc:         crc,
		timestamp:   time.Now(),
	}
}

// NewPacketWithPayload creates a packet from a message type and payload map.
// The CBOR encoding and CRC are computed when the packet is encoded.
func NewPacketWithPayload(address uint8, msgType uint8, payload map[int]interface{}) *Packet {
	return &Packet{
		address:    address,
		msgType:    msgType,
		payloadMap: payload,
		parsed:     true,
		timestamp:  time.Now(),
	}
}

func (p *Packet) ensureParsed() {
	if p.parsed {
		return
	}
	p.parsed = true
	if len(p.cborPayload) == 0 {
		return
	}
	p.msgType, p.payloadMap, p.parseErr = ParseCBORMessage(p.cborPayload)
}

// Length returns the CBOR payload length
func (p *Packet) Length() uint8 {
	return p.length
}

// Address returns the sender's bus address
func (p *Packet) Address() uint8 {
	return p.address
}

// Type returns the message type
func (p *Packet) Type() uint8 {
	p.ensureParsed()
	return p.msgType
}

// Payload returns the raw CBOR payload bytes
func (p *Packet) Payload() []byte {
	return p.cborPayload
}

// PayloadMap returns the decoded payload map (nil for empty payloads)
func (p *Packet) PayloadMap() map[int]interface{} {
	p.ensureParsed()
	return p.payloadMap
}

// ParseError returns any error from parsing the CBOR payload
func (p *Packet) ParseError() error {
	p.ensureParsed()
	return p.parseErr
}

// CRC returns the frame checksum
func (p *Packet) CRC() uint16 {
	return p.crc
}

// Timestamp returns when the frame was decoded
func (p *Packet) Timestamp() time.Time {
	return p.timestamp
}

// IsBroadcast reports whether the frame came from the broadcast address
func (p *Packet) IsBroadcast() bool {
	return p.address == AddressBroadcast
}

// FromDrive reports whether the frame was sent by the door operator unit
func (p *Packet) FromDrive() bool {
	return p.address == AddressDrive
}
