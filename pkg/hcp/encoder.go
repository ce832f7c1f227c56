// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EncodePacketFromValues builds a complete wire frame, including framing,
// byte stuffing and CRC.
func EncodePacketFromValues(address uint8, msgType uint8, payloadMap map[int]interface{}) ([]byte, error) {
	cborPayload, err := encodeCBORPayload(msgType, payloadMap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}

	if len(cborPayload) > MaxPayloadSize {
		return nil, fmt.Errorf("CBOR payload too large: %d bytes (max %d)", len(cborPayload), MaxPayloadSize)
	}

	// LEN | ADDR | CBOR is what gets checksummed and stuffed
	body := make([]byte, 0, 2+len(cborPayload)+2)
	body = append(body, uint8(len(cborPayload)), address)
	body = append(body, cborPayload...)

	crc := CalculateCRC(body)
	body = append(body, byte(crc>>8), byte(crc))

	frame := make([]byte, 0, len(body)*2+2)
	frame = append(frame, StartByte)
	frame = appendStuffed(frame, body)
	frame = append(frame, EndByte)

	return frame, nil
}

// EncodePacket encodes a Packet to wire format
func EncodePacket(p *Packet) ([]byte, error) {
	return EncodePacketFromValues(p.Address(), p.Type(), p.PayloadMap())
}

// MustEncodePacket encodes a Packet and panics on error.
// Only use it with packets built from constant inputs.
func MustEncodePacket(p *Packet) []byte {
	data, err := EncodePacket(p)
	if err != nil {
		panic(fmt.Sprintf("hcp: encode error: %v", err))
	}
	return data
}

func encodeCBORPayload(msgType uint8, payloadMap map[int]interface{}) ([]byte, error) {
	var msg interface{}
	if len(payloadMap) == 0 {
		msg = []interface{}{uint64(msgType), nil}
	} else {
		msg = []interface{}{uint64(msgType), payloadMap}
	}
	return cbor.Marshal(msg)
}

// appendStuffed escapes START, END and ESC bytes as ESC, b^EscXor
func appendStuffed(dst, data []byte) []byte {
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			dst = append(dst, EscByte, b^EscXor)
		} else {
			dst = append(dst, b)
		}
	}
	return dst
}

// StuffBytes returns data with byte stuffing applied
func StuffBytes(data []byte) []byte {
	return appendStuffed(make([]byte, 0, len(data)*2), data)
}

// UnstuffBytes removes byte stuffing; the inverse of StuffBytes
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		switch {
		case escapeNext:
			result = append(result, b^EscXor)
			escapeNext = false
		case b == EscByte:
			escapeNext = true
		default:
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}
	return result, nil
}
