// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import (
	"errors"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

// ============================================================
// Test Helpers
// ============================================================

// buildCBORPayload creates a CBOR-encoded message: [msgType, payloadMap]
func buildCBORPayload(msgType uint8, payload map[int]interface{}) []byte {
	var msg interface{}
	if payload == nil {
		msg = []interface{}{uint64(msgType), nil}
	} else {
		msg = []interface{}{uint64(msgType), payload}
	}
	data, err := cbor.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}

// buildRawFrame assembles a frame by hand, optionally with a wrong CRC
func buildRawFrame(address uint8, cborPayload []byte, corruptCRC bool) []byte {
	body := append([]byte{uint8(len(cborPayload)), address}, cborPayload...)
	crc := CalculateCRC(body)
	if corruptCRC {
		crc ^= 0xFFFF
	}
	body = append(body, byte(crc>>8), byte(crc))
	frame := []byte{StartByte}
	frame = append(frame, StuffBytes(body)...)
	return append(frame, EndByte)
}

func feed(d *Decoder, data []byte) (*Packet, error) {
	for _, b := range data {
		p, err := d.DecodeByte(b)
		if err != nil || p != nil {
			return p, err
		}
	}
	return nil, nil
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	crc := CalculateCRC([]byte{})
	if crc != crcInitial {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{"ASCII '123456789'", []byte("123456789"), 0x29B1},
		{"single zero", []byte{0x00}, 0xE1F0},
		{"ASCII 'A'", []byte("A"), 0xB915},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestUpdateCRC_Incremental(t *testing.T) {
	data := []byte("123456789")
	crc := UpdateCRC(crcInitial, data[:4])
	crc = UpdateCRC(crc, data[4:])
	if crc != CalculateCRC(data) {
		t.Errorf("incremental CRC 0x%04X differs from one-shot 0x%04X", crc, CalculateCRC(data))
	}
}

// ============================================================
// CBOR Parsing Tests
// ============================================================

func TestParseCBORMessage_Empty(t *testing.T) {
	_, _, err := ParseCBORMessage([]byte{})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestParseCBORMessage_StatusRequest(t *testing.T) {
	msgType, payload, err := ParseCBORMessage(buildCBORPayload(MsgStatusRequest, nil))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if msgType != MsgStatusRequest {
		t.Errorf("Expected MsgStatusRequest (0x1F), got 0x%02X", msgType)
	}
	if payload != nil {
		t.Errorf("Expected nil payload, got %v", payload)
	}
}

func TestParseCBORMessage_DoorStatus(t *testing.T) {
	data := buildCBORPayload(MsgDoorStatus, map[int]interface{}{
		0: uint64(DriveOpening),
		1: uint64(84),
		2: uint64(200),
		3: true,
	})
	msgType, parsed, err := ParseCBORMessage(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if msgType != MsgDoorStatus {
		t.Errorf("Expected MsgDoorStatus (0x20), got 0x%02X", msgType)
	}
	if state, ok := GetMapUint(parsed, 0); !ok || state != uint64(DriveOpening) {
		t.Errorf("Expected state=%d, got %d", DriveOpening, state)
	}
	if light, ok := GetMapBool(parsed, 3); !ok || !light {
		t.Error("Expected light=true")
	}
}

func TestParseCBORMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		msg  interface{}
	}{
		{"not an array", uint64(5)},
		{"three elements", []interface{}{uint64(1), nil, nil}},
		{"string type", []interface{}{"door", nil}},
		{"type out of range", []interface{}{uint64(300), nil}},
		{"payload not a map", []interface{}{uint64(MsgDoorStatus), "x"}},
		{"string map key", []interface{}{uint64(MsgDoorStatus), map[string]interface{}{"a": 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := cbor.Marshal(tt.msg)
			if err != nil {
				t.Fatal(err)
			}
			if _, _, err := ParseCBORMessage(data); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestGetMapHelpers(t *testing.T) {
	m := map[int]interface{}{
		0: uint64(42),
		1: int64(-10),
		2: true,
	}

	if v, ok := GetMapUint(m, 0); !ok || v != 42 {
		t.Errorf("GetMapUint(0) = %d, %v", v, ok)
	}
	if _, ok := GetMapUint(m, 1); ok {
		t.Error("GetMapUint should reject negative values")
	}
	if v, ok := GetMapInt(m, 1); !ok || v != -10 {
		t.Errorf("GetMapInt(1) = %d, %v", v, ok)
	}
	if v, ok := GetMapBool(m, 2); !ok || !v {
		t.Errorf("GetMapBool(2) = %v, %v", v, ok)
	}
	if _, ok := GetMapBool(m, 0); ok {
		t.Error("GetMapBool should reject non-bool values")
	}
	if _, ok := GetMapUint(nil, 0); ok {
		t.Error("GetMapUint on nil map should return false")
	}
}

// ============================================================
// Packet Tests
// ============================================================

func TestPacket_Accessors(t *testing.T) {
	cborData := buildCBORPayload(MsgLightStatus, map[int]interface{}{0: true})
	p := NewPacket(uint8(len(cborData)), AddressDrive, cborData, 0x1234)

	if p.Length() != uint8(len(cborData)) {
		t.Errorf("Length = %d", p.Length())
	}
	if p.Address() != AddressDrive || !p.FromDrive() || p.IsBroadcast() {
		t.Errorf("unexpected address handling for 0x%02X", p.Address())
	}
	if p.Type() != MsgLightStatus {
		t.Errorf("Type = 0x%02X", p.Type())
	}
	if p.CRC() != 0x1234 {
		t.Errorf("CRC = 0x%04X", p.CRC())
	}
	if p.ParseError() != nil {
		t.Errorf("ParseError = %v", p.ParseError())
	}
	if p.Timestamp().IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestPacket_ParseErrorIsLazy(t *testing.T) {
	p := NewPacket(2, AddressDrive, []byte{0xFF, 0xFF}, 0)
	if p.ParseError() == nil {
		t.Error("expected parse error for garbage CBOR")
	}
	if p.PayloadMap() != nil {
		t.Error("payload map should be nil after parse error")
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte(0x05)
	if !d.InFrame() {
		t.Fatal("decoder should be inside a frame")
	}
	d.Reset()
	if d.InFrame() || len(d.GetRawBytes()) != 0 {
		t.Error("Reset should return the decoder to idle with no raw bytes")
	}
}

func TestDecoder_SimplePacket(t *testing.T) {
	frame := MustEncodePacket(NewStatusRequest(AddressPanel))

	d := NewDecoder()
	p, err := feed(d, frame)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if p == nil {
		t.Fatal("expected a packet")
	}
	if p.Type() != MsgStatusRequest || p.Address() != AddressPanel {
		t.Errorf("got type 0x%02X from 0x%02X", p.Type(), p.Address())
	}
	if p.PayloadMap() != nil {
		t.Errorf("expected nil payload, got %v", p.PayloadMap())
	}
}

func TestDecoder_ByteStuffing(t *testing.T) {
	// Address 0x7E and 0x7D both have to travel escaped
	for _, addr := range []uint8{StartByte, EndByte, EscByte} {
		frame := MustEncodePacket(NewLightStatus(addr, true))
		for _, b := range frame[1 : len(frame)-1] {
			if b == StartByte || b == EndByte {
				t.Fatalf("unescaped framing byte inside frame for address 0x%02X", addr)
			}
		}

		p, err := DecodePacket(frame)
		if err != nil {
			t.Fatalf("decode error for address 0x%02X: %v", addr, err)
		}
		if p.Address() != addr {
			t.Errorf("address = 0x%02X, want 0x%02X", p.Address(), addr)
		}
	}
}

func TestDecoder_CRCMismatch(t *testing.T) {
	frame := buildRawFrame(AddressDrive, buildCBORPayload(MsgLightStatus, map[int]interface{}{0: true}), true)

	d := NewDecoder()
	_, err := feed(d, frame)
	if !errors.Is(err, ErrCRCMismatch) {
		t.Fatalf("expected ErrCRCMismatch, got %v", err)
	}
	if d.InFrame() {
		t.Error("decoder should reset after CRC mismatch")
	}
}

func TestDecoder_InvalidLength(t *testing.T) {
	for _, length := range []byte{0, MaxPayloadSize + 1} {
		d := NewDecoder()
		d.DecodeByte(StartByte)
		if _, err := d.DecodeByte(length); !errors.Is(err, ErrInvalidLength) {
			t.Errorf("length %d: expected ErrInvalidLength, got %v", length, err)
		}
	}
}

func TestDecoder_UnexpectedEndByte(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	d.DecodeByte(0x04)
	if _, err := d.DecodeByte(EndByte); !errors.Is(err, ErrUnexpectedEnd) {
		t.Errorf("expected ErrUnexpectedEnd, got %v", err)
	}
}

func TestDecoder_MissingEndByte(t *testing.T) {
	frame := MustEncodePacket(NewStatusRequest(AddressPanel))
	frame[len(frame)-1] = 0x00

	_, err := feed(NewDecoder(), frame)
	if !errors.Is(err, ErrMissingEnd) {
		t.Errorf("expected ErrMissingEnd, got %v", err)
	}
}

func TestDecoder_StartByteResetsState(t *testing.T) {
	good := MustEncodePacket(NewLightStatus(AddressDrive, false))
	partial := good[:4]

	d := NewDecoder()
	p, err := feed(d, append(append([]byte{}, partial...), good...))
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if p == nil || p.Type() != MsgLightStatus {
		t.Fatal("expected the second frame to decode after the restart")
	}
}

func TestDecoder_IgnoresNoiseWhileIdle(t *testing.T) {
	d := NewDecoder()
	for _, b := range []byte{0x00, 0x12, EscByte, 0x55, 0xFF} {
		if p, err := d.DecodeByte(b); p != nil || err != nil {
			t.Fatalf("noise byte 0x%02X produced %v, %v", b, p, err)
		}
	}
	if d.InFrame() {
		t.Error("noise should not start a frame")
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidatePacket_DoorStatus_Valid(t *testing.T) {
	p := NewDoorStatus(AddressDrive, DoorStatus{State: DriveOpen, Current: 200, Target: 200, Light: true})
	if errs := ValidatePacket(p); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidatePacket_DoorStatus_Anomalies(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[int]interface{}
		expected AnomalyType
	}{
		{"state out of range", map[int]interface{}{0: uint64(9), 1: uint64(0), 2: uint64(0)}, AnomalyInvalidState},
		{"current out of range", map[int]interface{}{0: uint64(0), 1: uint64(201), 2: uint64(0)}, AnomalyPositionRange},
		{"missing target", map[int]interface{}{0: uint64(0), 1: uint64(10)}, AnomalyMissingField},
		{"missing state", map[int]interface{}{1: uint64(0), 2: uint64(0)}, AnomalyMissingField},
		{"light not bool", map[int]interface{}{0: uint64(0), 1: uint64(0), 2: uint64(0), 3: uint64(1)}, AnomalyInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidatePacket(NewPacketWithPayload(AddressDrive, MsgDoorStatus, tt.payload))
			if len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
			if errs[0].Type != tt.expected {
				t.Errorf("anomaly = %d, want %d (%s)", errs[0].Type, tt.expected, errs[0].Message)
			}
		})
	}
}

func TestValidatePacket_Commands(t *testing.T) {
	if errs := ValidatePacket(NewPositionCommand(AddressPanel, 201)); len(errs) == 0 || errs[0].Type != AnomalyPositionRange {
		t.Errorf("expected position range anomaly, got %v", errs)
	}
	if errs := ValidatePacket(NewDoorCommand(AddressPanel, DoorAction(9))); len(errs) == 0 {
		t.Error("expected invalid action anomaly")
	}
	if errs := ValidatePacket(NewLightCommand(AddressPanel, LightToggle)); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	if errs := ValidatePacket(NewPanelBeacon(AddressPanel)); len(errs) != 0 {
		t.Errorf("expected no errors for beacon, got %v", errs)
	}
}

func TestValidationError_Error(t *testing.T) {
	e := &ValidationError{Type: AnomalyInvalidState, Message: "bad state"}
	if e.Error() != "bad state" {
		t.Errorf("Error() = %q", e.Error())
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatMessageType(t *testing.T) {
	tests := map[uint8]string{
		MsgDoorCommand:     "DOOR_COMMAND",
		MsgPositionCommand: "POSITION_COMMAND",
		MsgLightCommand:    "LIGHT_COMMAND",
		MsgStatusRequest:   "STATUS_REQUEST",
		MsgDoorStatus:      "DOOR_STATUS",
		MsgLightStatus:     "LIGHT_STATUS",
		MsgPanelBeacon:     "PANEL_BEACON",
		MsgErrorInvalidCmd: "ERROR_INVALID_CMD",
		0x99:               "UNKNOWN",
	}
	for msgType, expected := range tests {
		if got := FormatMessageType(msgType); got != expected {
			t.Errorf("FormatMessageType(0x%02X) = %q, want %q", msgType, got, expected)
		}
	}
}

func TestFormatPayloadMap_DoorStatus(t *testing.T) {
	out := FormatPayloadMap(MsgDoorStatus, map[int]interface{}{
		0: uint64(DriveClosing),
		1: uint64(101),
		2: uint64(0),
		3: false,
		4: uint64(DriveErrorObstruction),
	})
	for _, want := range []string{"CLOSING", "50.5%", "0.0%", "Light: Off", "Obstruction"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestFormatPacket(t *testing.T) {
	p, err := DecodePacket(MustEncodePacket(NewDoorCommand(AddressController, ActionVent)))
	if err != nil {
		t.Fatal(err)
	}
	out := FormatPacket(p)
	for _, want := range []string{"DOOR_COMMAND", "from=CONTROLLER", "VENT"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.Update(nil, nil)
	s.Update(ErrCRCMismatch, nil)
	s.Update(ErrMissingEnd, nil)
	s.Update(nil, []ValidationError{{Type: AnomalyInvalidState}, {Type: AnomalyPositionRange}})
	s.Update(nil, []ValidationError{{Type: AnomalyMissingField}})

	if s.TotalPackets != 5 || s.ValidPackets != 1 {
		t.Errorf("total=%d valid=%d", s.TotalPackets, s.ValidPackets)
	}
	if s.CRCErrors != 1 || s.DecodeErrors != 1 {
		t.Errorf("crc=%d decode=%d", s.CRCErrors, s.DecodeErrors)
	}
	if s.InvalidStates != 1 || s.PositionRange != 1 || s.AnomalousValues != 2 {
		t.Errorf("states=%d range=%d anomalous=%d", s.InvalidStates, s.PositionRange, s.AnomalousValues)
	}
	if s.MalformedPackets != 1 {
		t.Errorf("malformed=%d", s.MalformedPackets)
	}
	if !strings.Contains(s.String(), "CRC Errors:") {
		t.Error("String() should list CRC errors")
	}

	s.Reset()
	if s.TotalPackets != 0 || s.CRCErrors != 0 {
		t.Error("Reset should clear counters")
	}
}
