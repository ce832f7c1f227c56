// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import (
	"bytes"
	"testing"
)

func TestEncodePacket_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet *Packet
	}{
		{"door command", NewDoorCommand(AddressController, ActionOpen)},
		{"position command", NewPositionCommand(AddressController, 137)},
		{"light command", NewLightCommand(AddressPanel, LightOn)},
		{"status request", NewStatusRequest(AddressController)},
		{"door status", NewDoorStatus(AddressDrive, DoorStatus{State: DriveClosing, Current: 126, Target: 0, Light: true})},
		{"door status with error", NewDoorStatus(AddressDrive, DoorStatus{State: DriveStopped, Current: 99, Target: 99, Error: DriveErrorOverload})},
		{"light status", NewLightStatus(AddressDrive, true)},
		{"panel beacon", NewPanelBeacon(AddressPanel)},
		{"invalid command error", NewErrorInvalidCmd(AddressDrive, MsgPositionCommand)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodePacket(tt.packet)
			if err != nil {
				t.Fatalf("EncodePacket failed: %v", err)
			}
			decoded, err := DecodePacket(encoded)
			if err != nil {
				t.Fatalf("DecodePacket failed: %v", err)
			}

			if decoded.Address() != tt.packet.Address() {
				t.Errorf("address mismatch: got 0x%02X, want 0x%02X", decoded.Address(), tt.packet.Address())
			}
			if decoded.Type() != tt.packet.Type() {
				t.Errorf("type mismatch: got 0x%02X, want 0x%02X", decoded.Type(), tt.packet.Type())
			}
			if len(decoded.PayloadMap()) != len(tt.packet.PayloadMap()) {
				t.Fatalf("payload size mismatch: got %v, want %v", decoded.PayloadMap(), tt.packet.PayloadMap())
			}
			for k, want := range tt.packet.PayloadMap() {
				if got := decoded.PayloadMap()[k]; got != want {
					t.Errorf("payload[%d] = %v (%T), want %v (%T)", k, got, got, want, want)
				}
			}

			// Re-encoding the decoded packet must give identical bytes
			again, err := EncodePacket(decoded)
			if err != nil {
				t.Fatalf("re-encode failed: %v", err)
			}
			if !bytes.Equal(again, encoded) {
				t.Errorf("re-encoded frame differs:\n got %X\nwant %X", again, encoded)
			}
		})
	}
}

func TestStuffBytes(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []byte
	}{
		{"no special bytes", []byte{0x01, 0x02}, []byte{0x01, 0x02}},
		{"start byte", []byte{StartByte}, []byte{EscByte, StartByte ^ EscXor}},
		{"end byte", []byte{EndByte}, []byte{EscByte, EndByte ^ EscXor}},
		{"escape byte", []byte{EscByte}, []byte{EscByte, EscByte ^ EscXor}},
		{"consecutive", []byte{StartByte, EndByte, EscByte}, []byte{EscByte, 0x5E, EscByte, 0x5F, EscByte, 0x5D}},
		{"empty", []byte{}, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StuffBytes(tt.input)
			if !bytes.Equal(got, tt.expected) {
				t.Errorf("StuffBytes(%X) = %X, want %X", tt.input, got, tt.expected)
			}
			back, err := UnstuffBytes(got)
			if err != nil {
				t.Fatalf("UnstuffBytes failed: %v", err)
			}
			if !bytes.Equal(back, tt.input) {
				t.Errorf("UnstuffBytes(%X) = %X, want %X", got, back, tt.input)
			}
		})
	}
}

func TestUnstuffBytes_IncompleteEscape(t *testing.T) {
	if _, err := UnstuffBytes([]byte{0x01, EscByte}); err == nil {
		t.Error("expected error for trailing escape byte")
	}
}

func TestEncodePacket_PayloadTooLarge(t *testing.T) {
	large := make(map[int]interface{})
	for i := 0; i < 40; i++ {
		large[i] = uint64(i)
	}
	if _, err := EncodePacketFromValues(AddressController, MsgDoorCommand, large); err == nil {
		t.Error("expected error for oversized payload, got nil")
	}
}

func TestMustEncodePacket_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustEncodePacket should panic on oversized payload")
		}
	}()

	large := make(map[int]interface{})
	for i := 0; i < 40; i++ {
		large[i] = uint64(i)
	}
	MustEncodePacket(NewPacketWithPayload(AddressController, MsgDoorCommand, large))
}

func TestDecodePacket_EmptyAndIncomplete(t *testing.T) {
	if _, err := DecodePacket([]byte{}); err == nil {
		t.Error("expected error for empty frame data")
	}
	if _, err := DecodePacket([]byte{StartByte}); err == nil {
		t.Error("expected error for incomplete frame data")
	}
}
