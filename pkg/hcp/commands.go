// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

// Builders for every message the bus carries. Commands are sent by panels
// and controllers, status messages by the drive unit (and by the simulator).

// NewDoorCommand creates a DOOR_COMMAND packet (0x10).
func NewDoorCommand(address uint8, action DoorAction) *Packet {
	return NewPacketWithPayload(address, MsgDoorCommand, map[int]interface{}{
		0: uint64(action),
	})
}

// NewPositionCommand creates a POSITION_COMMAND packet (0x11).
// The target is given in half-percent steps, 0 (closed) to 200 (open).
func NewPositionCommand(address uint8, halfPercent uint8) *Packet {
	return NewPacketWithPayload(address, MsgPositionCommand, map[int]interface{}{
		0: uint64(halfPercent),
	})
}

// NewLightCommand creates a LIGHT_COMMAND packet (0x12).
func NewLightCommand(address uint8, mode LightMode) *Packet {
	return NewPacketWithPayload(address, MsgLightCommand, map[int]interface{}{
		0: uint64(mode),
	})
}

// NewStatusRequest creates a STATUS_REQUEST packet (0x1F).
// The drive answers with DOOR_STATUS outside its regular broadcast.
func NewStatusRequest(address uint8) *Packet {
	return NewPacketWithPayload(address, MsgStatusRequest, nil)
}

// DoorStatus holds the fields of a DOOR_STATUS message
type DoorStatus struct {
	State   DriveState
	Current uint8 // half-percent
	Target  uint8 // half-percent
	Light   bool
	Error   uint8
}

// NewDoorStatus creates a DOOR_STATUS packet (0x20).
func NewDoorStatus(address uint8, s DoorStatus) *Packet {
	payload := map[int]interface{}{
		0: uint64(s.State),
		1: uint64(s.Current),
		2: uint64(s.Target),
		3: s.Light,
	}
	if s.Error != DriveErrorNone {
		payload[4] = uint64(s.Error)
	}
	return NewPacketWithPayload(address, MsgDoorStatus, payload)
}

// NewLightStatus creates a LIGHT_STATUS packet (0x21).
func NewLightStatus(address uint8, on bool) *Packet {
	return NewPacketWithPayload(address, MsgLightStatus, map[int]interface{}{
		0: on,
	})
}

// NewPanelBeacon creates a PANEL_BEACON packet (0x2E), the keep-alive wall
// panels send between commands.
func NewPanelBeacon(address uint8) *Packet {
	return NewPacketWithPayload(address, MsgPanelBeacon, nil)
}

// NewErrorInvalidCmd creates an ERROR_INVALID_CMD packet (0xE0).
func NewErrorInvalidCmd(address uint8, rejected uint8) *Packet {
	return NewPacketWithPayload(address, MsgErrorInvalidCmd, map[int]interface{}{
		0: uint64(rejected),
	})
}
