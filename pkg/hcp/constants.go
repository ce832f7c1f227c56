// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package hcp implements the frame format spoken on the door control bus.
//
// A frame is START | stuffed(LEN | ADDR | CBOR[type, payload] | CRC) | END,
// where the CRC is CRC-16-CCITT over LEN, ADDR and the CBOR payload and the
// address byte names the sender. Every station on the bus (drive unit, wall
// panels, this controller) uses the same framing.
package hcp

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Frame size limits
const (
	MaxPayloadSize = 48
	AddressSize    = 1
	MaxPacketSize  = 1 + AddressSize + MaxPayloadSize + 2 // LEN + ADDR + CBOR + CRC
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Bus addresses
const (
	AddressBroadcast  = 0x00
	AddressDrive      = 0x01 // door operator unit
	AddressPanel      = 0x02 // wired wall panel
	AddressController = 0x10 // this controller
)

// Message types - Commands (Panel/Controller → Drive) 0x10-0x1F
const (
	MsgDoorCommand     = 0x10
	MsgPositionCommand = 0x11
	MsgLightCommand    = 0x12
	MsgStatusRequest   = 0x1F
)

// Message types - Status (Drive → Bus) 0x20-0x2F
const (
	MsgDoorStatus  = 0x20
	MsgLightStatus = 0x21
	MsgPanelBeacon = 0x2E
)

// Message types - Errors 0xE0-0xEF
const (
	MsgErrorInvalidCmd = 0xE0
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateAddress
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

// DoorAction is the action argument of DOOR_COMMAND
type DoorAction uint8

// Door action values
const (
	ActionStop   DoorAction = 0x00
	ActionOpen   DoorAction = 0x01
	ActionClose  DoorAction = 0x02
	ActionImpuls DoorAction = 0x03
	ActionVent   DoorAction = 0x04
	ActionHalf   DoorAction = 0x05
)

// LightMode is the argument of LIGHT_COMMAND
type LightMode uint8

// Light mode values
const (
	LightOff    LightMode = 0x00
	LightOn     LightMode = 0x01
	LightToggle LightMode = 0x02
)

// DriveState is the motion state reported in DOOR_STATUS
type DriveState uint8

// Drive state values
const (
	DriveStopped  DriveState = 0x00
	DriveOpening  DriveState = 0x01
	DriveClosing  DriveState = 0x02
	DriveOpen     DriveState = 0x03
	DriveClosed   DriveState = 0x04
	DriveVenting  DriveState = 0x05
	DriveHalfOpen DriveState = 0x06
)

// MaxHalfPercent is the fully open position in half-percent steps.
const MaxHalfPercent = 200

// Drive error codes carried in DOOR_STATUS
const (
	DriveErrorNone        = 0x00
	DriveErrorObstruction = 0x01
	DriveErrorOverload    = 0x02
	DriveErrorLimitSwitch = 0x03
)
