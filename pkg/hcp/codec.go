// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import (
	"fmt"

	"github.com/pandagarage/garagelink/pkg/door"
)

// Codec maps bus frames onto the door model and door intents onto command
// frames.
type Codec struct {
	// Address is the sender address put on outgoing frames
	Address uint8
}

// NewCodec returns a codec sending as the controller address
func NewCodec() *Codec {
	return &Codec{Address: AddressController}
}

// Decode decodes the first frame in buf. It returns the frame, or nil when
// buf holds no complete frame, and the number of bytes the caller should
// drop from the front of buf. Frames that fail the integrity check or carry
// an invalid payload are consumed and reported as errors.
func (c *Codec) Decode(buf []byte) (*door.Frame, int, error) {
	p, consumed, err := Scan(buf)
	if err != nil || p == nil {
		return nil, consumed, err
	}

	if errs := ValidatePacket(p); len(errs) > 0 {
		return nil, consumed, fmt.Errorf("%w: %s: %s", ErrInvalidPayload, FormatMessageType(p.Type()), errs[0].Message)
	}

	f := FrameFromPacket(p)
	return &f, consumed, nil
}

// FrameFromPacket maps a validated packet onto the door model
func FrameFromPacket(p *Packet) door.Frame {
	m := p.PayloadMap()
	f := door.Frame{Kind: door.FrameForeign, Source: p.Address()}

	switch p.Type() {
	case MsgDoorStatus:
		state, _ := GetMapUint(m, 0)
		current, _ := GetMapUint(m, 1)
		target, _ := GetMapUint(m, 2)
		code, _ := GetMapUint(m, 4)
		f.Kind = door.FrameStatus
		f.State = MotionStateOf(DriveState(state))
		f.Current = FromHalfPercent(current)
		f.Target = FromHalfPercent(target)
		f.Light, f.HasLight = GetMapBool(m, 3)
		f.Error = uint8(code)

	case MsgLightStatus:
		f.Kind = door.FrameLight
		f.Light, f.HasLight = GetMapBool(m, 0)
	}

	return f
}

// Encode builds the command frame for an intent
func (c *Codec) Encode(i door.Intent) ([]byte, error) {
	p, err := c.CommandPacket(i)
	if err != nil {
		return nil, err
	}
	return EncodePacket(p)
}

// CommandPacket returns the packet that carries an intent
func (c *Codec) CommandPacket(i door.Intent) (*Packet, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}

	switch i.Action {
	case door.ActionOpen:
		return NewDoorCommand(c.Address, ActionOpen), nil
	case door.ActionClose:
		return NewDoorCommand(c.Address, ActionClose), nil
	case door.ActionStop:
		return NewDoorCommand(c.Address, ActionStop), nil
	case door.ActionToggle:
		return NewDoorCommand(c.Address, ActionImpuls), nil
	case door.ActionVent:
		return NewDoorCommand(c.Address, ActionVent), nil
	case door.ActionHalf:
		return NewDoorCommand(c.Address, ActionHalf), nil
	case door.ActionPosition:
		return NewPositionCommand(c.Address, uint8(i.Position*2)), nil
	case door.ActionLightOn:
		return NewLightCommand(c.Address, LightOn), nil
	case door.ActionLightOff:
		return NewLightCommand(c.Address, LightOff), nil
	case door.ActionLightToggle:
		return NewLightCommand(c.Address, LightToggle), nil
	}
	return nil, fmt.Errorf("%w: no command for %s", door.ErrInvalidIntent, i)
}

// MotionStateOf maps a drive state onto the door model
func MotionStateOf(s DriveState) door.MotionState {
	switch s {
	case DriveStopped:
		return door.Stopped
	case DriveOpening:
		return door.Opening
	case DriveClosing:
		return door.Closing
	case DriveOpen:
		return door.Open
	case DriveClosed:
		return door.Closed
	case DriveVenting:
		return door.Venting
	case DriveHalfOpen:
		return door.HalfOpen
	default:
		return door.Unknown
	}
}

// DriveStateOf maps a door motion state onto the drive state reported on
// the bus. Unknown has no wire form and maps to stopped.
func DriveStateOf(s door.MotionState) DriveState {
	switch s {
	case door.Opening:
		return DriveOpening
	case door.Closing:
		return DriveClosing
	case door.Open:
		return DriveOpen
	case door.Closed:
		return DriveClosed
	case door.Venting:
		return DriveVenting
	case door.HalfOpen:
		return DriveHalfOpen
	default:
		return DriveStopped
	}
}

// FromHalfPercent converts a wire position to 0.0..1.0
func FromHalfPercent(v uint64) float64 {
	return float64(v) / MaxHalfPercent
}

// ToHalfPercent converts a 0.0..1.0 position to its wire form
func ToHalfPercent(pos float64) uint8 {
	switch {
	case pos <= 0:
		return 0
	case pos >= 1:
		return MaxHalfPercent
	default:
		return uint8(pos*MaxHalfPercent + 0.5)
	}
}

// StatusFrame encodes a door frame as the DOOR_STATUS the drive would send
func StatusFrame(address uint8, f door.Frame) ([]byte, error) {
	return EncodePacket(NewDoorStatus(address, DoorStatus{
		State:   DriveStateOf(f.State),
		Current: ToHalfPercent(f.Current),
		Target:  ToHalfPercent(f.Target),
		Light:   f.Light,
		Error:   f.Error,
	}))
}
