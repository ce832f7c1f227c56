// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import "fmt"

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	msgType := FormatMessageType(p.Type())

	result := fmt.Sprintf("[%s] %s (0x%02X) from=%s len=%d\n",
		timestamp, msgType, p.Type(), FormatAddress(p.address), p.length)

	if err := p.ParseError(); err != nil {
		return result + fmt.Sprintf("  Parse error: %v\n", err)
	}
	return result + FormatPayloadMap(p.Type(), p.PayloadMap())
}

// FormatAddress returns the station name for a bus address
func FormatAddress(addr uint8) string {
	switch addr {
	case AddressBroadcast:
		return "BROADCAST"
	case AddressDrive:
		return "DRIVE"
	case AddressPanel:
		return "PANEL"
	case AddressController:
		return "CONTROLLER"
	default:
		return fmt.Sprintf("0x%02X", addr)
	}
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	case MsgDoorCommand:
		return "DOOR_COMMAND"
	case MsgPositionCommand:
		return "POSITION_COMMAND"
	case MsgLightCommand:
		return "LIGHT_COMMAND"
	case MsgStatusRequest:
		return "STATUS_REQUEST"
	case MsgDoorStatus:
		return "DOOR_STATUS"
	case MsgLightStatus:
		return "LIGHT_STATUS"
	case MsgPanelBeacon:
		return "PANEL_BEACON"
	case MsgErrorInvalidCmd:
		return "ERROR_INVALID_CMD"
	default:
		return "UNKNOWN"
	}
}

// FormatPayloadMap formats the payload map based on message type
func FormatPayloadMap(msgType uint8, m map[int]interface{}) string {
	switch msgType {
	case MsgStatusRequest, MsgPanelBeacon:
		return "  (no payload)\n"

	case MsgDoorCommand:
		action, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Action: %s (%d)\n", FormatDoorAction(DoorAction(action)), action)

	case MsgPositionCommand:
		target, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Target: %s\n", formatHalfPercent(target))

	case MsgLightCommand:
		mode, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Light: %s (%d)\n", formatLightMode(LightMode(mode)), mode)

	case MsgDoorStatus:
		// 0 => state, 1 => current, 2 => target, 3 => light (opt), 4 => error (opt)
		state, _ := GetMapUint(m, 0)
		current, _ := GetMapUint(m, 1)
		target, _ := GetMapUint(m, 2)
		result := fmt.Sprintf("  State: %s (%d), Position: %s, Target: %s",
			FormatDriveState(DriveState(state)), state, formatHalfPercent(current), formatHalfPercent(target))
		if light, ok := GetMapBool(m, 3); ok {
			result += ", Light: " + onOff(light)
		}
		if code, ok := GetMapUint(m, 4); ok {
			result += fmt.Sprintf(", Error: %s (%d)", FormatDriveError(code), code)
		}
		return result + "\n"

	case MsgLightStatus:
		light, _ := GetMapBool(m, 0)
		return fmt.Sprintf("  Light: %s\n", onOff(light))

	case MsgErrorInvalidCmd:
		rejected, _ := GetMapUint(m, 0)
		return fmt.Sprintf("  Rejected: %s (0x%02X)\n", FormatMessageType(uint8(rejected)), rejected)

	default:
		if m == nil {
			return "  (no payload)\n"
		}
		return fmt.Sprintf("  Payload: %v\n", m)
	}
}

// FormatDriveState returns the name of a drive state
func FormatDriveState(s DriveState) string {
	switch s {
	case DriveStopped:
		return "STOPPED"
	case DriveOpening:
		return "OPENING"
	case DriveClosing:
		return "CLOSING"
	case DriveOpen:
		return "OPEN"
	case DriveClosed:
		return "CLOSED"
	case DriveVenting:
		return "VENTING"
	case DriveHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// FormatDoorAction returns the name of a door action
func FormatDoorAction(a DoorAction) string {
	switch a {
	case ActionStop:
		return "STOP"
	case ActionOpen:
		return "OPEN"
	case ActionClose:
		return "CLOSE"
	case ActionImpuls:
		return "IMPULSE"
	case ActionVent:
		return "VENT"
	case ActionHalf:
		return "HALF"
	default:
		return "UNKNOWN"
	}
}

func formatLightMode(m LightMode) string {
	switch m {
	case LightOff:
		return "OFF"
	case LightOn:
		return "ON"
	case LightToggle:
		return "TOGGLE"
	default:
		return "UNKNOWN"
	}
}

// FormatDriveError names a DOOR_STATUS error code
func FormatDriveError(code uint64) string {
	switch code {
	case DriveErrorNone:
		return "None"
	case DriveErrorObstruction:
		return "Obstruction"
	case DriveErrorOverload:
		return "Overload"
	case DriveErrorLimitSwitch:
		return "Limit switch"
	default:
		return "Unknown"
	}
}

func formatHalfPercent(v uint64) string {
	return fmt.Sprintf("%.1f%%", float64(v)/2)
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}
