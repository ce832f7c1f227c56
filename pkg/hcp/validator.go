// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hcp

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyMissingField AnomalyType = iota
	AnomalyInvalidState
	AnomalyPositionRange
	AnomalyInvalidValue
	AnomalyCRCError
	AnomalyDecodeError
)

// ValidationError represents a payload validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket checks payload fields against the ranges the drive is able
// to report. Returns an empty slice when the packet is valid.
func ValidatePacket(p *Packet) []ValidationError {
	if err := p.ParseError(); err != nil {
		return []ValidationError{{
			Type:    AnomalyDecodeError,
			Message: err.Error(),
		}}
	}

	m := p.PayloadMap()
	switch p.Type() {
	case MsgDoorStatus:
		return validateDoorStatus(m)
	case MsgLightStatus:
		if _, ok := GetMapBool(m, 0); !ok {
			return []ValidationError{missingField("LIGHT_STATUS", 0)}
		}
	case MsgDoorCommand:
		return validateRange("DOOR_COMMAND action", m, 0, uint64(ActionHalf))
	case MsgPositionCommand:
		errs := validateRange("POSITION_COMMAND target", m, 0, MaxHalfPercent)
		for i := range errs {
			if errs[i].Type == AnomalyInvalidValue {
				errs[i].Type = AnomalyPositionRange
			}
		}
		return errs
	case MsgLightCommand:
		return validateRange("LIGHT_COMMAND mode", m, 0, uint64(LightToggle))
	}
	return nil
}

// validateDoorStatus validates DOOR_STATUS: 0 => state, 1 => current,
// 2 => target, 3 => light (optional), 4 => error (optional)
func validateDoorStatus(m map[int]interface{}) []ValidationError {
	errors := []ValidationError{}

	state, ok := GetMapUint(m, 0)
	if !ok {
		errors = append(errors, missingField("DOOR_STATUS", 0))
	} else if state > uint64(DriveHalfOpen) {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidState,
			Message: fmt.Sprintf("Invalid drive state=%d (max %d)", state, DriveHalfOpen),
			Details: map[string]interface{}{"state": state, "max": uint64(DriveHalfOpen)},
		})
	}

	for _, key := range []int{1, 2} {
		pos, ok := GetMapUint(m, key)
		if !ok {
			errors = append(errors, missingField("DOOR_STATUS", key))
			continue
		}
		if pos > MaxHalfPercent {
			errors = append(errors, ValidationError{
				Type:    AnomalyPositionRange,
				Message: fmt.Sprintf("Position out of range (key %d = %d, max %d)", key, pos, MaxHalfPercent),
				Details: map[string]interface{}{"key": key, "value": pos, "max": MaxHalfPercent},
			})
		}
	}

	if v, present := m[3]; present {
		if _, ok := v.(bool); !ok {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("DOOR_STATUS light flag has type %T", v),
			})
		}
	}

	return errors
}

func validateRange(name string, m map[int]interface{}, key int, max uint64) []ValidationError {
	v, ok := GetMapUint(m, key)
	if !ok {
		return []ValidationError{missingField(name, key)}
	}
	if v > max {
		return []ValidationError{{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid %s=%d (max %d)", name, v, max),
			Details: map[string]interface{}{"value": v, "max": max},
		}}
	}
	return nil
}

func missingField(name string, key int) ValidationError {
	return ValidationError{
		Type:    AnomalyMissingField,
		Message: fmt.Sprintf("%s missing field %d", name, key),
		Details: map[string]interface{}{"key": key},
	}
}
