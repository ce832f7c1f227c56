// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package door

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIntent is returned for malformed commands, which are never queued.
var ErrInvalidIntent = errors.New("invalid intent")

// Action is a high-level door or light command
type Action int

// Action values
const (
	ActionOpen Action = iota + 1
	ActionClose
	ActionStop
	ActionPosition
	ActionVent
	ActionHalf
	ActionToggle
	ActionLightOn
	ActionLightOff
	ActionLightToggle
)

var actionNames = map[Action]string{
	ActionOpen:        "open",
	ActionClose:       "close",
	ActionStop:        "stop",
	ActionPosition:    "position",
	ActionVent:        "vent",
	ActionHalf:        "half",
	ActionToggle:      "toggle",
	ActionLightOn:     "light_on",
	ActionLightOff:    "light_off",
	ActionLightToggle: "light_toggle",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction resolves an action name, case-insensitively
func ParseAction(name string) (Action, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown action %q", ErrInvalidIntent, name)
}

// Intent is a command requested by a consumer
type Intent struct {
	Action   Action
	Position int // target percent for ActionPosition, 0 closed .. 100 open
}

// OpenDoor returns an open intent
func OpenDoor() Intent { return Intent{Action: ActionOpen} }

// CloseDoor returns a close intent
func CloseDoor() Intent { return Intent{Action: ActionClose} }

// StopDoor returns a stop intent
func StopDoor() Intent { return Intent{Action: ActionStop} }

// VentDoor returns a vent intent
func VentDoor() Intent { return Intent{Action: ActionVent} }

// HalfOpenDoor returns a half-open intent
func HalfOpenDoor() Intent { return Intent{Action: ActionHalf} }

// ToggleDoor returns an impulse intent, the single-button behaviour
func ToggleDoor() Intent { return Intent{Action: ActionToggle} }

// SetLight returns a light on or light off intent
func SetLight(on bool) Intent { return Intent{Action: lightAction(on)} }

// ToggleLight returns a light toggle intent
func ToggleLight() Intent { return Intent{Action: ActionLightToggle} }

// SetPosition returns an intent to move to pct percent open
func SetPosition(pct int) Intent { return Intent{Action: ActionPosition, Position: pct} }

func lightAction(on bool) Action {
	if on {
		return ActionLightOn
	}
	return ActionLightOff
}

// Validate checks the intent without looking at the door
func (i Intent) Validate() error {
	if _, ok := actionNames[i.Action]; !ok {
		return fmt.Errorf("%w: unknown action %d", ErrInvalidIntent, int(i.Action))
	}
	if i.Action == ActionPosition && (i.Position < 0 || i.Position > 100) {
		return fmt.Errorf("%w: position %d outside 0..100", ErrInvalidIntent, i.Position)
	}
	return nil
}

// IsLight reports whether the intent addresses the light
func (i Intent) IsLight() bool {
	return i.Action == ActionLightOn || i.Action == ActionLightOff || i.Action == ActionLightToggle
}

// Fraction returns the target position as 0.0..1.0
func (i Intent) Fraction() float64 {
	return float64(i.Position) / 100
}

func (i Intent) String() string {
	if i.Action == ActionPosition {
		return fmt.Sprintf("position(%d)", i.Position)
	}
	return i.Action.String()
}
