// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package door

import "math"

// positionTolerance is half a percent, the resolution the drive reports in.
const positionTolerance = 0.005

func samePosition(a, b float64) bool {
	return math.Abs(a-b) <= positionTolerance
}

// Redundant reports whether sending the intent would only repeat a motion
// already under way, or ask for a state the door is already in. Toggle and
// light toggle always change something and are never redundant.
func (s Snapshot) Redundant(i Intent) bool {
	switch i.Action {
	case ActionOpen:
		return s.State == Opening || s.State == Open
	case ActionClose:
		return s.State == Closing || s.State == Closed
	case ActionStop:
		return !s.Moving()
	case ActionVent:
		return s.State == Venting
	case ActionHalf:
		return s.State == HalfOpen
	case ActionPosition:
		if !samePosition(s.Target, i.Fraction()) {
			return false
		}
		return s.Moving() || samePosition(s.Current, i.Fraction())
	case ActionLightOn:
		return s.Light
	case ActionLightOff:
		return !s.Light
	default:
		return false
	}
}

// Confirms reports whether s shows that the drive accepted the intent.
// baseline is the snapshot taken when the intent was transmitted.
func (s Snapshot) Confirms(i Intent, baseline Snapshot) bool {
	switch i.Action {
	case ActionOpen:
		return s.State == Opening || s.State == Open
	case ActionClose:
		return s.State == Closing || s.State == Closed
	case ActionStop:
		return !s.Moving()
	case ActionPosition:
		return samePosition(s.Target, i.Fraction()) || samePosition(s.Current, i.Fraction())
	case ActionVent:
		return s.State == Venting || (s.Moving() && s.State != baseline.State)
	case ActionHalf:
		return s.State == HalfOpen || (s.Moving() && s.State != baseline.State)
	case ActionToggle:
		return s.State != baseline.State
	case ActionLightOn:
		return s.Light
	case ActionLightOff:
		return !s.Light
	case ActionLightToggle:
		return s.Light != baseline.Light
	default:
		return false
	}
}
