// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package door models the garage door as it is observed on the control bus:
// motion states, position, light, the snapshots handed to consumers and the
// change feed that tells them when a snapshot moved on.
package door

import "time"

// MotionState is the motion state of the door
type MotionState int

// Motion state values. Unknown is the only state in which commands are
// refused.
const (
	Unknown MotionState = iota
	Closed
	Open
	Opening
	Closing
	Stopped
	Venting
	HalfOpen
)

// String returns the display label of the state
func (s MotionState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Opening:
		return "opening"
	case Closing:
		return "closing"
	case Stopped:
		return "stopped"
	case Venting:
		return "venting"
	case HalfOpen:
		return "half open"
	default:
		return "unknown"
	}
}

// Moving reports whether the door is travelling
func (s MotionState) Moving() bool {
	return s == Opening || s == Closing
}

// CoverState maps the state onto the open/closed/opening/closing/stopped
// vocabulary home automation covers use. Partially open resting states are
// reported as open.
func (s MotionState) CoverState() string {
	switch s {
	case Venting, HalfOpen:
		return "open"
	case Unknown:
		return "unknown"
	default:
		return s.String()
	}
}

// FrameKind classifies a decoded bus frame
type FrameKind int

const (
	// FrameStatus carries door state, positions and optionally the light
	FrameStatus FrameKind = iota
	// FrameLight carries only the light state
	FrameLight
	// FrameForeign is valid bus traffic that says nothing about the door
	// (other panels' commands, beacons, requests)
	FrameForeign
)

// Frame is one integrity-checked frame, already mapped onto the door model
type Frame struct {
	Kind     FrameKind
	State    MotionState
	Current  float64 // 0.0 closed .. 1.0 open
	Target   float64
	Light    bool
	HasLight bool
	Source   uint8 // sender's bus address
	Error    uint8 // drive error code, 0 when none
}

// Snapshot is an immutable copy of the door model
type Snapshot struct {
	State     MotionState
	Current   float64
	Target    float64
	Light     bool
	Label     string
	Trusted   bool
	Revision  uint64
	Timestamp time.Time
}

// Moving reports whether the door is travelling
func (s Snapshot) Moving() bool {
	return s.State.Moving()
}

// CoverState returns the home automation cover state
func (s Snapshot) CoverState() string {
	return s.State.CoverState()
}

// CurrentPercent returns the current position as 0..100
func (s Snapshot) CurrentPercent() int {
	return toPercent(s.Current)
}

// TargetPercent returns the target position as 0..100
func (s Snapshot) TargetPercent() int {
	return toPercent(s.Target)
}

func toPercent(pos float64) int {
	return int(pos*100 + 0.5)
}

// sameView reports whether two snapshots show the same door to consumers
func (s Snapshot) sameView(o Snapshot) bool {
	return s.State == o.State &&
		s.Current == o.Current &&
		s.Target == o.Target &&
		s.Light == o.Light &&
		s.Trusted == o.Trusted
}
