// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package door

import "time"

// Machine is the door state machine. It is owned by the goroutine that
// reads the bus; consumers read the snapshots it publishes to its Feed.
type Machine struct {
	feed      *Feed
	current   Snapshot
	lastValid time.Time
}

// NewMachine creates a machine in the Unknown state publishing to feed
func NewMachine(feed *Feed) *Machine {
	return &Machine{
		feed:    feed,
		current: feed.Latest(),
	}
}

// Feed returns the feed the machine publishes to
func (m *Machine) Feed() *Feed {
	return m.feed
}

// ApplyFrame folds one decoded frame into the model. Returns true when a
// new snapshot was published; a frame never publishes more than once.
func (m *Machine) ApplyFrame(f Frame, now time.Time) bool {
	next := m.current

	switch f.Kind {
	case FrameStatus:
		next.State = resolveState(f)
		next.Current = clamp(f.Current)
		next.Target = clamp(f.Target)
		if f.HasLight {
			next.Light = f.Light
		}
		next.Trusted = true
		m.lastValid = now

	case FrameLight:
		next.Light = f.Light
		if m.current.Trusted {
			m.lastValid = now
		}

	default:
		return false
	}

	return m.publish(next, now)
}

// SetLight records a light state learned outside a status frame
func (m *Machine) SetLight(on bool, now time.Time) bool {
	next := m.current
	next.Light = on
	return m.publish(next, now)
}

// Expire drops trust when no status frame arrived within window. The last
// reported positions are kept; the state becomes Unknown.
func (m *Machine) Expire(now time.Time, window time.Duration) bool {
	if !m.current.Trusted || now.Sub(m.lastValid) < window {
		return false
	}
	next := m.current
	next.Trusted = false
	next.State = Unknown
	return m.publish(next, now)
}

// Snapshot returns the current model
func (m *Machine) Snapshot() Snapshot {
	return m.current
}

// IsTrusted reports whether the model reflects recent bus traffic
func (m *Machine) IsTrusted() bool {
	return m.current.Trusted
}

// LastValid returns when the last trusted status frame arrived
func (m *Machine) LastValid() time.Time {
	return m.lastValid
}

func (m *Machine) publish(next Snapshot, now time.Time) bool {
	if next.sameView(m.current) {
		return false
	}
	next.Label = next.State.String()
	next.Revision = m.current.Revision + 1
	next.Timestamp = now
	m.current = next
	m.feed.Publish(next)
	return true
}

// resolveState fixes up a travelling state the drive reports after it has
// already reached its target.
func resolveState(f Frame) MotionState {
	if !f.State.Moving() || !samePosition(f.Current, f.Target) {
		return f.State
	}
	switch {
	case samePosition(f.Current, 1):
		return Open
	case samePosition(f.Current, 0):
		return Closed
	default:
		return Stopped
	}
}

func clamp(pos float64) float64 {
	switch {
	case pos < 0:
		return 0
	case pos > 1:
		return 1
	default:
		return pos
	}
}
