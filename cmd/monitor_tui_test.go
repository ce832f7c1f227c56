// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/engine"
)

type fakeDoor struct {
	snap    door.Snapshot
	stats   engine.StatsSnapshot
	sent    []door.Intent
	refusal error
}

func (f *fakeDoor) Snapshot() door.Snapshot              { return f.snap }
func (f *fakeDoor) StatsSnapshot() engine.StatsSnapshot { return f.stats }
func (f *fakeDoor) Enqueue(i door.Intent) (*engine.Pending, error) {
	f.sent = append(f.sent, i)
	return nil, f.refusal
}

func update(t *testing.T, m monitorModel, msg tea.Msg) monitorModel {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(monitorModel)
	require.True(t, ok)
	return out
}

func lastEntry(m monitorModel) errorLogEntry {
	return m.errorLog[len(m.errorLog)-1]
}

func TestMonitor_EnterSendsSelectedAction(t *testing.T) {
	ctrl := &fakeDoor{refusal: engine.ErrUntrusted}
	m := initialMonitorModel(ctrl, "Simulated drive", nil)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	require.Len(t, ctrl.sent, 1)
	assert.Equal(t, door.OpenDoor(), ctrl.sent[0])
	assert.True(t, lastEntry(m).isError)
	assert.Contains(t, lastEntry(m).message, "refused")
	assert.Equal(t, 0, m.inflight)
}

func TestMonitor_PositionInput(t *testing.T) {
	ctrl := &fakeDoor{refusal: errors.New("queue full")}
	m := initialMonitorModel(ctrl, "", nil)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, focusPositionInput, m.focusedField)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("40")})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	require.Len(t, ctrl.sent, 1)
	assert.Equal(t, door.SetPosition(40), ctrl.sent[0])
}

func TestMonitor_PositionInputRejectsText(t *testing.T) {
	ctrl := &fakeDoor{}
	m := initialMonitorModel(ctrl, "", nil)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Empty(t, ctrl.sent)
	assert.Contains(t, lastEntry(m).message, "Invalid position")
}

func TestMonitor_QuitKeyIsTextInPositionInput(t *testing.T) {
	m := initialMonitorModel(&fakeDoor{}, "", nil)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.False(t, m.quitting)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, m.quitting)
}

func TestMonitor_SnapshotTransitionsAreLogged(t *testing.T) {
	m := initialMonitorModel(&fakeDoor{}, "", nil)

	m = update(t, m, snapshotMsg(door.Snapshot{State: door.Closed, Trusted: true, Revision: 1}))
	assert.Contains(t, lastEntry(m).message, "Door status: closed")

	m = update(t, m, snapshotMsg(door.Snapshot{State: door.Opening, Current: 0.2, Trusted: true, Revision: 2}))
	assert.Contains(t, lastEntry(m).message, "closed -> opening")

	m = update(t, m, snapshotMsg(door.Snapshot{State: door.Opening, Current: 0.2, Light: true, Trusted: true, Revision: 3}))
	assert.Equal(t, "Light ON", lastEntry(m).message)

	m = update(t, m, snapshotMsg(door.Snapshot{State: door.Opening, Current: 0.2, Revision: 4}))
	assert.True(t, lastEntry(m).isError)
	assert.Equal(t, "Door status lost", lastEntry(m).message)
}

func TestMonitor_ResultIsLogged(t *testing.T) {
	m := initialMonitorModel(&fakeDoor{}, "", nil)
	m.inflight = 2
	now := time.Now()

	m = update(t, m, resultMsg(engine.Result{Intent: door.OpenDoor(), Outcome: engine.Completed, Transmitted: now, Resolved: now.Add(1200 * time.Millisecond)}))
	assert.Equal(t, 1, m.inflight)
	assert.Equal(t, "open confirmed in 1.2s", lastEntry(m).message)

	m = update(t, m, resultMsg(engine.Result{Intent: door.CloseDoor(), Outcome: engine.TimedOut, Err: engine.ErrTimedOut}))
	assert.Equal(t, 0, m.inflight)
	assert.True(t, lastEntry(m).isError)
}

func TestMonitor_LinkDownOnTick(t *testing.T) {
	down := true
	m := initialMonitorModel(&fakeDoor{}, "", func() bool { return down })

	m = update(t, m, monitorTickMsg(time.Now()))
	assert.True(t, m.connectionLost)
	assert.Contains(t, m.View(), "RECONNECTING")

	down = false
	m = update(t, m, monitorTickMsg(time.Now()))
	assert.False(t, m.connectionLost)
	assert.Equal(t, "Reconnected", lastEntry(m).message)
}

func TestPositionBar(t *testing.T) {
	assert.Equal(t, "[░░░░]", positionBar(0, 4))
	assert.Equal(t, "[██░░]", positionBar(0.5, 4))
	assert.Equal(t, "[████]", positionBar(1.2, 4))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0 seconds", formatUptime(0))
	assert.Equal(t, "1 second", formatUptime(1000))
	assert.Equal(t, "1 minute and 5 seconds", formatUptime(65_000))
	assert.Equal(t, "1 day, 2 hours, and 1 second", formatUptime((26*3600+1)*1000))
}
