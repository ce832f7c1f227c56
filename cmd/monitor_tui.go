// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pandagarage/garagelink/pkg/door"
	"github.com/pandagarage/garagelink/pkg/engine"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	positionBarWidth = 40
	eventLogLines    = 8
)

// Focus states
const (
	focusActionList = iota
	focusPositionInput
	focusButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// doorController is the part of the engine the TUI drives
type doorController interface {
	Snapshot() door.Snapshot
	Enqueue(i door.Intent) (*engine.Pending, error)
	StatsSnapshot() engine.StatsSnapshot
}

// actionItem is one entry of the action list
type actionItem struct {
	intent door.Intent
	desc   string
}

// Implement list.Item interface
func (a actionItem) Title() string       { return a.intent.String() }
func (a actionItem) Description() string { return a.desc }
func (a actionItem) FilterValue() string { return a.intent.String() }

func defaultActions() []list.Item {
	return []list.Item{
		actionItem{door.OpenDoor(), "Fully open"},
		actionItem{door.CloseDoor(), "Fully close"},
		actionItem{door.StopDoor(), "Stop travel"},
		actionItem{door.HalfOpenDoor(), "Half open"},
		actionItem{door.VentDoor(), "Ventilation gap"},
		actionItem{door.ToggleDoor(), "Wall button impulse"},
		actionItem{door.SetLight(true), "Light on"},
		actionItem{door.SetLight(false), "Light off"},
		actionItem{door.ToggleLight(), "Toggle light"},
	}
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	ctrl     doorController
	connInfo string
	linkDown func() bool

	door    door.Snapshot
	stats   engine.StatsSnapshot
	actions list.Model

	// Commands sent and not yet resolved
	inflight int

	errorLog      []errorLogEntry
	maxLogEntries int

	positionInput textinput.Model
	focusedField  int

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type resultMsg engine.Result

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(ctrl doorController, connInfo string, linkDown func() bool) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "50"
	ti.CharLimit = 3
	ti.Width = 5

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	actions := list.New(defaultActions(), delegate, 30, 14)
	actions.Title = "Actions"
	actions.SetShowStatusBar(false)
	actions.SetShowHelp(false)
	actions.SetFilteringEnabled(false)

	if linkDown == nil {
		linkDown = func() bool { return false }
	}

	return monitorModel{
		ctrl:          ctrl,
		connInfo:      connInfo,
		linkDown:      linkDown,
		door:          ctrl.Snapshot(),
		actions:       actions,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		positionInput: ti,
		focusedField:  focusActionList,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// waitResult resolves to a resultMsg once the engine is done with p
func waitResult(p *engine.Pending) tea.Cmd {
	return func() tea.Msg {
		return resultMsg(p.Result())
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft {
			var cmd tea.Cmd
			m.actions, cmd = m.actions.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		m.stats = m.ctrl.StatsSnapshot()
		down := m.linkDown()
		if down != m.connectionLost {
			m.connectionLost = down
			if down {
				m.addLogEntry("Connection lost - reconnecting...", true)
			} else {
				m.addLogEntry("Reconnected", false)
			}
		}
		return m, monitorTickCmd()

	case snapshotMsg:
		m.applySnapshot(door.Snapshot(msg))

	case resultMsg:
		m.inflight--
		m.logResult(engine.Result(msg))
		m.stats = m.ctrl.StatsSnapshot()
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.focusedField == focusPositionInput && msg.String() == "q" {
			break
		}
		m.quitting = true
		return m, tea.Quit

	case "tab":
		m.cycleFocus(1)
		return m, nil

	case "shift+tab":
		m.cycleFocus(-1)
		return m, nil

	case "enter":
		return m.handleEnter()
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusActionList:
		m.actions, cmd = m.actions.Update(msg)
	case focusPositionInput:
		m.positionInput, cmd = m.positionInput.Update(msg)
	}
	return m, cmd
}

func (m *monitorModel) cycleFocus(delta int) {
	maxFocus := focusButton
	m.focusedField = (m.focusedField + delta + maxFocus + 1) % (maxFocus + 1)

	if m.focusedField == focusPositionInput {
		m.positionInput.Focus()
	} else {
		m.positionInput.Blur()
	}
}

func (m monitorModel) handleEnter() (tea.Model, tea.Cmd) {
	switch m.focusedField {
	case focusActionList:
		item, ok := m.actions.SelectedItem().(actionItem)
		if !ok {
			return m, nil
		}
		return m.send(item.intent)

	case focusPositionInput, focusButton:
		value := m.positionInput.Value()
		if value == "" {
			value = m.positionInput.Placeholder
		}
		pct, err := strconv.Atoi(value)
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Invalid position: %s", value), true)
			return m, nil
		}
		return m.send(door.SetPosition(pct))
	}
	return m, nil
}

// send enqueues an intent and waits for its result in the background
func (m monitorModel) send(i door.Intent) (tea.Model, tea.Cmd) {
	p, err := m.ctrl.Enqueue(i)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("%s refused: %v", i, err), true)
		return m, nil
	}
	m.inflight++
	m.addLogEntry(fmt.Sprintf("Queued %s", i), false)
	return m, waitResult(p)
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	buttonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	focusedButtonStyle := buttonStyle.
		Background(lipgloss.Color("10"))

	// Header
	s.WriteString(titleStyle.Render("GARAGELINK MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch Enter=send", connStatus)))
	s.WriteString("\n\n")

	// Layout: left panel (actions) | right panel (door)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusActionList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	actionPanel := listStyle.Render(m.actions.View())

	doorContent := m.renderDoorPanel(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle, buttonStyle, focusedButtonStyle)
	doorPanel := boxStyle.Width(rightWidth).Render(doorContent)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, actionPanel, " ", doorPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderDoorPanel(statsLabelStyle, statsValueStyle, errorStyle, warningStyle, headerStyle, buttonStyle, focusedButtonStyle lipgloss.Style) string {
	var s strings.Builder
	d := m.door

	if !d.Trusted {
		s.WriteString(warningStyle.Render("⏳ Waiting for door status..."))
		s.WriteString("\n")
		if d.Revision > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf("Last seen: %s %d%% at %s",
				d.State, d.CurrentPercent(), d.Timestamp.Format("15:04:05"))))
			s.WriteString("\n")
		}
		s.WriteString(headerStyle.Render("Commands are refused until the drive reports"))
		s.WriteString("\n\n")
	} else {
		stateStyle := statsValueStyle
		if d.Moving() {
			stateStyle = warningStyle
		}
		s.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("State:"), stateStyle.Render(d.State.String()),
			statsLabelStyle.Render("Light:"), statsValueStyle.Render(onOffLabel(d.Light))))
		if d.Label != "" {
			s.WriteString(headerStyle.Render(d.Label))
			s.WriteString("\n")
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			statsLabelStyle.Render("Position:"),
			positionBar(d.Current, positionBarWidth),
			statsValueStyle.Render(fmt.Sprintf("%3d%%", d.CurrentPercent()))))
		if d.Moving() {
			s.WriteString(fmt.Sprintf("%s %d%%\n", statsLabelStyle.Render("Target:"), d.TargetPercent()))
		}
		s.WriteString("\n")
	}

	// Position control
	s.WriteString(statsLabelStyle.Render("Go to %: "))
	if m.focusedField == focusPositionInput {
		s.WriteString(m.positionInput.View())
	} else {
		val := m.positionInput.Value()
		if val == "" {
			val = m.positionInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString("  ")
	btnText := "[ Move ]"
	if m.focusedField == focusButton {
		s.WriteString(focusedButtonStyle.Render(btnText))
	} else {
		s.WriteString(buttonStyle.Render(btnText))
	}

	if m.inflight > 0 {
		s.WriteString("\n\n")
		s.WriteString(warningStyle.Render(fmt.Sprintf("%d command(s) pending", m.inflight)))
	}
	return s.String()
}

// positionBar draws 0.0 (closed) to 1.0 (open) as a fill bar
func positionBar(pos float64, width int) string {
	filled := int(pos*float64(width) + 0.5)
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func (m monitorModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	st := m.stats
	var errorPercent float64
	if total := st.Frames() + st.Errors(); total > 0 {
		errorPercent = float64(st.Errors()) * 100.0 / float64(total)
	}

	errors := statsValueStyle.Render("0.0%")
	if errorPercent > 0 {
		errors = errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Frames())),
		statsLabelStyle.Render("Errors:"), errors,
		statsLabelStyle.Render("Sent:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Transmissions)),
		statsLabelStyle.Render("Done:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Completed)),
		statsLabelStyle.Render("Failed:"), func() string {
			failed := st.TimedOut + st.BusBusy + st.Rejected + st.Failed
			if failed > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", failed))
			}
			return statsValueStyle.Render("0")
		}(),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	startIdx := len(m.errorLog) - eventLogLines
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) applySnapshot(next door.Snapshot) {
	prev := m.door
	m.door = next

	switch {
	case prev.Trusted && !next.Trusted:
		m.addLogEntry("Door status lost", true)
	case !prev.Trusted && next.Trusted:
		m.addLogEntry(fmt.Sprintf("Door status: %s at %d%%", next.State, next.CurrentPercent()), false)
	case next.State != prev.State:
		m.addLogEntry(fmt.Sprintf("Door: %s -> %s (%d%%)", prev.State, next.State, next.CurrentPercent()), false)
	}
	if next.Trusted && prev.Trusted && next.Light != prev.Light {
		m.addLogEntry(fmt.Sprintf("Light %s", onOffLabel(next.Light)), false)
	}
}

func (m *monitorModel) logResult(r engine.Result) {
	switch {
	case r.Outcome != engine.Completed:
		m.addLogEntry(fmt.Sprintf("%s %s: %v", r.Intent, r.Outcome, r.Err), true)
	case r.Noop:
		m.addLogEntry(fmt.Sprintf("%s: already there", r.Intent), false)
	default:
		m.addLogEntry(fmt.Sprintf("%s confirmed in %v", r.Intent,
			r.Resolved.Sub(r.Transmitted).Round(time.Millisecond)), false)
	}
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

func (m *monitorModel) updateListSize() {
	listHeight := m.height / 2
	if listHeight < 8 {
		listHeight = 8
	}
	m.actions.SetSize(28, listHeight)
}
