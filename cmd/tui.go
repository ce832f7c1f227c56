// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pandagarage/garagelink/pkg/hcp"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// Last DOOR_STATUS seen on the bus
type doorReport struct {
	timestamp time.Time
	source    uint8
	state     hcp.DriveState
	current   uint64
	target    uint64
	light     bool
	hasLight  bool
	errorCode uint64
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	stats         *hcp.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  int
	linkClosed    bool
	width         int
	height        int
	quitting      bool
	stations      map[uint8]int
	lastStatus    *doorReport
}

// Messages
type tickMsg time.Time
type busDataMsg struct {
	packet           *hcp.Packet
	decodeErr        error
	validationErrors []hcp.ValidationError
}
type syncMsg struct {
	invalidBytes int
}
type linkClosedMsg struct{}

// formatUptime formats a duration in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func plural(n uint64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         hcp.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		stations:      map[uint8]int{},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after skipping %d invalid bytes", msg.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case linkClosedMsg:
		m.linkClosed = true
		m.addLogEntry("Connection closed", true)

	case busDataMsg:
		if msg.decodeErr != nil {
			if m.synchronized {
				m.stats.Update(msg.decodeErr, nil)
				m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
			}
		} else if msg.packet != nil {
			m.stats.Update(nil, msg.validationErrors)
			m.stations[msg.packet.Address()]++

			msgType := hcp.FormatMessageType(msg.packet.Type())
			if len(msg.validationErrors) > 0 {
				for _, err := range msg.validationErrors {
					m.addLogEntry(fmt.Sprintf("%s: %s", msgType, err.Message), true)
				}
				break
			}

			m.recordStatus(msg.packet)
			if m.showAll {
				m.addLogEntry(fmt.Sprintf("%s from %s (valid)", msgType, hcp.FormatAddress(msg.packet.Address())), false)
			}
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

// recordStatus keeps the latest valid DOOR_STATUS and logs new drive faults
func (m *model) recordStatus(packet *hcp.Packet) {
	if packet.Type() != hcp.MsgDoorStatus {
		return
	}
	p := packet.PayloadMap()
	state, _ := hcp.GetMapUint(p, 0)
	current, _ := hcp.GetMapUint(p, 1)
	target, _ := hcp.GetMapUint(p, 2)
	light, hasLight := hcp.GetMapBool(p, 3)
	code, _ := hcp.GetMapUint(p, 4)

	if code != hcp.DriveErrorNone && (m.lastStatus == nil || m.lastStatus.errorCode != code) {
		m.addLogEntry(fmt.Sprintf("DRIVE FAULT: %s (%d)", hcp.FormatDriveError(code), code), true)
	}

	m.lastStatus = &doorReport{
		timestamp: packet.Timestamp(),
		source:    packet.Address(),
		state:     hcp.DriveState(state),
		current:   current,
		target:    target,
		light:     light,
		hasLight:  hasLight,
		errorCode: code,
	}
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

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

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("GARAGELINK - ERROR DETECTION"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' reset stats | 'q' quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.linkClosed:
		s.WriteString(errorStyle.Render("✗ Connection closed"))
		s.WriteString("\n\n")
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
		s.WriteString("\n\n")
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (skipped %d invalid bytes)", m.invalidBytes)))
		}
		s.WriteString(headerStyle.Render(fmt.Sprintf(" | listening for %s",
			formatUptime(uint64(time.Since(m.stats.StartTime).Milliseconds())))))
		s.WriteString("\n\n")
	}

	// Statistics
	m.stats.CalculateRates()
	totalErrors := m.stats.CRCErrors + m.stats.DecodeErrors + m.stats.MalformedPackets + m.stats.AnomalousValues
	var validPercent, errorPercent float64
	if m.stats.TotalPackets > 0 {
		validPercent = float64(m.stats.ValidPackets) * 100.0 / float64(m.stats.TotalPackets)
		errorPercent = float64(totalErrors) * 100.0 / float64(m.stats.TotalPackets)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalPackets)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidPackets, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))

	if m.stats.CRCErrors > 0 || m.stats.DecodeErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("CRC Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.CRCErrors)),
			statsLabelStyle.Render("Decode Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.DecodeErrors)),
		))
	}

	if m.stats.MalformedPackets > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d)\n",
			statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.MalformedPackets)),
			headerStyle.Render("missing fields"), m.stats.MissingFields,
		))
	}

	if m.stats.AnomalousValues > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d)\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.AnomalousValues)),
			headerStyle.Render("invalid state"), m.stats.InvalidStates,
			headerStyle.Render("position range"), m.stats.PositionRange,
		))
	}

	errorRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
	if m.stats.ErrorRate > 0 {
		errorRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), errorRate,
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Door section (only shown once the drive has reported)
	if r := m.lastStatus; r != nil {
		s.WriteString(statsLabelStyle.Render("Latest Door Status:"))
		s.WriteString("\n")

		door := strings.Builder{}
		door.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("State:"), statsValueStyle.Render(hcp.FormatDriveState(r.state)),
			statsLabelStyle.Render("From:"), hcp.FormatAddress(r.source),
		))
		door.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Position:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", float64(r.current)/2)),
			statsLabelStyle.Render("Target:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", float64(r.target)/2)),
		))
		if r.hasLight {
			door.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Light:"), statsValueStyle.Render(onOffLabel(r.light))))
		}
		if r.errorCode != hcp.DriveErrorNone {
			door.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Fault:"), errorStyle.Render(hcp.FormatDriveError(r.errorCode))))
		}
		door.WriteString(headerStyle.Render(fmt.Sprintf("%d stations heard", len(m.stations))))

		s.WriteString(boxStyle.Render(door.String()))
		s.WriteString("\n\n")
	}

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 18 // header, stats and door boxes
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.errorLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.errorLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}

func onOffLabel(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
