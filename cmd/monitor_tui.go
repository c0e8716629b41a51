// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/httpapi"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// TUI model
type monitorModel struct {
	client        *bridgeClient
	interval      time.Duration
	health        *bridge.Health
	lastPoll      time.Time
	pollErr       error
	devices       table.Model
	eventLog      []eventLogEntry
	maxLogEntries int
	changes       int
	width         int
	height        int
	quitting      bool
}

// Messages
type monitorTickMsg time.Time
type healthMsg struct {
	health bridge.Health
	err    error
}
type identityEventMsg httpapi.IdentityEvent
type streamErrMsg struct {
	err error
}

// formatAge formats an elapsed duration to a short human-friendly string
func formatAge(d time.Duration) string {
	if d < time.Second {
		return "just now"
	}

	seconds := int(d.Seconds())
	minutes := seconds / 60
	hours := minutes / 60
	seconds %= 60
	minutes %= 60

	parts := []string{}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 && hours == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ") + " ago"
}

func initialMonitorModel(client *bridgeClient, interval time.Duration) monitorModel {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	columns := []table.Column{
		{Title: "ID", Width: 4},
		{Title: "Port", Width: 16},
		{Title: "Link", Width: 12},
		{Title: "Device", Width: 14},
		{Title: "Expected", Width: 14},
		{Title: "Identity", Width: 22},
		{Title: "Checked", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(4),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Cell
	t.SetStyles(styles)

	return monitorModel{
		client:        client,
		interval:      interval,
		devices:       t,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		m.pollCmd(),
		monitorTickCmd(m.interval),
	)
}

func monitorTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) pollCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h, err := client.Health(ctx)
		return healthMsg{health: h, err: err}
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.pollCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		return m, tea.Batch(m.pollCmd(), monitorTickCmd(m.interval))

	case healthMsg:
		m.lastPoll = time.Now()
		if msg.err != nil {
			if m.pollErr == nil {
				m.addLogEntry(fmt.Sprintf("Health poll failed: %v", msg.err), true)
			}
			m.pollErr = msg.err
			return m, nil
		}
		if m.pollErr != nil {
			m.addLogEntry("Bridge reachable again", false)
		}
		m.pollErr = nil
		h := msg.health
		m.health = &h
		m.devices.SetRows(deviceRows(h, time.Now()))
		m.devices.SetHeight(len(h.Devices) + 1)

	case identityEventMsg:
		ev := httpapi.IdentityEvent(msg)
		if ev.Type == httpapi.EventChange {
			m.changes++
		}
		isError := ev.Identity.Mismatched()
		m.addLogEntry(describeIdentityEvent(ev), isError)
		return m, m.pollCmd()

	case streamErrMsg:
		m.addLogEntry(fmt.Sprintf("Identity stream: %v", msg.err), true)
	}

	return m, nil
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// deviceRows builds one table row per device.
func deviceRows(h bridge.Health, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(h.Devices))
	for _, d := range h.Devices {
		actual, expected, checked := "", "", "never"
		if d.Identity != nil {
			actual = d.Identity.Actual
			expected = d.Identity.Expected
			if !d.Identity.CheckedAt.IsZero() {
				checked = formatAge(now.Sub(d.Identity.CheckedAt))
			}
		}
		if expected == "" {
			expected = h.ExpectedMap[d.ID]
		}
		rows = append(rows, table.Row{
			d.ID,
			d.Path,
			connectedLabel(d.Connected),
			actual,
			expected,
			identityLabel(d),
			checked,
		})
	}
	return rows
}

func (m monitorModel) View() string {
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
	s.WriteString(titleStyle.Render("DATECS BRIDGE - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Server: %s | Poll: %v | Press 'r' to refresh, 'q' to quit",
		m.client.base, m.interval)))
	s.WriteString("\n\n")

	// Reachability
	switch {
	case m.pollErr != nil:
		s.WriteString(errorStyle.Render("✗ Bridge unreachable: " + m.pollErr.Error()))
	case m.health == nil:
		s.WriteString(warningStyle.Render("⏳ Waiting for first health poll..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Bridge reachable"))
		s.WriteString(headerStyle.Render(" (" + formatAge(time.Since(m.lastPoll)) + ")"))
	}
	s.WriteString("\n\n")

	// Statistics
	if m.health != nil {
		connected, mismatched := 0, 0
		for _, d := range m.health.Devices {
			if d.Connected {
				connected++
			}
			if d.Identity != nil && d.Identity.Mismatched() {
				mismatched++
			}
		}

		mismatchRender := statsValueStyle.Render(fmt.Sprintf("%d", mismatched))
		if mismatched > 0 {
			mismatchRender = errorStyle.Render(fmt.Sprintf("%d", mismatched))
		}
		policy := "fiscal only"
		if m.health.BlockAllOnMismatch {
			policy = "all commands"
		}

		statsContent := strings.Builder{}
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("Devices:"), statsValueStyle.Render(fmt.Sprintf("%d", len(m.health.Devices))),
			statsLabelStyle.Render("Connected:"), statsValueStyle.Render(fmt.Sprintf("%d", connected)),
			statsLabelStyle.Render("Not verified:"), mismatchRender,
			statsLabelStyle.Render("Changes:"), statsValueStyle.Render(fmt.Sprintf("%d", m.changes)),
		))
		statsContent.WriteString(fmt.Sprintf("%s %s",
			statsLabelStyle.Render("Blocking on mismatch:"), headerStyle.Render(policy),
		))

		s.WriteString(boxStyle.Render(statsContent.String()))
		s.WriteString("\n\n")

		s.WriteString(statsLabelStyle.Render("Devices:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.devices.View()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 18 // Reserve space for header, stats and table
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
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
