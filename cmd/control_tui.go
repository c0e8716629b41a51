// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/datecs-bridge/internal/bridge"
	"github.com/Thermoquad/datecs-bridge/internal/identity"
	"github.com/Thermoquad/datecs-bridge/pkg/datecs"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	controlRefreshSeconds = 1 // Device list refresh interval
	maxHistory            = 20
)

// Focus states
const (
	focusDeviceList = iota
	focusCommandInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// deviceItem is one configured fiscal device in the list
type deviceItem struct {
	health bridge.DeviceHealth
}

// Implement list.Item interface
func (d deviceItem) Title() string { return fmt.Sprintf("Device %s", d.health.ID) }
func (d deviceItem) Description() string {
	return fmt.Sprintf("%s %s", connectedLabel(d.health.Connected), identityLabel(d.health))
}
func (d deviceItem) FilterValue() string { return d.health.ID }

// consoleCommand is a parsed command line
type consoleCommand struct {
	line   string
	opcode uint16
	params []string
}

// parseConsoleCommand parses "OPCODE [p1|p2|...]". Everything after the
// first run of spaces is the parameter text; | separates parameters.
func parseConsoleCommand(line string) (consoleCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return consoleCommand{}, errors.New("empty command")
	}

	op, rest, _ := strings.Cut(line, " ")
	opcode, err := datecs.ParseOpcode(op)
	if err != nil {
		return consoleCommand{}, err
	}

	c := consoleCommand{line: line, opcode: opcode}
	rest = strings.TrimLeft(rest, " ")
	if rest != "" {
		c.params = strings.Split(rest, "|")
	}
	return c, nil
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Connection manager (for sending commands and reconnection)
	connMgr *connectionManager

	// Device tracking
	health     bridge.Health
	deviceList list.Model

	// Command entry
	cmdInput     textinput.Model
	focusedField int
	history      []string
	historyIdx   int
	pending      bool

	// Statistics
	sent     int
	ok       int
	failed   int
	noFrame  int
	lastRTT  time.Duration
	lastResp string

	// Event log (shared with the monitor TUI)
	eventLog      []eventLogEntry
	maxLogEntries int

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlHealthMsg bridge.Health

type identityChangeMsg identity.Change

type linkStateMsg struct {
	device      string
	connected   bool
	reconnected bool
}

type commandResultMsg struct {
	device  string
	command consoleCommand
	resp    *datecs.Response
	err     error
	rtt     time.Duration
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *connectionManager, health bridge.Health) controlModel {
	// Initialize text input for commands
	ti := textinput.New()
	ti.Placeholder = "4A 0|"
	ti.CharLimit = 256
	ti.Width = 40
	ti.Prompt = "> "

	// Initialize device list
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	deviceList := list.New(deviceItems(health), delegate, 30, 10)
	deviceList.Title = "Devices"
	deviceList.SetShowStatusBar(false)
	deviceList.SetShowHelp(false)
	deviceList.SetFilteringEnabled(false)

	return controlModel{
		connMgr:       connMgr,
		health:        health,
		deviceList:    deviceList,
		cmdInput:      ti,
		focusedField:  focusDeviceList,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func deviceItems(h bridge.Health) []list.Item {
	items := make([]list.Item, 0, len(h.Devices))
	for _, d := range h.Devices {
		items = append(items, deviceItem{health: d})
	}
	return items
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(controlRefreshSeconds*time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft {
			m.deviceList, _ = m.deviceList.Update(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		if m.connMgr != nil {
			return m, tea.Batch(m.connMgr.healthCmd(), controlTickCmd())
		}
		return m, controlTickCmd()

	case controlHealthMsg:
		m.setHealth(bridge.Health(msg))

	case identityChangeMsg:
		cur := msg.Current
		switch {
		case cur.Mismatched():
			m.addLogEntry(fmt.Sprintf("Device %s identity check failed: %s", cur.Device, identityText(cur)), true)
		case cur.Known():
			m.addLogEntry(fmt.Sprintf("Device %s identity OK (%s)", cur.Device, cur.Actual), false)
		}

	case linkStateMsg:
		switch {
		case msg.reconnected:
			m.addLogEntry(fmt.Sprintf("Device %s reconnected", msg.device), false)
		case msg.connected:
			m.addLogEntry(fmt.Sprintf("Device %s connected", msg.device), false)
		default:
			m.addLogEntry(fmt.Sprintf("Device %s connection lost - reconnecting...", msg.device), true)
		}

	case commandResultMsg:
		m.pending = false
		m.recordResult(msg)
	}

	// Update child components
	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.cmdInput, cmd = m.cmdInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) setHealth(h bridge.Health) {
	m.health = h
	idx := m.deviceList.Index()
	m.deviceList.SetItems(deviceItems(h))
	if idx < len(h.Devices) {
		m.deviceList.Select(idx)
	}
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusCommandInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		m.cycleFocus()
		return m, nil

	case "enter":
		if m.focusedField == focusDeviceList {
			m.cycleFocus()
			return m, nil
		}
		return m.handleEnter()

	case "up", "down":
		if m.focusedField == focusCommandInput {
			m.recallHistory(msg.String() == "up")
			return m, nil
		}
	}

	// Pass through to focused component
	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.cmdInput, cmd = m.cmdInput.Update(msg)
	} else {
		m.deviceList, cmd = m.deviceList.Update(msg)
	}
	return m, cmd
}

func (m *controlModel) cycleFocus() {
	if m.focusedField == focusDeviceList {
		m.focusedField = focusCommandInput
		m.cmdInput.Focus()
		return
	}
	m.focusedField = focusDeviceList
	m.cmdInput.Blur()
}

func (m *controlModel) recallHistory(older bool) {
	if len(m.history) == 0 {
		return
	}
	if older {
		if m.historyIdx > 0 {
			m.historyIdx--
		}
	} else if m.historyIdx < len(m.history) {
		m.historyIdx++
	}
	if m.historyIdx == len(m.history) {
		m.cmdInput.SetValue("")
		return
	}
	m.cmdInput.SetValue(m.history[m.historyIdx])
	m.cmdInput.CursorEnd()
}

func (m controlModel) handleEnter() (tea.Model, tea.Cmd) {
	if m.pending {
		m.addLogEntry("Command still running", true)
		return m, nil
	}

	selected := m.getSelectedDevice()
	if selected == nil {
		m.addLogEntry("Cannot send command: no device selected", true)
		return m, nil
	}

	c, err := parseConsoleCommand(m.cmdInput.Value())
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid command: %v", err), true)
		return m, nil
	}

	m.history = append(m.history, c.line)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	m.historyIdx = len(m.history)
	m.cmdInput.SetValue("")
	m.pending = true
	m.sent++

	if m.connMgr == nil {
		return m, nil
	}
	return m, m.connMgr.sendCommand(selected.ID, c)
}

func (m *controlModel) recordResult(r commandResultMsg) {
	m.lastRTT = r.rtt
	label := fmt.Sprintf("%s %s", r.device, datecs.FormatOpcode(r.command.opcode))

	if r.err != nil {
		m.failed++
		if errors.Is(r.err, datecs.ErrNoFrame) {
			m.noFrame++
		}
		m.lastResp = ""
		m.addLogEntry(fmt.Sprintf("%s failed: %v", label, r.err), true)
		return
	}

	m.lastResp = strings.TrimRight(datecs.FormatResponse(r.resp), "\n")
	if !r.resp.OK {
		m.failed++
		msg := fmt.Sprintf("%s error %s", label, r.resp.ErrorCode)
		if fault := datecs.ClassifyError(r.resp.ErrorCode); fault.Message != "" {
			msg += " (" + fault.Message + ")"
		}
		m.addLogEntry(msg, true)
		return
	}

	m.ok++
	m.addLogEntry(fmt.Sprintf("%s OK %q in %v", label, r.resp.Data, r.rtt.Round(time.Millisecond)), false)
}

func (m *controlModel) addLogEntry(message string, isError bool) {
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

func (m *controlModel) updateListSize() {
	listHeight := m.height / 2
	if listHeight < 6 {
		listHeight = 6
	}
	m.deviceList.SetSize(28, listHeight)
	m.cmdInput.Width = m.width - 40
	if m.cmdInput.Width < 20 {
		m.cmdInput.Width = 20
	}
}

func (m controlModel) getSelectedDevice() *bridge.DeviceHealth {
	item, ok := m.deviceList.SelectedItem().(deviceItem)
	if !ok {
		return nil
	}
	return &item.health
}

func identityText(id identity.Identity) string {
	if id.Actual != "" && id.Expected != "" && id.Actual != id.Expected {
		return fmt.Sprintf("expected %s, got %s", id.Expected, id.Actual)
	}
	if id.Error != "" {
		return id.Error
	}
	return id.Actual
}

func (m controlModel) View() string {
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

	// Header
	s.WriteString(titleStyle.Render("DATECS BRIDGE CONTROL"))
	s.WriteString(" ")
	policy := "fiscal commands blocked on mismatch"
	if m.health.BlockAllOnMismatch {
		policy = "all commands blocked on mismatch"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch Enter=send", policy)))
	s.WriteString("\n\n")

	// Layout: left panel (devices) | right panel (command)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusDeviceList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	devicePanel := listStyle.Render(m.deviceList.View())

	cmdStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusCommandInput {
		cmdStyle = focusedBoxStyle.Width(rightWidth)
	}
	commandPanel := cmdStyle.Render(m.renderCommandPanel(statsLabelStyle, statsValueStyle, headerStyle, errorStyle, warningStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, devicePanel, " ", commandPanel))
	s.WriteString("\n\n")

	// Statistics bar
	errRender := statsValueStyle.Render(fmt.Sprintf("%d", m.failed))
	if m.failed > 0 {
		errRender = errorStyle.Render(fmt.Sprintf("%d", m.failed))
	}
	stats := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Sent:"), statsValueStyle.Render(fmt.Sprintf("%d", m.sent)),
		statsLabelStyle.Render("OK:"), statsValueStyle.Render(fmt.Sprintf("%d", m.ok)),
		statsLabelStyle.Render("Failed:"), errRender,
		statsLabelStyle.Render("No frame:"), statsValueStyle.Render(fmt.Sprintf("%d", m.noFrame)),
		statsLabelStyle.Render("Last RTT:"), statsValueStyle.Render(m.lastRTT.Round(time.Millisecond).String()),
	)
	s.WriteString(boxStyle.Width(m.width - 4).Render(stats))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(statsLabelStyle, headerStyle, errorStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderCommandPanel(statsLabelStyle, statsValueStyle, headerStyle, errorStyle, warningStyle lipgloss.Style) string {
	var s strings.Builder

	selected := m.getSelectedDevice()
	if selected == nil {
		s.WriteString(headerStyle.Render("No device selected"))
		return s.String()
	}

	// Selected device info
	s.WriteString(fmt.Sprintf("%s Device %s on %s @ %d\n", statsLabelStyle.Render("Selected:"), selected.ID, selected.Path, selected.Baud))
	link := statsValueStyle.Render("connected")
	if !selected.Connected {
		link = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Link:"), link))

	ident := statsValueStyle.Render(identityLabel(*selected))
	if selected.Identity != nil && selected.Identity.Mismatched() {
		ident = errorStyle.Render(identityLabel(*selected))
	}
	s.WriteString(fmt.Sprintf("%s %s\n\n", statsLabelStyle.Render("Identity:"), ident))

	s.WriteString(m.cmdInput.View())
	if m.pending {
		s.WriteString(" " + warningStyle.Render("sending..."))
	}
	s.WriteString("\n")

	if m.lastResp != "" {
		s.WriteString("\n")
		s.WriteString(headerStyle.Render(m.lastResp))
	}

	return s.String()
}

func (m controlModel) renderEventLog(statsLabelStyle, headerStyle, errorStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - m.height/2 - 12
	if logHeight < 3 {
		logHeight = 3
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
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))
	return s.String()
}
