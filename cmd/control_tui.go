// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ttrushin/ha-aromatech-scent-diffuser/internal/session"
	"github.com/ttrushin/ha-aromatech-scent-diffuser/pkg/aromalink"
)

const commandTimeout = 30 * time.Second

// Focus states
const (
	focusOilList = iota
	focusIntensityInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// oilItem adapts an oil slot to the list component.
type oilItem struct {
	slot aromalink.OilSlot
}

func (o oilItem) Title() string { return o.slot.Name }
func (o oilItem) Description() string {
	return fmt.Sprintf("%.1f%% (%d/%d)", o.slot.Percentage(), o.slot.Remainder, o.slot.Total)
}
func (o oilItem) FilterValue() string { return o.slot.Name }

type eventEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	sess     *session.Session
	connInfo string

	snap     session.Snapshot
	haveSnap bool

	oilList        list.Model
	intensityInput textinput.Model
	focusedField   int

	events    []eventEntry
	maxEvents int

	width    int
	height   int
	busy     bool
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type snapshotMsg session.Snapshot

type commandDoneMsg struct {
	action string
	err    error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(sess *session.Session, connInfo string) controlModel {
	ti := textinput.New()
	ti.Placeholder = "3"
	ti.CharLimit = 2
	ti.Width = 6

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	oilList := list.New([]list.Item{}, delegate, 30, 10)
	oilList.Title = "Oils"
	oilList.SetShowStatusBar(false)
	oilList.SetShowHelp(false)
	oilList.SetFilteringEnabled(false)

	return controlModel{
		sess:           sess,
		connInfo:       connInfo,
		oilList:        oilList,
		intensityInput: ti,
		focusedField:   focusOilList,
		events:         make([]eventEntry, 0),
		maxEvents:      100,
		width:          80,
		height:         24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(controlTickCmd(), m.refreshCmd())
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		return m, controlTickCmd()

	case snapshotMsg:
		m.applySnapshot(session.Snapshot(msg))

	case commandDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.addEvent(fmt.Sprintf("%s failed: %v", msg.action, msg.err), true)
		} else {
			m.addEvent(msg.action+" done", false)
		}
	}

	var cmd tea.Cmd
	if m.focusedField == focusIntensityInput {
		m.intensityInput, cmd = m.intensityInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.focusedField == focusOilList {
		m.oilList, cmd = m.oilList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		return m.cycleFocus(), nil

	case "i":
		if m.focusedField != focusIntensityInput {
			m.focusedField = focusIntensityInput
			m.intensityInput.Focus()
			return m, nil
		}

	case " ":
		if m.focusedField != focusIntensityInput {
			return m.togglePower()
		}

	case "+", "=":
		if m.focusedField != focusIntensityInput {
			return m.nudgeIntensity(1)
		}

	case "-":
		if m.focusedField != focusIntensityInput {
			return m.nudgeIntensity(-1)
		}

	case "r":
		if m.focusedField != focusIntensityInput {
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.addEvent("refreshing device info", false)
			return m, m.refreshCmd()
		}

	case "enter":
		if m.focusedField == focusIntensityInput {
			return m.applyIntensityInput()
		}
	}

	if m.focusedField == focusIntensityInput {
		var cmd tea.Cmd
		m.intensityInput, cmd = m.intensityInput.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.oilList, cmd = m.oilList.Update(msg)
	return m, cmd
}

func (m *controlModel) cycleFocus() *controlModel {
	if m.focusedField == focusOilList {
		m.focusedField = focusIntensityInput
		m.intensityInput.Focus()
	} else {
		m.focusedField = focusOilList
		m.intensityInput.Blur()
	}
	return m
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *controlModel) togglePower() (tea.Model, tea.Cmd) {
	if m.busy {
		m.addEvent("command already in flight", true)
		return m, nil
	}
	m.busy = true

	on := !m.snap.State.IsOn
	action := "power off"
	if on {
		action = "power on"
	}
	m.addEvent("sending "+action, false)

	sess := m.sess
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		var err error
		if on {
			err = sess.PowerOn(ctx, 0)
		} else {
			err = sess.PowerOff(ctx)
		}
		return commandDoneMsg{action: action, err: err}
	}
}

func (m *controlModel) nudgeIntensity(delta int) (tea.Model, tea.Cmd) {
	level := m.snap.State.Intensity + delta
	if level < 1 || level > m.snap.Info.MaxIntensity {
		return m, nil
	}
	return m.setIntensity(level)
}

func (m *controlModel) applyIntensityInput() (tea.Model, tea.Cmd) {
	raw := m.intensityInput.Value()
	if raw == "" {
		raw = m.intensityInput.Placeholder
	}
	level, err := strconv.Atoi(raw)
	if err != nil {
		m.addEvent(fmt.Sprintf("invalid intensity: %s", raw), true)
		return m, nil
	}
	return m.setIntensity(level)
}

func (m *controlModel) setIntensity(level int) (tea.Model, tea.Cmd) {
	if m.busy {
		m.addEvent("command already in flight", true)
		return m, nil
	}
	m.busy = true
	m.addEvent(fmt.Sprintf("setting intensity %d", level), false)

	sess := m.sess
	running := m.snap.State.IsOn
	return m, func() tea.Msg {
		action := fmt.Sprintf("intensity %d", level)
		if !running {
			// Stopped diffuser: stage the grade for the next power-on
			// instead of waking the device.
			return commandDoneMsg{action: action + " (staged)", err: sess.SetIntensityLocal(level)}
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandDoneMsg{action: action, err: sess.SetIntensity(ctx, level)}
	}
}

func (m controlModel) refreshCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandDoneMsg{action: "refresh", err: sess.ReadDeviceInfo(ctx)}
	}
}

//////////////////////////////////////////////////////////////
// Snapshot Handling
//////////////////////////////////////////////////////////////

func (m *controlModel) applySnapshot(snap session.Snapshot) {
	prev := m.snap
	had := m.haveSnap
	m.snap = snap
	m.haveSnap = true

	items := make([]list.Item, len(snap.State.Oils))
	for i, slot := range snap.State.Oils {
		items[i] = oilItem{slot: slot}
	}
	m.oilList.SetItems(items)

	if !had {
		return
	}
	if prev.Connected != snap.Connected {
		if snap.Connected {
			m.addEvent("link established", false)
		} else {
			m.addEvent("link lost", true)
		}
	}
	if prev.Authenticated != snap.Authenticated && snap.Authenticated {
		m.addEvent("authenticated", false)
	}
	if prev.State.IsOn != snap.State.IsOn {
		if snap.State.IsOn {
			m.addEvent("diffuser running", false)
		} else {
			m.addEvent("diffuser stopped", false)
		}
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
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
	s.WriteString(titleStyle.Render("AROMALINK CONTROL"))
	s.WriteString(" ")
	link := m.connInfo
	if m.haveSnap && !m.snap.Connected {
		link = warningStyle.Render("DISCONNECTED")
	}
	helpText := "q=quit space=power +/-=grade i=intensity r=refresh tab=switch"
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", link, helpText)))
	s.WriteString("\n\n")

	// Layout: left panel (oils) | right panel (device)
	leftWidth := 34
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusOilList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	oilPanel := listStyle.Render(m.oilList.View())

	deviceStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusIntensityInput {
		deviceStyle = focusedBoxStyle.Width(rightWidth)
	}
	devicePanel := deviceStyle.Render(m.renderDevicePanel(labelStyle, valueStyle, warningStyle, headerStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, oilPanel, " ", devicePanel))
	s.WriteString("\n\n")

	// Schedules
	if len(m.snap.State.Schedules) > 0 {
		s.WriteString(m.renderSchedules(labelStyle, valueStyle, boxStyle))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(m.renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle))

	return s.String()
}

func (m controlModel) renderDevicePanel(labelStyle, valueStyle, warningStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder

	if !m.haveSnap {
		s.WriteString(headerStyle.Render("Waiting for device..."))
		return s.String()
	}

	name := m.snap.State.DeviceName
	if name == "" {
		name = deviceAddress
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Device:"), valueStyle.Render(name)))

	power := warningStyle.Render("OFF")
	if m.snap.State.IsOn {
		power = valueStyle.Render("RUNNING")
	}
	s.WriteString(fmt.Sprintf("%s %s", labelStyle.Render("Power:"), power))
	if m.busy {
		s.WriteString(warningStyle.Render("  (working...)"))
	}
	s.WriteString("\n")

	s.WriteString(fmt.Sprintf("%s %s\n",
		labelStyle.Render("Intensity:"),
		valueStyle.Render(fmt.Sprintf("%d / %d", m.snap.State.Intensity, m.snap.Info.MaxIntensity))))

	if m.snap.Info.HasBattery {
		s.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Battery:"),
			valueStyle.Render(fmt.Sprintf("%d%%", m.snap.State.BatteryLevel))))
	}
	if !m.snap.LastSeen.IsZero() {
		s.WriteString(fmt.Sprintf("%s %s (rssi %d)\n",
			labelStyle.Render("Last seen:"),
			valueStyle.Render(m.snap.LastSeen.Format("15:04:05")),
			m.snap.SignalStrength))
	}

	s.WriteString("\n")
	s.WriteString(labelStyle.Render("Set intensity: "))
	if m.focusedField == focusIntensityInput {
		s.WriteString(m.intensityInput.View())
	} else {
		val := m.intensityInput.Value()
		if val == "" {
			val = m.intensityInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}

	return s.String()
}

func (m controlModel) renderSchedules(labelStyle, valueStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("SCHEDULES"))
	s.WriteString("\n")

	for _, slot := range m.snap.State.Schedules {
		marker := " "
		if slot.Enabled {
			marker = valueStyle.Render("*")
		}
		s.WriteString(fmt.Sprintf("%s slot %d  %02d:%02d-%02d:%02d  days=%s  grade=%d\n",
			marker, slot.Index, slot.HourOn, slot.MinuteOn, slot.HourOff, slot.MinuteOff,
			slot.RepeatMask(), slot.Intensity))
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

func (m controlModel) renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if len(m.events) < logHeight {
		logHeight = len(m.events)
	}

	startIdx := len(m.events) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.events) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.events); i++ {
			entry := m.events[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addEvent(message string, isError bool) {
	m.events = append(m.events, eventEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	if len(m.events) > m.maxEvents {
		m.events = m.events[len(m.events)-m.maxEvents:]
	}
}

func (m *controlModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.oilList.SetSize(32, listHeight)
}
