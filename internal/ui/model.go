// Package ui renders a live terminal view of a running ranging session.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/signalsfoundry/chirp-ranging/history"
	"github.com/signalsfoundry/chirp-ranging/ranging"
)

// OutcomeMsg delivers one ranging cycle outcome to the model. The session
// forwarder sends these through tea.Program.Send.
type OutcomeMsg struct {
	Outcome ranging.Outcome
}

// SessionDoneMsg reports that the session stopped on its own.
type SessionDoneMsg struct {
	Err error
}

// TickMsg redraws the clock and relative ages.
type TickMsg time.Time

const recentRows = 12

// shared holds state common to all copies of the value-receiver model.
type shared struct {
	log *history.Log
}

// Model is the root Bubble Tea model.
type Model struct {
	width  int
	height int

	role     ranging.Role
	extended bool
	peer     uint32

	timeouts   uint64
	incomplete uint64
	lastError  string
	done       bool

	shared *shared
}

// New builds a watch model over the given measurement log.
func New(role ranging.Role, extended bool, peer uint32, log *history.Log) Model {
	return Model{
		role:     role,
		extended: extended,
		peer:     peer,
		shared:   &shared{log: log},
	}
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "Q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case TickMsg:
		return m, tickCmd()

	case OutcomeMsg:
		switch msg.Outcome.Kind {
		case ranging.OutcomeMeasurement:
			m.shared.log.Append(msg.Outcome.Measurement)
			m.lastError = ""
		case ranging.OutcomeTimeout:
			m.timeouts++
		case ranging.OutcomeIncomplete:
			m.incomplete++
			if msg.Outcome.Err != nil {
				m.lastError = msg.Outcome.Err.Error()
			}
		}
		return m, nil

	case SessionDoneMsg:
		m.done = true
		if msg.Err != nil {
			m.lastError = msg.Err.Error()
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting ranging watch..."
	}

	title := styleTitleBar.Width(m.width).Render(
		fmt.Sprintf("chirp-ranging  %s  peer 0x%08X  %s", m.role, m.peer, modeLabel(m.extended)))

	recent := m.shared.log.Snapshot()
	current := m.renderCurrent(recent)
	table := m.renderTable(recent)

	body := lipgloss.JoinVertical(lipgloss.Left, current, table)

	status := styleStatusBar.Width(m.width).Render(m.statusLine())

	return lipgloss.JoinVertical(lipgloss.Left, title, body, status)
}

func modeLabel(extended bool) string {
	if extended {
		return "extended"
	}
	return "standard"
}

func (m Model) renderCurrent(recent []ranging.Measurement) string {
	w := m.width - 4
	if w < 20 {
		w = 20
	}

	var b strings.Builder
	b.WriteString(stylePanelTitle.Render("CURRENT"))
	b.WriteString("\n")

	if len(recent) == 0 {
		b.WriteString(styleTimeout.Render("waiting for first exchange"))
	} else {
		latest := recent[0]
		b.WriteString(styleDistance.Render(fmt.Sprintf("%9.2f m", latest.DistanceMeters)))
		if smoothed, ok := m.shared.log.SmoothedDistance(); ok {
			b.WriteString(styleSmoothed.Render(fmt.Sprintf("   smoothed %8.2f m", smoothed)))
		}
		b.WriteString("\n")
		b.WriteString(renderVelocity(latest.RelativeVelocityKmh))
		b.WriteString(styleRssi.Render(fmt.Sprintf("   %d dBm", latest.RssiDbm)))
	}

	return stylePanel.Width(w).Render(b.String())
}

// renderVelocity shows the sign convention in words; positive means the
// peer is receding.
func renderVelocity(v *float64) string {
	if v == nil {
		return styleTimeout.Render("velocity n/a")
	}
	if *v >= 0 {
		return styleVelocityAway.Render(fmt.Sprintf("%+7.2f km/h receding", *v))
	}
	return styleVelocityToward.Render(fmt.Sprintf("%+7.2f km/h closing", *v))
}

func (m Model) renderTable(recent []ranging.Measurement) string {
	w := m.width - 4
	if w < 20 {
		w = 20
	}

	var b strings.Builder
	b.WriteString(stylePanelTitle.Render("RECENT"))
	b.WriteString("\n")

	n := len(recent)
	if n > recentRows {
		n = recentRows
	}
	if n == 0 {
		b.WriteString(styleRowDim.Render("no measurements yet"))
	}
	for i := 0; i < n; i++ {
		meas := recent[i]
		row := fmt.Sprintf("%s  %9.2f m  %s  %4d dBm",
			meas.Timestamp.Format("15:04:05"),
			meas.DistanceMeters,
			velocityCell(meas.RelativeVelocityKmh),
			meas.RssiDbm)
		if i == 0 {
			b.WriteString(row)
		} else {
			b.WriteString(styleRowDim.Render(row))
		}
		if i != n-1 {
			b.WriteString("\n")
		}
	}

	return stylePanel.Width(w).Render(b.String())
}

func velocityCell(v *float64) string {
	if v == nil {
		return "        --"
	}
	return fmt.Sprintf("%+7.2f km/h", *v)
}

func (m Model) statusLine() string {
	line := fmt.Sprintf("measurements: %d  timeouts: %d  incomplete: %d  [q] quit",
		m.shared.log.Total(), m.timeouts, m.incomplete)
	if m.lastError != "" {
		line += "  last error: " + m.lastError
	}
	if m.done {
		line += "  [session ended]"
	}
	return line
}
