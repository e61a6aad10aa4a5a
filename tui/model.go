package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// maxSummaryLines caps the summary shown on success.
const maxSummaryLines = 20

// tickMsg is fired every second to update the expiry countdown.
type tickMsg time.Time

// state represents the current phase of a command.
type state int

const (
	stateInit       state = iota
	stateRefreshing       // refreshing the access token
	stateRequesting       // API request in flight
	stateServing          // serving the native bridge
	stateSuccess          // all done
	stateError            // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the authclient TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	// Session expiry countdown
	expiresAt time.Time
	remaining time.Duration

	// Request in flight
	method string
	path   string

	bridgeAddr string

	// Success / error display
	summary string
	errMsg  string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles, defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleSummaryBox = lipgloss.NewStyle().
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 1)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.remaining = max(time.Until(m.expiresAt), 0)
		if m.remaining > 0 {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── session messages ─────────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgSessionRestored:
		m.addStatus(statusOK, "Found existing session")
		return m, m.countdown(msg.ExpiresIn)

	case MsgLoginRequired:
		m.addStatus(statusWarn, "No stored session, log in first")
		return m, nil

	case MsgLoggedIn:
		if msg.Email != "" {
			m.addStatus(statusOK, "Logged in as "+msg.Email)
		} else {
			m.addStatus(statusOK, "Logged in")
		}
		return m, nil

	case MsgLoggedOut:
		m.expiresAt = time.Time{}
		m.remaining = 0
		m.addStatus(statusInfo, "Logged out")
		return m, nil

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusInfo, "Refreshing access token...")
		return m, nil

	case MsgRefreshOK:
		m.addStatus(statusOK, "Token refreshed successfully")
		if m.state == stateRefreshing {
			m.state = stateInit
		}
		return m, m.countdown(msg.ExpiresIn)

	case MsgRefreshFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgForceLogout:
		m.expiresAt = time.Time{}
		m.remaining = 0
		if msg.Err != nil {
			m.addStatus(statusWarn, fmt.Sprintf("Session expired: %v", msg.Err))
		} else {
			m.addStatus(statusWarn, "Session expired, log in again")
		}
		return m, nil

	case MsgRequesting:
		m.method = msg.Method
		m.path = msg.Path
		m.state = stateRequesting
		return m, nil

	case MsgRequestOK:
		text := fmt.Sprintf("API call successful (HTTP %d)", msg.Status)
		switch {
		case msg.Cached:
			text += ", served from cache"
		case msg.Retries > 0:
			text += fmt.Sprintf(" after %d retries", msg.Retries)
		}
		m.addStatus(statusOK, text)
		return m, nil

	case MsgRequestFailed:
		m.addStatus(statusWarn, fmt.Sprintf("API call failed: %v", msg.Err))
		return m, nil

	case MsgBridgeServing:
		m.bridgeAddr = msg.Addr
		m.state = stateServing
		m.addStatus(statusInfo, "Serving native bridge on "+msg.Addr)
		return m, nil

	case MsgDone:
		m.summary = msg.Summary
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// countdown starts the expiry countdown unless one is already ticking.
func (m *Model) countdown(expiresIn time.Duration) tea.Cmd {
	ticking := m.remaining > 0
	m.expiresAt = time.Now().Add(expiresIn)
	m.remaining = expiresIn
	if ticking || expiresIn <= 0 {
		return nil
	}
	return tickAfterSecond()
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while a command is running.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  AuthGate API Client  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access token...\n")

	case stateRequesting:
		b.WriteString(m.spinner.View())
		b.WriteString(" ")
		b.WriteString(styleBold.Render(m.method))
		b.WriteString(" " + m.path + "\n")

	case stateServing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Waiting for the native shell on ")
		b.WriteString(styleBold.Render(m.bridgeAddr))
		b.WriteString("\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	if m.remaining > 0 {
		b.WriteString(styleDim.Render("Access token expires in " + formatDuration(m.remaining)))
		b.WriteString("\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown after the command completed.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ Done"))
	b.WriteString("\n\n")

	if m.summary != "" {
		b.WriteString(styleSummaryBox.Render(preview(m.summary)))
		b.WriteString("\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Request failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// preview trims s to maxSummaryLines lines.
func preview(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= maxSummaryLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:maxSummaryLines], "\n") +
		fmt.Sprintf("\n… %d more lines", len(lines)-maxSummaryLines)
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
