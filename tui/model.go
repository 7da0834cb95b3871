package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// tickMsg is fired every second to update the retry countdown.
type tickMsg time.Time

// state represents the current phase of a command.
type state int

const (
	stateInit       state = iota
	stateRequest          // request in flight
	stateRefreshing       // refreshing the access token
	stateRetrying         // waiting before a transient retry
	stateSuccess          // all done
	stateExpired          // session ended, login required
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

// Model is the BubbleTea model for dashctl commands.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	server  string
	profile string

	// Current request
	method  string
	path    string
	attempt int
	retryAt time.Time
	waitFor time.Duration

	// Success / error display
	summary []string
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

	styleCodeBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 2)

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
		if m.state != stateRetrying {
			return m, nil
		}
		m.waitFor = max(time.Until(m.retryAt), 0)
		if m.waitFor > 0 {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── command messages ────────────────────────────────────────────────────

	case MsgBanner:
		m.server = msg.Server
		m.profile = msg.Profile
		return m, nil

	case MsgRequest:
		m.method = msg.Method
		m.path = msg.Path
		m.attempt = 0
		m.state = stateRequest
		m.addStatus(statusInfo, "Sending "+msg.Method+" "+msg.Path)
		return m, nil

	case MsgRefreshStarted:
		m.state = stateRefreshing
		m.addStatus(statusWarn, "Access token rejected (401), refreshing...")
		return m, nil

	case MsgRefreshOK:
		m.state = stateRequest
		m.addStatus(statusOK, "Token refreshed, retrying request")
		return m, nil

	case MsgRefreshFailed:
		m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
		return m, nil

	case MsgRetryScheduled:
		m.attempt = msg.Attempt
		m.retryAt = time.Now().Add(msg.Delay)
		m.waitFor = msg.Delay
		m.state = stateRetrying
		m.addStatus(statusWarn, fmt.Sprintf("Request failed: %v", msg.Err))
		return m, tickAfterSecond()

	case MsgSessionExpired:
		m.state = stateExpired
		m.addStatus(statusWarn, "Session expired")
		return m, nil

	case MsgCallOK:
		m.state = stateSuccess
		m.summary = []string{
			m.method + " " + m.path,
			fmt.Sprintf("status %d, %d bytes", msg.Status, msg.Bytes),
		}
		return m, nil

	case MsgCallFailed:
		if m.state == stateExpired {
			// keep the login hint on screen
			m.addStatus(statusWarn, fmt.Sprintf("API call failed: %v", msg.Err))
			return m, nil
		}
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil

	case MsgLoginOK:
		m.state = stateSuccess
		m.summary = []string{"Logged in as profile " + msg.Profile}
		if msg.ExpiresIn > 0 {
			m.summary = append(m.summary, "Access token expires in "+formatDuration(msg.ExpiresIn))
		}
		return m, nil

	case MsgLoggedOut:
		m.state = stateSuccess
		m.summary = []string{"Tokens for profile " + msg.Profile + " removed"}
		return m, nil

	case MsgStatus:
		m.state = stateSuccess
		m.summary = statusSummary(msg.Info)
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateExpired:
		return tea.NewView(m.viewExpired())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) viewTitle() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  dashctl  "))
	b.WriteString("\n")
	if m.server != "" {
		b.WriteString(styleDim.Render(m.server + " · profile " + m.profile))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

// viewMain is shown while a request, refresh or retry wait is in progress.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString(m.viewTitle())

	switch m.state {
	case stateRequest:
		b.WriteString(m.spinner.View())
		b.WriteString(" " + m.method + " " + m.path + "\n")

	case stateRefreshing:
		b.WriteString(m.spinner.View())
		b.WriteString(" Refreshing access token...\n")

	case stateRetrying:
		b.WriteString(m.spinner.View())
		fmt.Fprintf(&b, " Retry %d of %s %s  ", m.attempt, m.method, m.path)
		b.WriteString(styleDim.Render("in " + formatDuration(m.waitFor)))
		b.WriteString("\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown after a command completed.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString(m.viewTitle())
	for i, line := range m.summary {
		if i == 0 {
			b.WriteString(styleOK.Render("  ✓ " + line))
		} else {
			b.WriteString("    " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewExpired asks the user to sign in again.
func (m Model) viewExpired() string {
	var b strings.Builder

	b.WriteString(m.viewTitle())
	b.WriteString(styleErr.Render("  ✗ Session expired"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("Sign in again with:"))
	b.WriteString("\n\n")
	b.WriteString(styleCodeBox.Render("  dashctl login  "))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(m.viewTitle())
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

func statusSummary(info StatusInfo) []string {
	lines := []string{
		fmt.Sprintf("Profile %s (%s store)", info.Profile, info.Store),
		styleBold.Render("Access Token:  ") + presence(info.HasAccess),
		styleBold.Render("Refresh Token: ") + presence(info.HasRefresh),
	}
	if info.Subject != "" {
		lines = append(lines, styleBold.Render("Subject:       ")+info.Subject)
	}
	if !info.ExpiresAt.IsZero() {
		lines = append(lines, styleBold.Render("Expires:       ")+expiryText(info.ExpiresAt))
	}
	return lines
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xh Ym", "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
