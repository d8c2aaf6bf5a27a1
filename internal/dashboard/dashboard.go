// Terminal status dashboard polling the diagnostics API.
package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"lodregulator/internal/regulator"
)

const pollInterval = time.Second

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type tickMsg time.Time

type statusMsg struct {
	decision *regulator.Decision
	err      error
}

// Model is the bubbletea model for the status dashboard.
type Model struct {
	addr     string
	client   *http.Client
	decision *regulator.Decision
	fetchErr error
	reasons  table.Model
	width    int
}

// New creates a dashboard model polling the given admin base URL.
func New(addr string) Model {
	cols := []table.Column{{Title: "Reasons", Width: 60}}
	t := table.New(table.WithColumns(cols), table.WithHeight(6))
	return Model{
		addr:    addr,
		client:  &http.Client{Timeout: 2 * time.Second},
		reasons: t,
		width:   80,
	}
}

// Run starts the dashboard program and blocks until quit.
func Run(addr string) error {
	p := tea.NewProgram(New(addr), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Cmd {
	addr, client := m.addr, m.client
	return func() tea.Msg {
		resp, err := client.Get(addr + "/status")
		if err != nil {
			return statusMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusMsg{err: fmt.Errorf("status endpoint: %s", resp.Status)}
		}
		var d regulator.Decision
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{decision: &d}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())
	case statusMsg:
		m.fetchErr = msg.err
		if msg.decision != nil {
			m.decision = msg.decision
			rows := make([]table.Row, 0, len(msg.decision.Reasons))
			for _, r := range msg.decision.Reasons {
				rows = append(rows, table.Row{r})
			}
			m.reasons.SetRows(rows)
		}
	}
	return m, nil
}

func (m Model) View() string {
	title := titleStyle.Render("LOD Regulator " + m.addr)
	if m.fetchErr != nil {
		return title + "\n" + errStyle.Render(wordwrap.String("fetch failed: "+m.fetchErr.Error(), m.width)) + "\n\npress q to quit\n"
	}
	if m.decision == nil {
		return title + "\n" + warnStyle.Render("waiting for first decision...") + "\n\npress q to quit\n"
	}

	d := m.decision
	statusStyle := okStyle
	if d.Paused {
		statusStyle = warnStyle
	}
	if string(d.BridgeConn) == "no_ack" {
		statusStyle = errStyle
	}

	rows := []string{
		labelStyle.Render("status") + statusStyle.Render(wordwrap.String(d.Status, m.width-14)),
		labelStyle.Render("tier") + string(d.Tier),
		labelStyle.Render("altitude") + d.AltitudeText(),
		labelStyle.Render("target") + fmt.Sprintf("%.3f", d.Target),
		labelStyle.Render("smoothed") + fmt.Sprintf("%.3f", d.Smoothed),
		labelStyle.Render("telemetry") + string(d.TelemetryState),
		labelStyle.Render("bridge") + string(d.BridgeConn),
		labelStyle.Render("proof") + wordwrap.String(d.Proof.Summary, m.width-14),
	}
	panel := borderStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))

	out := title + "\n" + panel + "\n"
	if len(d.Reasons) > 0 {
		out += m.reasons.View() + "\n"
	}
	out += "\npress q to quit\n"
	return out
}
