// Command loadmesh-tui is a terminal dashboard over a running loadmeshd
// instance, adapted from the teacher's cmd/ratelord-tui/main.go (same
// bubbletea/bubbles/lipgloss shape: a spinner-driven poll loop, a top
// summary pane listing the tracked run IDs, and a scrolling viewport) but
// polling run status
// instead of the teacher's event/identity streams.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	pollRate       = time.Second
	viewportHeight = 20
)

var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	runTimeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(20)
	runStatusStyle = lipgloss.NewStyle().Width(12).Bold(true)
	runIDStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))

	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// RunStatus mirrors pkg/audit.RunStatus, duplicated here to avoid pulling
// the CGO-linked SQLite driver into this binary.
type RunStatus struct {
	RunID       string     `json:"runID"`
	Genesis     int64      `json:"genesis"`
	SubmittedAt time.Time  `json:"submittedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	ChunkCount  int        `json:"chunkCount"`
}

type tickMsg time.Time

type dataMsg struct {
	runs []RunStatus
	err  error
}

type model struct {
	spinner  spinner.Model
	viewport viewport.Model
	daemon   string
	runIDs   []string
	runs     []RunStatus
	err      error
	ready    bool
}

func initialModel(daemon string, runIDs []string) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	vp := viewport.New(100, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	return model{
		spinner:  s,
		viewport: vp,
		daemon:   daemon,
		runIDs:   runIDs,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, fetchRuns(m.daemon, m.runIDs), tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchRuns(m.daemon, m.runIDs), tick())

	case dataMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.runs = msg.runs
			m.updateViewportContent()
		}
		m.ready = true

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

func (m *model) updateViewportContent() {
	var sb strings.Builder

	sorted := append([]RunStatus(nil), m.runs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SubmittedAt.After(sorted[j].SubmittedAt)
	})

	for _, r := range sorted {
		ts := r.SubmittedAt.Format("15:04:05")

		var statusStr string
		switch r.Status {
		case "failed":
			statusStr = failStyle.Render(r.Status)
		case "success":
			statusStr = successStyle.Render(r.Status)
		default:
			statusStr = runningStyle.Render(r.Status)
		}

		line := fmt.Sprintf("%s %s %s chunks=%d\n",
			runTimeStyle.Render(ts),
			runStatusStyle.Render(statusStr),
			runIDStyle.Render(r.RunID),
			r.ChunkCount,
		)
		sb.WriteString(line)
	}

	m.viewport.SetContent(sb.String())
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Initializing...", m.spinner.View())
	}

	var summary strings.Builder
	summary.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Tracked Runs") + "\n\n")
	if len(m.runIDs) == 0 {
		summary.WriteString(subtleStyle.Render("No run IDs given on the command line."))
	} else {
		for _, id := range m.runIDs {
			summary.WriteString(fmt.Sprintf("• %s\n", id))
		}
	}
	topPane := paneStyle.Render(summary.String())

	header := headerStyle.Render(fmt.Sprintf("%s Run Status", m.spinner.View()))
	bottomPane := m.viewport.View()

	var status string
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("offline: %v", m.err))
	} else {
		status = okStyle.Render(fmt.Sprintf("online • %d runs tracked", len(m.runs)))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress q to quit", status))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, bottomPane, footer)
}

func fetchRuns(daemon string, runIDs []string) tea.Cmd {
	return func() tea.Msg {
		var runs []RunStatus
		client := &http.Client{Timeout: 500 * time.Millisecond}
		for _, id := range runIDs {
			resp, err := client.Get(daemon + "/v1/runs/" + id)
			if err != nil {
				return dataMsg{err: err}
			}
			var rs RunStatus
			decodeErr := json.NewDecoder(resp.Body).Decode(&rs)
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return dataMsg{err: fmt.Errorf("run %s: status %d", id, resp.StatusCode)}
			}
			if decodeErr != nil {
				return dataMsg{err: decodeErr}
			}
			runs = append(runs, rs)
		}
		return dataMsg{runs: runs}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	daemon := os.Getenv("LOADMESH_ADDR")
	if daemon == "" {
		daemon = "http://127.0.0.1:8090"
	}
	runIDs := os.Args[1:]

	p := tea.NewProgram(initialModel(daemon, runIDs), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
