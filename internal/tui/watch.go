// Package tui renders a live terminal view of a coordination session. The
// watch model consumes engine events forwarded by the caller and draws one
// row per task; it quits on its own once the session reaches a terminal
// status.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kmorand/ensemble/internal/coordinator"
	"github.com/kmorand/ensemble/pkg/models"
)

// Status icons for task rows.
const (
	iconPending   = "[○]"
	iconRunning   = "[●]"
	iconDone      = "[✓]"
	iconFailed    = "[✗]"
	iconSkipped   = "[-]"
	iconCancelled = "[◌]"
)

// EventMsg delivers an engine event to the watch model. Callers forward
// events from the engine's channel via Program.Send.
type EventMsg coordinator.Event

// SessionDoneMsg tells the watch the session finished. The engine's event
// channel is lossy, so callers send this from Manager.Wait as the reliable
// end-of-session signal.
type SessionDoneMsg struct {
	Status models.SessionStatus
}

// taskRow is the display state of one task.
type taskRow struct {
	id      string
	profile models.Profile
	status  models.TaskStatus
	wave    int
	reason  string
}

// Watch is the bubbletea model for a running session. It renders the task
// list with per-status icons, the current wave, and a progress footer.
type Watch struct {
	sessionID string
	strategy  models.Strategy
	rows      []*taskRow
	index     map[string]*taskRow

	wave  int
	waves int
	width int

	done     bool
	status   models.SessionStatus
	quitting bool

	spin spinner.Model

	titleStyle     lipgloss.Style
	dimStyle       lipgloss.Style
	pendingStyle   lipgloss.Style
	runningStyle   lipgloss.Style
	doneStyle      lipgloss.Style
	failedStyle    lipgloss.Style
	skippedStyle   lipgloss.Style
	cancelledStyle lipgloss.Style
}

// NewWatch builds a watch model seeded from a session snapshot. Rows keep
// the snapshot's order, which follows the dependency graph.
func NewWatch(snap *coordinator.SessionSnapshot) *Watch {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("212")) // pink

	w := &Watch{
		sessionID: snap.Session.ID,
		strategy:  snap.Session.Strategy,
		index:     make(map[string]*taskRow, len(snap.Results)),
		waves:     1,
		width:     80,
		spin:      sp,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")). // white
			Background(lipgloss.Color("62")), // purple
		dimStyle:       lipgloss.NewStyle().Foreground(lipgloss.Color("243")), // gray
		pendingStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")), // gray
		runningStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("34")),  // green
		doneStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("28")),  // dark green
		failedStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")), // red
		skippedStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")), // orange
		cancelledStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")), // dark gray
	}

	for _, r := range snap.Results {
		row := &taskRow{
			id:      r.TaskID,
			profile: r.Profile,
			status:  r.Status,
			wave:    r.Wave,
			reason:  r.Reason,
		}
		w.rows = append(w.rows, row)
		w.index[row.id] = row
		if r.Wave+1 > w.waves {
			w.waves = r.Wave + 1
		}
	}
	return w
}

// Init starts the spinner.
func (w *Watch) Init() tea.Cmd {
	return w.spin.Tick
}

// Update handles events, key presses, and spinner ticks.
func (w *Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			w.quitting = true
			return w, tea.Quit
		}

	case tea.WindowSizeMsg:
		w.width = msg.Width

	case spinner.TickMsg:
		if w.done {
			return w, nil
		}
		var cmd tea.Cmd
		w.spin, cmd = w.spin.Update(msg)
		return w, cmd

	case EventMsg:
		w.handleEvent(coordinator.Event(msg))
		if w.done {
			return w, tea.Quit
		}

	case SessionDoneMsg:
		w.finish(msg.Status)
		return w, tea.Quit
	}
	return w, nil
}

func (w *Watch) handleEvent(ev coordinator.Event) {
	switch ev.Type {
	case coordinator.EventWaveStarted:
		w.wave = ev.Wave

	case coordinator.EventTaskStarted:
		if row := w.index[ev.TaskID]; row != nil {
			row.status = models.TaskStatusRunning
			row.wave = ev.Wave
		}

	case coordinator.EventTaskCompleted:
		w.setTerminal(ev.TaskID, models.TaskStatusDone, "")
	case coordinator.EventTaskFailed:
		w.setTerminal(ev.TaskID, models.TaskStatusFailed, ev.Message)
	case coordinator.EventTaskSkipped:
		w.setTerminal(ev.TaskID, models.TaskStatusSkipped, ev.Message)
	case coordinator.EventTaskCancelled:
		w.setTerminal(ev.TaskID, models.TaskStatusCancelled, ev.Message)

	case coordinator.EventSessionDone:
		w.finish(models.SessionStatus(ev.Message))
	}
}

func (w *Watch) setTerminal(taskID string, status models.TaskStatus, reason string) {
	if row := w.index[taskID]; row != nil {
		row.status = status
		row.reason = reason
	}
}

func (w *Watch) finish(status models.SessionStatus) {
	if w.done {
		return
	}
	w.done = true
	w.status = status
}

// Done reports whether the session reached a terminal status.
func (w *Watch) Done() bool {
	return w.done
}

// View renders the session header, one row per task, and a footer with
// progress while running or the final status once done.
func (w *Watch) View() string {
	var b strings.Builder

	b.WriteString(w.titleStyle.Render(fmt.Sprintf(" ensemble session %s ", w.sessionID)))
	b.WriteString("\n")
	b.WriteString(w.dimStyle.Render(fmt.Sprintf("strategy %s | %d tasks", w.strategy, len(w.rows))))
	b.WriteString("\n\n")

	for _, row := range w.rows {
		icon := w.statusStyle(row.status).Render(statusIcon(row.status))
		b.WriteString(fmt.Sprintf("  %s %s (%s)", icon, row.id, row.profile))
		if w.waves > 1 {
			b.WriteString(w.dimStyle.Render(fmt.Sprintf("  wave %d", row.wave+1)))
		}
		b.WriteString("\n")
		if row.reason != "" {
			style := w.dimStyle
			if row.status == models.TaskStatusFailed {
				style = w.failedStyle
			}
			b.WriteString("        ")
			b.WriteString(style.Render(truncate(row.reason, w.width-8)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(w.footer())
	b.WriteString("\n")
	return b.String()
}

func (w *Watch) footer() string {
	if w.done {
		label := "session " + strings.ReplaceAll(string(w.status), "_", " ")
		switch w.status {
		case models.SessionStatusCompleted:
			return w.doneStyle.Render(label)
		case models.SessionStatusPartiallyFailed:
			return w.skippedStyle.Render(label)
		default:
			return w.failedStyle.Render(label)
		}
	}
	finished := 0
	for _, row := range w.rows {
		if row.status.Terminal() {
			finished++
		}
	}
	progress := fmt.Sprintf("wave %d/%d | %d/%d tasks finished | q to detach",
		w.wave+1, w.waves, finished, len(w.rows))
	return w.spin.View() + w.dimStyle.Render(progress)
}

func (w *Watch) statusStyle(s models.TaskStatus) lipgloss.Style {
	switch s {
	case models.TaskStatusRunning:
		return w.runningStyle
	case models.TaskStatusDone:
		return w.doneStyle
	case models.TaskStatusFailed:
		return w.failedStyle
	case models.TaskStatusSkipped:
		return w.skippedStyle
	case models.TaskStatusCancelled:
		return w.cancelledStyle
	default:
		return w.pendingStyle
	}
}

func statusIcon(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusRunning:
		return iconRunning
	case models.TaskStatusDone:
		return iconDone
	case models.TaskStatusFailed:
		return iconFailed
	case models.TaskStatusSkipped:
		return iconSkipped
	case models.TaskStatusCancelled:
		return iconCancelled
	default:
		return iconPending
	}
}

// truncate shortens s to at most max bytes, marking the cut with an
// ellipsis.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// NewProgram wraps the watch model in a program running on the alternate
// screen, so the shell scrollback stays clean.
func NewProgram(w *Watch) *tea.Program {
	return tea.NewProgram(w, tea.WithAltScreen())
}
