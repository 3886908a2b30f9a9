package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kmorand/ensemble/internal/coordinator"
	"github.com/kmorand/ensemble/pkg/models"
)

func watchSnapshot() *coordinator.SessionSnapshot {
	return &coordinator.SessionSnapshot{
		Session: models.CoordinationSession{
			ID:        "sess1234",
			Strategy:  models.StrategyAdaptive,
			Status:    models.SessionStatusRunning,
			TaskCount: 3,
		},
		Results: []*models.TaskResult{
			{TaskID: "fetch", Profile: models.ProfileResearcher, Status: models.TaskStatusPending, Wave: 0},
			{TaskID: "parse", Profile: models.ProfileAnalyst, Status: models.TaskStatusPending, Wave: 0},
			{TaskID: "report", Profile: models.ProfilePlanner, Status: models.TaskStatusPending, Wave: 1},
		},
	}
}

func isQuit(t *testing.T, cmd tea.Cmd) bool {
	t.Helper()
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestNewWatch_SeedsRows(t *testing.T) {
	w := NewWatch(watchSnapshot())

	if w.sessionID != "sess1234" {
		t.Errorf("sessionID = %q, want %q", w.sessionID, "sess1234")
	}
	if len(w.rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(w.rows))
	}
	if w.rows[0].id != "fetch" || w.rows[2].id != "report" {
		t.Errorf("row order = %q..%q, want fetch..report", w.rows[0].id, w.rows[2].id)
	}
	if w.waves != 2 {
		t.Errorf("waves = %d, want 2", w.waves)
	}
	for _, row := range w.rows {
		if row.status != models.TaskStatusPending {
			t.Errorf("row %s status = %s, want pending", row.id, row.status)
		}
	}
}

func TestWatch_TaskEventsUpdateRows(t *testing.T) {
	w := NewWatch(watchSnapshot())

	w.handleEvent(coordinator.Event{Type: coordinator.EventTaskStarted, TaskID: "fetch", Wave: 0})
	if w.index["fetch"].status != models.TaskStatusRunning {
		t.Errorf("fetch status = %s, want running", w.index["fetch"].status)
	}

	w.handleEvent(coordinator.Event{Type: coordinator.EventTaskCompleted, TaskID: "fetch"})
	if w.index["fetch"].status != models.TaskStatusDone {
		t.Errorf("fetch status = %s, want done", w.index["fetch"].status)
	}

	w.handleEvent(coordinator.Event{Type: coordinator.EventTaskFailed, TaskID: "parse", Message: "worker exploded"})
	if w.index["parse"].status != models.TaskStatusFailed {
		t.Errorf("parse status = %s, want failed", w.index["parse"].status)
	}
	if w.index["parse"].reason != "worker exploded" {
		t.Errorf("parse reason = %q, want %q", w.index["parse"].reason, "worker exploded")
	}

	w.handleEvent(coordinator.Event{Type: coordinator.EventTaskSkipped, TaskID: "report", Message: "dependency parse failed"})
	if w.index["report"].status != models.TaskStatusSkipped {
		t.Errorf("report status = %s, want skipped", w.index["report"].status)
	}

	// Events for unknown tasks are ignored.
	w.handleEvent(coordinator.Event{Type: coordinator.EventTaskStarted, TaskID: "ghost"})
	if _, ok := w.index["ghost"]; ok {
		t.Error("unknown task id created a row")
	}
}

func TestWatch_WaveStartedAdvancesWave(t *testing.T) {
	w := NewWatch(watchSnapshot())

	w.handleEvent(coordinator.Event{Type: coordinator.EventWaveStarted, Wave: 1})
	if w.wave != 1 {
		t.Errorf("wave = %d, want 1", w.wave)
	}
}

func TestWatch_SessionDoneMsgQuits(t *testing.T) {
	w := NewWatch(watchSnapshot())

	_, cmd := w.Update(SessionDoneMsg{Status: models.SessionStatusCompleted})
	if !isQuit(t, cmd) {
		t.Error("Update(SessionDoneMsg) did not return quit")
	}
	if !w.Done() {
		t.Error("Done() = false after SessionDoneMsg")
	}
	if w.status != models.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", w.status)
	}
}

func TestWatch_SessionDoneEventQuits(t *testing.T) {
	w := NewWatch(watchSnapshot())

	_, cmd := w.Update(EventMsg{Type: coordinator.EventSessionDone, Message: "failed"})
	if !isQuit(t, cmd) {
		t.Error("Update(session done event) did not return quit")
	}
	if w.status != models.SessionStatusFailed {
		t.Errorf("status = %s, want failed", w.status)
	}

	// The first terminal status wins; later signals must not overwrite it.
	w.Update(SessionDoneMsg{Status: models.SessionStatusCompleted})
	if w.status != models.SessionStatusFailed {
		t.Errorf("status = %s after second done signal, want failed", w.status)
	}
}

func TestWatch_QuitKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
	} {
		w := NewWatch(watchSnapshot())
		_, cmd := w.Update(key)
		if !isQuit(t, cmd) {
			t.Errorf("Update(%q) did not return quit", key.String())
		}
		if !w.quitting {
			t.Errorf("quitting = false after %q", key.String())
		}
	}
}

func TestWatch_View(t *testing.T) {
	w := NewWatch(watchSnapshot())
	w.handleEvent(coordinator.Event{Type: coordinator.EventTaskStarted, TaskID: "fetch", Wave: 0})
	w.handleEvent(coordinator.Event{Type: coordinator.EventTaskFailed, TaskID: "parse", Message: "worker exploded"})

	view := w.View()
	for _, want := range []string{
		"sess1234",
		"fetch", "parse", "report",
		iconRunning, iconFailed, iconPending,
		"worker exploded",
		"1/3 tasks finished",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}

	w.finish(models.SessionStatusPartiallyFailed)
	view = w.View()
	if !strings.Contains(view, "session partially failed") {
		t.Errorf("View() missing final status, got footer in:\n%s", view)
	}
}

func TestWatch_ViewShowsWaveColumn(t *testing.T) {
	w := NewWatch(watchSnapshot())
	if view := w.View(); !strings.Contains(view, "wave 2") {
		t.Errorf("View() missing wave column for multi-wave session:\n%s", view)
	}

	// Single-wave sessions skip the wave column; only the footer mentions
	// the wave.
	snap := watchSnapshot()
	for _, r := range snap.Results {
		r.Wave = 0
	}
	w = NewWatch(snap)
	if got := strings.Count(w.View(), "wave"); got != 1 {
		t.Errorf("View() mentions wave %d times for single-wave session, want 1", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten..", 13, "exactly ten.."},
		{"this is far too long", 10, "this is..."},
		{"abc", 2, "ab"},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
