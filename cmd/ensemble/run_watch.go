package main

import (
	"context"
	"fmt"
	"io"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kmorand/ensemble/internal/coordinator"
	"github.com/kmorand/ensemble/internal/tui"
)

// runWithWatch renders the session in the live terminal UI and returns the
// final snapshot. Quitting the UI detaches; the session keeps running and
// the call still blocks until it finishes.
func runWithWatch(ctx context.Context, m *coordinator.Manager, engine *coordinator.Engine, sessionID string) (*coordinator.SessionSnapshot, error) {
	snap, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}

	// Log lines corrupt the alternate screen while the UI is active.
	logOut := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(logOut)

	program := tui.NewProgram(tui.NewWatch(snap))
	go forwardEventsToTUI(program, engine.Events())

	// The event channel is lossy under load, so completion is signalled
	// out of band from Wait rather than trusting the session_done event.
	waitDone := make(chan *coordinator.SessionSnapshot, 1)
	go func() {
		final, err := m.Wait(ctx, sessionID)
		if err == nil {
			program.Send(tui.SessionDoneMsg{Status: final.Session.Status})
		}
		program.Quit()
		waitDone <- final
	}()

	if _, err := program.Run(); err != nil {
		return nil, fmt.Errorf("watch ui: %w", err)
	}

	select {
	case final := <-waitDone:
		if final == nil {
			return m.Get(sessionID)
		}
		return final, nil
	default:
		// The user quit before the session finished. Keep waiting headless.
		log.SetOutput(logOut)
		fmt.Println("Detached from watch; session continues, waiting for completion...")
		final := <-waitDone
		if final == nil {
			return m.Get(sessionID)
		}
		return final, nil
	}
}

func forwardEventsToTUI(program *tea.Program, events <-chan coordinator.Event) {
	for ev := range events {
		program.Send(tui.EventMsg(ev))
	}
}
