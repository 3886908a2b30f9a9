package main

import (
	"errors"
	"log"

	"github.com/kmorand/ensemble/internal/coordinator"
	"github.com/kmorand/ensemble/internal/signal"
)

// watchControlSignals applies file-based control signals from dir to the
// manager until the returned watcher is closed.
func watchControlSignals(m *coordinator.Manager, dir string) (*signal.Watcher, error) {
	watcher, err := signal.NewWatcher(dir)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case sig := <-watcher.Signals():
				applyControlSignal(m, sig)
			case <-watcher.Done():
				return
			}
		}
	}()
	return watcher, nil
}

func applyControlSignal(m *coordinator.Manager, sig signal.Signal) {
	switch sig.Kind {
	case signal.KindCancel:
		if err := m.Cancel(sig.SessionID); err != nil && !errors.Is(err, coordinator.ErrUnknownSession) {
			log.Printf("[signal] cancel %s: %v", sig.SessionID, err)
		}
	case signal.KindCancelAll:
		m.CancelAll()
	case signal.KindPause:
		m.Pause()
	case signal.KindResume:
		m.Resume()
	}
}
