// Package signal delivers out-of-process control commands. Hosts drop
// files named cancel-<sessionID>, cancel-all, pause, or resume into the
// .ensemble/signals directory; a Watcher turns them into typed signals.
package signal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind identifies a control signal type.
type Kind string

const (
	// KindCancel cancels one session, named by SessionID.
	KindCancel Kind = "cancel"
	// KindCancelAll cancels every running session.
	KindCancelAll Kind = "cancel_all"
	// KindPause holds back new task dispatches.
	KindPause Kind = "pause"
	// KindResume releases a pause.
	KindResume Kind = "resume"
)

// Signal is one control command read from the signals directory.
type Signal struct {
	Kind Kind
	// SessionID is set for KindCancel.
	SessionID string
}

// Watcher watches a signals directory and delivers typed signals. Signal
// files are consumed: each delivers once and is removed.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher
	signals chan Signal

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher starts watching dir, creating it if needed. Signal files
// already present are delivered immediately.
func NewWatcher(dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating signals directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting signal watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		dir:     dir,
		watcher: fsw,
		signals: make(chan Signal, 16),
		done:    make(chan struct{}),
	}

	go w.watch()

	// Deliver signals dropped before the watcher started.
	entries, err := os.ReadDir(dir)
	if err == nil {
		go func() {
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				w.deliver(filepath.Join(dir, entry.Name()))
			}
		}()
	}

	return w, nil
}

// Signals returns the channel control signals arrive on.
func (w *Watcher) Signals() <-chan Signal {
	return w.signals
}

// Done closes when the watcher has stopped delivering signals.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// watch monitors the signals directory for control files.
func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 || event.Op&fsnotify.Write != 0 {
				w.deliver(event.Name)
			}
		case <-w.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// deliver parses one signal file, consumes it, and sends the signal.
// Removing the file doubles as the delivery lock: create and write events
// for the same file race to the Remove, and only the winner delivers.
func (w *Watcher) deliver(path string) {
	sig, ok := Parse(filepath.Base(path))
	if !ok {
		return
	}
	if err := os.Remove(path); err != nil {
		return
	}
	select {
	case w.signals <- sig:
	case <-w.done:
	}
}

// Close stops the watcher. Pending signals are dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

// Parse maps a signal file name to its signal. Unknown names report false.
func Parse(name string) (Signal, bool) {
	switch {
	case name == "cancel-all":
		return Signal{Kind: KindCancelAll}, true
	case strings.HasPrefix(name, "cancel-"):
		id := strings.TrimPrefix(name, "cancel-")
		if id == "" {
			return Signal{}, false
		}
		return Signal{Kind: KindCancel, SessionID: id}, true
	case name == "pause":
		return Signal{Kind: KindPause}, true
	case name == "resume":
		return Signal{Kind: KindResume}, true
	default:
		return Signal{}, false
	}
}

// SendCancel asks the process watching dir to cancel one session.
func SendCancel(dir, sessionID string) error {
	return send(dir, "cancel-"+sessionID)
}

// SendCancelAll asks the process watching dir to cancel every session.
func SendCancelAll(dir string) error {
	return send(dir, "cancel-all")
}

// SendPause asks the process watching dir to hold new task dispatches.
func SendPause(dir string) error {
	return send(dir, "pause")
}

// SendResume releases a pause.
func SendResume(dir string) error {
	return send(dir, "resume")
}

func send(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating signals directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644); err != nil {
		return fmt.Errorf("writing signal %s: %w", name, err)
	}
	return nil
}
