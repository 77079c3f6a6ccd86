package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a single file within a directory for writes and
// creations using fsnotify, firing a callback on each change. Used to
// notice edits to webfetch.toml; what happens on a change is up to the
// callback (the CLI re-parses the file and reports that a restart is
// needed to apply it).
//
// The watcher runs a background goroutine that processes fsnotify events.
// Call Close() to stop the watcher and release resources.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
}

// NewFileWatcher creates a watcher on dir that fires onChange whenever the
// file named filename is written or created within it.
//
// fsnotify watches directories rather than individual files so it keeps
// working across editors that replace a file instead of writing it
// in place.
func NewFileWatcher(dir, filename string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fw,
		done:      make(chan struct{}),
	}

	go w.processEvents(filename, onChange)

	slog.Info("file watcher started", "dir", dir, "file", filename)
	return w, nil
}

// processEvents reads fsnotify events and dispatches onChange when the
// watched filename is written or created. Runs in a background goroutine
// until Close() is called.
func (w *Watcher) processEvents(filename string, onChange func()) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			slog.Info("watched file changed", "file", filename)
			if onChange != nil {
				onChange()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("file watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the file watcher goroutine and releases the underlying
// fsnotify watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
