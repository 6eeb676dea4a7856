package coordinator

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 300 * time.Millisecond

// Watcher monitors the directories of tracked files. When a tracked file
// disappears or its size/mtime drifts from the record, the record is
// flagged and an event is published so the UI can prompt the user to
// re-add or unpublish.
type Watcher struct {
	store   *Store
	bus     *EventBus
	watcher *fsnotify.Watcher
}

// NewWatcher creates a filesystem watcher over the tracked-file store.
// bus may be nil.
func NewWatcher(store *Store, bus *EventBus) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:   store,
		bus:     bus,
		watcher: w,
	}, nil
}

// Track registers the parent directory of a newly tracked file.
func (w *Watcher) Track(path string) error {
	return w.watcher.Add(filepath.Dir(path))
}

// Start begins watching and debouncing events. Blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	l := sub("watcher")

	dirs, err := w.store.Directories()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			l.Warn("cannot watch directory", "dir", dir, "error", err)
		}
	}
	l.Info("watching tracked directories", "count", len(dirs))

	// Debounce timer and pending paths
	pending := make(map[string]struct{})
	timer := time.NewTimer(debounceInterval)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			base := filepath.Base(event.Name)
			if strings.HasPrefix(base, ".") {
				continue
			}

			pending[event.Name] = struct{}{}
			timer.Reset(debounceInterval)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watch error", "error", err)

		case <-timer.C:
			for path := range pending {
				w.evaluate(path)
			}
			if len(pending) > 0 {
				l.Debug("flushed watch events", "count", len(pending))
				pending = make(map[string]struct{})
			}
		}
	}
}

// evaluate re-stats one path and updates the tracked record's flag.
func (w *Watcher) evaluate(path string) {
	l := sub("watcher")

	rec, err := w.store.ByPath(path)
	if err != nil {
		l.Warn("lookup failed", "path", path, "error", err)
		return
	}
	if rec == nil {
		return // not a tracked file
	}

	flag := ""
	info, statErr := os.Stat(path)
	switch {
	case statErr != nil:
		flag = FlagMissing
	case info.Size() != rec.Size ||
		math.Abs(float64(info.ModTime().Unix())-rec.Modified) >= modifiedTolerance:
		flag = FlagChanged
	}

	if flag == rec.Flag {
		return
	}
	if err := w.store.SetFlag(rec.Name, flag); err != nil {
		l.Warn("flag update failed", "name", rec.Name, "error", err)
		return
	}
	l.Info("tracked file flagged", "name", rec.Name, "flag", flag)
	if w.bus != nil && flag != "" {
		w.bus.Publish(Event{Type: EventFileFlagged, Name: rec.Name, Flag: flag})
	}
}

// Close closes the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
