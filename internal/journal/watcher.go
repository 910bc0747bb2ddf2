package journal

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/inkwell/inkwell/internal/record"
)

// ExternalUpdate is the lightweight "something changed, check the log"
// signal: enough to drive a history-view refresh without carrying any
// content.
type ExternalUpdate struct {
	Op      string // "created" or "removed"
	NoteIDs []record.NoteID
}

// Watcher observes the journal directory for record files written by
// other instances sharing it. Records written by the owning instance
// are filtered out; the owner already knows about its own appends.
type Watcher struct {
	fsw     *fsnotify.Watcher
	updates chan ExternalUpdate
	done    chan struct{}
}

// Watch starts watching the journal for foreign record activity.
// The owner instance's own files never produce signals.
func (j *Journal) Watch(owner record.InstanceID) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch journal: %w", err)
	}
	if err := fsw.Add(j.dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch journal: %w", err)
	}

	// Existing note directories must be watched individually; fsnotify
	// does not recurse.
	notes, err := j.Notes(context.Background())
	if err != nil {
		fsw.Close()
		return nil, err
	}
	for _, note := range notes {
		if err := fsw.Add(filepath.Join(j.dir, string(note))); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch note %s: %w", note, err)
		}
	}

	w := &Watcher{
		fsw:     fsw,
		updates: make(chan ExternalUpdate, 64),
		done:    make(chan struct{}),
	}
	go w.run(j.logger, owner)
	return w, nil
}

// Updates delivers external-update signals. The channel closes when the
// watcher is closed.
func (w *Watcher) Updates() <-chan ExternalUpdate {
	return w.updates
}

// Close stops the watcher and closes the updates channel.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run(logger *slog.Logger, owner record.InstanceID) {
	defer close(w.updates)
	for {
		select {
		case <-w.done:
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("journal watcher error", "err", err)
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(logger, owner, ev)
		}
	}
}

func (w *Watcher) handle(logger *slog.Logger, owner record.InstanceID, ev fsnotify.Event) {
	name := filepath.Base(ev.Name)

	// A created directory is a new note; start watching it. Anything
	// else without the record extension carries no signal.
	if ev.Has(fsnotify.Create) && !strings.HasSuffix(name, record.FileExt) && !strings.HasSuffix(name, ".tmp") {
		_ = w.fsw.Add(ev.Name)
		return
	}

	if !strings.HasSuffix(name, record.FileExt) {
		return
	}
	rec, err := record.ParseFilename(name)
	if err != nil {
		logger.Warn("journal watcher: unparseable record name", "file", name, "err", err)
		return
	}
	if rec.Instance == owner {
		return
	}

	var op string
	switch {
	case ev.Has(fsnotify.Create):
		op = "created"
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		op = "removed"
	default:
		return
	}

	select {
	case w.updates <- ExternalUpdate{Op: op, NoteIDs: []record.NoteID{rec.Note}}:
	case <-w.done:
	}
}
