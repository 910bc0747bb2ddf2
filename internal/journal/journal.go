package journal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/inkwell/inkwell/internal/record"
)

// Journal is the append-only store of update records for all notes
// under one data directory. It is the single source of truth; every
// in-memory replica is a cache over it.
//
// Safe for concurrent use: appends from one process and reads from
// history queries may interleave freely. Record-granularity atomicity
// comes from the temp-file-plus-rename write protocol.
type Journal struct {
	dir    string
	logger *slog.Logger
}

// Open creates or opens the journal rooted at dir.
func Open(dir string, logger *slog.Logger) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("open journal: empty directory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{dir: dir, logger: logger}, nil
}

// Dir returns the journal's root directory.
func (j *Journal) Dir() string {
	return j.dir
}

// Append durably writes one record. A crash leaves the record fully
// absent or fully present, never partially readable.
func (j *Journal) Append(ctx context.Context, rec record.UpdateRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	name, err := record.Filename(rec)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	noteDir := filepath.Join(j.dir, string(rec.Note))
	if err := os.MkdirAll(noteDir, 0o755); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	path := filepath.Join(noteDir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, record.EncodeFile(rec), 0o644); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// ReadAll returns every record for the note across all instances, in
// canonical history order (timestamp, then sequence, then instance).
// Corrupt files are skipped with a logged warning.
func (j *Journal) ReadAll(ctx context.Context, note record.NoteID) ([]record.UpdateRecord, error) {
	noteDir := filepath.Join(j.dir, string(note))
	entries, err := os.ReadDir(noteDir)
	if os.IsNotExist(err) {
		return []record.UpdateRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read note %s: %w", note, err)
	}

	records := make([]record.UpdateRecord, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("read note %s: %w", note, err)
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, record.FileExt) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(noteDir, name))
		if err != nil {
			j.logger.Warn("skipping unreadable update record",
				"note", note, "file", name, "err", err)
			continue
		}
		rec, err := record.DecodeFile(name, content)
		if err != nil {
			j.logger.Warn("skipping corrupt update record",
				"note", note, "file", name, "err", err)
			continue
		}
		if rec.Note != note {
			j.logger.Warn("skipping misplaced update record",
				"note", note, "file", name)
			continue
		}
		records = append(records, rec)
	}

	record.Sort(records)
	return records, nil
}

// ReadRange returns the ordered prefix of the note's history at or
// before upToTimestamp. A non-negative upToIndex further truncates the
// result to that absolute position (inclusive) within the full ordered
// history, distinguishing "this exact update" from "anything with this
// timestamp" when several records share one.
func (j *Journal) ReadRange(ctx context.Context, note record.NoteID, upToTimestamp int64, upToIndex int) ([]record.UpdateRecord, error) {
	all, err := j.ReadAll(ctx, note)
	if err != nil {
		return nil, err
	}

	cut := len(all)
	for i, rec := range all {
		if rec.Timestamp > upToTimestamp {
			cut = i
			break
		}
	}
	if upToIndex >= 0 && upToIndex+1 < cut {
		cut = upToIndex + 1
	}
	return all[:cut], nil
}

// LastSequence returns the highest persisted sequence for one writer of
// a note, or zero if it has written nothing. Used after a restart to
// resume the per-instance counter past everything already on disk.
func (j *Journal) LastSequence(ctx context.Context, note record.NoteID, instance record.InstanceID) (uint64, error) {
	noteDir := filepath.Join(j.dir, string(note))
	entries, err := os.ReadDir(noteDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last sequence for %s: %w", note, err)
	}

	var max uint64
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("last sequence for %s: %w", note, err)
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, record.FileExt) {
			continue
		}
		rec, err := record.ParseFilename(name)
		if err != nil {
			continue
		}
		if rec.Instance == instance && rec.Sequence > max {
			max = rec.Sequence
		}
	}
	return max, nil
}

// Notes lists every note with at least one directory in the journal.
func (j *Journal) Notes(ctx context.Context) ([]record.NoteID, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	notes := make([]record.NoteID, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			notes = append(notes, record.NoteID(entry.Name()))
		}
	}
	return notes, nil
}

// Remove deletes a note's entire history. Records are immutable; this
// whole-note deletion is the only way they ever leave the journal.
func (j *Journal) Remove(ctx context.Context, note record.NoteID) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("remove note %s: %w", note, err)
	}
	if note == "" || strings.ContainsAny(string(note), "/\\") {
		return fmt.Errorf("remove note: invalid id %q", note)
	}
	if err := os.RemoveAll(filepath.Join(j.dir, string(note))); err != nil {
		return fmt.Errorf("remove note %s: %w", note, err)
	}
	return nil
}
