// Package checkpoint persists precomputed document snapshots in SQLite
// so note loads can seed from a snapshot and replay only the log tail.
package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/inkwell/inkwell/internal/record"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// Checkpoint is one stored snapshot of a note's document state.
type Checkpoint struct {
	Note          record.NoteID
	TakenAt       int64
	LastTimestamp int64
	UpdateCount   int
	Snapshot      []byte
}

// Store provides durable checkpoint storage.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens the checkpoint database at the given path.
// Applies required pragmas and the schema automatically; safe to call
// on an existing database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect checkpoint db: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores a checkpoint. Re-storing a checkpoint for the same log
// prefix is silently ignored (ON CONFLICT DO NOTHING), so callers may
// checkpoint opportunistically without coordination.
func (s *Store) Put(ctx context.Context, cp Checkpoint) error {
	if len(cp.Snapshot) == 0 {
		return fmt.Errorf("put checkpoint: empty snapshot")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints
		(note_id, taken_at, last_timestamp, update_count, snapshot)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(note_id, last_timestamp, update_count) DO NOTHING
	`,
		string(cp.Note),
		cp.TakenAt,
		cp.LastTimestamp,
		cp.UpdateCount,
		cp.Snapshot,
	)
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Latest returns the most advanced checkpoint for note, or ok=false
// when the note has never been checkpointed.
func (s *Store) Latest(ctx context.Context, note record.NoteID) (Checkpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT note_id, taken_at, last_timestamp, update_count, snapshot
		FROM checkpoints
		WHERE note_id = ?
		ORDER BY last_timestamp DESC, update_count DESC
		LIMIT 1
	`, string(note))

	var cp Checkpoint
	var noteID string
	err := row.Scan(&noteID, &cp.TakenAt, &cp.LastTimestamp, &cp.UpdateCount, &cp.Snapshot)
	if err == sql.ErrNoRows {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("latest checkpoint: %w", err)
	}
	cp.Note = record.NoteID(noteID)
	return cp, true, nil
}

// LatestSnapshot adapts Latest to the shape the sync coordinator
// consumes when seeding a load.
func (s *Store) LatestSnapshot(ctx context.Context, note record.NoteID) ([]byte, int64, bool, error) {
	cp, ok, err := s.Latest(ctx, note)
	if err != nil || !ok {
		return nil, 0, false, err
	}
	return cp.Snapshot, cp.LastTimestamp, true, nil
}

// Prune deletes all but the keep most advanced checkpoints for note.
// keep < 1 is treated as 1; the latest checkpoint is never pruned.
func (s *Store) Prune(ctx context.Context, note record.NoteID, keep int) error {
	if keep < 1 {
		keep = 1
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE note_id = ?
		AND id NOT IN (
			SELECT id FROM checkpoints
			WHERE note_id = ?
			ORDER BY last_timestamp DESC, update_count DESC
			LIMIT ?
		)
	`, string(note), string(note), keep)
	if err != nil {
		return fmt.Errorf("prune checkpoints: %w", err)
	}
	return nil
}

// Remove deletes every checkpoint for note. Used when a note is
// removed from the journal.
func (s *Store) Remove(ctx context.Context, note record.NoteID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE note_id = ?`, string(note)); err != nil {
		return fmt.Errorf("remove checkpoints: %w", err)
	}
	return nil
}

// Notes lists every note with at least one checkpoint.
func (s *Store) Notes(ctx context.Context) ([]record.NoteID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT note_id FROM checkpoints ORDER BY note_id`)
	if err != nil {
		return nil, fmt.Errorf("list checkpointed notes: %w", err)
	}
	defer rows.Close()

	var notes []record.NoteID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list checkpointed notes: %w", err)
		}
		notes = append(notes, record.NoteID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpointed notes: %w", err)
	}
	return notes, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and stamps the schema
// version. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}
