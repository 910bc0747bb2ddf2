package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/inkwell/inkwell/internal/record"
	"github.com/inkwell/inkwell/internal/replica"
)

// Bound selects a point in a note's history. Timestamp is the
// inclusive upper cut in unix milliseconds. UpdateIndex, when
// non-negative, additionally caps the replay at that absolute record
// position (inclusive) within the timestamp cut, disambiguating
// between records sharing a timestamp.
type Bound struct {
	Timestamp   int64 `json:"timestamp"`
	UpdateIndex int   `json:"update_index"`
}

// NoIndex is the UpdateIndex value meaning "timestamp cut only".
const NoIndex = -1

// RangeReader reads an ordered prefix of a note's history.
// *journal.Journal satisfies it.
type RangeReader interface {
	ReadRange(ctx context.Context, note record.NoteID, upToTimestamp int64, upToIndex int) ([]record.UpdateRecord, error)
}

// reconstructInstance is the fixed actor identity used for replay.
// Reconstruction must be a pure function of the log: using the live
// instance id would bake the reader's identity into the produced
// snapshot bytes and break replay determinism.
const reconstructInstance record.InstanceID = "history-replay"

// Reconstructor rebuilds note state at historical bounds by replaying
// the update log from an empty document. Replays are not cached; the
// cost is linear in the prefix length, which keeps reconstruction
// trivially correct under concurrent appends.
type Reconstructor struct {
	log    RangeReader
	logger *slog.Logger
}

// NewReconstructor returns a Reconstructor over log.
func NewReconstructor(log RangeReader, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{log: log, logger: logger}
}

// ReconstructAt replays note's history up to bound and returns the
// resulting document snapshot. Equal inputs produce byte-identical
// snapshots. A bound before the first record yields the empty
// document's snapshot.
func (r *Reconstructor) ReconstructAt(ctx context.Context, note record.NoteID, bound Bound) ([]byte, error) {
	rep, err := r.replay(ctx, note, bound)
	if err != nil {
		return nil, err
	}
	return rep.Snapshot(), nil
}

// TextAt is ReconstructAt resolved to the note's plain text content.
func (r *Reconstructor) TextAt(ctx context.Context, note record.NoteID, bound Bound) (string, error) {
	rep, err := r.replay(ctx, note, bound)
	if err != nil {
		return "", err
	}
	return rep.PlainText()
}

func (r *Reconstructor) replay(ctx context.Context, note record.NoteID, bound Bound) (*replica.Replica, error) {
	records, err := r.log.ReadRange(ctx, note, bound.Timestamp, bound.UpdateIndex)
	if err != nil {
		return nil, fmt.Errorf("read history range: %w", err)
	}
	rep := replica.New(note, reconstructInstance)
	for _, rec := range records {
		// An unmergeable record degrades the view, it never takes the
		// whole history down. The skip is deterministic, so equal
		// inputs still reconstruct byte-identical snapshots.
		if _, err := rep.ApplyRemote(rec); err != nil {
			r.logger.Warn("skipping unmergeable record during replay",
				"note", note, "instance", rec.Instance, "sequence", rec.Sequence, "err", err)
		}
	}
	return rep, nil
}
