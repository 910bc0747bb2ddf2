package record

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// NoteID is the opaque stable identifier of a note. Every other entity
// in the engine is scoped by it.
type NoteID string

// InstanceID identifies one running editor process/installation. It is
// stable for the lifetime of that installation and attributes authorship
// of updates.
type InstanceID string

// NewNoteID returns a fresh time-ordered note identifier.
func NewNoteID() NoteID {
	return NoteID(uuid.Must(uuid.NewV7()).String())
}

// NewInstanceID returns a fresh time-ordered instance identifier.
func NewInstanceID() InstanceID {
	return InstanceID(uuid.Must(uuid.NewV7()).String())
}

// UpdateRecord is one immutable CRDT delta plus its provenance.
//
// Records are created once (on a local edit or a restore) and are
// append-only thereafter; they are never mutated or deleted except by
// whole-note deletion.
type UpdateRecord struct {
	Instance  InstanceID `json:"instance"`
	Note      NoteID     `json:"note"`
	Timestamp int64      `json:"timestamp"` // wall-clock milliseconds at creation
	Sequence  uint64     `json:"sequence"`
	Payload   []byte     `json:"payload,omitempty"`
}

// Key identifies a record for dedup purposes: (instance, sequence) is
// unique across the whole system.
type Key struct {
	Instance InstanceID
	Sequence uint64
}

// Key returns the record's dedup key.
func (r UpdateRecord) Key() Key {
	return Key{Instance: r.Instance, Sequence: r.Sequence}
}

// NowMillis returns t as wall-clock milliseconds, the timestamp unit
// used throughout the engine.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// Compare orders records for history and session views: by timestamp,
// then sequence, then instance. Deterministic for records that share a
// timestamp. Merge correctness never depends on this order.
func Compare(a, b UpdateRecord) int {
	switch {
	case a.Timestamp != b.Timestamp:
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	case a.Sequence != b.Sequence:
		if a.Sequence < b.Sequence {
			return -1
		}
		return 1
	case a.Instance != b.Instance:
		if a.Instance < b.Instance {
			return -1
		}
		return 1
	}
	return 0
}

// Sort sorts records in place into the canonical history order.
func Sort(records []UpdateRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return Compare(records[i], records[j]) < 0
	})
}
