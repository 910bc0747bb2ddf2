package replica

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"golang.org/x/text/unicode/norm"

	"github.com/inkwell/inkwell/internal/record"
)

// contentKey is the root-map key holding the note body text.
const contentKey = "content"

// ErrNoChange reports a local mutation that left the document exactly as
// it was; no record is emitted for it.
var ErrNoChange = errors.New("no content change")

// Replica is one process-local CRDT document for one note.
type Replica struct {
	mu       sync.Mutex
	note     record.NoteID
	instance record.InstanceID
	doc      *automerge.Doc
	seq      uint64
	seen     map[record.Key]struct{}
	now      func() time.Time
}

// Option configures a Replica.
type Option func(*Replica)

// WithClock substitutes the wall clock used to stamp emitted records.
func WithClock(now func() time.Time) Option {
	return func(r *Replica) { r.now = now }
}

// WithStartSequence resumes the per-instance sequence counter past
// everything this instance has already persisted.
func WithStartSequence(seq uint64) Option {
	return func(r *Replica) { r.seq = seq }
}

// New creates an empty replica for the note, attributed to instance.
// The document's actor id is derived from the instance id so that
// replays by the same logical writer are byte-stable.
func New(note record.NoteID, instance record.InstanceID, opts ...Option) *Replica {
	doc := automerge.New()
	_ = doc.SetActorID(hex.EncodeToString([]byte(instance)))
	r := &Replica{
		note:     note,
		instance: instance,
		doc:      doc,
		seen:     make(map[record.Key]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Note returns the note this replica holds.
func (r *Replica) Note() record.NoteID { return r.note }

// Instance returns the writer identity of this replica.
func (r *Replica) Instance() record.InstanceID { return r.instance }

// Sequence returns the last sequence number assigned by this replica.
func (r *Replica) Sequence() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// ApplyLocal integrates an editor-supplied delta into the document,
// assigns the next sequence for this instance, and returns the record
// to be persisted and broadcast.
func (r *Replica) ApplyLocal(delta []byte) (record.UpdateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(delta) == 0 {
		return record.UpdateRecord{}, fmt.Errorf("apply local delta: empty delta")
	}
	if err := r.doc.LoadIncremental(delta); err != nil {
		return record.UpdateRecord{}, fmt.Errorf("apply local delta: %w", err)
	}
	r.doc.SaveIncremental() // consume the cursor so later commits stay self-contained
	return r.emitLocked(delta), nil
}

// ReplaceText replaces the whole note body as a single local edit. The
// delta is computed by the document's own text diffing, so a concurrent
// remote edit merges with it instead of being overwritten. Used by the
// restore path.
func (r *Replica) ReplaceText(text string) (record.UpdateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.plainTextLocked()
	if err != nil {
		return record.UpdateRecord{}, fmt.Errorf("replace text: %w", err)
	}
	if current == text {
		return record.UpdateRecord{}, ErrNoChange
	}

	v, err := r.doc.Path(contentKey).Get()
	if err != nil {
		return record.UpdateRecord{}, fmt.Errorf("replace text: %w", err)
	}
	if v.Kind() != automerge.KindText {
		if err := r.doc.Path(contentKey).Set(automerge.NewText(text)); err != nil {
			return record.UpdateRecord{}, fmt.Errorf("replace text: %w", err)
		}
	} else if err := v.Text().Set(text); err != nil {
		return record.UpdateRecord{}, fmt.Errorf("replace text: %w", err)
	}

	if _, err := r.doc.Commit("replace content", automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return record.UpdateRecord{}, fmt.Errorf("replace text: %w", err)
	}
	delta := r.doc.SaveIncremental()
	if len(delta) == 0 {
		return record.UpdateRecord{}, ErrNoChange
	}
	return r.emitLocked(delta), nil
}

// ApplyRemote merges a record produced elsewhere. Idempotent: a record
// already applied is a safe no-op and reports applied=false. A payload
// that fails to decode as a CRDT delta is rejected without corrupting
// the document.
func (r *Replica) ApplyRemote(rec record.UpdateRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[rec.Key()]; ok {
		return false, nil
	}
	if len(rec.Payload) == 0 {
		return false, fmt.Errorf("merge record %s/%d: empty payload", rec.Instance, rec.Sequence)
	}
	if err := r.doc.LoadIncremental(rec.Payload); err != nil {
		return false, fmt.Errorf("merge record %s/%d: %w", rec.Instance, rec.Sequence, err)
	}
	r.doc.SaveIncremental()
	r.seen[rec.Key()] = struct{}{}
	return true, nil
}

// Snapshot exports the full document state. Suitable for persistence
// checkpoints and for seeding another replica.
func (r *Replica) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Save()
}

// LoadSnapshot replaces the document with a previously exported
// snapshot. Load provenance: no record is emitted and the sequence
// counter is untouched.
func (r *Replica) LoadSnapshot(snapshot []byte) error {
	doc, err := automerge.Load(snapshot)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	_ = doc.SetActorID(hex.EncodeToString([]byte(r.instance)))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = doc
	return nil
}

// PlainText materializes the note body for history previews. The result
// is NFC-normalized so equal documents always render equal strings.
func (r *Replica) PlainText() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plainTextLocked()
}

func (r *Replica) plainTextLocked() (string, error) {
	return DocText(r.doc)
}

// DocText extracts the note body from any loaded document. The result
// is NFC-normalized so equal documents always render equal strings.
func DocText(doc *automerge.Doc) (string, error) {
	v, err := doc.Path(contentKey).Get()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	if v.Kind() != automerge.KindText {
		return "", nil
	}
	s, err := v.Text().Get()
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return norm.NFC.String(s), nil
}

func (r *Replica) emitLocked(payload []byte) record.UpdateRecord {
	r.seq++
	rec := record.UpdateRecord{
		Instance:  r.instance,
		Note:      r.note,
		Timestamp: record.NowMillis(r.now()),
		Sequence:  r.seq,
		Payload:   append([]byte(nil), payload...),
	}
	r.seen[rec.Key()] = struct{}{}
	return rec
}
