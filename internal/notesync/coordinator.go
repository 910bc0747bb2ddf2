package notesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/inkwell/inkwell/internal/record"
	"github.com/inkwell/inkwell/internal/replica"
)

// State is the coordinator lifecycle state.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateUnloading
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// Log is the durable update store the coordinator persists to and loads
// from. *journal.Journal satisfies it.
type Log interface {
	Append(ctx context.Context, rec record.UpdateRecord) error
	ReadAll(ctx context.Context, note record.NoteID) ([]record.UpdateRecord, error)
	LastSequence(ctx context.Context, note record.NoteID, instance record.InstanceID) (uint64, error)
}

// SnapshotSource provides an optional precomputed baseline so load does
// not have to replay the whole journal. Checkpoints are acceleration
// only: the journal replay over them must converge to the same state.
type SnapshotSource interface {
	LatestSnapshot(ctx context.Context, note record.NoteID) (snapshot []byte, lastTimestamp int64, ok bool, err error)
}

// Coordinator owns one note's replica in one process.
//
// All methods are safe for concurrent use; replica mutation is
// serialized so local edits from the same process are strictly ordered.
type Coordinator struct {
	note      record.NoteID
	instance  record.InstanceID
	log       Log
	fabric    Fabric
	snapshots SnapshotSource
	echo      *replica.EchoSuppressor
	logger    *slog.Logger
	clock     func() time.Time

	// appendRetryWindow bounds how long a failing append is retried
	// before it is surfaced as a durability warning.
	appendRetryWindow time.Duration

	mu         sync.Mutex
	state      State
	rep        *replica.Replica
	pending    []record.UpdateRecord // remote records buffered during Loading
	loadCancel context.CancelFunc
	degraded   bool
	unsub      func()
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithSnapshotSource attaches a checkpoint store for load acceleration.
func WithSnapshotSource(src SnapshotSource) CoordinatorOption {
	return func(c *Coordinator) { c.snapshots = src }
}

// WithEchoTTL overrides the echo suppression window.
func WithEchoTTL(ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.echo = replica.NewEchoSuppressor(ttl) }
}

// WithClock substitutes the wall clock stamped onto emitted records.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.clock = now }
}

// WithAppendRetryWindow bounds append retries. Mainly for tests.
func WithAppendRetryWindow(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.appendRetryWindow = d }
}

// NewCoordinator creates a coordinator for one note. It subscribes to
// the fabric immediately; records for other notes, or arriving while
// the note is unloaded, are ignored.
func NewCoordinator(note record.NoteID, instance record.InstanceID, log Log, fabric Fabric, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		note:              note,
		instance:          instance,
		log:               log,
		fabric:            fabric,
		echo:              replica.NewEchoSuppressor(replica.DefaultEchoTTL),
		logger:            slog.Default(),
		clock:             time.Now,
		appendRetryWindow: 5 * time.Second,
		state:             StateUnloaded,
	}
	for _, opt := range opts {
		opt(c)
	}
	if fabric != nil {
		c.unsub = fabric.Subscribe(c.onFabricRecord)
	}
	return c
}

// Note returns the note this coordinator owns.
func (c *Coordinator) Note() record.NoteID { return c.note }

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Degraded reports whether the last append failed durably - the signal
// behind the UI's "syncing" affordance. Cleared by the next successful
// append.
func (c *Coordinator) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Load brings the note to Ready: checkpoint baseline (when available)
// plus a full journal replay. Idempotent when already Ready. A failure
// leaves the note Unloaded. Unload during a load cancels it; no partial
// state survives.
func (c *Coordinator) Load(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateLoading, StateUnloading:
		state := c.state
		c.mu.Unlock()
		return newSyncError(CodeLoadFailure, c.note, fmt.Sprintf("load while %s", state), nil)
	}
	lctx, cancel := context.WithCancel(ctx)
	c.state = StateLoading
	c.loadCancel = cancel
	c.mu.Unlock()
	defer cancel()

	rep, err := c.buildReplica(lctx)
	if err != nil {
		c.abortLoad()
		return newSyncError(CodeLoadFailure, c.note, "load failed", err)
	}

	c.mu.Lock()
	if c.state != StateLoading {
		// Unloaded while we were reading; discard everything.
		c.mu.Unlock()
		return newSyncError(CodeLoadFailure, c.note, "load cancelled by unload", context.Canceled)
	}
	c.rep = rep
	pending := c.pending
	c.pending = nil
	c.state = StateReady
	c.loadCancel = nil
	c.mu.Unlock()

	for _, rec := range pending {
		c.mergeRemote(rep, rec)
	}
	return nil
}

// buildReplica assembles the authoritative baseline outside the lock.
func (c *Coordinator) buildReplica(ctx context.Context) (*replica.Replica, error) {
	lastSeq, err := c.log.LastSequence(ctx, c.note, c.instance)
	if err != nil {
		return nil, err
	}
	rep := replica.New(c.note, c.instance,
		replica.WithStartSequence(lastSeq),
		replica.WithClock(c.clock),
	)

	// Checkpoints only accelerate; any failure here falls back to a
	// replay from empty. The full journal is replayed over the snapshot
	// either way: a record stamped before the checkpoint's last
	// timestamp can still be absent from it (slow clocks, late
	// arrivals), so timestamps never decide coverage. Changes the
	// snapshot already contains deduplicate by hash inside the replica.
	if c.snapshots != nil {
		snap, lastTS, ok, err := c.snapshots.LatestSnapshot(ctx, c.note)
		switch {
		case err != nil:
			c.logger.Warn("checkpoint fetch failed; replaying from empty",
				"note", c.note, "err", err)
		case ok:
			if err := rep.LoadSnapshot(snap); err != nil {
				c.logger.Warn("checkpoint snapshot unreadable; replaying from empty",
					"note", c.note, "err", err)
			} else {
				c.logger.Debug("seeded from checkpoint",
					"note", c.note, "last_timestamp", lastTS)
			}
		}
	}

	records, err := c.log.ReadAll(ctx, c.note)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := rep.ApplyRemote(rec); err != nil {
			c.logger.Warn("skipping unmergeable record during load",
				"note", c.note, "instance", rec.Instance, "sequence", rec.Sequence, "err", err)
		}
	}
	return rep, nil
}

func (c *Coordinator) abortLoad() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLoading {
		c.state = StateUnloaded
		c.loadCancel = nil
		c.pending = nil
	}
}

// LocalEdit integrates an editor-supplied delta, persists it, and
// broadcasts it. Only valid in Ready: loading blocks local edits.
//
// If the journal append fails past the retry window, the returned
// record is still valid - the edit stays live, is still broadcast, and
// the error is a DURABILITY_FAILURE warning rather than a loss.
func (c *Coordinator) LocalEdit(ctx context.Context, delta []byte) (record.UpdateRecord, error) {
	rep, err := c.readyReplica()
	if err != nil {
		return record.UpdateRecord{}, err
	}
	rec, err := rep.ApplyLocal(delta)
	if err != nil {
		return record.UpdateRecord{}, newSyncError(CodeMergeViolation, c.note, "local delta rejected", err)
	}
	return rec, c.finishLocal(ctx, rec)
}

// ReplaceContent replaces the note body as one local edit, computing
// the delta through the replica's own CRDT mechanics. The restore path
// enters here so a restore merges like any other edit.
// Returns replica.ErrNoChange when the content is already identical.
func (c *Coordinator) ReplaceContent(ctx context.Context, text string) (record.UpdateRecord, error) {
	rep, err := c.readyReplica()
	if err != nil {
		return record.UpdateRecord{}, err
	}
	rec, err := rep.ReplaceText(text)
	if err != nil {
		if errors.Is(err, replica.ErrNoChange) {
			return record.UpdateRecord{}, err
		}
		return record.UpdateRecord{}, newSyncError(CodeMergeViolation, c.note, "content replacement rejected", err)
	}
	return rec, c.finishLocal(ctx, rec)
}

// finishLocal persists and broadcasts a locally created record.
func (c *Coordinator) finishLocal(ctx context.Context, rec record.UpdateRecord) error {
	c.echo.Register(rec.Payload)

	var durability error
	if err := c.appendWithRetry(ctx, rec); err != nil {
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		c.logger.Warn("append failed after retries; edit stays live in memory",
			"note", c.note, "sequence", rec.Sequence, "err", err)
		durability = newSyncError(CodeDurabilityFailure, c.note, "append failed after retries", err)
	} else {
		c.mu.Lock()
		c.degraded = false
		c.mu.Unlock()
	}

	if c.fabric != nil {
		if err := c.fabric.Publish(ctx, rec); err != nil {
			c.logger.Warn("broadcast failed; peers will catch up from the journal",
				"note", c.note, "sequence", rec.Sequence, "err", err)
		}
	}
	return durability
}

func (c *Coordinator) appendWithRetry(ctx context.Context, rec record.UpdateRecord) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = c.appendRetryWindow
	return backoff.Retry(func() error {
		return c.log.Append(ctx, rec)
	}, backoff.WithContext(bo, ctx))
}

// HandleRemote merges a record produced by another replica. Remote
// records are never re-persisted and never re-broadcast. Safe to call
// in any state: mid-load they are buffered, unloaded they are dropped
// (the originating instance already persisted them).
func (c *Coordinator) HandleRemote(rec record.UpdateRecord) error {
	c.mu.Lock()
	switch c.state {
	case StateLoading:
		c.pending = append(c.pending, rec)
		c.mu.Unlock()
		return nil
	case StateReady:
		rep := c.rep
		c.mu.Unlock()
		return c.mergeRemote(rep, rec)
	default:
		c.mu.Unlock()
		return nil
	}
}

func (c *Coordinator) mergeRemote(rep *replica.Replica, rec record.UpdateRecord) error {
	if c.echo.Consume(rec.Payload) {
		// Our own update bounced back through the fabric.
		return nil
	}
	if _, err := rep.ApplyRemote(rec); err != nil {
		c.logger.Warn("dropping unmergeable remote record",
			"note", c.note, "instance", rec.Instance, "sequence", rec.Sequence, "err", err)
		return newSyncError(CodeMergeViolation, c.note, "remote record rejected", err)
	}
	return nil
}

// PlainText materializes the live document for previews. Ready only.
func (c *Coordinator) PlainText() (string, error) {
	rep, err := c.readyReplica()
	if err != nil {
		return "", err
	}
	return rep.PlainText()
}

// Snapshot exports the live document state. Ready only.
func (c *Coordinator) Snapshot() ([]byte, error) {
	rep, err := c.readyReplica()
	if err != nil {
		return nil, err
	}
	return rep.Snapshot(), nil
}

// Unload releases the replica. Safe to call in any state, including
// before a load ever completed; an in-flight load is cancelled and its
// partial state discarded.
func (c *Coordinator) Unload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateUnloaded {
		return
	}
	if c.loadCancel != nil {
		c.loadCancel()
		c.loadCancel = nil
	}
	c.state = StateUnloading
	c.rep = nil
	c.pending = nil
	c.state = StateUnloaded
}

// Close unloads and detaches from the fabric.
func (c *Coordinator) Close() {
	c.Unload()
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
}

func (c *Coordinator) readyReplica() (*replica.Replica, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return nil, newSyncError(CodeLoadFailure, c.note, fmt.Sprintf("note is %s, not ready", c.state), nil)
	}
	return c.rep, nil
}

func (c *Coordinator) onFabricRecord(rec record.UpdateRecord) {
	if rec.Note != c.note {
		return
	}
	// Errors here are merge violations already logged in mergeRemote;
	// the fabric delivery path has no caller to surface them to.
	_ = c.HandleRemote(rec)
}
