package notesync

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell/inkwell/internal/journal"
	"github.com/inkwell/inkwell/internal/record"
	"github.com/inkwell/inkwell/internal/replica"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func testJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(t.TempDir(), testLogger())
	require.NoError(t, err)
	return j
}

func TestLoad_Idempotent(t *testing.T) {
	c := NewCoordinator("n1", "i1", testJournal(t), NewHub(), WithLogger(testLogger()))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Load(ctx))
	assert.Equal(t, StateReady, c.State())

	require.NoError(t, c.Load(ctx), "second load of a ready note is a no-op")
	assert.Equal(t, StateReady, c.State())
}

func TestLocalEdit_BlockedUntilReady(t *testing.T) {
	c := NewCoordinator("n1", "i1", testJournal(t), NewHub(), WithLogger(testLogger()))
	defer c.Close()

	_, err := c.ReplaceContent(context.Background(), "too early")
	assert.Error(t, err)
	assert.Equal(t, StateUnloaded, c.State())
}

func TestEdit_PersistsAndReloads(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	c := NewCoordinator("n1", "i1", j, NewHub(), WithLogger(testLogger()))
	require.NoError(t, c.Load(ctx))
	rec1, err := c.ReplaceContent(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec1.Sequence)
	c.Close()

	// A fresh coordinator rebuilds the document from the journal and
	// resumes the sequence counter past what is on disk.
	c2 := NewCoordinator("n1", "i1", j, NewHub(), WithLogger(testLogger()))
	defer c2.Close()
	require.NoError(t, c2.Load(ctx))

	text, err := c2.PlainText()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	rec2, err := c2.ReplaceContent(ctx, "hello again")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec2.Sequence)
}

func TestConvergence_TwoInstances(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	// Separate journals: instances on different machines share only
	// the fabric.
	a := NewCoordinator("n1", "ia", testJournal(t), hub, WithLogger(testLogger()))
	defer a.Close()
	b := NewCoordinator("n1", "ib", testJournal(t), hub, WithLogger(testLogger()))
	defer b.Close()
	require.NoError(t, a.Load(ctx))
	require.NoError(t, b.Load(ctx))

	_, err := a.ReplaceContent(ctx, "from A")
	require.NoError(t, err)

	bText, err := b.PlainText()
	require.NoError(t, err)
	assert.Equal(t, "from A", bText)

	// A receives its own record back through the hub; the echo
	// suppressor keeps that from double-applying.
	aText, err := a.PlainText()
	require.NoError(t, err)
	assert.Equal(t, "from A", aText)

	_, err = b.ReplaceContent(ctx, "from A, then B")
	require.NoError(t, err)

	aText, err = a.PlainText()
	require.NoError(t, err)
	assert.Equal(t, "from A, then B", aText)
}

// flakyLog fails the first failures appends, then recovers.
type flakyLog struct {
	*journal.Journal
	mu       sync.Mutex
	failures int
}

func (f *flakyLog) Append(ctx context.Context, rec record.UpdateRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("simulated disk failure")
	}
	return f.Journal.Append(ctx, rec)
}

func TestDurabilityFailure_EditStaysLive(t *testing.T) {
	hub := NewHub()
	flaky := &flakyLog{Journal: testJournal(t), failures: 1 << 30}
	ctx := context.Background()

	var published []record.UpdateRecord
	var pubMu sync.Mutex
	hub.Subscribe(func(rec record.UpdateRecord) {
		pubMu.Lock()
		published = append(published, rec)
		pubMu.Unlock()
	})

	c := NewCoordinator("n1", "i1", flaky, hub,
		WithLogger(testLogger()),
		WithAppendRetryWindow(100*time.Millisecond),
	)
	defer c.Close()
	require.NoError(t, c.Load(ctx))

	rec, err := c.ReplaceContent(ctx, "precious edit")
	assert.True(t, IsDurabilityFailure(err), "err = %v", err)
	assert.True(t, c.Degraded())
	assert.NotZero(t, rec.Sequence, "the record is still returned")

	// The edit must not vanish from the live session.
	text, terr := c.PlainText()
	require.NoError(t, terr)
	assert.Equal(t, "precious edit", text)

	// And it was still broadcast so peers stay current.
	pubMu.Lock()
	assert.Len(t, published, 1)
	pubMu.Unlock()
}

func TestDurabilityFailure_RecoversWithRetry(t *testing.T) {
	flaky := &flakyLog{Journal: testJournal(t), failures: 2}
	ctx := context.Background()

	c := NewCoordinator("n1", "i1", flaky, NewHub(),
		WithLogger(testLogger()),
		WithAppendRetryWindow(2*time.Second),
	)
	defer c.Close()
	require.NoError(t, c.Load(ctx))

	_, err := c.ReplaceContent(ctx, "retried edit")
	require.NoError(t, err, "transient append failures are retried away")
	assert.False(t, c.Degraded())

	recs, err := flaky.ReadAll(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

// brokenLog fails every read.
type brokenLog struct {
	*journal.Journal
}

func (b *brokenLog) ReadAll(ctx context.Context, note record.NoteID) ([]record.UpdateRecord, error) {
	return nil, errors.New("simulated read failure")
}

func TestLoadFailure_LeavesUnloaded(t *testing.T) {
	c := NewCoordinator("n1", "i1", &brokenLog{testJournal(t)}, NewHub(), WithLogger(testLogger()))
	defer c.Close()

	err := c.Load(context.Background())
	assert.True(t, IsLoadFailure(err), "err = %v", err)
	assert.Equal(t, StateUnloaded, c.State())

	// A later load against a healthy log is unaffected by the failure.
	c2 := NewCoordinator("n1", "i1", testJournal(t), NewHub(), WithLogger(testLogger()))
	defer c2.Close()
	require.NoError(t, c2.Load(context.Background()))
}

// blockingLog parks ReadAll until released, to hold a load in flight.
type blockingLog struct {
	*journal.Journal
	release chan struct{}
}

func (b *blockingLog) ReadAll(ctx context.Context, note record.NoteID) ([]record.UpdateRecord, error) {
	select {
	case <-b.release:
		return b.Journal.ReadAll(ctx, note)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRemoteDuringLoad_Buffered(t *testing.T) {
	blocked := &blockingLog{Journal: testJournal(t), release: make(chan struct{})}
	c := NewCoordinator("n1", "i1", blocked, NewHub(), WithLogger(testLogger()))
	defer c.Close()

	loadDone := make(chan error, 1)
	go func() { loadDone <- c.Load(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == StateLoading },
		time.Second, 5*time.Millisecond)

	// A remote record lands mid-load; it must not be lost and must not
	// race ahead of the baseline.
	other := replica.New("n1", "other")
	rec, err := other.ReplaceText("remote while loading")
	require.NoError(t, err)
	require.NoError(t, c.HandleRemote(rec))

	close(blocked.release)
	require.NoError(t, <-loadDone)

	text, err := c.PlainText()
	require.NoError(t, err)
	assert.Equal(t, "remote while loading", text)
}

func TestUnload_CancelsLoad(t *testing.T) {
	blocked := &blockingLog{Journal: testJournal(t), release: make(chan struct{})}
	c := NewCoordinator("n1", "i1", blocked, NewHub(), WithLogger(testLogger()))
	defer c.Close()

	loadDone := make(chan error, 1)
	go func() { loadDone <- c.Load(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == StateLoading },
		time.Second, 5*time.Millisecond)

	c.Unload()

	err := <-loadDone
	assert.True(t, IsLoadFailure(err), "err = %v", err)
	assert.Equal(t, StateUnloaded, c.State())
}

func TestUnload_SafeWhenNeverLoaded(t *testing.T) {
	c := NewCoordinator("n1", "i1", testJournal(t), NewHub(), WithLogger(testLogger()))
	c.Unload()
	c.Unload()
	assert.Equal(t, StateUnloaded, c.State())
	c.Close()
}

// stubSnapshots serves one fixed checkpoint.
type stubSnapshots struct {
	snapshot []byte
	lastTS   int64
}

func (s *stubSnapshots) LatestSnapshot(ctx context.Context, note record.NoteID) ([]byte, int64, bool, error) {
	if s.snapshot == nil {
		return nil, 0, false, nil
	}
	return s.snapshot, s.lastTS, true, nil
}

func TestLoad_SeedsFromCheckpoint(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	// A writer produces two edits; the first is captured in a
	// checkpoint, the second only lives in the journal.
	writer := replica.New("n1", "writer")
	rec1, err := writer.ReplaceText("checkpointed")
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, rec1))
	snapshot := writer.Snapshot()

	rec2, err := writer.ReplaceText("checkpointed, then extended")
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, rec2))

	c := NewCoordinator("n1", "i1", j, NewHub(),
		WithLogger(testLogger()),
		WithSnapshotSource(&stubSnapshots{snapshot: snapshot, lastTS: rec1.Timestamp}),
	)
	defer c.Close()
	require.NoError(t, c.Load(ctx))

	text, err := c.PlainText()
	require.NoError(t, err)
	assert.Equal(t, "checkpointed, then extended", text)
}

func TestLoad_CheckpointDoesNotMaskSlowClockWriter(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()

	// Shared base state, so later edits splice into the same text
	// object instead of fighting over the root key.
	base := replica.New("n1", "seed",
		replica.WithClock(func() time.Time { return time.UnixMilli(500) }))
	baseRec, err := base.ReplaceText("base body")
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, baseRec))
	baseSnap := base.Snapshot()

	// A fast-clocked instance edits at ts=2000 and its state is
	// checkpointed.
	fast := replica.New("n1", "fast",
		replica.WithClock(func() time.Time { return time.UnixMilli(2000) }))
	require.NoError(t, fast.LoadSnapshot(baseSnap))
	fastRec, err := fast.ReplaceText("from fast clock")
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, fastRec))
	snapshot := fast.Snapshot()

	// A concurrent edit from a slow-clocked instance is stamped before
	// the checkpoint boundary but is absent from the snapshot. The
	// timestamp is advisory; it must not decide checkpoint coverage.
	slow := replica.New("n1", "slow",
		replica.WithClock(func() time.Time { return time.UnixMilli(1000) }))
	require.NoError(t, slow.LoadSnapshot(baseSnap))
	slowRec, err := slow.ReplaceText("from slow clock")
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, slowRec))

	c := NewCoordinator("n1", "i1", j, NewHub(),
		WithLogger(testLogger()),
		WithSnapshotSource(&stubSnapshots{snapshot: snapshot, lastTS: fastRec.Timestamp}),
	)
	defer c.Close()
	require.NoError(t, c.Load(ctx))

	text, err := c.PlainText()
	require.NoError(t, err)
	assert.Contains(t, text, "from slow clock",
		"a journal record stamped before the checkpoint must still merge")

	// The seeded load converges to exactly what a replay from empty
	// produces.
	ref := replica.New("n1", "reader")
	for _, rec := range []record.UpdateRecord{baseRec, fastRec, slowRec} {
		_, err := ref.ApplyRemote(rec)
		require.NoError(t, err)
	}
	refText, err := ref.PlainText()
	require.NoError(t, err)
	assert.Equal(t, refText, text)
}

func TestHandleRemote_CorruptPayload(t *testing.T) {
	c := NewCoordinator("n1", "i1", testJournal(t), NewHub(), WithLogger(testLogger()))
	defer c.Close()
	ctx := context.Background()
	require.NoError(t, c.Load(ctx))
	_, err := c.ReplaceContent(ctx, "intact")
	require.NoError(t, err)

	bad := record.UpdateRecord{Instance: "evil", Note: "n1", Timestamp: 1, Sequence: 1, Payload: []byte("junk")}
	err = c.HandleRemote(bad)
	assert.True(t, IsMergeViolation(err), "err = %v", err)

	text, err := c.PlainText()
	require.NoError(t, err)
	assert.Equal(t, "intact", text, "a bad record never corrupts the live document")
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	var got int
	unsub := hub.Subscribe(func(record.UpdateRecord) { got++ })

	require.NoError(t, hub.Publish(context.Background(), record.UpdateRecord{Note: "n1"}))
	assert.Equal(t, 1, got)

	unsub()
	require.NoError(t, hub.Publish(context.Background(), record.UpdateRecord{Note: "n1"}))
	assert.Equal(t, 1, got)
}
