package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell/inkwell/internal/record"
)

func rec(instance record.InstanceID, seq uint64, ts int64) record.UpdateRecord {
	return record.UpdateRecord{
		Instance:  instance,
		Note:      "note-1",
		Timestamp: ts,
		Sequence:  seq,
		Payload:   []byte{0xde, 0xad},
	}
}

func TestAggregateSplitsOnInactivityGap(t *testing.T) {
	records := []record.UpdateRecord{
		rec("i1", 1, 1000),
		rec("i1", 2, 1005),
		rec("i1", 3, 9000),
		rec("i2", 1, 1003),
	}

	sessions := Aggregate(records, 500*time.Millisecond)
	require.Len(t, sessions, 2)

	first := sessions[0]
	assert.Equal(t, int64(1000), first.StartTime)
	assert.Equal(t, int64(1005), first.EndTime)
	assert.Equal(t, 3, first.UpdateCount)
	assert.Equal(t, []record.InstanceID{"i1", "i2"}, first.Instances)

	second := sessions[1]
	assert.Equal(t, int64(9000), second.StartTime)
	assert.Equal(t, int64(9000), second.EndTime)
	assert.Equal(t, 1, second.UpdateCount)
	assert.Equal(t, []record.InstanceID{"i1"}, second.Instances)
}

func TestAggregateEmpty(t *testing.T) {
	assert.Empty(t, Aggregate(nil, time.Second))
}

func TestAggregateSingleRecord(t *testing.T) {
	sessions := Aggregate([]record.UpdateRecord{rec("i1", 1, 42)}, time.Second)
	require.Len(t, sessions, 1)
	assert.Equal(t, int64(42), sessions[0].StartTime)
	assert.Equal(t, int64(42), sessions[0].EndTime)
	assert.Equal(t, 1, sessions[0].UpdateCount)
}

func TestAggregateGapBoundaryIsInclusive(t *testing.T) {
	// A gap exactly equal to the threshold keeps the session open;
	// only a strictly larger gap closes it.
	records := []record.UpdateRecord{
		rec("i1", 1, 1000),
		rec("i1", 2, 1500),
		rec("i1", 3, 2001),
	}
	sessions := Aggregate(records, 500*time.Millisecond)
	require.Len(t, sessions, 2)
	assert.Equal(t, 2, sessions[0].UpdateCount)
	assert.Equal(t, 1, sessions[1].UpdateCount)
}

func TestAggregatePartitionsHistory(t *testing.T) {
	records := []record.UpdateRecord{
		rec("i2", 1, 300),
		rec("i1", 1, 100),
		rec("i1", 2, 5000),
		rec("i1", 3, 5100),
		rec("i2", 2, 12000),
	}
	sessions := Aggregate(records, time.Second)

	total := 0
	var prevEnd int64 = -1
	for _, s := range sessions {
		total += s.UpdateCount
		assert.Len(t, s.Updates, s.UpdateCount)
		assert.LessOrEqual(t, s.StartTime, s.EndTime)
		assert.Greater(t, s.StartTime, prevEnd, "sessions must not overlap")
		prevEnd = s.EndTime
	}
	assert.Equal(t, len(records), total, "every record belongs to exactly one session")
}

func TestAggregateDefaultsGap(t *testing.T) {
	records := []record.UpdateRecord{
		rec("i1", 1, 0),
		rec("i1", 2, DefaultInactivityGap.Milliseconds()),
		rec("i1", 3, 2*DefaultInactivityGap.Milliseconds()+1),
	}
	sessions := Aggregate(records, 0)
	require.Len(t, sessions, 2)
	assert.Equal(t, 2, sessions[0].UpdateCount)
}

func TestSummarize(t *testing.T) {
	records := []record.UpdateRecord{
		rec("i1", 1, 1000),
		rec("i2", 1, 1003),
		rec("i1", 2, 1005),
		rec("i1", 3, 9000),
	}

	stats := Summarize(records, 500*time.Millisecond)
	assert.Equal(t, 4, stats.TotalUpdates)
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, int64(1000), stats.FirstEdit)
	assert.Equal(t, int64(9000), stats.LastEdit)
	assert.Equal(t, 2, stats.InstanceCount)
	assert.ElementsMatch(t, []record.InstanceID{"i1", "i2"}, stats.Instances)
}

func TestSummarizeEmpty(t *testing.T) {
	stats := Summarize(nil, time.Second)
	assert.Zero(t, stats.TotalUpdates)
	assert.Zero(t, stats.TotalSessions)
	assert.Empty(t, stats.Instances)
}
