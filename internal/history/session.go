package history

import (
	"fmt"
	"sort"
	"time"

	"github.com/inkwell/inkwell/internal/record"
)

// DefaultInactivityGap closes a session once the quiet stretch between
// two consecutive updates exceeds it. Thirty minutes reads as "came
// back later" at human editing pace; it is a UX constant, not a
// correctness one, and is configurable.
const DefaultInactivityGap = 30 * time.Minute

// Session is a derived grouping of temporally-contiguous updates.
// Sessions partition a note's full history: every record belongs to
// exactly one session, sessions never overlap, and they are totally
// ordered by start time.
type Session struct {
	ID          string                `json:"id"`
	Note        record.NoteID         `json:"note"`
	StartTime   int64                 `json:"start_time"`
	EndTime     int64                 `json:"end_time"`
	UpdateCount int                   `json:"update_count"`
	Instances   []record.InstanceID   `json:"instances"`
	Updates     []record.UpdateRecord `json:"updates"`
}

// Aggregate groups records into sessions by inactivity gaps.
//
// Records are sorted into canonical history order first (timestamp,
// then sequence, then instance), then scanned once left to right: a
// new session starts whenever the gap to the previous record exceeds
// gap. Zero records yield zero sessions; one record yields one
// single-record session. A non-positive gap selects the default.
func Aggregate(records []record.UpdateRecord, gap time.Duration) []Session {
	if len(records) == 0 {
		return []Session{}
	}
	if gap <= 0 {
		gap = DefaultInactivityGap
	}
	gapMs := gap.Milliseconds()

	sorted := append([]record.UpdateRecord(nil), records...)
	record.Sort(sorted)

	sessions := []Session{}
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && sorted[i].Timestamp-sorted[i-1].Timestamp <= gapMs {
			continue
		}
		sessions = append(sessions, buildSession(sorted[start:i]))
		start = i
	}
	return sessions
}

func buildSession(updates []record.UpdateRecord) Session {
	instances := make(map[record.InstanceID]struct{})
	for _, rec := range updates {
		instances[rec.Instance] = struct{}{}
	}
	ids := make([]record.InstanceID, 0, len(instances))
	for id := range instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	first, last := updates[0], updates[len(updates)-1]
	return Session{
		ID:          fmt.Sprintf("%s@%d", first.Note, first.Timestamp),
		Note:        first.Note,
		StartTime:   first.Timestamp,
		EndTime:     last.Timestamp,
		UpdateCount: len(updates),
		Instances:   ids,
		Updates:     updates,
	}
}
