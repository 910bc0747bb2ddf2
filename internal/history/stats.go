package history

import (
	"time"

	"github.com/inkwell/inkwell/internal/record"
)

// Stats summarizes a note's full edit history.
type Stats struct {
	TotalUpdates  int                 `json:"total_updates"`
	TotalSessions int                 `json:"total_sessions"`
	FirstEdit     int64               `json:"first_edit"`
	LastEdit      int64               `json:"last_edit"`
	InstanceCount int                 `json:"instance_count"`
	Instances     []record.InstanceID `json:"instances"`
}

// Summarize computes history stats from the note's records. Session
// counting uses the same gap as Aggregate so the two views agree.
func Summarize(records []record.UpdateRecord, gap time.Duration) Stats {
	sessions := Aggregate(records, gap)
	stats := Stats{
		TotalUpdates:  len(records),
		TotalSessions: len(sessions),
		Instances:     []record.InstanceID{},
	}
	if len(sessions) == 0 {
		return stats
	}

	stats.FirstEdit = sessions[0].StartTime
	stats.LastEdit = sessions[len(sessions)-1].EndTime

	seen := make(map[record.InstanceID]struct{})
	for _, s := range sessions {
		for _, id := range s.Instances {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				stats.Instances = append(stats.Instances, id)
			}
		}
	}
	stats.InstanceCount = len(stats.Instances)
	return stats
}
