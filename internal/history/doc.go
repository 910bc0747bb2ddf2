// Package history serves read-only views over a note's update log:
// activity sessions, aggregate stats, point-in-time reconstruction, and
// restore.
//
// Everything here is a pure function of the journal. Sessions and stats
// are computed on demand and owned by no one; reconstruction always
// replays from empty - correct but O(history length), an explicit
// simplicity-over-speed tradeoff for a human-paced history browser.
// Restore is not a rewind: it re-injects a historical state as a new
// forward-moving edit through the normal sync path, so it merges with
// concurrent work instead of erasing it.
package history
