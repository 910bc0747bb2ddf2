// Package notesync orchestrates the per-note sync lifecycle: load,
// local edits, remote merges, unload.
//
// One Coordinator exists per (process, note). Coordinators never share
// memory across processes; the only shared resources are the journal
// (durable storage) and the broadcast fabric (message passing).
//
// # State machine
//
//	Unloaded -> Loading -> Ready -> Unloading -> Unloaded
//
// Loading blocks local edits until the full known history has merged,
// so a local edit can never race ahead of a concurrently-loading
// baseline. Remote records arriving mid-load are buffered and drained
// before the coordinator reports Ready.
//
// # Flow
//
// A local edit is merged into the replica, persisted to the journal
// with retry, fingerprinted for echo suppression, and published to the
// fabric. A remote record is checked against the echo suppressor and
// merged; it is never re-persisted (the originating instance already
// did) and never re-broadcast (that would fan out forever).
package notesync
