// Package record defines the atomic unit of change in the sync engine:
// the UpdateRecord, its identifiers, and its persisted and wire encodings.
//
// An UpdateRecord carries one opaque CRDT delta plus provenance:
// the writing instance, a per-instance monotonic sequence, and a
// wall-clock timestamp in milliseconds. (instance, sequence) is unique
// and strictly increasing per writer. Timestamps are advisory - they
// order history and session views, never merges. Only the CRDT causal
// metadata inside the payload may decide merge outcomes.
//
// # Persisted form
//
// One file per record, named {instance}_{note}_{timestamp}-{sequence}.rec.
// File content is a single status byte (0x01 = write complete) followed
// by the raw payload. A file missing the marker, or whose name does not
// parse, is corrupt: readers skip it and keep going.
package record
