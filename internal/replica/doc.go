// Package replica holds one note's CRDT document in memory and provides
// merge-safe mutation over it.
//
// The document is an automerge doc whose root map carries the note body
// under the "content" key as collaborative text. Deltas are automerge
// incremental-save bytes; the engine treats them as opaque payloads and
// relies entirely on the CRDT's algebra for merge correctness:
//
//   - idempotent: applying a record twice equals applying it once
//   - commutative: any arrival order converges to the same document
//
// A replica additionally tracks the set of (instance, sequence) pairs it
// has applied, so re-delivery short-circuits before touching the
// document at all. The replica is a cache; the journal is authoritative.
//
// Replica is safe for concurrent use, though each replica is owned by
// a single coordinator and never shared across processes.
package replica
