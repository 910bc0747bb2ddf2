// Package journal implements the durable, append-only update log.
//
// Layout: one subdirectory per note under the data directory, one file
// per update record. Several editor instances may share the directory;
// each instance only ever appends files carrying its own instance id,
// so there is no cross-process write contention on any single file.
//
// # Crash atomicity
//
// Append writes to a temp file and renames it into place. Readers never
// observe a partially written record: an interrupted append leaves
// either no file or a *.tmp file, both of which are invisible to reads.
// The leading write-complete marker inside the file guards the same
// invariant for foreign writers that do not use rename.
//
// # Degraded reads
//
// A record that fails name, marker, or format validation is skipped
// with a logged corruption event. One bad file costs one record, never
// the whole history.
package journal
