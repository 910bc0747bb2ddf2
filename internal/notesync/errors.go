package notesync

import (
	"errors"
	"fmt"

	"github.com/inkwell/inkwell/internal/record"
)

// ErrorCode categorizes sync engine failures.
type ErrorCode string

const (
	// CodeLogCorruption indicates an unreadable or malformed record.
	// Recovered by skipping; never fatal to a read.
	CodeLogCorruption ErrorCode = "LOG_CORRUPTION"

	// CodeDurabilityFailure indicates an append could not reach storage
	// after retries. The edit stays live in memory; sync and history may
	// lag until the journal recovers.
	CodeDurabilityFailure ErrorCode = "DURABILITY_FAILURE"

	// CodeLoadFailure indicates a note could not be loaded. Surfaced
	// synchronously; the note stays unloaded.
	CodeLoadFailure ErrorCode = "LOAD_FAILURE"

	// CodeMergeViolation indicates a record that does not decode as a
	// valid CRDT delta. Treated like corruption; the in-memory document
	// is never touched by it.
	CodeMergeViolation ErrorCode = "MERGE_VIOLATION"
)

// SyncError is an error detected by the sync engine, with enough
// structure for callers to route it: warnings for recoverable classes,
// synchronous surfacing for load failures.
type SyncError struct {
	Code    ErrorCode
	Message string
	Note    record.NoteID
	Err     error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Note != "" {
		return fmt.Sprintf("%s: %s (note=%s)", e.Code, e.Message, e.Note)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsDurabilityFailure reports whether err is a durability failure.
// Uses errors.As to handle wrapped errors.
func IsDurabilityFailure(err error) bool {
	return hasCode(err, CodeDurabilityFailure)
}

// IsLoadFailure reports whether err is a load failure.
func IsLoadFailure(err error) bool {
	return hasCode(err, CodeLoadFailure)
}

// IsMergeViolation reports whether err is a merge violation.
func IsMergeViolation(err error) bool {
	return hasCode(err, CodeMergeViolation)
}

func hasCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

func newSyncError(code ErrorCode, note record.NoteID, message string, err error) *SyncError {
	return &SyncError{Code: code, Message: message, Note: note, Err: err}
}
