package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/automerge/automerge-go"
	"github.com/inkwell/inkwell/internal/record"
	"github.com/inkwell/inkwell/internal/replica"
)

// ContentReplacer sets a note's full text content as a new forward
// edit. *notesync.Coordinator satisfies it.
type ContentReplacer interface {
	ReplaceContent(ctx context.Context, text string) (record.UpdateRecord, error)
}

// SnapshotText extracts the plain text content from a reconstructed
// document snapshot.
func SnapshotText(snapshot []byte) (string, error) {
	doc, err := automerge.Load(snapshot)
	if err != nil {
		return "", fmt.Errorf("load snapshot: %w", err)
	}
	return replica.DocText(doc)
}

// Restore pushes the content of a historical snapshot onto the live
// note as a regular edit. History is never rewritten: the restore is
// one more update appended to the log, so concurrent edits from other
// instances merge with it instead of being lost. Restoring to the
// current content is a no-op.
func Restore(ctx context.Context, target ContentReplacer, snapshot []byte) error {
	text, err := SnapshotText(snapshot)
	if err != nil {
		return err
	}
	if _, err := target.ReplaceContent(ctx, text); err != nil {
		if errors.Is(err, replica.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("apply restored content: %w", err)
	}
	return nil
}
