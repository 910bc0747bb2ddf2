package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwell/inkwell/internal/history"
	"github.com/inkwell/inkwell/internal/journal"
	"github.com/inkwell/inkwell/internal/notesync"
	"github.com/inkwell/inkwell/internal/record"
)

// RestoreOptions holds flags for the restore command.
type RestoreOptions struct {
	*RootOptions
	DataDir  string
	Note     string
	At       int64
	Index    int
	Instance string
}

// RestoreResult is the JSON payload of the restore command.
type RestoreResult struct {
	Note string `json:"note"`
	At   int64  `json:"at"`
	Text string `json:"text"`
}

// NewRestoreCommand creates the restore command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RestoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a note to a point in history",
		Long: `Reconstruct a note's historical state and re-apply its content as a
new update. History is never rewritten: the restore appends one more
record to the log, so edits made concurrently on other instances merge
with the restored content instead of being lost. Restoring to the
current content is a no-op.

Examples:
  inkwell restore --data ./notes --note 0191a0b2-... --at 1700000000000
  inkwell restore --data ./notes --note 0191a0b2-... --at 1700000000000 --index 2`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DataDir, "data", "", "path to the update log directory")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note id (required)")
	_ = cmd.MarkFlagRequired("note")
	cmd.Flags().Int64Var(&opts.At, "at", 0, "inclusive timestamp bound in unix milliseconds (required)")
	_ = cmd.MarkFlagRequired("at")
	cmd.Flags().IntVar(&opts.Index, "index", history.NoIndex, "inclusive record index within the timestamp bound")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "override the instance identity for the restore record")

	return cmd
}

func runRestore(opts *RestoreOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.Instance != "" {
		cfg.InstanceID = opts.Instance
	}

	instance, err := cfg.ResolveInstanceID()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to resolve instance id", err)
	}

	logger := opts.newLogger(cmd.ErrOrStderr())
	j, err := journal.Open(cfg.DataDir, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open update log", err)
	}

	note := record.NoteID(opts.Note)
	rc := history.NewReconstructor(j, logger)
	snapshot, err := rc.ReconstructAt(ctx, note, history.Bound{Timestamp: opts.At, UpdateIndex: opts.Index})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to reconstruct note", err)
	}

	// The restore flows through a regular coordinator so it lands in the
	// log with full sync semantics.
	coord := notesync.NewCoordinator(note, instance, j, notesync.NewHub(),
		notesync.WithLogger(logger),
		notesync.WithEchoTTL(cfg.EchoTTL.Std()))
	defer coord.Close()

	if err := coord.Load(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to load note", err)
	}

	if err := history.Restore(ctx, coord, snapshot); err != nil {
		return WrapExitError(ExitFailure, "failed to restore note", err)
	}

	text, err := coord.PlainText()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read restored content", err)
	}

	if opts.Format == "json" {
		return writeJSON(cmd, RestoreResult{Note: opts.Note, At: opts.At, Text: text})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored note %s to %s\n", opts.Note, formatMillis(opts.At))
	return nil
}
