package cli

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkwell/inkwell/internal/checkpoint"
	"github.com/inkwell/inkwell/internal/history"
	"github.com/inkwell/inkwell/internal/journal"
	"github.com/inkwell/inkwell/internal/record"
)

// CheckpointOptions holds flags for the checkpoint command.
type CheckpointOptions struct {
	*RootOptions
	DataDir string
	DB      string
	Note    string
	Keep    int
}

// CheckpointResult is the JSON payload of the checkpoint command.
type CheckpointResult struct {
	Note          string `json:"note"`
	LastTimestamp int64  `json:"last_timestamp"`
	UpdateCount   int    `json:"update_count"`
	SnapshotBytes int    `json:"snapshot_bytes"`
}

// NewCheckpointCommand creates the checkpoint command.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Snapshot a note's current state",
		Long: `Fold a note's full update log into a document snapshot and store it
in the checkpoint database. Later loads seed from the snapshot and
replay only the log records after it.

Checkpoints are pure acceleration: they can be pruned or the database
deleted at any time, and loads fall back to replaying the full log.

Examples:
  inkwell checkpoint --data ./notes --db ./notes/checkpoints.db --note 0191a0b2-...
  inkwell checkpoint --data ./notes --note 0191a0b2-... --keep 5`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpoint(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DataDir, "data", "", "path to the update log directory")
	cmd.Flags().StringVar(&opts.DB, "db", "", "path to the checkpoint database")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note id (required)")
	_ = cmd.MarkFlagRequired("note")
	cmd.Flags().IntVar(&opts.Keep, "keep", 3, "checkpoints to retain per note")

	return cmd
}

func runCheckpoint(opts *CheckpointOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.DB != "" {
		cfg.CheckpointDB = opts.DB
	}

	logger := opts.newLogger(cmd.ErrOrStderr())
	j, err := journal.Open(cfg.DataDir, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open update log", err)
	}

	note := record.NoteID(opts.Note)
	records, err := j.ReadAll(ctx, note)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read update log", err)
	}
	if len(records) == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("note %s has no history", opts.Note))
	}

	rc := history.NewReconstructor(j, logger)
	snapshot, err := rc.ReconstructAt(ctx, note, history.Bound{
		Timestamp:   math.MaxInt64,
		UpdateIndex: history.NoIndex,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to reconstruct note", err)
	}

	st, err := checkpoint.Open(cfg.CheckpointDB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open checkpoint database", err)
	}
	defer st.Close()

	last := records[len(records)-1].Timestamp
	cp := checkpoint.Checkpoint{
		Note:          note,
		TakenAt:       record.NowMillis(time.Now()),
		LastTimestamp: last,
		UpdateCount:   len(records),
		Snapshot:      snapshot,
	}
	if err := st.Put(ctx, cp); err != nil {
		return WrapExitError(ExitCommandError, "failed to store checkpoint", err)
	}
	if err := st.Prune(ctx, note, opts.Keep); err != nil {
		return WrapExitError(ExitCommandError, "failed to prune checkpoints", err)
	}

	result := CheckpointResult{
		Note:          opts.Note,
		LastTimestamp: last,
		UpdateCount:   len(records),
		SnapshotBytes: len(snapshot),
	}
	if opts.Format == "json" {
		return writeJSON(cmd, result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Checkpointed note %s: %d updates through %s (%d snapshot bytes)\n",
		opts.Note, result.UpdateCount, formatMillis(last), result.SnapshotBytes)
	return nil
}
