package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkwell/inkwell/internal/history"
	"github.com/inkwell/inkwell/internal/journal"
	"github.com/inkwell/inkwell/internal/record"
)

// TimelineOptions holds flags for the timeline command.
type TimelineOptions struct {
	*RootOptions
	DataDir string
	Note    string
	Gap     time.Duration
}

// NewTimelineCommand creates the timeline command.
func NewTimelineCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TimelineOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show a note's edit sessions",
		Long: `Group a note's update history into activity sessions.

A session is a run of updates with no quiet stretch longer than the
inactivity gap between consecutive updates. Sessions partition the
history: every update belongs to exactly one session.

Examples:
  inkwell timeline --data ./notes --note 0191a0b2-...
  inkwell timeline --data ./notes --note 0191a0b2-... --gap 5m --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTimeline(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DataDir, "data", "", "path to the update log directory")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note id (required)")
	_ = cmd.MarkFlagRequired("note")
	cmd.Flags().DurationVar(&opts.Gap, "gap", 0, "inactivity gap closing a session (default from config)")

	return cmd
}

func runTimeline(opts *TimelineOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	records, gap, err := readNoteHistory(ctx, opts.RootOptions, opts.DataDir, opts.Note, opts.Gap, cmd)
	if err != nil {
		return err
	}

	sessions := history.Aggregate(records, gap)

	if opts.Format == "json" {
		return writeJSON(cmd, sessions)
	}
	return outputTimelineText(cmd, opts.Note, sessions)
}

// readNoteHistory opens the journal and reads a note's full history,
// resolving the data dir and gap from config when flags are unset.
func readNoteHistory(ctx context.Context, rootOpts *RootOptions, dataDir, note string, gap time.Duration, cmd *cobra.Command) ([]record.UpdateRecord, time.Duration, error) {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return nil, 0, err
	}
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if gap == 0 {
		gap = cfg.InactivityGap.Std()
	}

	j, err := journal.Open(dataDir, rootOpts.newLogger(cmd.ErrOrStderr()))
	if err != nil {
		return nil, 0, WrapExitError(ExitCommandError, "failed to open update log", err)
	}

	records, err := j.ReadAll(ctx, record.NoteID(note))
	if err != nil {
		return nil, 0, WrapExitError(ExitCommandError, "failed to read update log", err)
	}
	return records, gap, nil
}

func outputTimelineText(cmd *cobra.Command, note string, sessions []history.Session) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Timeline for note: %s\n", note)
	if len(sessions) == 0 {
		fmt.Fprintln(w, "  (no history)")
		return nil
	}
	fmt.Fprintln(w)

	for i, s := range sessions {
		instances := make([]string, len(s.Instances))
		for j, id := range s.Instances {
			instances[j] = string(id)
		}
		fmt.Fprintf(w, "Session %d: %s .. %s\n", i+1,
			formatMillis(s.StartTime), formatMillis(s.EndTime))
		fmt.Fprintf(w, "  Updates:   %d\n", s.UpdateCount)
		fmt.Fprintf(w, "  Instances: %s\n", strings.Join(instances, ", "))
	}
	return nil
}

// formatMillis renders a unix-millisecond timestamp for text output.
func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
