package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkwell/inkwell/internal/history"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	DataDir string
	Note    string
	Gap     time.Duration
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize a note's edit history",
		Long: `Print summary statistics for a note's update history:
total updates, session count, first and last edit, and the set of
instances that contributed.

Examples:
  inkwell stats --data ./notes --note 0191a0b2-...
  inkwell stats --data ./notes --note 0191a0b2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DataDir, "data", "", "path to the update log directory")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note id (required)")
	_ = cmd.MarkFlagRequired("note")
	cmd.Flags().DurationVar(&opts.Gap, "gap", 0, "inactivity gap closing a session (default from config)")

	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	records, gap, err := readNoteHistory(ctx, opts.RootOptions, opts.DataDir, opts.Note, opts.Gap, cmd)
	if err != nil {
		return err
	}

	stats := history.Summarize(records, gap)

	if opts.Format == "json" {
		return writeJSON(cmd, stats)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Stats for note: %s\n", opts.Note)
	if stats.TotalUpdates == 0 {
		fmt.Fprintln(w, "  (no history)")
		return nil
	}

	instances := make([]string, len(stats.Instances))
	for i, id := range stats.Instances {
		instances[i] = string(id)
	}
	fmt.Fprintf(w, "  Updates:    %d\n", stats.TotalUpdates)
	fmt.Fprintf(w, "  Sessions:   %d\n", stats.TotalSessions)
	fmt.Fprintf(w, "  First edit: %s\n", formatMillis(stats.FirstEdit))
	fmt.Fprintf(w, "  Last edit:  %s\n", formatMillis(stats.LastEdit))
	fmt.Fprintf(w, "  Instances:  %s\n", strings.Join(instances, ", "))
	return nil
}
