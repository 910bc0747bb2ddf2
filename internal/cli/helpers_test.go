package cli

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/inkwell/inkwell/internal/journal"
	"github.com/inkwell/inkwell/internal/record"
	"github.com/inkwell/inkwell/internal/replica"
	"github.com/inkwell/inkwell/internal/testutil"
)

const testNote = "note-1"

// seedJournal writes a small two-instance history into a fresh data
// dir: edits at 1000 and 1005 from i1, a concurrent edit at 1003 from
// i2, then a late edit at 9000 from i1.
func seedJournal(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	j, err := journal.Open(dir, slog.Default())
	require.NoError(t, err)

	ctx := context.Background()
	clk := testutil.NewClockAt(1000)

	r1 := replica.New(testNote, "i1", replica.WithClock(clk.Now))
	r2 := replica.New(testNote, "i2", replica.WithClock(clk.Now))

	edit := func(r *replica.Replica, ts int64, text string) {
		clk.SetMillis(ts)
		rec, err := r.ReplaceText(text)
		require.NoError(t, err)
		require.NoError(t, j.Append(ctx, rec))
	}

	edit(r1, 1000, "alpha")
	edit(r2, 1003, "concurrent")
	edit(r1, 1005, "alpha beta")
	edit(r1, 9000, "alpha beta gamma")
	return dir
}

// execute runs a freshly built command with args and captures stdout.
func execute(t *testing.T, build func(*RootOptions) *cobra.Command, format string, args ...string) (string, error) {
	t.Helper()

	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: format, ConfigPath: "missing.yaml"}
	cmd := build(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func assertRecordCount(t *testing.T, dir string, note record.NoteID, want int) {
	t.Helper()
	j, err := journal.Open(dir, slog.Default())
	require.NoError(t, err)
	records, err := j.ReadAll(context.Background(), note)
	require.NoError(t, err)
	require.Len(t, records, want)
}
