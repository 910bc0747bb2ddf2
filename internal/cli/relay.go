package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkwell/inkwell/internal/notesync"
)

// RelayOptions holds flags for the relay command.
type RelayOptions struct {
	*RootOptions
	Addr string
}

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the websocket broadcast relay",
		Long: `Run the relay every instance connects to for live sync. The relay
holds no state: it re-broadcasts each update frame to every connected
peer, including the sender. Correctness never depends on it; instances
converge through the update log even when the relay is down.

Examples:
  inkwell relay --addr 127.0.0.1:8750`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (host:port)")

	return cmd
}

func runRelay(opts *RelayOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	addr := opts.Addr
	if addr == "" {
		addr = cfg.Relay.Addr
	}
	if addr == "" {
		return NewExitError(ExitCommandError, "no relay address: set --addr or relay.addr in config")
	}

	logger := opts.newLogger(cmd.ErrOrStderr())
	srv := &http.Server{
		Addr:    addr,
		Handler: notesync.NewRelayServer(logger),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s\n", addr)

	select {
	case err := <-errCh:
		return WrapExitError(ExitCommandError, "relay failed", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "relay shutdown", err)
	}
	return nil
}
