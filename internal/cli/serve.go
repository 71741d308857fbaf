package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ripplehq/ripple/internal/broadcast"
	"github.com/ripplehq/ripple/internal/engine"
	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/notify"
	"github.com/ripplehq/ripple/internal/policy"
	"github.com/ripplehq/ripple/internal/registry"
	"github.com/ripplehq/ripple/internal/server"
	"github.com/ripplehq/ripple/internal/store"
	"github.com/ripplehq/ripple/internal/tap"
)

// shutdownGrace bounds how long serve waits for in-flight websocket
// handshakes on shutdown.
const shutdownGrace = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database  string
	PolicyDir string
	Listen    string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine and websocket server",
		Long: `Run the full service: open the store, tail every collection's
changelog, evaluate cascade rules on each change, and push results to
websocket clients.

Example:
  ripple serve --db ./ripple.db --listen :8080
  ripple serve --db ./ripple.db --policy ./policy --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.PolicyDir, "policy", "", "rule policy override directory")
	cmd.Flags().StringVar(&opts.Listen, "listen", ":8080", "websocket listen address")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	pol, err := loadPolicy(opts.PolicyDir)
	if err != nil {
		return err
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("closing database", "error", closeErr)
		}
	}()

	eng := engine.New(st, notify.NewSink(st, time.Now), pol)
	reg := registry.New()
	bc := broadcast.New(reg)
	ws := server.New(reg)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One feed pump per collection. Independent pumps mean a stalled
	// collection never blocks the others.
	t := tap.New(st)
	var wg sync.WaitGroup
	for _, c := range entity.WatchedCollections {
		items, err := t.Watch(ctx, c)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to watch %s", c), err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pumpFeed(ctx, eng, bc, items)
		}()
	}

	httpSrv := &http.Server{Addr: opts.Listen, Handler: ws.Routes()}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()

	slog.Info("serving", "db", opts.Database, "listen", opts.Listen)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", opts.Listen)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			wg.Wait()
			return WrapExitError(ExitFailure, "server error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	wg.Wait()
	slog.Info("stopped")
	return nil
}

// pumpFeed drives one collection's feed: cascade evaluation first, then
// client broadcast, so clients never observe a change before its derived
// effects are at least underway. Errors are logged, never fatal, and
// the event is not retried: that change's cascade work is dropped, but
// the changelog keeps the row, so `ripple replay` can re-emit it once
// the store recovers.
func pumpFeed(ctx context.Context, eng *engine.Engine, bc *broadcast.Broadcaster, items <-chan tap.Item) {
	for item := range items {
		if item.Resync {
			if err := bc.BroadcastResync(item.Collection); err != nil {
				slog.Error("broadcast resync", "collection", item.Collection, "error", err)
			}
			continue
		}
		if _, err := eng.HandleChange(ctx, item.Event); err != nil {
			slog.Error("cascade evaluation",
				"collection", item.Event.Collection,
				"entity", item.Event.EntityID,
				"error", err,
			)
		}
		if err := bc.Broadcast(item.Event); err != nil {
			slog.Error("broadcast",
				"collection", item.Event.Collection,
				"entity", item.Event.EntityID,
				"error", err,
			)
		}
	}
}

// loadPolicy resolves the rule policy: built-in defaults, overlaid with
// the override directory when given.
func loadPolicy(dir string) (*policy.Policy, error) {
	if dir == "" {
		return policy.Default(), nil
	}
	pol, err := policy.Load(dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load policy", err)
	}
	return pol, nil
}
