package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/store"
	"github.com/ripplehq/ripple/internal/tap"
)

// TailOptions holds flags for the tail command.
type TailOptions struct {
	*RootOptions
	Database string
	From     int64
	Follow   bool
}

// tailEntry is one changelog row in the tail output.
type tailEntry struct {
	Seq        int64          `json:"seq"`
	Operation  string         `json:"operation"`
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Resync     bool           `json:"resync,omitempty"`
	Document   map[string]any `json:"document,omitempty"`
}

// NewTailCommand creates the tail command.
func NewTailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TailOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tail <collection>",
		Short: "Print a collection's changelog",
		Long: `Print a collection's retained changelog from a sequence position,
one change per line. With --follow, keep watching for new changes until
interrupted.

Examples:
  ripple tail tasks --db ./ripple.db
  ripple tail projects --db ./ripple.db --from 100 --follow
  ripple tail users --db ./ripple.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(opts, entity.Collection(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().Int64Var(&opts.From, "from", 0, "start after this sequence number")
	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "keep watching for new changes")

	return cmd
}

func runTail(opts *TailOptions, collection entity.Collection, cmd *cobra.Command) error {
	if !entity.IsValidCollection(collection) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown collection %q", collection))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	w := cmd.OutOrStdout()
	if !opts.Follow {
		return tailOnce(cmd.Context(), st, collection, opts, w)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	items := tap.New(st).WatchFrom(ctx, collection, opts.From)
	for item := range items {
		if item.Resync {
			writeTailEntry(w, opts.Format, tailEntry{
				Collection: string(collection),
				Resync:     true,
			}, opts.Verbose)
			continue
		}
		writeTailEntry(w, opts.Format, entryFor(item.Event), opts.Verbose)
	}
	return nil
}

// tailOnce drains the retained changelog and stops at the tail.
func tailOnce(ctx context.Context, st *store.Store, collection entity.Collection, opts *TailOptions, w io.Writer) error {
	since := opts.From
	for {
		events, err := st.ChangesSince(ctx, collection, since, 256)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read changelog", err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, ev := range events {
			writeTailEntry(w, opts.Format, entryFor(ev), opts.Verbose)
			since = ev.Seq
		}
	}
}

func entryFor(ev entity.ChangeEvent) tailEntry {
	return tailEntry{
		Seq:        ev.Seq,
		Operation:  string(ev.Operation),
		Collection: string(ev.Collection),
		ID:         ev.EntityID,
		Document:   ev.After,
	}
}

func writeTailEntry(w io.Writer, format string, e tailEntry, verbose bool) {
	if format == "json" {
		_ = json.NewEncoder(w).Encode(e)
		return
	}
	if e.Resync {
		fmt.Fprintf(w, "-- resync required (%s changelog pruned past resume point)\n", e.Collection)
		return
	}
	fmt.Fprintf(w, "%8d  %-8s %s/%s\n", e.Seq, e.Operation, e.Collection, e.ID)
	if verbose && e.Document != nil {
		doc, err := json.Marshal(e.Document)
		if err == nil {
			fmt.Fprintf(w, "          %s\n", doc)
		}
	}
}
