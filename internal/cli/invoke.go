package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ripplehq/ripple/internal/engine"
	"github.com/ripplehq/ripple/internal/notify"
	"github.com/ripplehq/ripple/internal/store"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Database  string
	PolicyDir string

	Actor     string
	Project   string
	Task      string
	Comment   string
	User      string
	OldStatus string
	NewStatus string
}

// InvokeResult is the invoke command's output payload.
type InvokeResult struct {
	FlowToken     string               `json:"flow_token"`
	Steps         int                  `json:"steps"`
	Mutations     []InvokeMutation     `json:"mutations,omitempty"`
	Notifications []InvokeNotification `json:"notifications,omitempty"`
}

// InvokeMutation is one derived write in the output.
type InvokeMutation struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// InvokeNotification is one persisted notice in the output.
type InvokeNotification struct {
	User  string `json:"user"`
	Title string `json:"title"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <trigger-kind>",
		Short: "Fire a cascade trigger directly",
		Long: `Fire one cascade trigger through the direct path, the way the API
layer does after a primary write. The store must already hold the
entities the trigger references.

Examples:
  ripple invoke task.status_changed --db ./ripple.db --actor alice --project p1 --task t1 --to completed
  ripple invoke reactivation.requested --db ./ripple.db --actor carol --user carol
  ripple invoke member.added --db ./ripple.db --actor dave --project p1 --user bob --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.PolicyDir, "policy", "", "rule policy override directory")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "acting user id")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Task, "task", "", "task id")
	cmd.Flags().StringVar(&opts.Comment, "comment", "", "comment id")
	cmd.Flags().StringVar(&opts.User, "user", "", "target user id")
	cmd.Flags().StringVar(&opts.OldStatus, "from", "", "previous status")
	cmd.Flags().StringVar(&opts.NewStatus, "to", "", "new status")

	return cmd
}

func runInvoke(opts *InvokeOptions, kind string, cmd *cobra.Command) error {
	formatter := formatterFor(opts.RootOptions, cmd)

	pol, err := loadPolicy(opts.PolicyDir)
	if err != nil {
		return err
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	eng := engine.New(st, notify.NewSink(st, time.Now), pol)
	trg := engine.Trigger{
		Kind:      engine.TriggerKind(kind),
		Actor:     opts.Actor,
		ProjectID: opts.Project,
		TaskID:    opts.Task,
		CommentID: opts.Comment,
		UserID:    opts.User,
		OldStatus: opts.OldStatus,
		NewStatus: opts.NewStatus,
	}

	out, err := eng.Evaluate(cmd.Context(), trg)
	if err != nil {
		if engine.IsRuleViolation(err) || engine.IsQuotaError(err) {
			_ = formatter.Error("E_REJECTED", err.Error(), nil)
			return NewExitError(ExitFailure, err.Error())
		}
		return WrapExitError(ExitCommandError, "evaluation failed", err)
	}

	result := InvokeResult{FlowToken: out.FlowToken, Steps: out.Steps}
	for _, m := range out.Mutations {
		result.Mutations = append(result.Mutations, InvokeMutation{
			Collection: string(m.Collection),
			ID:         m.EntityID,
		})
	}
	for _, n := range out.Notifications {
		result.Notifications = append(result.Notifications, InvokeNotification{
			User:  n.UserID,
			Title: n.Title,
		})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return writeInvokeText(cmd, result)
}

func writeInvokeText(cmd *cobra.Command, r InvokeResult) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "flow %s (%d steps)\n", r.FlowToken, r.Steps)
	for _, m := range r.Mutations {
		fmt.Fprintf(w, "  mutated  %s/%s\n", m.Collection, m.ID)
	}
	for _, n := range r.Notifications {
		fmt.Fprintf(w, "  notified %s: %s\n", n.User, n.Title)
	}
	return nil
}
