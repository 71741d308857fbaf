package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ripplehq/ripple/internal/policy"
)

// ValidationResult holds the validate command's output payload.
type ValidationResult struct {
	Valid bool         `json:"valid"`
	Rules []RuleStatus `json:"rules,omitempty"`
}

// RuleStatus describes one rule's effective configuration.
type RuleStatus struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Severity string `json:"severity"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <policy-dir>",
		Short: "Validate a rule policy directory",
		Long: `Load a policy override directory against the built-in defaults and
report the effective rule table. Unknown rule names, bad severities, and
enabled rules without content are rejected.

Exit codes:
  0 - Policy valid
  1 - Policy invalid
  2 - Command error (directory not found)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := formatterFor(opts, cmd)

	if _, err := os.Stat(dir); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("policy directory %s", dir), err)
	}

	pol, err := policy.Load(dir)
	if err != nil {
		var polErr *policy.Error
		if errors.As(err, &polErr) {
			_ = formatter.Error("E_POLICY", polErr.Message, map[string]any{"rule": polErr.Rule})
		} else {
			_ = formatter.Error("E_POLICY", err.Error(), nil)
		}
		return WrapExitError(ExitFailure, "policy invalid", err)
	}

	result := ValidationResult{Valid: true}
	for _, name := range pol.Names() {
		r, _ := pol.Rule(name)
		result.Rules = append(result.Rules, RuleStatus{
			Name:     name,
			Enabled:  r.Enabled,
			Severity: string(r.Severity),
		})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	disabled := 0
	for _, r := range result.Rules {
		if !r.Enabled {
			disabled++
			fmt.Fprintf(w, "  disabled: %s\n", r.Name)
		} else {
			formatter.VerboseLog("  %-24s %s", r.Name, r.Severity)
		}
	}
	fmt.Fprintf(w, "✓ policy valid (%d rules, %d disabled)\n", len(result.Rules), disabled)
	return nil
}
