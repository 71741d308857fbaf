// Package policy holds the cascade rule policies: which rules are
// enabled and what notification content each produces. Policies are
// declared in CUE; built-in defaults are embedded in the binary and a
// deployment can override individual rules from a policy directory.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/ripplehq/ripple/internal/entity"
)

// Rule names. Every notification the engine emits carries one of these
// as its reason; the policy table is keyed by them.
const (
	RuleTaskAssigned          = "task.assigned"
	RuleTaskStatusChanged     = "task.status_changed"
	RuleTaskFlagged           = "task.flagged"
	RuleTaskUnflagged         = "task.unflagged"
	RuleCommentAdded          = "comment.added"
	RuleCommentMentioned      = "comment.mentioned"
	RuleProjectCompleted      = "project.completed"
	RuleProjectReactivated    = "project.reactivated"
	RuleProjectStatusChanged  = "project.status_changed"
	RuleMemberAdded           = "member.added"
	RuleMemberRemoved         = "member.removed"
	RuleAccountDisabled       = "account.disabled"
	RuleAccountEnabled        = "account.enabled"
	RuleAccountActivated      = "account.activated"
	RuleReactivationRequested = "reactivation.requested"
)

// KnownRules lists every rule name the engine understands, sorted.
// Policy files naming anything else fail validation.
var KnownRules = []string{
	RuleAccountActivated,
	RuleAccountDisabled,
	RuleAccountEnabled,
	RuleCommentAdded,
	RuleCommentMentioned,
	RuleMemberAdded,
	RuleMemberRemoved,
	RuleProjectCompleted,
	RuleProjectReactivated,
	RuleProjectStatusChanged,
	RuleReactivationRequested,
	RuleTaskAssigned,
	RuleTaskFlagged,
	RuleTaskStatusChanged,
	RuleTaskUnflagged,
}

//go:embed defaults.cue
var defaultsCUE string

// Rule is one cascade rule's notification policy.
type Rule struct {
	Name     string
	Enabled  bool
	Title    string
	Message  string
	Severity entity.Severity
}

// Render expands {placeholder} references in the rule's title and
// message templates. Unknown placeholders are left literal.
func (r Rule) Render(vars map[string]string) (title, message string) {
	return expand(r.Title, vars), expand(r.Message, vars)
}

func expand(tpl string, vars map[string]string) string {
	if !strings.Contains(tpl, "{") {
		return tpl
	}
	out := tpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// Policy is the full rule table.
type Policy struct {
	rules map[string]Rule
}

// Rule returns the policy for a rule name. The second return is false
// for unknown names.
func (p *Policy) Rule(name string) (Rule, bool) {
	r, ok := p.rules[name]
	return r, ok
}

// Enabled reports whether a rule should fire notifications. Unknown
// names report false.
func (p *Policy) Enabled(name string) bool {
	r, ok := p.rules[name]
	return ok && r.Enabled
}

// Names returns the configured rule names, sorted.
func (p *Policy) Names() []string {
	names := make([]string, 0, len(p.rules))
	for n := range p.rules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Error represents a policy compilation error with source position.
type Error struct {
	Rule    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: rule %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Rule, e.Message)
	}
	return fmt.Sprintf("rule %s: %s", e.Rule, e.Message)
}

// Default returns the embedded policy table. It panics only if the
// embedded defaults are malformed, which is a build defect.
func Default() *Policy {
	ctx := cuecontext.New()
	v := ctx.CompileString(defaultsCUE, cue.Filename("defaults.cue"))
	p, err := fromValue(v, nil)
	if err != nil {
		panic(fmt.Sprintf("embedded policy defaults invalid: %v", err))
	}
	return p
}

// Load reads the .cue files under dir and overlays them on the embedded
// defaults. Files must declare `package policy`. Override entries are
// partial: a rule entry may set only the fields it wants to change,
// e.g. `rule: "comment.added": enabled: false`.
func Load(dir string) (*Policy, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("policy directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("policy path %s is not a directory", dir)
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning policy directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .cue files in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	return fromValue(v, Default())
}

// fromValue parses a CUE value's `rule` struct into a Policy. base, when
// non-nil, supplies defaults for fields an entry omits; entries for rule
// names absent from KnownRules are rejected.
func fromValue(v cue.Value, base *Policy) (*Policy, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rules := make(map[string]Rule, len(KnownRules))
	if base != nil {
		for name, r := range base.rules {
			rules[name] = r
		}
	}

	rulesVal := v.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		if base == nil {
			return nil, &Error{Rule: "rule", Message: "no rule table found", Pos: v.Pos()}
		}
		return &Policy{rules: rules}, nil
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		sel := iter.Selector()
		name := sel.String()
		if sel.LabelType() == cue.StringLabel {
			name = sel.Unquoted()
		}
		if !knownRule(name) {
			return nil, &Error{Rule: name, Message: "unknown rule name", Pos: iter.Value().Pos()}
		}
		entry := rules[name]
		entry.Name = name
		if entry.Severity == "" {
			entry.Severity = entity.SeverityInfo
		}
		if base == nil {
			entry.Enabled = true
		}
		if err := parseRule(iter.Value(), &entry); err != nil {
			return nil, err
		}
		rules[name] = entry
	}

	for _, r := range rules {
		if r.Enabled && (r.Title == "" || r.Message == "") {
			return nil, &Error{Rule: r.Name, Message: "enabled rule must have title and message"}
		}
	}
	return &Policy{rules: rules}, nil
}

// parseRule fills entry from a CUE rule struct. Missing fields keep the
// values already in entry.
func parseRule(v cue.Value, entry *Rule) error {
	if ev := v.LookupPath(cue.ParsePath("enabled")); ev.Exists() {
		b, err := ev.Bool()
		if err != nil {
			return &Error{Rule: entry.Name, Message: "enabled must be bool", Pos: ev.Pos()}
		}
		entry.Enabled = b
	}
	if tv := v.LookupPath(cue.ParsePath("title")); tv.Exists() {
		s, err := tv.String()
		if err != nil {
			return &Error{Rule: entry.Name, Message: "title must be string", Pos: tv.Pos()}
		}
		entry.Title = s
	}
	if mv := v.LookupPath(cue.ParsePath("message")); mv.Exists() {
		s, err := mv.String()
		if err != nil {
			return &Error{Rule: entry.Name, Message: "message must be string", Pos: mv.Pos()}
		}
		entry.Message = s
	}
	if sv := v.LookupPath(cue.ParsePath("severity")); sv.Exists() {
		s, err := sv.String()
		if err != nil {
			return &Error{Rule: entry.Name, Message: "severity must be string", Pos: sv.Pos()}
		}
		sev := entity.Severity(s)
		if !entity.IsValidSeverity(sev) {
			return &Error{Rule: entry.Name, Message: fmt.Sprintf("unknown severity %q", s), Pos: sv.Pos()}
		}
		entry.Severity = sev
	}
	return nil
}

func knownRule(name string) bool {
	for _, r := range KnownRules {
		if r == name {
			return true
		}
	}
	return false
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &Error{Rule: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
