package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one declarative cascade test: seed documents, a sequence
// of triggers, and expectations over notifications, project state, and
// delivered client events.
type Scenario struct {
	// Name identifies the scenario in output and golden file names.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description,omitempty"`

	// Policy is an optional rule policy override directory. Empty means
	// the built-in defaults.
	Policy string `yaml:"policy,omitempty"`

	// FlowTokens overrides the generated per-step flow tokens. When
	// empty, step i runs under "flow-00(i+1)".
	FlowTokens []string `yaml:"flowTokens,omitempty"`

	Seed  Seed   `yaml:"seed"`
	Steps []Step `yaml:"steps"`

	Expect Expectations `yaml:"expect,omitempty"`
}

// Seed holds the documents written before any step runs. Each document
// must carry a string "id" field; the rest is stored as-is.
type Seed struct {
	Users    []map[string]any `yaml:"users,omitempty"`
	Projects []map[string]any `yaml:"projects,omitempty"`
	Tasks    []map[string]any `yaml:"tasks,omitempty"`
	Comments []map[string]any `yaml:"comments,omitempty"`
}

// Step fires one trigger through the direct path. The harness applies
// the step's primary mutation first, the way an API layer would, then
// evaluates the trigger.
type Step struct {
	// Trigger is the trigger kind, e.g. "task.status_changed".
	Trigger string `yaml:"trigger"`

	Actor   string `yaml:"actor,omitempty"`
	Project string `yaml:"project,omitempty"`
	Task    string `yaml:"task,omitempty"`
	Comment string `yaml:"comment,omitempty"`
	User    string `yaml:"user,omitempty"`

	// From and To describe a status transition.
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`

	// Flagged is the new flag state for task.flag_toggled.
	Flagged *bool `yaml:"flagged,omitempty"`

	// Document is the inserted document for task.created and
	// comment.added steps.
	Document map[string]any `yaml:"document,omitempty"`

	// ExpectViolation names the rule violation code this step must be
	// rejected with. Empty means the step must succeed.
	ExpectViolation string `yaml:"expectViolation,omitempty"`
}

// Expectations are checked after every step has run and the changelog
// has been pumped through the broadcaster.
type Expectations struct {
	// Notifications each name a (recipient, rule) pair that must appear
	// in the trace, optionally with the persisted title.
	Notifications []ExpectedNotification `yaml:"notifications,omitempty"`

	// Projects pin final project statuses.
	Projects []ExpectedProject `yaml:"projects,omitempty"`

	// Events each name a client event a user's channel must have
	// received, optionally pinned to an entity id.
	Events []ExpectedEvent `yaml:"events,omitempty"`

	// NotificationCount, when non-nil, pins the total number of
	// persisted notifications.
	NotificationCount *int `yaml:"notificationCount,omitempty"`
}

// ExpectedNotification names a notification that must have fired.
type ExpectedNotification struct {
	User  string `yaml:"user"`
	Rule  string `yaml:"rule"`
	Title string `yaml:"title,omitempty"`
}

// ExpectedProject pins a project's final status.
type ExpectedProject struct {
	ID     string `yaml:"id"`
	Status string `yaml:"status"`
}

// ExpectedEvent names a delivered client event.
type ExpectedEvent struct {
	User  string `yaml:"user"`
	Event string `yaml:"event"`
	ID    string `yaml:"id,omitempty"`
}

// LoadScenario reads and parses a scenario file. Unknown YAML fields are
// rejected so typos fail loudly instead of silently skipping checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML from memory.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}
	if len(s.FlowTokens) > 0 && len(s.FlowTokens) < len(s.Steps) {
		return fmt.Errorf("scenario %q declares %d flow tokens for %d steps",
			s.Name, len(s.FlowTokens), len(s.Steps))
	}
	for i, st := range s.Steps {
		if st.Trigger == "" {
			return fmt.Errorf("step %d has no trigger", i+1)
		}
	}
	for _, group := range []struct {
		kind string
		docs []map[string]any
	}{
		{"user", s.Seed.Users},
		{"project", s.Seed.Projects},
		{"task", s.Seed.Tasks},
		{"comment", s.Seed.Comments},
	} {
		for _, doc := range group.docs {
			if id, _ := doc["id"].(string); id == "" {
				return fmt.Errorf("seed %s document without string id", group.kind)
			}
		}
	}
	return nil
}
