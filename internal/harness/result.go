package harness

import (
	"fmt"

	"github.com/ripplehq/ripple/internal/entity"
)

// TraceRow is one engine trace event tagged with its flow token. Rows
// are what golden files snapshot, so the field set stays small and
// fully deterministic.
type TraceRow struct {
	Flow      string `json:"flow"`
	Seq       int64  `json:"seq"`
	Kind      string `json:"kind"`
	Rule      string `json:"rule,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Delivery is one client event observed on a capture channel.
type Delivery struct {
	Event     string `json:"event"`
	Operation string `json:"operation"`
	ID        string `json:"id"`
}

// Result is the outcome of a scenario run.
type Result struct {
	Scenario string
	Pass     bool
	Errors   []string

	// Trace is the concatenated engine trace across all steps.
	Trace []TraceRow

	// Notifications holds every persisted notification, sorted by
	// recipient then title then id.
	Notifications []entity.Notification

	// Projects maps project id to final status.
	Projects map[string]string

	// Delivered maps user id to the client events their channel
	// received, in delivery order.
	Delivered map[string][]Delivery
}

func (r *Result) fail(format string, args ...any) {
	r.Pass = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
