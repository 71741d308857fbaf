package engine

import "github.com/ripplehq/ripple/internal/entity"

// Mutation records one derived store write an evaluation applied.
type Mutation struct {
	Collection entity.Collection
	EntityID   string
	Fields     map[string]any
}

// Trace event kinds.
const (
	TraceTrigger        = "trigger"
	TraceMutation       = "mutation"
	TraceNotification   = "notification"
	TracePersistFailure = "persist_failure"
	TraceMemoSkip       = "memo_skip"
)

// TraceEvent is one step of an evaluation, stamped by the logical clock.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Kind      string `json:"kind"`
	Rule      string `json:"rule,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Outcome reports everything an evaluation did.
type Outcome struct {
	FlowToken     string
	Steps         int
	Mutations     []Mutation
	Notifications []entity.Notification

	// Failed holds notification persist errors. They never fail the
	// evaluation; the triggering write already succeeded.
	Failed []error

	Trace []TraceEvent
}

// merge appends another outcome's results. Used by the reactive path
// when one change event derives several triggers.
func (o *Outcome) merge(other Outcome) {
	o.Steps += other.Steps
	o.Mutations = append(o.Mutations, other.Mutations...)
	o.Notifications = append(o.Notifications, other.Notifications...)
	o.Failed = append(o.Failed, other.Failed...)
	o.Trace = append(o.Trace, other.Trace...)
}
