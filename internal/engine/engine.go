package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/notify"
	"github.com/ripplehq/ripple/internal/policy"
	"github.com/ripplehq/ripple/internal/store"
)

// DefaultMaxSteps bounds how many rules one flow may fire. Real cascades
// are a handful of steps; anything approaching the limit is a feedback
// loop the firing memo missed.
const DefaultMaxSteps = 64

// suppressTTL is how long a direct-path write signature suppresses the
// matching change-feed event before expiring.
const suppressTTL = 30 * time.Second

type fireFunc func(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error)

// Engine evaluates cascade rules. Construct with New; safe for
// concurrent use.
type Engine struct {
	store    *store.Store
	sink     *notify.Sink
	policy   *policy.Policy
	clock    *Clock
	flowGen  FlowTokenGenerator
	memo     *firingMemo
	suppress *suppressionMemo
	keys     *keyedMutex
	maxSteps int
	now      func() time.Time

	// rules maps trigger kinds to their fire functions. Built once in
	// New and never mutated after.
	rules map[TriggerKind]fireFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSteps sets the per-flow step quota.
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) { e.maxSteps = maxSteps }
}

// WithClock sets the logical clock. Tests and replay pass a clock at a
// known position.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithFlowGenerator sets the flow token source. Tests pass a
// FixedGenerator for deterministic traces.
func WithFlowGenerator(g FlowTokenGenerator) Option {
	return func(e *Engine) { e.flowGen = g }
}

// WithNow sets the wall clock used for reactivation timestamps and memo
// expiry.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over the given store, notification sink, and
// rule policy.
func New(s *store.Store, sink *notify.Sink, pol *policy.Policy, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		sink:     sink,
		policy:   pol,
		clock:    NewClock(),
		flowGen:  UUIDv7Generator{},
		memo:     newFiringMemo(),
		keys:     newKeyedMutex(),
		maxSteps: DefaultMaxSteps,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.suppress = newSuppressionMemo(suppressTTL, e.now)
	e.rules = map[TriggerKind]fireFunc{
		TriggerTaskCreated:           e.fireTaskCreated,
		TriggerTaskStatusChanged:     e.fireTaskStatusChanged,
		TriggerTaskFlagToggled:       e.fireTaskFlagToggled,
		TriggerCommentAdded:          e.fireCommentAdded,
		TriggerProjectStatusChanged:  e.fireProjectStatusChanged,
		TriggerMemberAdded:           e.fireMemberAdded,
		TriggerMemberRemoved:         e.fireMemberRemoved,
		TriggerAccountDisabled:       e.fireAccountDisabled,
		TriggerAccountEnabled:        e.fireAccountEnabled,
		TriggerReactivationRequested: e.fireReactivationRequested,
		TriggerReactivationRejected:  e.fireReactivationRejected,
	}
	return e
}

// NewFlow generates a flow token for an external request. The API layer
// calls it once per mutation so cascade work correlates in traces.
func (e *Engine) NewFlow() string {
	return e.flowGen.Generate()
}

// Evaluate runs the cascade rule for a trigger and everything it
// derives, serialized per ordering key. The returned Outcome is valid
// even when err is non-nil: it holds whatever completed before the
// violation or quota stop.
func (e *Engine) Evaluate(ctx context.Context, trg Trigger) (Outcome, error) {
	if err := trg.validate(); err != nil {
		return Outcome{}, err
	}
	return e.evaluateFlow(ctx, e.flowGen.Generate(), trg)
}

func (e *Engine) evaluateFlow(ctx context.Context, flow string, trg Trigger) (Outcome, error) {
	unlock := e.keys.lock(trg.orderingKey())
	defer unlock()
	defer e.memo.clear(flow)

	ec := &evalContext{
		e:        e,
		flow:     flow,
		quota:    newStepQuota(e.maxSteps),
		notified: make(map[string]bool),
	}
	ec.outcome.FlowToken = flow

	// The caller's own write will arrive through the change feed;
	// mark it handled so the reactive path does not fire again.
	if !trg.fromFeed {
		for _, sig := range trg.feedSignatures() {
			e.suppress.mark(sig)
		}
	}

	work := []Trigger{trg}
	for len(work) > 0 {
		t := work[0]
		work = work[1:]

		subject := t.subject()
		if e.memo.seen(flow, t.Kind, subject) {
			ec.trace(TraceEvent{Kind: TraceMemoSkip, Rule: string(t.Kind), Subject: subject})
			slog.Debug("firing memo skip", "flow", flow, "trigger", t.Kind, "subject", subject)
			continue
		}
		e.memo.record(flow, t.Kind, subject)

		if err := ec.quota.check(flow); err != nil {
			slog.Error("step quota exceeded",
				"flow", flow,
				"trigger", t.Kind,
				"subject", subject,
				"limit", e.maxSteps,
			)
			return ec.outcome, err
		}
		ec.outcome.Steps++
		ec.trace(TraceEvent{Kind: TraceTrigger, Rule: string(t.Kind), Subject: subject, Detail: t.Actor})

		fire, ok := e.rules[t.Kind]
		if !ok {
			return ec.outcome, &RuleViolationError{
				Code:    ViolationUnknownTrigger,
				Kind:    t.Kind,
				Message: fmt.Sprintf("no rule for trigger kind %q", t.Kind),
			}
		}
		followups, err := fire(ctx, ec, t)
		if err != nil {
			return ec.outcome, err
		}
		work = append(work, followups...)
	}

	slog.Debug("flow complete",
		"flow", flow,
		"steps", ec.outcome.Steps,
		"mutations", len(ec.outcome.Mutations),
		"notifications", len(ec.outcome.Notifications),
	)
	return ec.outcome, nil
}

// feedSignatures lists the change-feed write signatures the trigger's
// primary mutation will produce. See changeSignatures for the reactive
// side of the mapping.
func (t Trigger) feedSignatures() []string {
	switch t.Kind {
	case TriggerTaskCreated:
		return []string{"tasks/insert/" + t.TaskID}
	case TriggerTaskStatusChanged:
		return []string{"tasks/status/" + t.TaskID}
	case TriggerTaskFlagToggled:
		return []string{"tasks/flagged/" + t.TaskID}
	case TriggerCommentAdded:
		return []string{"comments/insert/" + t.CommentID}
	case TriggerProjectStatusChanged:
		return []string{"projects/status/" + t.ProjectID}
	case TriggerMemberAdded:
		return []string{"projects/member+/" + t.ProjectID + "/" + t.UserID}
	case TriggerMemberRemoved:
		return []string{"projects/member-/" + t.ProjectID + "/" + t.UserID}
	case TriggerAccountDisabled, TriggerAccountEnabled:
		return []string{"users/active/" + t.UserID}
	default:
		// Reactivation triggers mutate through the engine itself; the
		// write marks its own signature when applied.
		return nil
	}
}

// evalContext accumulates one flow's outcome and carries its quota and
// recipient dedup set.
type evalContext struct {
	e       *Engine
	flow    string
	quota   *stepQuota
	outcome Outcome

	// notified dedups recipients across every rule the flow fires: a
	// user receives at most one notification per flow, first rule wins.
	notified map[string]bool
}

func (ec *evalContext) trace(ev TraceEvent) {
	ev.Seq = ec.e.clock.Next()
	ec.outcome.Trace = append(ec.outcome.Trace, ev)
}

// notify persists one notification unless the recipient is the actor,
// was already notified in this flow, or the rule is disabled by policy.
func (ec *evalContext) notify(ctx context.Context, t Trigger, rule, recipient string, vars map[string]string) {
	if recipient == "" || recipient == t.Actor {
		return
	}
	ec.notifyDirect(ctx, t, rule, recipient, vars)
}

// notifyDirect is notify without actor exclusion, for confirmation
// notices addressed to the actor themselves.
func (ec *evalContext) notifyDirect(ctx context.Context, t Trigger, rule, recipient string, vars map[string]string) {
	if recipient == "" || ec.notified[recipient] {
		return
	}
	r, ok := ec.e.policy.Rule(rule)
	if !ok || !r.Enabled {
		return
	}
	ec.notified[recipient] = true

	title, message := r.Render(vars)
	n, err := ec.e.sink.Persist(ctx, notify.Request{
		UserID:    recipient,
		Title:     title,
		Message:   message,
		Severity:  r.Severity,
		Rule:      rule,
		FlowToken: ec.flow,
	})
	if err != nil {
		ec.outcome.Failed = append(ec.outcome.Failed, err)
		ec.trace(TraceEvent{Kind: TracePersistFailure, Rule: rule, Subject: t.subject(), Recipient: recipient})
		return
	}
	// The notification insert re-enters the feed; nothing cascades from
	// notifications, so no suppression is needed, but the broadcaster
	// will deliver it as notification:new.
	ec.outcome.Notifications = append(ec.outcome.Notifications, n)
	ec.trace(TraceEvent{Kind: TraceNotification, Rule: rule, Subject: t.subject(), Recipient: recipient})
}

// applyUpdate performs a derived store write, records it in the outcome,
// and marks its feed signature as handled.
func (ec *evalContext) applyUpdate(ctx context.Context, collection entity.Collection, id string, fields map[string]any, signature string) error {
	if _, err := ec.e.store.UpdateDocument(ctx, collection, id, fields); err != nil {
		return fmt.Errorf("derived update %s/%s: %w", collection, id, err)
	}
	if signature != "" {
		ec.e.suppress.mark(signature)
	}
	ec.outcome.Mutations = append(ec.outcome.Mutations, Mutation{
		Collection: collection,
		EntityID:   id,
		Fields:     fields,
	})
	ec.trace(TraceEvent{Kind: TraceMutation, Subject: string(collection) + "/" + id})
	return nil
}
