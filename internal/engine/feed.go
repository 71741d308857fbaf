package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ripplehq/ripple/internal/entity"
)

// HandleChange derives triggers for a feed-observed write and evaluates
// them. Writes the direct path already handled are suppressed by their
// recorded signatures. Rule violations on this path have no caller to
// reject, so they are logged and skipped; infra errors are returned to
// the caller, which decides whether to retry the event or move on.
func (e *Engine) HandleChange(ctx context.Context, ev entity.ChangeEvent) (Outcome, error) {
	triggers, err := e.deriveTriggers(ctx, ev)
	if err != nil {
		// Unrecognized document shapes are rejected, not propagated:
		// one malformed write must not stall the collection's feed.
		slog.Warn("skipping change event",
			"collection", ev.Collection,
			"operation", ev.Operation,
			"entity", ev.EntityID,
			"seq", ev.Seq,
			"error", err,
		)
		return Outcome{}, nil
	}

	var out Outcome
	for _, t := range triggers {
		o, err := e.evaluateFlow(ctx, e.flowGen.Generate(), t)
		out.merge(o)
		if err != nil {
			if IsRuleViolation(err) {
				slog.Warn("reactive trigger rejected",
					"trigger", t.Kind,
					"subject", t.subject(),
					"error", err,
				)
				continue
			}
			return out, fmt.Errorf("evaluate reactive trigger %s: %w", t.Kind, err)
		}
	}
	return out, nil
}

// deriveTriggers maps a change event to the triggers it implies,
// consuming suppression marks left by the direct path.
func (e *Engine) deriveTriggers(ctx context.Context, ev entity.ChangeEvent) ([]Trigger, error) {
	switch ev.Collection {
	case entity.CollectionTasks:
		return e.deriveTaskTriggers(ev)
	case entity.CollectionComments:
		return e.deriveCommentTriggers(ctx, ev)
	case entity.CollectionProjects:
		return e.deriveProjectTriggers(ev)
	case entity.CollectionUsers:
		return e.deriveUserTriggers(ev)
	default:
		// Notification writes cascade nothing; the broadcaster handles
		// their delivery.
		return nil, nil
	}
}

func (e *Engine) deriveTaskTriggers(ev entity.ChangeEvent) ([]Trigger, error) {
	switch ev.Operation {
	case entity.OpInsert:
		if e.suppress.consume("tasks/insert/" + ev.EntityID) {
			return nil, nil
		}
		task, err := ev.Task()
		if err != nil {
			return nil, err
		}
		return []Trigger{{
			Kind:      TriggerTaskCreated,
			TaskID:    task.ID,
			ProjectID: task.ProjectID,
			fromFeed:  true,
		}}, nil

	case entity.OpUpdate, entity.OpReplace:
		task, err := ev.Task()
		if err != nil {
			return nil, err
		}
		var triggers []Trigger
		if ev.FieldChanged("status") && !e.suppress.consume("tasks/status/"+ev.EntityID) {
			triggers = append(triggers, Trigger{
				Kind:      TriggerTaskStatusChanged,
				TaskID:    task.ID,
				ProjectID: task.ProjectID,
				OldStatus: fieldString(ev.Before, "status"),
				NewStatus: string(task.Status),
				fromFeed:  true,
			})
		}
		if ev.FieldChanged("flagged") && !e.suppress.consume("tasks/flagged/"+ev.EntityID) {
			triggers = append(triggers, Trigger{
				Kind:      TriggerTaskFlagToggled,
				TaskID:    task.ID,
				ProjectID: task.ProjectID,
				fromFeed:  true,
			})
		}
		return triggers, nil
	}
	return nil, nil
}

func (e *Engine) deriveCommentTriggers(ctx context.Context, ev entity.ChangeEvent) ([]Trigger, error) {
	if ev.Operation != entity.OpInsert {
		return nil, nil
	}
	if e.suppress.consume("comments/insert/" + ev.EntityID) {
		return nil, nil
	}
	comment, err := ev.Comment()
	if err != nil {
		return nil, err
	}
	// The ordering key needs the owning project, which the comment
	// document does not carry. The task→project binding is immutable,
	// so reading it outside the lock is safe.
	task, err := e.store.GetTask(ctx, comment.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s for comment: %w", comment.TaskID, err)
	}
	return []Trigger{{
		Kind:      TriggerCommentAdded,
		CommentID: comment.ID,
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		fromFeed:  true,
	}}, nil
}

func (e *Engine) deriveProjectTriggers(ev entity.ChangeEvent) ([]Trigger, error) {
	if ev.Operation != entity.OpUpdate && ev.Operation != entity.OpReplace {
		return nil, nil
	}
	var triggers []Trigger

	if ev.FieldChanged("status") && !e.suppress.consume("projects/status/"+ev.EntityID) {
		triggers = append(triggers, Trigger{
			Kind:      TriggerProjectStatusChanged,
			ProjectID: ev.EntityID,
			OldStatus: fieldString(ev.Before, "status"),
			NewStatus: fieldString(ev.After, "status"),
			fromFeed:  true,
		})
	}

	if ev.FieldChanged("members") {
		before := fieldStrings(ev.Before, "members")
		after := fieldStrings(ev.After, "members")
		for _, added := range diffStrings(after, before) {
			if e.suppress.consume("projects/member+/" + ev.EntityID + "/" + added) {
				continue
			}
			triggers = append(triggers, Trigger{
				Kind:      TriggerMemberAdded,
				ProjectID: ev.EntityID,
				UserID:    added,
				fromFeed:  true,
			})
		}
		for _, removed := range diffStrings(before, after) {
			if e.suppress.consume("projects/member-/" + ev.EntityID + "/" + removed) {
				continue
			}
			triggers = append(triggers, Trigger{
				Kind:      TriggerMemberRemoved,
				ProjectID: ev.EntityID,
				UserID:    removed,
				fromFeed:  true,
			})
		}
	}
	return triggers, nil
}

func (e *Engine) deriveUserTriggers(ev entity.ChangeEvent) ([]Trigger, error) {
	if ev.Operation != entity.OpUpdate && ev.Operation != entity.OpReplace {
		return nil, nil
	}

	if ev.FieldChanged("isActive") && !e.suppress.consume("users/active/"+ev.EntityID) {
		user, err := ev.User()
		if err != nil {
			return nil, err
		}
		if user.IsActive {
			return []Trigger{{
				Kind:     TriggerAccountEnabled,
				UserID:   user.ID,
				fromFeed: true,
			}}, nil
		}
		return []Trigger{{
			Kind:     TriggerAccountDisabled,
			UserID:   user.ID,
			Actor:    user.DisabledBy,
			fromFeed: true,
		}}, nil
	}

	// Reactivation flags written past the engine carry no cascade here:
	// the request rule already ran (direct path) or the write came from
	// an operator fixing state by hand.
	if ev.FieldChanged("reactivationRequested") {
		e.suppress.consume("users/reactivation/" + ev.EntityID)
	}
	return nil, nil
}

func fieldString(doc map[string]any, key string) string {
	if doc == nil {
		return ""
	}
	s, _ := doc[key].(string)
	return s
}

func fieldStrings(doc map[string]any, key string) []string {
	if doc == nil {
		return nil
	}
	switch v := doc[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// diffStrings returns the elements of a not present in b, in a's order.
func diffStrings(a, b []string) []string {
	var out []string
	for _, item := range a {
		found := false
		for _, other := range b {
			if item == other {
				found = true
				break
			}
		}
		if !found {
			out = append(out, item)
		}
	}
	return out
}
