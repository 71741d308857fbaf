package engine

import "fmt"

// TriggerKind identifies a cascade rule.
type TriggerKind string

const (
	TriggerTaskCreated           TriggerKind = "task.created"
	TriggerTaskStatusChanged     TriggerKind = "task.status_changed"
	TriggerTaskFlagToggled       TriggerKind = "task.flag_toggled"
	TriggerCommentAdded          TriggerKind = "comment.added"
	TriggerProjectStatusChanged  TriggerKind = "project.status_changed"
	TriggerMemberAdded           TriggerKind = "member.added"
	TriggerMemberRemoved         TriggerKind = "member.removed"
	TriggerAccountDisabled       TriggerKind = "account.disabled"
	TriggerAccountEnabled        TriggerKind = "account.enabled"
	TriggerReactivationRequested TriggerKind = "reactivation.requested"
	TriggerReactivationRejected  TriggerKind = "reactivation.rejected"
)

// Trigger is a primary mutation plus the context a rule needs:
// the acting user and the entity IDs the mutation touched.
//
// Actor is the authenticated user on the direct path. Change feeds do
// not carry actor identity reliably, so reactive triggers leave it empty
// unless it can be recovered from the document itself (a comment's
// author, a user's disabledBy).
type Trigger struct {
	Kind      TriggerKind
	Actor     string
	ProjectID string
	TaskID    string
	CommentID string
	UserID    string

	// OldStatus and NewStatus describe a status transition for the
	// status-change kinds.
	OldStatus string
	NewStatus string

	// fromFeed marks triggers derived by HandleChange; they never
	// record feed-suppression entries of their own.
	fromFeed bool
}

// subject is the entity the firing memo keys on.
func (t Trigger) subject() string {
	switch t.Kind {
	case TriggerTaskCreated, TriggerTaskStatusChanged, TriggerTaskFlagToggled:
		return t.TaskID
	case TriggerCommentAdded:
		return t.CommentID
	case TriggerProjectStatusChanged:
		return t.ProjectID
	case TriggerMemberAdded, TriggerMemberRemoved:
		return t.ProjectID + "/" + t.UserID
	default:
		return t.UserID
	}
}

// orderingKey scopes the serialization lock. Project-scoped triggers
// share a key so concurrent recomputes of the same project's status
// serialize; account triggers key on the user.
func (t Trigger) orderingKey() string {
	switch t.Kind {
	case TriggerAccountDisabled, TriggerAccountEnabled,
		TriggerReactivationRequested, TriggerReactivationRejected:
		return "user/" + t.UserID
	default:
		return "project/" + t.ProjectID
	}
}

// validate checks the trigger carries the fields its kind requires.
func (t Trigger) validate() error {
	missing := func(field string) error {
		return &RuleViolationError{
			Code:    ViolationInvalidTrigger,
			Kind:    t.Kind,
			Subject: t.subject(),
			Message: fmt.Sprintf("trigger %s requires %s", t.Kind, field),
		}
	}
	switch t.Kind {
	case TriggerTaskCreated, TriggerTaskStatusChanged, TriggerTaskFlagToggled:
		if t.TaskID == "" {
			return missing("task id")
		}
		if t.ProjectID == "" {
			return missing("project id")
		}
	case TriggerCommentAdded:
		if t.CommentID == "" {
			return missing("comment id")
		}
		if t.TaskID == "" {
			return missing("task id")
		}
		if t.ProjectID == "" {
			return missing("project id")
		}
	case TriggerProjectStatusChanged:
		if t.ProjectID == "" {
			return missing("project id")
		}
	case TriggerMemberAdded, TriggerMemberRemoved:
		if t.ProjectID == "" {
			return missing("project id")
		}
		if t.UserID == "" {
			return missing("user id")
		}
	case TriggerAccountDisabled, TriggerAccountEnabled,
		TriggerReactivationRequested, TriggerReactivationRejected:
		if t.UserID == "" {
			return missing("user id")
		}
	default:
		return &RuleViolationError{
			Code:    ViolationUnknownTrigger,
			Kind:    t.Kind,
			Message: fmt.Sprintf("unknown trigger kind %q", t.Kind),
		}
	}
	return nil
}
