package engine

import (
	"context"
	"fmt"

	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/policy"
)

// fireProjectStatusChanged notifies every member about a project status
// transition. Completion and reactivation get their own wording.
func (e *Engine) fireProjectStatusChanged(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	project, err := e.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", t.ProjectID, err)
	}
	if t.NewStatus == "" {
		t.NewStatus = string(project.Status)
	}

	rule := policy.RuleProjectStatusChanged
	switch {
	case t.NewStatus == string(entity.ProjectCompleted):
		rule = policy.RuleProjectCompleted
	case t.OldStatus == string(entity.ProjectCompleted) && t.NewStatus == string(entity.ProjectActive):
		rule = policy.RuleProjectReactivated
	}
	vars := map[string]string{"project": project.Name, "status": t.NewStatus}

	for _, member := range project.Members {
		ec.notify(ctx, t, rule, member, vars)
	}
	return nil, nil
}

// fireMemberAdded notifies the newly added member.
func (e *Engine) fireMemberAdded(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	project, err := e.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", t.ProjectID, err)
	}
	vars := map[string]string{"project": project.Name}
	ec.notify(ctx, t, policy.RuleMemberAdded, t.UserID, vars)
	return nil, nil
}

// fireMemberRemoved notifies the removed member. The member set in the
// post-change snapshot no longer contains them, which is why the trigger
// carries the user ID explicitly.
func (e *Engine) fireMemberRemoved(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	project, err := e.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", t.ProjectID, err)
	}
	vars := map[string]string{"project": project.Name}
	ec.notify(ctx, t, policy.RuleMemberRemoved, t.UserID, vars)
	return nil, nil
}
