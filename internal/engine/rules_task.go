package engine

import (
	"context"
	"fmt"

	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/policy"
)

// fireTaskCreated notifies the task's assignees and, when the task
// lands in a completed project, reverts the project to active. Member
// notices come only from that derived status change; plain creation in
// a live project tells nobody but the assignees.
func (e *Engine) fireTaskCreated(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	task, err := e.store.GetTask(ctx, t.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", t.TaskID, err)
	}
	project, err := e.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", t.ProjectID, err)
	}
	if t.Actor == "" {
		t.Actor = task.CreatedBy
	}
	vars := map[string]string{"task": task.Title, "project": project.Name}

	for _, assignee := range task.AssignedTo {
		ec.notify(ctx, t, policy.RuleTaskAssigned, assignee, vars)
	}

	if project.Status == entity.ProjectCompleted {
		err := ec.applyUpdate(ctx, entity.CollectionProjects, project.ID,
			map[string]any{"status": string(entity.ProjectActive)},
			"projects/status/"+project.ID)
		if err != nil {
			return nil, err
		}
		return []Trigger{{
			Kind:      TriggerProjectStatusChanged,
			Actor:     t.Actor,
			ProjectID: project.ID,
			OldStatus: string(entity.ProjectCompleted),
			NewStatus: string(entity.ProjectActive),
		}}, nil
	}
	return nil, nil
}

// fireTaskStatusChanged notifies the task's creator and assignees, then
// recomputes the owning project's derived status over all its tasks.
func (e *Engine) fireTaskStatusChanged(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	task, err := e.store.GetTask(ctx, t.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", t.TaskID, err)
	}
	project, err := e.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", t.ProjectID, err)
	}
	vars := map[string]string{
		"task":    task.Title,
		"project": project.Name,
		"status":  string(task.Status),
	}

	ec.notify(ctx, t, policy.RuleTaskStatusChanged, task.CreatedBy, vars)
	for _, assignee := range task.AssignedTo {
		ec.notify(ctx, t, policy.RuleTaskStatusChanged, assignee, vars)
	}

	return e.recomputeProject(ctx, ec, t, project)
}

// recomputeProject derives the project status from its tasks: all tasks
// completed (and at least one task) completes the project; any
// incomplete task reverts a completed project to active. Archived
// projects are never touched, and the completion check takes precedence.
func (e *Engine) recomputeProject(ctx context.Context, ec *evalContext, t Trigger, project entity.Project) ([]Trigger, error) {
	tasks, err := e.store.TasksByProject(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of project %s: %w", project.ID, err)
	}
	allCompleted := len(tasks) > 0
	for _, task := range tasks {
		if task.Status != entity.TaskCompleted {
			allCompleted = false
			break
		}
	}

	var next entity.ProjectStatus
	switch {
	case allCompleted && project.Status != entity.ProjectCompleted && project.Status != entity.ProjectArchived:
		next = entity.ProjectCompleted
	case !allCompleted && project.Status == entity.ProjectCompleted:
		next = entity.ProjectActive
	default:
		return nil, nil
	}

	err = ec.applyUpdate(ctx, entity.CollectionProjects, project.ID,
		map[string]any{"status": string(next)},
		"projects/status/"+project.ID)
	if err != nil {
		return nil, err
	}
	return []Trigger{{
		Kind:      TriggerProjectStatusChanged,
		Actor:     t.Actor,
		ProjectID: project.ID,
		OldStatus: string(project.Status),
		NewStatus: string(next),
	}}, nil
}

// fireTaskFlagToggled notifies the creator and assignees with a message
// reflecting the flag's current state.
func (e *Engine) fireTaskFlagToggled(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	task, err := e.store.GetTask(ctx, t.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", t.TaskID, err)
	}
	rule := policy.RuleTaskUnflagged
	if task.Flagged {
		rule = policy.RuleTaskFlagged
	}
	vars := map[string]string{"task": task.Title}

	ec.notify(ctx, t, rule, task.CreatedBy, vars)
	for _, assignee := range task.AssignedTo {
		ec.notify(ctx, t, rule, assignee, vars)
	}
	return nil, nil
}
