package engine

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/ripplehq/ripple/internal/mention"
	"github.com/ripplehq/ripple/internal/policy"
)

// excerptLen caps how much comment text a notification message carries.
const excerptLen = 80

// fireCommentAdded resolves mentions against the full user directory,
// then notifies the task's creator and assignees. A recipient gets at
// most one notification per comment, and the mention reason wins the
// tie — which falls out of firing mentions first against the flow's
// recipient dedup set.
func (e *Engine) fireCommentAdded(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	comment, err := e.store.GetComment(ctx, t.CommentID)
	if err != nil {
		return nil, fmt.Errorf("load comment %s: %w", t.CommentID, err)
	}
	task, err := e.store.GetTask(ctx, t.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", t.TaskID, err)
	}
	project, err := e.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", t.ProjectID, err)
	}
	if t.Actor == "" {
		t.Actor = comment.UserID
	}

	users, err := e.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load user directory: %w", err)
	}
	candidates := make([]mention.Candidate, 0, len(users))
	for _, u := range users {
		candidates = append(candidates, mention.Candidate{
			ID:       u.ID,
			FullName: u.FullName,
			Email:    u.Email,
		})
	}

	vars := map[string]string{
		"task":    task.Title,
		"project": project.Name,
		"excerpt": excerpt(comment.Content),
	}

	for _, mentioned := range mention.Resolve(comment.Content, candidates) {
		ec.notify(ctx, t, policy.RuleCommentMentioned, mentioned, vars)
	}
	ec.notify(ctx, t, policy.RuleCommentAdded, task.CreatedBy, vars)
	for _, assignee := range task.AssignedTo {
		ec.notify(ctx, t, policy.RuleCommentAdded, assignee, vars)
	}
	return nil, nil
}

func excerpt(content string) string {
	if utf8.RuneCountInString(content) <= excerptLen {
		return content
	}
	runes := []rune(content)
	return string(runes[:excerptLen]) + "…"
}
