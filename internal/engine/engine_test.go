package engine

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/notify"
	"github.com/ripplehq/ripple/internal/policy"
	"github.com/ripplehq/ripple/internal/store"
)

// seqGen issues flow tokens flow-001, flow-002, ... without exhausting.
type seqGen struct {
	n atomic.Int64
}

func (g *seqGen) Generate() string {
	return fmt.Sprintf("flow-%03d", g.n.Add(1))
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/ripple.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return fixed }
	sink := notify.NewSink(s, now)

	base := []Option{
		WithFlowGenerator(&seqGen{}),
		WithNow(now),
	}
	return New(s, sink, policy.Default(), append(base, opts...)...), s
}

func seedUser(t *testing.T, s *store.Store, id, name string) {
	t.Helper()
	require.NoError(t, s.PutUser(context.Background(), entity.User{
		ID:       id,
		FullName: name,
		Email:    id + "@example.com",
		Role:     entity.RoleMember,
		Status:   entity.UserStatusActive,
		IsActive: true,
	}))
}

func notificationsFor(t *testing.T, s *store.Store, userID string) []entity.Notification {
	t.Helper()
	docs, err := s.ListCollection(context.Background(), entity.CollectionNotifications)
	require.NoError(t, err)

	var out []entity.Notification
	for _, doc := range docs {
		n, err := entity.DecodeNotification(doc)
		require.NoError(t, err)
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func titlesFor(t *testing.T, s *store.Store, userID string) []string {
	t.Helper()
	var titles []string
	for _, n := range notificationsFor(t, s, userID) {
		titles = append(titles, n.Title)
	}
	return titles
}

func TestTaskCreatedReactivatesCompletedProject(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "carol", "dave"} {
		seedUser(t, s, u, u)
	}
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID:      "proj-1",
		Name:    "Launch",
		Status:  entity.ProjectCompleted,
		Members: []string{"alice", "bob", "carol", "dave"},
	}))
	require.NoError(t, s.PutTask(ctx, entity.Task{
		ID:         "task-1",
		Title:      "Ship it",
		Status:     entity.TaskPending,
		ProjectID:  "proj-1",
		AssignedTo: []string{"alice", "bob"},
		CreatedBy:  "carol",
	}))

	out, err := e.Evaluate(ctx, Trigger{
		Kind:      TriggerTaskCreated,
		Actor:     "carol",
		TaskID:    "task-1",
		ProjectID: "proj-1",
	})
	require.NoError(t, err)

	project, err := s.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ProjectActive, project.Status)
	require.Len(t, out.Mutations, 1)

	// Assignees get the assignment notice, nothing else.
	assert.Equal(t, []string{"Task assigned"}, titlesFor(t, s, "alice"))
	assert.Equal(t, []string{"Task assigned"}, titlesFor(t, s, "bob"))
	// The remaining member gets the reactivation notice.
	assert.Equal(t, []string{"Project active again"}, titlesFor(t, s, "dave"))
	// The actor gets nothing.
	assert.Empty(t, notificationsFor(t, s, "carol"))
}

func TestTaskCreatedActiveProjectNotifiesOnlyAssignees(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")
	seedUser(t, s, "bob", "bob")
	seedUser(t, s, "carol", "carol")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectActive,
		Members: []string{"alice", "bob", "carol"},
	}))
	require.NoError(t, s.PutTask(ctx, entity.Task{
		ID: "task-1", Title: "Ship it", Status: entity.TaskPending,
		ProjectID: "proj-1", CreatedBy: "alice", AssignedTo: []string{"bob"},
	}))

	out, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerTaskCreated, Actor: "alice",
		TaskID: "task-1", ProjectID: "proj-1",
	})
	require.NoError(t, err)
	assert.Empty(t, out.Mutations)

	// Creation in a live project reaches the assignees and nobody else;
	// plain members only hear about tasks through a status change.
	assert.Equal(t, []string{"Task assigned"}, titlesFor(t, s, "bob"))
	assert.Empty(t, notificationsFor(t, s, "carol"))
	assert.Empty(t, notificationsFor(t, s, "alice"))
}

func TestTaskStatusChangeCompletesProject(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")
	seedUser(t, s, "bob", "bob")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectActive,
		Members: []string{"alice", "bob"},
	}))
	require.NoError(t, s.PutTask(ctx, entity.Task{
		ID: "task-1", Title: "Ship it", Status: entity.TaskCompleted,
		ProjectID: "proj-1", CreatedBy: "bob", AssignedTo: []string{"alice"},
	}))

	out, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerTaskStatusChanged, Actor: "alice",
		TaskID: "task-1", ProjectID: "proj-1",
		OldStatus: string(entity.TaskInProgress),
		NewStatus: string(entity.TaskCompleted),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Steps) // trigger + derived project status change

	project, err := s.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ProjectCompleted, project.Status)

	// Bob is creator and member: the task notice fires first and wins.
	assert.Equal(t, []string{"Task updated"}, titlesFor(t, s, "bob"))
	// The actor gets nothing, not even the completion notice.
	assert.Empty(t, notificationsFor(t, s, "alice"))
}

func TestIncompleteTaskRevertsCompletedProject(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")
	seedUser(t, s, "bob", "bob")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectCompleted,
		Members: []string{"alice", "bob"},
	}))
	require.NoError(t, s.PutTask(ctx, entity.Task{
		ID: "task-1", Title: "Ship it", Status: entity.TaskInProgress,
		ProjectID: "proj-1", CreatedBy: "alice",
	}))

	_, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerTaskStatusChanged, Actor: "alice",
		TaskID: "task-1", ProjectID: "proj-1",
		NewStatus: string(entity.TaskInProgress),
	})
	require.NoError(t, err)

	project, err := s.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ProjectActive, project.Status)
	assert.Equal(t, []string{"Project active again"}, titlesFor(t, s, "bob"))
}

func TestArchivedProjectNeverRecomputed(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Old", Status: entity.ProjectArchived,
		Members: []string{"alice"},
	}))
	require.NoError(t, s.PutTask(ctx, entity.Task{
		ID: "task-1", Title: "Done long ago", Status: entity.TaskCompleted,
		ProjectID: "proj-1", CreatedBy: "alice",
	}))

	out, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerTaskStatusChanged, Actor: "alice",
		TaskID: "task-1", ProjectID: "proj-1",
	})
	require.NoError(t, err)
	assert.Empty(t, out.Mutations)

	project, err := s.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ProjectArchived, project.Status)
}

func TestFlagToggleNotifiesCreatorAndAssignees(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "carol"} {
		seedUser(t, s, u, u)
	}
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectActive,
		Members: []string{"alice", "bob", "carol"},
	}))
	require.NoError(t, s.PutTask(ctx, entity.Task{
		ID: "task-1", Title: "Ship it", Status: entity.TaskPending,
		ProjectID: "proj-1", CreatedBy: "bob",
		AssignedTo: []string{"alice", "bob"}, Flagged: true,
	}))

	_, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerTaskFlagToggled, Actor: "alice",
		TaskID: "task-1", ProjectID: "proj-1",
	})
	require.NoError(t, err)

	// Bob is both creator and assignee: exactly one notification.
	assert.Equal(t, []string{"Task flagged"}, titlesFor(t, s, "bob"))
	assert.Empty(t, notificationsFor(t, s, "alice"))
	assert.Empty(t, notificationsFor(t, s, "carol"))
}

func TestMembershipChanges(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")
	seedUser(t, s, "bob", "bob")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectActive,
		Members: []string{"alice", "bob"},
	}))

	_, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerMemberAdded, Actor: "alice",
		ProjectID: "proj-1", UserID: "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Added to project"}, titlesFor(t, s, "bob"))

	_, err = e.Evaluate(ctx, Trigger{
		Kind: TriggerMemberRemoved, Actor: "alice",
		ProjectID: "proj-1", UserID: "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Added to project", "Removed from project"}, titlesFor(t, s, "bob"))
}

func TestAccountDisabledClearsPendingAndConfirms(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "admin", "Ada Admin")
	require.NoError(t, s.PutUser(ctx, entity.User{
		ID: "mallory", FullName: "Mallory", Email: "m@example.com",
		Role: entity.RoleMember, Status: entity.UserStatusActive,
		IsActive: false, DisabledBy: "admin",
		ReactivationRequested:   true,
		ReactivationRequestedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}))

	out, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerAccountDisabled, Actor: "admin", UserID: "mallory",
	})
	require.NoError(t, err)
	require.Len(t, out.Mutations, 1)

	user, err := s.GetUser(ctx, "mallory")
	require.NoError(t, err)
	assert.False(t, user.ReactivationRequested)
	assert.True(t, user.ReactivationRequestedAt.IsZero())

	// The confirmation goes to the actor despite the self-exclusion rule.
	assert.Equal(t, []string{"Account disabled"}, titlesFor(t, s, "admin"))
	assert.Empty(t, notificationsFor(t, s, "mallory"))
}

func TestAccountEnabledNotifiesAdminAndTarget(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "admin", "Ada Admin")
	seedUser(t, s, "mallory", "Mallory")

	_, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerAccountEnabled, Actor: "admin", UserID: "mallory",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Account enabled"}, titlesFor(t, s, "admin"))
	assert.Equal(t, []string{"Account activated"}, titlesFor(t, s, "mallory"))
}

func TestReactivationRequestLifecycle(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "admin", "Ada Admin")
	require.NoError(t, s.PutUser(ctx, entity.User{
		ID: "mallory", FullName: "Mallory", Email: "m@example.com",
		Role: entity.RoleMember, Status: entity.UserStatusActive,
		IsActive: false, DisabledBy: "admin",
	}))

	_, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerReactivationRequested, Actor: "mallory", UserID: "mallory",
	})
	require.NoError(t, err)

	user, err := s.GetUser(ctx, "mallory")
	require.NoError(t, err)
	assert.True(t, user.ReactivationRequested)
	assert.False(t, user.ReactivationRequestedAt.IsZero())
	assert.Equal(t, []string{"Reactivation requested"}, titlesFor(t, s, "admin"))

	// A second request while pending is a violation.
	_, err = e.Evaluate(ctx, Trigger{
		Kind: TriggerReactivationRequested, Actor: "mallory", UserID: "mallory",
	})
	require.Error(t, err)
	assert.True(t, IsRuleViolation(err))
	var rv *RuleViolationError
	require.ErrorAs(t, err, &rv)
	assert.Equal(t, ViolationAlreadyPending, rv.Code)

	// Rejection clears the flag silently.
	out, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerReactivationRejected, Actor: "admin", UserID: "mallory",
	})
	require.NoError(t, err)
	assert.Empty(t, out.Notifications)

	user, err = s.GetUser(ctx, "mallory")
	require.NoError(t, err)
	assert.False(t, user.ReactivationRequested)
	assert.Empty(t, notificationsFor(t, s, "mallory"))
}

func TestReactivationRequestWhileActiveIsViolation(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")

	_, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerReactivationRequested, Actor: "alice", UserID: "alice",
	})
	require.Error(t, err)
	var rv *RuleViolationError
	require.ErrorAs(t, err, &rv)
	assert.Equal(t, ViolationAlreadyActive, rv.Code)
}

func TestDisabledRuleSuppressesNoticeNotMutation(t *testing.T) {
	dir := t.TempDir()
	override := `package policy

rule: "project.reactivated": enabled: false
`
	require.NoError(t, os.WriteFile(dir+"/site.cue", []byte(override), 0o644))
	pol, err := policy.Load(dir)
	require.NoError(t, err)

	s, err := store.Open(t.TempDir() + "/ripple.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	sink := notify.NewSink(s, nil)
	e := New(s, sink, pol, WithFlowGenerator(&seqGen{}))

	ctx := context.Background()
	seedUser(t, s, "alice", "alice")
	seedUser(t, s, "bob", "bob")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectCompleted,
		Members: []string{"alice", "bob"},
	}))
	require.NoError(t, s.PutTask(ctx, entity.Task{
		ID: "task-1", Title: "Ship it", Status: entity.TaskPending,
		ProjectID: "proj-1", CreatedBy: "alice",
	}))

	_, err = e.Evaluate(ctx, Trigger{
		Kind: TriggerTaskCreated, Actor: "alice",
		TaskID: "task-1", ProjectID: "proj-1",
	})
	require.NoError(t, err)

	// Mutation still applied, notice suppressed.
	project, err := s.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ProjectActive, project.Status)
	assert.Empty(t, notificationsFor(t, s, "bob"))
}

func TestQuotaExceededTerminatesFlow(t *testing.T) {
	e, s := newTestEngine(t, WithMaxSteps(1))
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")
	seedUser(t, s, "bob", "bob")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectActive,
		Members: []string{"alice", "bob"},
	}))
	require.NoError(t, s.PutTask(ctx, entity.Task{
		ID: "task-1", Title: "Ship it", Status: entity.TaskCompleted,
		ProjectID: "proj-1", CreatedBy: "alice",
	}))

	// Step 1 is the task trigger; the derived project status change is
	// step 2 and exceeds the quota of 1.
	_, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerTaskStatusChanged, Actor: "alice",
		TaskID: "task-1", ProjectID: "proj-1",
	})
	require.Error(t, err)
	assert.True(t, IsQuotaError(err))
}

func TestEvaluateRejectsInvalidTrigger(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Evaluate(context.Background(), Trigger{Kind: TriggerTaskCreated})
	require.Error(t, err)
	var rv *RuleViolationError
	require.ErrorAs(t, err, &rv)
	assert.Equal(t, ViolationInvalidTrigger, rv.Code)

	_, err = e.Evaluate(context.Background(), Trigger{Kind: TriggerKind("bogus"), UserID: "x"})
	require.Error(t, err)
	require.ErrorAs(t, err, &rv)
	assert.Equal(t, ViolationUnknownTrigger, rv.Code)
}

func TestConcurrentStatusChangesSerializePerProject(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectActive,
		Members: []string{"alice"},
	}))
	for i := 0; i < 4; i++ {
		require.NoError(t, s.PutTask(ctx, entity.Task{
			ID: fmt.Sprintf("task-%d", i), Title: fmt.Sprintf("Task %d", i),
			Status: entity.TaskCompleted, ProjectID: "proj-1", CreatedBy: "alice",
		}))
	}

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			_, err := e.Evaluate(ctx, Trigger{
				Kind: TriggerTaskStatusChanged, Actor: "alice",
				TaskID: fmt.Sprintf("task-%d", i), ProjectID: "proj-1",
			})
			done <- err
		}(i)
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}

	// All tasks completed: the serialized recompute must land on completed.
	project, err := s.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ProjectCompleted, project.Status)
}
