package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/store"
)

// lastChange reads the newest changelog entry for a collection.
func lastChange(t *testing.T, s *store.Store, collection entity.Collection) entity.ChangeEvent {
	t.Helper()
	events, err := s.ChangesSince(context.Background(), collection, 0, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func TestHandleChangeDerivesTaskCreated(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")
	seedUser(t, s, "bob", "bob")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectActive,
		Members: []string{"alice", "bob"},
	}))
	require.NoError(t, s.PutTask(ctx, entity.Task{
		ID: "task-1", Title: "Ship it", Status: entity.TaskPending,
		ProjectID: "proj-1", CreatedBy: "alice", AssignedTo: []string{"alice", "bob"},
	}))

	out, err := e.HandleChange(ctx, lastChange(t, s, entity.CollectionTasks))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Steps)

	// Actor recovered from createdBy: alice excluded, bob notified.
	assert.Equal(t, []string{"Task assigned"}, titlesFor(t, s, "bob"))
	assert.Empty(t, notificationsFor(t, s, "alice"))
}

func TestHandleChangeSuppressedAfterDirectEvaluation(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")
	seedUser(t, s, "bob", "bob")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectActive,
		Members: []string{"alice", "bob"},
	}))
	require.NoError(t, s.PutTask(ctx, entity.Task{
		ID: "task-1", Title: "Ship it", Status: entity.TaskPending,
		ProjectID: "proj-1", CreatedBy: "alice", AssignedTo: []string{"bob"},
	}))
	taskInsert := lastChange(t, s, entity.CollectionTasks)

	_, err := e.Evaluate(ctx, Trigger{
		Kind: TriggerTaskCreated, Actor: "alice",
		TaskID: "task-1", ProjectID: "proj-1",
	})
	require.NoError(t, err)
	require.Len(t, notificationsFor(t, s, "bob"), 1)

	// The same write arriving through the feed derives nothing.
	out, err := e.HandleChange(ctx, taskInsert)
	require.NoError(t, err)
	assert.Zero(t, out.Steps)
	assert.Len(t, notificationsFor(t, s, "bob"), 1)
}

func TestHandleChangeDerivesMembershipDiff(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "alice", "alice")
	seedUser(t, s, "bob", "bob")
	seedUser(t, s, "carol", "carol")
	require.NoError(t, s.PutProject(ctx, entity.Project{
		ID: "proj-1", Name: "Launch", Status: entity.ProjectActive,
		Members: []string{"alice", "bob"},
	}))

	_, err := s.UpdateDocument(ctx, entity.CollectionProjects, "proj-1",
		map[string]any{"members": []any{"alice", "carol"}})
	require.NoError(t, err)

	out, err := e.HandleChange(ctx, lastChange(t, s, entity.CollectionProjects))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Steps)

	assert.Equal(t, []string{"Added to project"}, titlesFor(t, s, "carol"))
	assert.Equal(t, []string{"Removed from project"}, titlesFor(t, s, "bob"))
	assert.Empty(t, notificationsFor(t, s, "alice"))
}

func TestHandleChangeDerivesAccountDisabled(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	seedUser(t, s, "admin", "Ada Admin")
	seedUser(t, s, "mallory", "Mallory")

	_, err := s.UpdateDocument(ctx, entity.CollectionUsers, "mallory",
		map[string]any{"isActive": false, "disabledBy": "admin"})
	require.NoError(t, err)

	_, err = e.HandleChange(ctx, lastChange(t, s, entity.CollectionUsers))
	require.NoError(t, err)

	// Actor recovered from the disabledBy snapshot field.
	assert.Equal(t, []string{"Account disabled"}, titlesFor(t, s, "admin"))
}

func TestHandleChangeIgnoresNotificationWrites(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.PutNotification(ctx, entity.Notification{
		ID: "n-1", UserID: "alice", Title: "t", Message: "m",
		Severity: entity.SeverityInfo,
	}))

	out, err := e.HandleChange(ctx, lastChange(t, s, entity.CollectionNotifications))
	require.NoError(t, err)
	assert.Zero(t, out.Steps)
}

func TestHandleChangeSkipsMalformedDocument(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, s.PutDocument(ctx, entity.CollectionTasks, "task-x",
		map[string]any{"id": "task-x", "title": 42}))

	out, err := e.HandleChange(ctx, lastChange(t, s, entity.CollectionTasks))
	require.NoError(t, err)
	assert.Zero(t, out.Steps)
}
