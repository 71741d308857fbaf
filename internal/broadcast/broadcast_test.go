package broadcast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/registry"
)

type captureChannel struct {
	closed bool
	sent   []Envelope
}

func (c *captureChannel) Enqueue(event string, payload []byte) bool {
	if c.closed {
		return false
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		panic(err)
	}
	c.sent = append(c.sent, env)
	return true
}

func (c *captureChannel) events() []string {
	var out []string
	for _, env := range c.sent {
		out = append(out, env.Event)
	}
	return out
}

func taskEvent(op entity.Operation, id string, assignees ...string) entity.ChangeEvent {
	anyAssignees := make([]any, len(assignees))
	for i, a := range assignees {
		anyAssignees[i] = a
	}
	return entity.ChangeEvent{
		Collection: entity.CollectionTasks,
		Operation:  op,
		EntityID:   id,
		After: map[string]any{
			"id": id, "title": "t", "status": "pending",
			"projectId": "proj-1", "assignedTo": anyAssignees,
			"createdBy": "carol", "flagged": false,
		},
	}
}

func TestBroadcastGlobalAndTargeted(t *testing.T) {
	r := registry.New()
	b := New(r)

	assignee := &captureChannel{}
	bystander := &captureChannel{}
	r.Join("alice", assignee)
	r.Join("bob", bystander)

	require.NoError(t, b.Broadcast(taskEvent(entity.OpInsert, "task-1", "alice")))

	// The assignee gets the global envelope plus the targeted ping.
	require.Len(t, assignee.sent, 2)
	assert.Equal(t, "task:changed", assignee.sent[0].Event)
	assert.NotNil(t, assignee.sent[0].Document)
	assert.Nil(t, assignee.sent[1].Document)

	// The bystander only gets the global envelope.
	require.Len(t, bystander.sent, 1)
	assert.Equal(t, "insert", bystander.sent[0].Operation)
}

func TestBroadcastEventNames(t *testing.T) {
	cases := []struct {
		collection entity.Collection
		op         entity.Operation
		want       string
	}{
		{entity.CollectionUsers, entity.OpUpdate, "user:changed"},
		{entity.CollectionUsers, entity.OpDelete, "user:deleted"},
		{entity.CollectionProjects, entity.OpInsert, "project:changed"},
		{entity.CollectionTasks, entity.OpReplace, "task:changed"},
		{entity.CollectionNotifications, entity.OpInsert, "notification:new"},
		{entity.CollectionNotifications, entity.OpUpdate, "notification:changed"},
	}
	for _, tc := range cases {
		name, ok := eventName(entity.ChangeEvent{Collection: tc.collection, Operation: tc.op})
		require.True(t, ok)
		assert.Equal(t, tc.want, name)
	}

	_, ok := eventName(entity.ChangeEvent{Collection: entity.CollectionComments, Operation: entity.OpInsert})
	assert.False(t, ok)
}

func TestBroadcastUserDeleteTargetsAffectedUser(t *testing.T) {
	r := registry.New()
	b := New(r)

	target := &captureChannel{}
	r.Join("mallory", target)

	require.NoError(t, b.Broadcast(entity.ChangeEvent{
		Collection: entity.CollectionUsers,
		Operation:  entity.OpDelete,
		EntityID:   "mallory",
		Before:     map[string]any{"id": "mallory"},
	}))

	assert.Equal(t, []string{"user:deleted", "user:deleted"}, target.events())
}

func TestBroadcastNotificationTargetsOwner(t *testing.T) {
	r := registry.New()
	b := New(r)

	owner := &captureChannel{}
	other := &captureChannel{}
	r.Join("alice", owner)
	r.Join("bob", other)

	require.NoError(t, b.Broadcast(entity.ChangeEvent{
		Collection: entity.CollectionNotifications,
		Operation:  entity.OpInsert,
		EntityID:   "n-1",
		After:      map[string]any{"id": "n-1", "userId": "alice", "title": "t"},
	}))

	assert.Len(t, owner.sent, 2)
	assert.Len(t, other.sent, 1)
}

func TestDeadChannelLeavesRegistryOthersUnaffected(t *testing.T) {
	r := registry.New()
	b := New(r)

	dead := &captureChannel{closed: true}
	alive := &captureChannel{}
	r.Join("alice", dead)
	r.Join("alice", alive)

	require.NoError(t, b.Broadcast(taskEvent(entity.OpInsert, "task-1", "alice")))

	assert.Len(t, r.ChannelsFor("alice"), 1)
	assert.NotEmpty(t, alive.sent)
	assert.Empty(t, dead.sent)

	// Nothing further reaches the dead channel.
	require.NoError(t, b.Broadcast(taskEvent(entity.OpUpdate, "task-1", "alice")))
	assert.Empty(t, dead.sent)
}

func TestBroadcastResync(t *testing.T) {
	r := registry.New()
	b := New(r)

	ch := &captureChannel{}
	r.Join("alice", ch)

	require.NoError(t, b.BroadcastResync(entity.CollectionTasks))
	require.Len(t, ch.sent, 1)
	assert.Equal(t, EventResyncRequired, ch.sent[0].Event)
	assert.Equal(t, "tasks", ch.sent[0].ID)
}

func TestPerRecipientOrderPreserved(t *testing.T) {
	r := registry.New()
	b := New(r)

	ch := &captureChannel{}
	r.Join("alice", ch)

	for _, op := range []entity.Operation{entity.OpInsert, entity.OpUpdate, entity.OpReplace} {
		require.NoError(t, b.Broadcast(taskEvent(op, "task-1")))
	}

	var ops []string
	for _, env := range ch.sent {
		ops = append(ops, env.Operation)
	}
	assert.Equal(t, []string{"insert", "update", "replace"}, ops)
}
