package entity

import (
	"fmt"
	"reflect"
	"slices"
)

// Collection identifies a watched store collection.
type Collection string

// Watched collections.
const (
	CollectionUsers         Collection = "users"
	CollectionProjects      Collection = "projects"
	CollectionTasks         Collection = "tasks"
	CollectionComments      Collection = "comments"
	CollectionNotifications Collection = "notifications"
)

// WatchedCollections lists every collection the tap subscribes to, in a
// fixed order so process wiring is deterministic.
var WatchedCollections = []Collection{
	CollectionUsers,
	CollectionProjects,
	CollectionTasks,
	CollectionComments,
	CollectionNotifications,
}

// IsValidCollection reports whether c is a watched collection.
func IsValidCollection(c Collection) bool {
	return slices.Contains(WatchedCollections, c)
}

// Operation is the mutation kind carried by a change event.
type Operation string

// Operation values, matching the store changelog.
const (
	OpInsert  Operation = "insert"
	OpUpdate  Operation = "update"
	OpReplace Operation = "replace"
	OpDelete  Operation = "delete"
)

// ChangeEvent is one normalized mutation observed on a collection.
//
// Events are ephemeral: created by the tap, consumed synchronously, never
// persisted. Ordering follows the store changelog per collection; there is
// no cross-collection ordering guarantee.
//
// Before holds only the fields that changed (nil for inserts). After is
// the full post-change snapshot (nil for deletes).
type ChangeEvent struct {
	Collection Collection
	Operation  Operation
	EntityID   string

	// Seq is the changelog position the event was read from. Strictly
	// increasing per collection.
	Seq int64

	Before map[string]any
	After  map[string]any
}

// FieldChanged reports whether the named field differs between the
// before-fields and the after snapshot. For inserts (no before image) it
// returns false: everything is new, nothing "changed".
func (e ChangeEvent) FieldChanged(name string) bool {
	if e.Before == nil || e.After == nil {
		return false
	}
	prev, had := e.Before[name]
	if !had {
		return false
	}
	return !reflect.DeepEqual(prev, e.After[name])
}

// User decodes the after snapshot as a User.
func (e ChangeEvent) User() (User, error) {
	if e.Collection != CollectionUsers {
		return User{}, fmt.Errorf("change event is %s, not users", e.Collection)
	}
	return DecodeUser(e.After)
}

// Project decodes the after snapshot as a Project.
func (e ChangeEvent) Project() (Project, error) {
	if e.Collection != CollectionProjects {
		return Project{}, fmt.Errorf("change event is %s, not projects", e.Collection)
	}
	return DecodeProject(e.After)
}

// Task decodes the after snapshot as a Task.
func (e ChangeEvent) Task() (Task, error) {
	if e.Collection != CollectionTasks {
		return Task{}, fmt.Errorf("change event is %s, not tasks", e.Collection)
	}
	return DecodeTask(e.After)
}

// Comment decodes the after snapshot as a Comment.
func (e ChangeEvent) Comment() (Comment, error) {
	if e.Collection != CollectionComments {
		return Comment{}, fmt.Errorf("change event is %s, not comments", e.Collection)
	}
	return DecodeComment(e.After)
}

// Notification decodes the after snapshot as a Notification.
func (e ChangeEvent) Notification() (Notification, error) {
	if e.Collection != CollectionNotifications {
		return Notification{}, fmt.Errorf("change event is %s, not notifications", e.Collection)
	}
	return DecodeNotification(e.After)
}
