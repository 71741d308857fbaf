package entity

import (
	"slices"
	"time"
)

// Role identifies a user's privilege level.
type Role string

// Role values.
const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// UserStatus tracks the account onboarding state.
type UserStatus string

// UserStatus values.
const (
	UserStatusPending UserStatus = "pending"
	UserStatusActive  UserStatus = "active"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

// ProjectStatus values.
const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectArchived  ProjectStatus = "archived"
)

var validProjectStatuses = []ProjectStatus{
	ProjectPlanning, ProjectActive, ProjectOnHold, ProjectCompleted, ProjectArchived,
}

// IsValidProjectStatus reports whether s is a recognized project status.
func IsValidProjectStatus(s ProjectStatus) bool {
	return slices.Contains(validProjectStatuses, s)
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// TaskStatus values.
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskArchived   TaskStatus = "archived"
)

var validTaskStatuses = []TaskStatus{
	TaskPending, TaskInProgress, TaskCompleted, TaskArchived,
}

// IsValidTaskStatus reports whether s is a recognized task status.
func IsValidTaskStatus(s TaskStatus) bool {
	return slices.Contains(validTaskStatuses, s)
}

// Severity classifies a notification for client display.
type Severity string

// Severity values.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

var validSeverities = []Severity{
	SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError,
}

// IsValidSeverity reports whether s is a recognized severity.
func IsValidSeverity(s Severity) bool {
	return slices.Contains(validSeverities, s)
}

// User is an account record. The identity provider owns credentials;
// this engine only reads role, lifecycle flags, and display fields.
type User struct {
	ID       string
	FullName string
	Email    string
	Role     Role
	Status   UserStatus
	IsActive bool

	// AddedBy records who invited this user, DisabledBy who disabled it.
	// Both may be empty for bootstrap accounts.
	AddedBy    string
	DisabledBy string

	// Reactivation request state for disabled accounts.
	ReactivationRequested   bool
	ReactivationRequestedAt time.Time
}

// Project groups tasks and carries a member set. Status is partly derived:
// completion cascades from task state, never set directly by the engine
// except through the cascade rules.
type Project struct {
	ID        string
	Name      string
	Status    ProjectStatus
	Members   []string
	CreatedBy string
}

// HasMember reports whether userID is in the project's member set.
func (p Project) HasMember(userID string) bool {
	return slices.Contains(p.Members, userID)
}

// Task is a unit of work under a project.
type Task struct {
	ID         string
	Title      string
	Status     TaskStatus
	ProjectID  string
	AssignedTo []string
	CreatedBy  string
	Flagged    bool
}

// Comment is free text attached to a task. Content may carry @-mentions
// resolved by the mention package.
type Comment struct {
	ID      string
	TaskID  string
	UserID  string
	Content string
}

// Notification is a persisted per-user notice. Exactly one owner; the
// engine never creates one without a title and message.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Severity  Severity
	Read      bool
	CreatedAt time.Time
}
