package entity

import (
	"fmt"
	"time"
)

// DecodeError reports a document that does not match its collection's
// expected shape. Unrecognized documents are rejected at this boundary
// rather than flowing through the engine untyped.
type DecodeError struct {
	Collection Collection
	Field      string
	Reason     string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: field %q: %s", e.Collection, e.Field, e.Reason)
}

func decodeErr(c Collection, field, reason string) *DecodeError {
	return &DecodeError{Collection: c, Field: field, Reason: reason}
}

// requireString extracts a required non-empty string field.
func requireString(c Collection, doc map[string]any, field string) (string, error) {
	v, ok := doc[field]
	if !ok {
		return "", decodeErr(c, field, "missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", decodeErr(c, field, fmt.Sprintf("expected string, got %T", v))
	}
	if s == "" {
		return "", decodeErr(c, field, "empty")
	}
	return s, nil
}

// optString extracts an optional string field ("" when absent).
func optString(c Collection, doc map[string]any, field string) (string, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", decodeErr(c, field, fmt.Sprintf("expected string, got %T", v))
	}
	return s, nil
}

// optBool extracts an optional bool field (false when absent).
func optBool(c Collection, doc map[string]any, field string) (bool, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, decodeErr(c, field, fmt.Sprintf("expected bool, got %T", v))
	}
	return b, nil
}

// optStringSlice extracts an optional list of strings. JSON decoding hands
// us []any; each element must be a string.
func optStringSlice(c Collection, doc map[string]any, field string) ([]string, error) {
	v, ok := doc[field]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, elem := range list {
			s, ok := elem.(string)
			if !ok {
				return nil, decodeErr(c, field, fmt.Sprintf("element %d: expected string, got %T", i, elem))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, decodeErr(c, field, fmt.Sprintf("expected string list, got %T", v))
	}
}

// optTime extracts an optional RFC 3339 timestamp (zero time when absent).
func optTime(c Collection, doc map[string]any, field string) (time.Time, error) {
	s, err := optString(c, doc, field)
	if err != nil || s == "" {
		return time.Time{}, err
	}
	t, parseErr := time.Parse(time.RFC3339Nano, s)
	if parseErr != nil {
		return time.Time{}, decodeErr(c, field, fmt.Sprintf("bad timestamp %q", s))
	}
	return t, nil
}

// DecodeUser builds a User from a users document.
func DecodeUser(doc map[string]any) (User, error) {
	const c = CollectionUsers
	if doc == nil {
		return User{}, decodeErr(c, "", "nil document")
	}
	id, err := requireString(c, doc, "id")
	if err != nil {
		return User{}, err
	}
	role, err := requireString(c, doc, "role")
	if err != nil {
		return User{}, err
	}
	if Role(role) != RoleAdmin && Role(role) != RoleMember {
		return User{}, decodeErr(c, "role", fmt.Sprintf("unknown role %q", role))
	}
	status, err := requireString(c, doc, "status")
	if err != nil {
		return User{}, err
	}
	if UserStatus(status) != UserStatusPending && UserStatus(status) != UserStatusActive {
		return User{}, decodeErr(c, "status", fmt.Sprintf("unknown status %q", status))
	}
	fullName, err := optString(c, doc, "fullName")
	if err != nil {
		return User{}, err
	}
	email, err := optString(c, doc, "email")
	if err != nil {
		return User{}, err
	}
	isActive, err := optBool(c, doc, "isActive")
	if err != nil {
		return User{}, err
	}
	addedBy, err := optString(c, doc, "addedBy")
	if err != nil {
		return User{}, err
	}
	disabledBy, err := optString(c, doc, "disabledBy")
	if err != nil {
		return User{}, err
	}
	reactRequested, err := optBool(c, doc, "reactivationRequested")
	if err != nil {
		return User{}, err
	}
	reactAt, err := optTime(c, doc, "reactivationRequestedAt")
	if err != nil {
		return User{}, err
	}
	return User{
		ID:                      id,
		FullName:                fullName,
		Email:                   email,
		Role:                    Role(role),
		Status:                  UserStatus(status),
		IsActive:                isActive,
		AddedBy:                 addedBy,
		DisabledBy:              disabledBy,
		ReactivationRequested:   reactRequested,
		ReactivationRequestedAt: reactAt,
	}, nil
}

// DecodeProject builds a Project from a projects document.
func DecodeProject(doc map[string]any) (Project, error) {
	const c = CollectionProjects
	if doc == nil {
		return Project{}, decodeErr(c, "", "nil document")
	}
	id, err := requireString(c, doc, "id")
	if err != nil {
		return Project{}, err
	}
	status, err := requireString(c, doc, "status")
	if err != nil {
		return Project{}, err
	}
	if !IsValidProjectStatus(ProjectStatus(status)) {
		return Project{}, decodeErr(c, "status", fmt.Sprintf("unknown status %q", status))
	}
	name, err := optString(c, doc, "name")
	if err != nil {
		return Project{}, err
	}
	members, err := optStringSlice(c, doc, "members")
	if err != nil {
		return Project{}, err
	}
	createdBy, err := optString(c, doc, "createdBy")
	if err != nil {
		return Project{}, err
	}
	return Project{
		ID:        id,
		Name:      name,
		Status:    ProjectStatus(status),
		Members:   members,
		CreatedBy: createdBy,
	}, nil
}

// DecodeTask builds a Task from a tasks document.
func DecodeTask(doc map[string]any) (Task, error) {
	const c = CollectionTasks
	if doc == nil {
		return Task{}, decodeErr(c, "", "nil document")
	}
	id, err := requireString(c, doc, "id")
	if err != nil {
		return Task{}, err
	}
	status, err := requireString(c, doc, "status")
	if err != nil {
		return Task{}, err
	}
	if !IsValidTaskStatus(TaskStatus(status)) {
		return Task{}, decodeErr(c, "status", fmt.Sprintf("unknown status %q", status))
	}
	projectID, err := requireString(c, doc, "projectId")
	if err != nil {
		return Task{}, err
	}
	title, err := optString(c, doc, "title")
	if err != nil {
		return Task{}, err
	}
	assignedTo, err := optStringSlice(c, doc, "assignedTo")
	if err != nil {
		return Task{}, err
	}
	createdBy, err := optString(c, doc, "createdBy")
	if err != nil {
		return Task{}, err
	}
	flagged, err := optBool(c, doc, "flagged")
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:         id,
		Title:      title,
		Status:     TaskStatus(status),
		ProjectID:  projectID,
		AssignedTo: assignedTo,
		CreatedBy:  createdBy,
		Flagged:    flagged,
	}, nil
}

// DecodeComment builds a Comment from a comments document.
func DecodeComment(doc map[string]any) (Comment, error) {
	const c = CollectionComments
	if doc == nil {
		return Comment{}, decodeErr(c, "", "nil document")
	}
	id, err := requireString(c, doc, "id")
	if err != nil {
		return Comment{}, err
	}
	taskID, err := requireString(c, doc, "taskId")
	if err != nil {
		return Comment{}, err
	}
	userID, err := requireString(c, doc, "userId")
	if err != nil {
		return Comment{}, err
	}
	content, err := optString(c, doc, "content")
	if err != nil {
		return Comment{}, err
	}
	return Comment{ID: id, TaskID: taskID, UserID: userID, Content: content}, nil
}

// DecodeNotification builds a Notification from a notifications document.
func DecodeNotification(doc map[string]any) (Notification, error) {
	const c = CollectionNotifications
	if doc == nil {
		return Notification{}, decodeErr(c, "", "nil document")
	}
	id, err := requireString(c, doc, "id")
	if err != nil {
		return Notification{}, err
	}
	userID, err := requireString(c, doc, "userId")
	if err != nil {
		return Notification{}, err
	}
	title, err := requireString(c, doc, "title")
	if err != nil {
		return Notification{}, err
	}
	message, err := requireString(c, doc, "message")
	if err != nil {
		return Notification{}, err
	}
	severity, err := requireString(c, doc, "severity")
	if err != nil {
		return Notification{}, err
	}
	if !IsValidSeverity(Severity(severity)) {
		return Notification{}, decodeErr(c, "severity", fmt.Sprintf("unknown severity %q", severity))
	}
	read, err := optBool(c, doc, "read")
	if err != nil {
		return Notification{}, err
	}
	createdAt, err := optTime(c, doc, "createdAt")
	if err != nil {
		return Notification{}, err
	}
	return Notification{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Message:   message,
		Severity:  Severity(severity),
		Read:      read,
		CreatedAt: createdAt,
	}, nil
}

// Doc returns the user's document representation.
func (u User) Doc() map[string]any {
	doc := map[string]any{
		"id":       u.ID,
		"role":     string(u.Role),
		"status":   string(u.Status),
		"isActive": u.IsActive,
	}
	if u.FullName != "" {
		doc["fullName"] = u.FullName
	}
	if u.Email != "" {
		doc["email"] = u.Email
	}
	if u.AddedBy != "" {
		doc["addedBy"] = u.AddedBy
	}
	if u.DisabledBy != "" {
		doc["disabledBy"] = u.DisabledBy
	}
	doc["reactivationRequested"] = u.ReactivationRequested
	if !u.ReactivationRequestedAt.IsZero() {
		doc["reactivationRequestedAt"] = u.ReactivationRequestedAt.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

// Doc returns the project's document representation.
func (p Project) Doc() map[string]any {
	doc := map[string]any{
		"id":     p.ID,
		"status": string(p.Status),
	}
	if p.Name != "" {
		doc["name"] = p.Name
	}
	if p.Members != nil {
		doc["members"] = toAnySlice(p.Members)
	}
	if p.CreatedBy != "" {
		doc["createdBy"] = p.CreatedBy
	}
	return doc
}

// Doc returns the task's document representation.
func (t Task) Doc() map[string]any {
	doc := map[string]any{
		"id":        t.ID,
		"status":    string(t.Status),
		"projectId": t.ProjectID,
		"flagged":   t.Flagged,
	}
	if t.Title != "" {
		doc["title"] = t.Title
	}
	if t.AssignedTo != nil {
		doc["assignedTo"] = toAnySlice(t.AssignedTo)
	}
	if t.CreatedBy != "" {
		doc["createdBy"] = t.CreatedBy
	}
	return doc
}

// Doc returns the comment's document representation.
func (cm Comment) Doc() map[string]any {
	return map[string]any{
		"id":      cm.ID,
		"taskId":  cm.TaskID,
		"userId":  cm.UserID,
		"content": cm.Content,
	}
}

// Doc returns the notification's document representation.
func (n Notification) Doc() map[string]any {
	return map[string]any{
		"id":        n.ID,
		"userId":    n.UserID,
		"title":     n.Title,
		"message":   n.Message,
		"severity":  string(n.Severity),
		"read":      n.Read,
		"createdAt": n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// toAnySlice converts []string to []any so documents round-trip through
// JSON decoding with stable shapes.
func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
