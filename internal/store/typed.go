package store

import (
	"context"
	"fmt"

	"github.com/ripplehq/ripple/internal/entity"
)

// Typed read/write helpers. Writers marshal through the entity Doc forms;
// readers decode at the store boundary so callers never see raw documents.

// PutUser writes a user document.
func (s *Store) PutUser(ctx context.Context, u entity.User) error {
	return s.PutDocument(ctx, entity.CollectionUsers, u.ID, u.Doc())
}

// PutProject writes a project document.
func (s *Store) PutProject(ctx context.Context, p entity.Project) error {
	return s.PutDocument(ctx, entity.CollectionProjects, p.ID, p.Doc())
}

// PutTask writes a task document.
func (s *Store) PutTask(ctx context.Context, t entity.Task) error {
	return s.PutDocument(ctx, entity.CollectionTasks, t.ID, t.Doc())
}

// PutComment writes a comment document.
func (s *Store) PutComment(ctx context.Context, c entity.Comment) error {
	return s.PutDocument(ctx, entity.CollectionComments, c.ID, c.Doc())
}

// PutNotification writes a notification document.
func (s *Store) PutNotification(ctx context.Context, n entity.Notification) error {
	return s.PutDocument(ctx, entity.CollectionNotifications, n.ID, n.Doc())
}

// GetUser reads and decodes a user.
func (s *Store) GetUser(ctx context.Context, id string) (entity.User, error) {
	doc, err := s.GetDocument(ctx, entity.CollectionUsers, id)
	if err != nil {
		return entity.User{}, err
	}
	return entity.DecodeUser(doc)
}

// GetProject reads and decodes a project.
func (s *Store) GetProject(ctx context.Context, id string) (entity.Project, error) {
	doc, err := s.GetDocument(ctx, entity.CollectionProjects, id)
	if err != nil {
		return entity.Project{}, err
	}
	return entity.DecodeProject(doc)
}

// GetTask reads and decodes a task.
func (s *Store) GetTask(ctx context.Context, id string) (entity.Task, error) {
	doc, err := s.GetDocument(ctx, entity.CollectionTasks, id)
	if err != nil {
		return entity.Task{}, err
	}
	return entity.DecodeTask(doc)
}

// GetComment reads and decodes a comment.
func (s *Store) GetComment(ctx context.Context, id string) (entity.Comment, error) {
	doc, err := s.GetDocument(ctx, entity.CollectionComments, id)
	if err != nil {
		return entity.Comment{}, err
	}
	return entity.DecodeComment(doc)
}

// GetNotification reads and decodes a notification.
func (s *Store) GetNotification(ctx context.Context, id string) (entity.Notification, error) {
	doc, err := s.GetDocument(ctx, entity.CollectionNotifications, id)
	if err != nil {
		return entity.Notification{}, err
	}
	return entity.DecodeNotification(doc)
}

// ListUsers returns the full user directory, decoded. The mention resolver
// matches against this set.
func (s *Store) ListUsers(ctx context.Context) ([]entity.User, error) {
	docs, err := s.ListCollection(ctx, entity.CollectionUsers)
	if err != nil {
		return nil, err
	}
	users := make([]entity.User, 0, len(docs))
	for _, doc := range docs {
		u, err := entity.DecodeUser(doc)
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		users = append(users, u)
	}
	return users, nil
}

// TasksByProject returns every task of a project, in id order. The cascade
// engine recomputes project completion over this set.
func (s *Store) TasksByProject(ctx context.Context, projectID string) ([]entity.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM documents
		WHERE collection = ? AND json_extract(body, '$.projectId') = ?
		ORDER BY id
	`, string(entity.CollectionTasks), projectID)
	if err != nil {
		return nil, fmt.Errorf("tasks by project %s: %w", projectID, err)
	}
	defer rows.Close()

	var tasks []entity.Task
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("tasks by project %s: scan: %w", projectID, err)
		}
		doc, err := unmarshalDoc(body)
		if err != nil {
			return nil, fmt.Errorf("tasks by project %s: %w", projectID, err)
		}
		task, err := entity.DecodeTask(doc)
		if err != nil {
			return nil, fmt.Errorf("tasks by project %s: %w", projectID, err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tasks by project %s: %w", projectID, err)
	}
	return tasks, nil
}
