package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/ripplehq/ripple/internal/entity"
)

// PutDocument writes a full document under (collection, id) and appends a
// changelog row in the same transaction. A first write logs an insert; a
// subsequent full write logs a replace with the prior values of the fields
// that differ as the before image.
func (s *Store) PutDocument(ctx context.Context, collection entity.Collection, id string, doc map[string]any) error {
	if !entity.IsValidCollection(collection) {
		return fmt.Errorf("put document: unknown collection %q", collection)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("put document %s/%s: marshal: %w", collection, id, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put document %s/%s: begin tx: %w", collection, id, err)
	}
	defer tx.Rollback() // No-op if committed

	prior, err := readDocumentTx(ctx, tx, collection, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("put document %s/%s: read prior: %w", collection, id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, string(collection), id, string(body), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("put document %s/%s: write: %w", collection, id, err)
	}

	op := entity.OpInsert
	var beforeJSON sql.NullString
	if prior != nil {
		op = entity.OpReplace
		before := changedFields(prior, doc)
		if len(before) > 0 {
			b, marshalErr := json.Marshal(before)
			if marshalErr != nil {
				return fmt.Errorf("put document %s/%s: marshal before: %w", collection, id, marshalErr)
			}
			beforeJSON = sql.NullString{String: string(b), Valid: true}
		}
	}

	if err := appendChangelogTx(ctx, tx, collection, op, id, beforeJSON, sql.NullString{String: string(body), Valid: true}); err != nil {
		return fmt.Errorf("put document %s/%s: %w", collection, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put document %s/%s: commit: %w", collection, id, err)
	}
	return nil
}

// UpdateDocument merges the given fields into an existing document and
// appends an update changelog row whose before image holds the prior
// values of exactly the touched fields. Returns the post-update document.
// Returns ErrNotFound if the document does not exist.
func (s *Store) UpdateDocument(ctx context.Context, collection entity.Collection, id string, fields map[string]any) (map[string]any, error) {
	if !entity.IsValidCollection(collection) {
		return nil, fmt.Errorf("update document: unknown collection %q", collection)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("update document %s/%s: no fields", collection, id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update document %s/%s: begin tx: %w", collection, id, err)
	}
	defer tx.Rollback()

	prior, err := readDocumentTx(ctx, tx, collection, id)
	if err != nil {
		return nil, fmt.Errorf("update document %s/%s: %w", collection, id, err)
	}

	// Before image: prior values of the touched fields only. A field that
	// did not exist before is recorded as absent, not as null.
	before := make(map[string]any)
	next := make(map[string]any, len(prior)+len(fields))
	for k, v := range prior {
		next[k] = v
	}
	for k, v := range fields {
		if pv, had := prior[k]; had {
			before[k] = pv
		}
		if v == nil {
			delete(next, k) // nil field value means "clear"
		} else {
			next[k] = v
		}
	}

	body, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("update document %s/%s: marshal: %w", collection, id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?
	`, string(body), time.Now().UTC().Format(time.RFC3339Nano), string(collection), id); err != nil {
		return nil, fmt.Errorf("update document %s/%s: write: %w", collection, id, err)
	}

	var beforeJSON sql.NullString
	if len(before) > 0 {
		b, marshalErr := json.Marshal(before)
		if marshalErr != nil {
			return nil, fmt.Errorf("update document %s/%s: marshal before: %w", collection, id, marshalErr)
		}
		beforeJSON = sql.NullString{String: string(b), Valid: true}
	}

	if err := appendChangelogTx(ctx, tx, collection, entity.OpUpdate, id, beforeJSON, sql.NullString{String: string(body), Valid: true}); err != nil {
		return nil, fmt.Errorf("update document %s/%s: %w", collection, id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update document %s/%s: commit: %w", collection, id, err)
	}

	// Round-trip through JSON so callers see the same value shapes a fresh
	// read would produce.
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("update document %s/%s: unmarshal: %w", collection, id, err)
	}
	return out, nil
}

// DeleteDocument removes a document and appends a delete changelog row
// carrying the full prior document as the before image.
// Returns ErrNotFound if the document does not exist.
func (s *Store) DeleteDocument(ctx context.Context, collection entity.Collection, id string) error {
	if !entity.IsValidCollection(collection) {
		return fmt.Errorf("delete document: unknown collection %q", collection)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: begin tx: %w", collection, id, err)
	}
	defer tx.Rollback()

	prior, err := readDocumentTx(ctx, tx, collection, id)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM documents WHERE collection = ? AND id = ?
	`, string(collection), id); err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}

	b, err := json.Marshal(prior)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: marshal before: %w", collection, id, err)
	}

	if err := appendChangelogTx(ctx, tx, collection, entity.OpDelete, id, sql.NullString{String: string(b), Valid: true}, sql.NullString{}); err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete document %s/%s: commit: %w", collection, id, err)
	}
	return nil
}

// GetDocument reads a single document. Returns ErrNotFound if absent.
func (s *Store) GetDocument(ctx context.Context, collection entity.Collection, id string) (map[string]any, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE collection = ? AND id = ?
	`, string(collection), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get document %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s/%s: %w", collection, id, err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("get document %s/%s: unmarshal: %w", collection, id, err)
	}
	return doc, nil
}

// ListCollection reads every document in a collection, ordered by id.
func (s *Store) ListCollection(ctx context.Context, collection entity.Collection) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM documents WHERE collection = ? ORDER BY id
	`, string(collection))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("list %s: scan: %w", collection, err)
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("list %s: unmarshal: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return docs, nil
}

// readDocumentTx reads a document inside a transaction.
func readDocumentTx(ctx context.Context, tx *sql.Tx, collection entity.Collection, id string) (map[string]any, error) {
	var body string
	err := tx.QueryRowContext(ctx, `
		SELECT body FROM documents WHERE collection = ? AND id = ?
	`, string(collection), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return doc, nil
}

// appendChangelogTx appends one changelog row inside a transaction.
func appendChangelogTx(ctx context.Context, tx *sql.Tx, collection entity.Collection, op entity.Operation, id string, before, after sql.NullString) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO changelog (collection, operation, entity_id, before, after)
		VALUES (?, ?, ?, ?, ?)
	`, string(collection), string(op), id, before, after)
	if err != nil {
		return fmt.Errorf("append changelog: %w", err)
	}
	return nil
}

// unmarshalDoc decodes a stored JSON body into a document map.
func unmarshalDoc(body string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

// changedFields returns prior values for keys whose value differs in next,
// including keys next no longer carries. Values are compared after a JSON
// round trip on the prior side already happened, so DeepEqual is stable.
func changedFields(prior, next map[string]any) map[string]any {
	// Normalize next through JSON so []string and []any compare equal.
	b, err := json.Marshal(next)
	if err == nil {
		var normalized map[string]any
		if json.Unmarshal(b, &normalized) == nil {
			next = normalized
		}
	}

	diff := make(map[string]any)
	for k, pv := range prior {
		nv, ok := next[k]
		if !ok || !reflect.DeepEqual(pv, nv) {
			diff[k] = pv
		}
	}
	return diff
}
