package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ripplehq/ripple/internal/entity"
)

// ChangesSince reads up to limit changelog rows for a collection with
// seq > afterSeq, in seq order. This is the tap's resume query.
func (s *Store) ChangesSince(ctx context.Context, collection entity.Collection, afterSeq int64, limit int) ([]entity.ChangeEvent, error) {
	if limit <= 0 {
		limit = 256
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, operation, entity_id, before, after
		FROM changelog
		WHERE collection = ? AND seq > ?
		ORDER BY seq
		LIMIT ?
	`, string(collection), afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("changes since %s/%d: %w", collection, afterSeq, err)
	}
	defer rows.Close()

	var events []entity.ChangeEvent
	for rows.Next() {
		var (
			seq      int64
			op       string
			entityID string
			before   sql.NullString
			after    sql.NullString
		)
		if err := rows.Scan(&seq, &op, &entityID, &before, &after); err != nil {
			return nil, fmt.Errorf("changes since %s/%d: scan: %w", collection, afterSeq, err)
		}

		ev := entity.ChangeEvent{
			Collection: collection,
			Operation:  entity.Operation(op),
			EntityID:   entityID,
			Seq:        seq,
		}
		if before.Valid {
			if err := json.Unmarshal([]byte(before.String), &ev.Before); err != nil {
				return nil, fmt.Errorf("changes since %s/%d: before seq %d: %w", collection, afterSeq, seq, err)
			}
		}
		if after.Valid {
			if err := json.Unmarshal([]byte(after.String), &ev.After); err != nil {
				return nil, fmt.Errorf("changes since %s/%d: after seq %d: %w", collection, afterSeq, seq, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("changes since %s/%d: %w", collection, afterSeq, err)
	}
	return events, nil
}

// LastSeq returns the highest changelog seq for a collection, or 0 if the
// collection has no history.
func (s *Store) LastSeq(ctx context.Context, collection entity.Collection) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM changelog WHERE collection = ?
	`, string(collection)).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq %s: %w", collection, err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// OldestSeq returns the lowest retained changelog seq for a collection.
// ok is false when the collection has no retained history at all.
func (s *Store) OldestSeq(ctx context.Context, collection entity.Collection) (seq int64, ok bool, err error) {
	var min sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT MIN(seq) FROM changelog WHERE collection = ?
	`, string(collection)).Scan(&min)
	if err != nil {
		return 0, false, fmt.Errorf("oldest seq %s: %w", collection, err)
	}
	if !min.Valid {
		return 0, false, nil
	}
	return min.Int64, true, nil
}

// OldestSeqAll returns the lowest retained changelog seq across every
// collection. The tap compares a resume position against this to decide
// whether history it still needs has been pruned away. Seqs are allocated
// globally, so a per-collection minimum cannot distinguish pruning from
// ordinary interleaving gaps; the global minimum can.
func (s *Store) OldestSeqAll(ctx context.Context) (seq int64, ok bool, err error) {
	var min sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT MIN(seq) FROM changelog`).Scan(&min)
	if err != nil {
		return 0, false, fmt.Errorf("oldest seq: %w", err)
	}
	if !min.Valid {
		return 0, false, nil
	}
	return min.Int64, true, nil
}

// PruneChangelogBefore deletes changelog rows with seq < beforeSeq across
// all collections and returns the number removed. A watcher whose resume
// position falls before the retained window will observe a resync.
func (s *Store) PruneChangelogBefore(ctx context.Context, beforeSeq int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM changelog WHERE seq < ?
	`, beforeSeq)
	if err != nil {
		return 0, fmt.Errorf("prune changelog before %d: %w", beforeSeq, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune changelog before %d: rows affected: %w", beforeSeq, err)
	}
	return n, nil
}
