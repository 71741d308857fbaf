// Package notify persists cascade-produced notifications.
//
// A Request is the transient value a cascade rule emits; persisting it
// yields a durable Notification record in the store, which in turn
// produces a changelog entry that flows back out to connected clients as
// notification:new.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ripplehq/ripple/internal/canon"
	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/store"
)

// Request is a notification the cascade engine wants delivered.
type Request struct {
	UserID   string
	Title    string
	Message  string
	Severity entity.Severity

	// Rule names the cascade rule that fired; carried for logging and
	// idempotency keying, never shown to the recipient.
	Rule string

	// FlowToken correlates the request with the primary mutation that
	// triggered it. When set, it makes the persisted notification's ID
	// deterministic: a retry of the same logical request overwrites
	// instead of duplicating.
	FlowToken string
}

// PersistError reports a failed notification persist with enough context
// to investigate: who should have been notified and which rule fired.
type PersistError struct {
	UserID string
	Rule   string
	Err    error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	return fmt.Sprintf("persist notification for %s (rule %s): %v", e.UserID, e.Rule, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsPersistError reports whether err is a PersistError.
// Uses errors.As to handle wrapped errors.
func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// Sink writes notification records to the store.
//
// Persist failures never roll back the primary mutation that produced the
// request; the caller logs and counts them. The sink itself maintains the
// failure counter for operational visibility.
type Sink struct {
	store    *store.Store
	now      func() time.Time
	failures atomic.Int64
}

// NewSink creates a Sink over the given store. now may be nil, in which
// case time.Now is used; tests inject a fixed clock.
func NewSink(s *store.Store, now func() time.Time) *Sink {
	if now == nil {
		now = time.Now
	}
	return &Sink{store: s, now: now}
}

// Persist validates a request and writes it as a durable Notification.
//
// A notification always has exactly one owner and is never created
// without content; requests missing either are rejected before touching
// the store. Store failures are returned as *PersistError and counted.
func (k *Sink) Persist(ctx context.Context, req Request) (entity.Notification, error) {
	if req.UserID == "" {
		return entity.Notification{}, fmt.Errorf("notification request without recipient (rule %s)", req.Rule)
	}
	if req.Title == "" || req.Message == "" {
		return entity.Notification{}, fmt.Errorf("notification request without content for %s (rule %s)", req.UserID, req.Rule)
	}
	severity := req.Severity
	if severity == "" {
		severity = entity.SeverityInfo
	}
	if !entity.IsValidSeverity(severity) {
		return entity.Notification{}, fmt.Errorf("notification request with unknown severity %q (rule %s)", severity, req.Rule)
	}

	n := entity.Notification{
		ID:        k.requestID(req),
		UserID:    req.UserID,
		Title:     req.Title,
		Message:   req.Message,
		Severity:  severity,
		Read:      false,
		CreatedAt: k.now().UTC(),
	}

	if err := k.store.PutNotification(ctx, n); err != nil {
		k.failures.Add(1)
		perr := &PersistError{UserID: req.UserID, Rule: req.Rule, Err: err}
		slog.Error("notification persist failed",
			"user", req.UserID,
			"rule", req.Rule,
			"severity", severity,
			"error", err,
		)
		return entity.Notification{}, perr
	}

	slog.Debug("notification persisted",
		"id", n.ID,
		"user", n.UserID,
		"rule", req.Rule,
	)
	return n, nil
}

// Failures returns the number of persist failures observed so far.
func (k *Sink) Failures() int64 {
	return k.failures.Load()
}

// requestID derives the notification ID. With a flow token the ID is
// content-addressed over the logical request, so retries of the same
// firing collapse onto one record. Without one (ad hoc callers), a
// time-sortable UUIDv7 is used.
func (k *Sink) requestID(req Request) string {
	if req.FlowToken == "" {
		return uuid.Must(uuid.NewV7()).String()
	}
	return canon.MustHashObject(canon.DomainNotification, map[string]any{
		"flow":     req.FlowToken,
		"rule":     req.Rule,
		"user":     req.UserID,
		"title":    req.Title,
		"message":  req.Message,
		"severity": string(req.Severity),
	})[:32]
}
