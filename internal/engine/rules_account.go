package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/policy"
)

// fireAccountDisabled confirms the disable to the acting admin and
// clears any pending reactivation request on the target.
func (e *Engine) fireAccountDisabled(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	target, err := e.store.GetUser(ctx, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", t.UserID, err)
	}

	if target.ReactivationRequested {
		err := ec.applyUpdate(ctx, entity.CollectionUsers, target.ID,
			map[string]any{"reactivationRequested": false, "reactivationRequestedAt": nil},
			"users/reactivation/"+target.ID)
		if err != nil {
			return nil, err
		}
	}

	admin := t.Actor
	if admin == "" {
		admin = target.DisabledBy
	}
	vars := map[string]string{"user": target.FullName}
	ec.notifyDirect(ctx, t, policy.RuleAccountDisabled, admin, vars)
	return nil, nil
}

// fireAccountEnabled confirms the enable to the acting admin and tells
// the target their account is active again.
func (e *Engine) fireAccountEnabled(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	target, err := e.store.GetUser(ctx, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", t.UserID, err)
	}
	vars := map[string]string{"user": target.FullName}

	ec.notifyDirect(ctx, t, policy.RuleAccountEnabled, t.Actor, vars)
	ec.notify(ctx, t, policy.RuleAccountActivated, target.ID, vars)
	return nil, nil
}

// fireReactivationRequested marks the request pending and notifies the
// admin who disabled the account, when recorded. Requesting while active
// or while a request is pending is a rule violation.
func (e *Engine) fireReactivationRequested(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	user, err := e.store.GetUser(ctx, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", t.UserID, err)
	}
	if user.IsActive {
		return nil, &RuleViolationError{
			Code:    ViolationAlreadyActive,
			Kind:    t.Kind,
			Subject: user.ID,
			Message: "account is already active",
		}
	}
	if user.ReactivationRequested {
		return nil, &RuleViolationError{
			Code:    ViolationAlreadyPending,
			Kind:    t.Kind,
			Subject: user.ID,
			Message: "a reactivation request is already pending",
		}
	}

	err = ec.applyUpdate(ctx, entity.CollectionUsers, user.ID,
		map[string]any{
			"reactivationRequested":   true,
			"reactivationRequestedAt": e.now().UTC().Format(time.RFC3339Nano),
		},
		"users/reactivation/"+user.ID)
	if err != nil {
		return nil, err
	}

	if user.DisabledBy != "" {
		vars := map[string]string{"user": user.FullName}
		ec.notify(ctx, t, policy.RuleReactivationRequested, user.DisabledBy, vars)
	}
	return nil, nil
}

// fireReactivationRejected clears the pending flag. The requester is
// deliberately not notified.
func (e *Engine) fireReactivationRejected(ctx context.Context, ec *evalContext, t Trigger) ([]Trigger, error) {
	user, err := e.store.GetUser(ctx, t.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", t.UserID, err)
	}
	if !user.ReactivationRequested {
		return nil, nil
	}
	err = ec.applyUpdate(ctx, entity.CollectionUsers, user.ID,
		map[string]any{"reactivationRequested": false, "reactivationRequestedAt": nil},
		"users/reactivation/"+user.ID)
	if err != nil {
		return nil, err
	}
	return nil, nil
}
