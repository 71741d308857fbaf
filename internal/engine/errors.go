package engine

import (
	"errors"
	"fmt"
)

// ViolationCode categorizes rule violations.
type ViolationCode string

const (
	// ViolationAlreadyActive: reactivation requested for an active account.
	ViolationAlreadyActive ViolationCode = "ALREADY_ACTIVE"

	// ViolationAlreadyPending: a reactivation request is already pending.
	ViolationAlreadyPending ViolationCode = "REACTIVATION_PENDING"

	// ViolationUnknownTrigger: the trigger kind has no rule.
	ViolationUnknownTrigger ViolationCode = "UNKNOWN_TRIGGER"

	// ViolationInvalidTrigger: the trigger is missing required fields.
	ViolationInvalidTrigger ViolationCode = "INVALID_TRIGGER"
)

// RuleViolationError is a cascade precondition failure. It propagates
// synchronously to the caller of Evaluate as a user-facing rejection and
// is never retried.
type RuleViolationError struct {
	Code    ViolationCode
	Kind    TriggerKind
	Subject string
	Message string
}

// Error implements the error interface.
func (e *RuleViolationError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s (trigger=%s, subject=%s)", e.Code, e.Message, e.Kind, e.Subject)
	}
	return fmt.Sprintf("%s: %s (trigger=%s)", e.Code, e.Message, e.Kind)
}

// IsRuleViolation reports whether err is a RuleViolationError.
// Uses errors.As to handle wrapped errors.
func IsRuleViolation(err error) bool {
	var rv *RuleViolationError
	return errors.As(err, &rv)
}

// QuotaError is returned when a flow exceeds its step quota. Unlike the
// firing memo, which skips individual repeat firings, exceeding the
// quota terminates the whole flow.
type QuotaError struct {
	FlowToken string
	Steps     int
	Limit     int
}

// Error implements the error interface.
func (e *QuotaError) Error() string {
	return fmt.Sprintf("flow %s exceeded step quota: %d steps > %d limit",
		e.FlowToken, e.Steps, e.Limit)
}

// IsQuotaError reports whether err is a QuotaError.
// Uses errors.As to handle wrapped errors.
func IsQuotaError(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}
