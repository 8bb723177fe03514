package domain

import (
	"fmt"
	"time"
)

// Error types for consistent error handling across the BFA.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrForbidden indicates the caller lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ============================================================
// Transfer workflow errors
// ============================================================

// ErrInvalidConfig indicates a malformed LimitConfig. The configuration is
// rejected before use.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid limit config [%s]: %s", e.Field, e.Reason)
}

// ErrUnknownGuardian indicates a guardian answered a request it is not
// required on.
type ErrUnknownGuardian struct {
	RequestID  string
	GuardianID string
}

func (e *ErrUnknownGuardian) Error() string {
	return fmt.Sprintf("guardian %s is not a required approver of request %s", e.GuardianID, e.RequestID)
}

// ErrRequestNotPending indicates a response arrived after the approval
// request was resolved.
type ErrRequestNotPending struct {
	RequestID string
	Status    ApprovalStatus
}

func (e *ErrRequestNotPending) Error() string {
	return fmt.Sprintf("approval request %s is not pending: %s", e.RequestID, e.Status)
}

// ErrDuplicateGuardian indicates an active guardian with the same name and
// phone already exists.
type ErrDuplicateGuardian struct {
	Name  string
	Phone string
}

func (e *ErrDuplicateGuardian) Error() string {
	return fmt.Sprintf("guardian already registered: %s (%s)", e.Name, e.Phone)
}

// ErrLastApproverRemoval indicates the change would leave open approval
// requests without any hard-required guardian.
type ErrLastApproverRemoval struct {
	GuardianID string
}

func (e *ErrLastApproverRemoval) Error() string {
	return fmt.Sprintf("guardian %s is the last required approver while approvals are pending", e.GuardianID)
}

// ErrRiskCheckUnavailable indicates a risk check could not complete. It is
// recorded as a warning on the assessment, never returned to callers.
type ErrRiskCheckUnavailable struct {
	Check string
	Err   error
}

func (e *ErrRiskCheckUnavailable) Error() string {
	return fmt.Sprintf("risk check %s unavailable: %v", e.Check, e.Err)
}

func (e *ErrRiskCheckUnavailable) Unwrap() error {
	return e.Err
}

// ErrInvalidTransition indicates a transfer state change that the workflow
// does not allow.
type ErrInvalidTransition struct {
	TransferID string
	From       TransferState
	To         TransferState
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("transfer %s cannot move from %s to %s", e.TransferID, e.From, e.To)
}

// ErrCoolingOffActive indicates an override was attempted before the
// mandatory delay elapsed.
type ErrCoolingOffActive struct {
	TransferID string
	Remaining  time.Duration
}

func (e *ErrCoolingOffActive) Error() string {
	return fmt.Sprintf("cooling-off active for transfer %s: %s remaining", e.TransferID, e.Remaining.Round(time.Millisecond))
}

// ErrNoApprovers indicates approval was needed but no active guardian can
// approve.
type ErrNoApprovers struct {
	AccountHolderID string
}

func (e *ErrNoApprovers) Error() string {
	return fmt.Sprintf("no eligible approvers for account holder %s", e.AccountHolderID)
}
