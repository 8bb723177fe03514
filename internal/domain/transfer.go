package domain

import (
	"strings"
	"time"
)

// ============================================================
// Transfer drafts
// ============================================================

// TransferInput is the structured result of OCR or manual entry. Bank and
// account format are the entry collaborator's responsibility.
type TransferInput struct {
	Bank          string `json:"bank"`
	AccountNumber string `json:"accountNumber"`
	Amount        Money  `json:"amount"`
	RecipientName string `json:"recipientName,omitempty"`
}

// TransferDraft is immutable once submitted.
type TransferDraft struct {
	ID               string    `json:"id"`
	AccountHolderID  string    `json:"accountHolderId"`
	RecipientBank    string    `json:"recipientBank"`
	RecipientAccount string    `json:"recipientAccount"`
	RecipientName    string    `json:"recipientName,omitempty"`
	Amount           Money     `json:"amount"`
	RequestedAt      time.Time `json:"requestedAt"`
}

// NormalizeAccount strips separators so "12345-6" and "123456" compare equal.
func NormalizeAccount(account string) string {
	var b strings.Builder
	for _, r := range account {
		if r == '-' || r == '.' || r == ' ' || r == '/' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ============================================================
// Transfer state machine
// ============================================================

// TransferState is a state of the per-transfer workflow.
type TransferState string

const (
	StateDraft           TransferState = "draft"
	StateLimitEvaluated  TransferState = "limit_evaluated"
	StateRiskAssessed    TransferState = "risk_assessed"
	StateCleared         TransferState = "cleared"
	StatePendingApproval TransferState = "pending_approval"
	StateBlocked         TransferState = "blocked"
	StateExecuted        TransferState = "executed"
	StateCancelled       TransferState = "cancelled"
	StateExpired         TransferState = "expired"
)

var transferTransitions = map[TransferState][]TransferState{
	StateDraft:           {StateLimitEvaluated, StateCancelled},
	StateLimitEvaluated:  {StateRiskAssessed, StateCancelled},
	StateRiskAssessed:    {StateCleared, StatePendingApproval, StateBlocked},
	StateCleared:         {StateExecuted, StateCancelled},
	StatePendingApproval: {StateExecuted, StateCancelled, StateExpired},
	StateBlocked:         {StateExecuted},
}

// CanTransition reports whether the workflow allows from -> to.
func CanTransition(from, to TransferState) bool {
	for _, next := range transferTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible. Blocked is
// terminal for automatic processing; only an explicit override leaves it.
func (s TransferState) Terminal() bool {
	switch s {
	case StateExecuted, StateCancelled, StateExpired:
		return true
	}
	return false
}

// TransferRecord is the durable audit record of one transfer.
type TransferRecord struct {
	DraftID           string              `json:"draftId"`
	AccountHolderID   string              `json:"accountHolderId"`
	Amount            Money               `json:"amount"`
	RecipientBank     string              `json:"recipientBank"`
	RecipientAccount  string              `json:"recipientAccount"`
	RecipientName     string              `json:"recipientName,omitempty"`
	State             TransferState       `json:"state"`
	LimitCheck        *TransferLimitCheck `json:"limitCheck,omitempty"`
	RiskAssessment    *RiskAssessment     `json:"riskAssessment,omitempty"`
	ApprovalRequestID string              `json:"approvalRequestId,omitempty"`
	StatusReason      string              `json:"statusReason,omitempty"`
	Overridden        bool                `json:"overridden"`
	RequestedAt       time.Time           `json:"requestedAt"`
	BlockedAt         *time.Time          `json:"blockedAt,omitempty"`
	ExecutedAt        *time.Time          `json:"executedAt,omitempty"`
	CancelledAt       *time.Time          `json:"cancelledAt,omitempty"`
	ExpiredAt         *time.Time          `json:"expiredAt,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// Draft rebuilds the submitted draft from the record.
func (r *TransferRecord) Draft() TransferDraft {
	return TransferDraft{
		ID:               r.DraftID,
		AccountHolderID:  r.AccountHolderID,
		RecipientBank:    r.RecipientBank,
		RecipientAccount: r.RecipientAccount,
		RecipientName:    r.RecipientName,
		Amount:           r.Amount,
		RequestedAt:      r.RequestedAt,
	}
}

// OverrideRequest is the payload of the cooling-off override.
type OverrideRequest struct {
	AcknowledgedAssessmentID string `json:"acknowledgedAssessmentId"`
}

// ============================================================
// Outbound events
// ============================================================

// ExecutionEvent is handed to the settlement collaborator.
type ExecutionEvent struct {
	TransferDraftID string              `json:"transferDraftId"`
	AccountHolderID string              `json:"accountHolderId"`
	FinalStatus     string              `json:"finalStatus"`
	Amount          Money               `json:"amount"`
	RiskAssessment  *RiskAssessment     `json:"riskAssessment"`
	LimitCheck      *TransferLimitCheck `json:"limitCheck"`
	Overridden      bool                `json:"overridden"`
	ExecutedAt      time.Time           `json:"executedAt"`
}

// ApprovalNotification is sent once per required guardian.
type ApprovalNotification struct {
	RequestID         string    `json:"requestId"`
	GuardianID        string    `json:"guardianId"`
	RequiredApprovals []string  `json:"requiredApprovals"`
	ExpiresAt         time.Time `json:"expiresAt"`
	Amount            Money     `json:"amount"`
	RecipientName     string    `json:"recipientName,omitempty"`
}

// RiskAlert tells an alert-enabled guardian that a transfer was blocked.
type RiskAlert struct {
	TransferDraftID string          `json:"transferDraftId"`
	AccountHolderID string          `json:"accountHolderId"`
	GuardianID      string          `json:"guardianId"`
	Amount          Money           `json:"amount"`
	RecipientName   string          `json:"recipientName,omitempty"`
	RiskAssessment  *RiskAssessment `json:"riskAssessment"`
	BlockedAt       time.Time       `json:"blockedAt"`
}
