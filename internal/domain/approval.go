package domain

import (
	"sort"
	"time"
)

// ============================================================
// Guardian approval requests
// ============================================================

// ApprovalStatus is the lifecycle state of an ApprovalRequest. Transitions
// only go from pending to one of the terminal states.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Terminal reports whether the status is final.
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalPending
}

// ResponseMethod is the channel a guardian answered through.
type ResponseMethod string

const (
	MethodApp  ResponseMethod = "app"
	MethodSMS  ResponseMethod = "sms"
	MethodCall ResponseMethod = "call"
)

// Valid reports whether m is a known method.
func (m ResponseMethod) Valid() bool {
	return m == MethodApp || m == MethodSMS || m == MethodCall
}

// ReceivedApproval records one guardian's approval.
type ReceivedApproval struct {
	ApprovedAt time.Time      `json:"approvedAt"`
	Method     ResponseMethod `json:"method"`
}

// ApprovalRequest gates a transfer on its required guardians.
type ApprovalRequest struct {
	ID                string                      `json:"id"`
	TransferID        string                      `json:"transferId"`
	AccountHolderID   string                      `json:"accountHolderId"`
	TransferDraft     TransferDraft               `json:"transferDraft"`
	CreatedAt         time.Time                   `json:"createdAt"`
	ExpiresAt         time.Time                   `json:"expiresAt"`
	Status            ApprovalStatus              `json:"status"`
	RequiredApprovals []string                    `json:"requiredApprovals"`
	ReceivedApprovals map[string]ReceivedApproval `json:"receivedApprovals"`
	RejectedBy        string                      `json:"rejectedBy,omitempty"`
	RejectionReason   string                      `json:"rejectionReason,omitempty"`
	ResolvedAt        *time.Time                  `json:"resolvedAt,omitempty"`
}

// Requires reports whether guardianID is one of the required approvers.
func (r *ApprovalRequest) Requires(guardianID string) bool {
	for _, id := range r.RequiredApprovals {
		if id == guardianID {
			return true
		}
	}
	return false
}

// FullyApproved reports whether every required guardian approved.
func (r *ApprovalRequest) FullyApproved() bool {
	for _, id := range r.RequiredApprovals {
		if _, ok := r.ReceivedApprovals[id]; !ok {
			return false
		}
	}
	return len(r.RequiredApprovals) > 0
}

// Clone returns a copy that shares no mutable state with r.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	out := *r
	out.RequiredApprovals = append([]string(nil), r.RequiredApprovals...)
	out.ReceivedApprovals = make(map[string]ReceivedApproval, len(r.ReceivedApprovals))
	for k, v := range r.ReceivedApprovals {
		out.ReceivedApprovals[k] = v
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// SortedApprovers returns the required approver ids in a stable order.
func SortedApprovers(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

// Decision is a guardian's answer.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// GuardianResponse is the input of a guardian answering a request.
type GuardianResponse struct {
	RequestID  string         `json:"requestId"`
	GuardianID string         `json:"guardianId"`
	Decision   Decision       `json:"decision"`
	Method     ResponseMethod `json:"method"`
	Reason     string         `json:"reason,omitempty"`
}

// ApprovalStatusView is returned by the status read.
type ApprovalStatusView struct {
	RequestID string         `json:"requestId"`
	Status    ApprovalStatus `json:"status"`
	ExpiresAt time.Time      `json:"expiresAt"`
}
