package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

// ============================================================
// Transfer records & approval requests
// ============================================================

type transferRow struct {
	DraftID           string                     `json:"draft_id"`
	AccountHolderID   string                     `json:"account_holder_id"`
	Amount            domain.Money               `json:"amount"`
	RecipientBank     string                     `json:"recipient_bank"`
	RecipientAccount  string                     `json:"recipient_account"`
	RecipientName     string                     `json:"recipient_name"`
	State             domain.TransferState       `json:"state"`
	LimitCheck        *domain.TransferLimitCheck `json:"limit_check"`
	RiskAssessment    *domain.RiskAssessment     `json:"risk_assessment"`
	ApprovalRequestID string                     `json:"approval_request_id"`
	StatusReason      string                     `json:"status_reason"`
	Overridden        bool                       `json:"overridden"`
	RequestedAt       time.Time                  `json:"requested_at"`
	BlockedAt         *time.Time                 `json:"blocked_at"`
	ExecutedAt        *time.Time                 `json:"executed_at"`
	CancelledAt       *time.Time                 `json:"cancelled_at"`
	ExpiredAt         *time.Time                 `json:"expired_at"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

func (r transferRow) toDomain() domain.TransferRecord {
	return domain.TransferRecord{
		DraftID:           r.DraftID,
		AccountHolderID:   r.AccountHolderID,
		Amount:            r.Amount,
		RecipientBank:     r.RecipientBank,
		RecipientAccount:  r.RecipientAccount,
		RecipientName:     r.RecipientName,
		State:             r.State,
		LimitCheck:        r.LimitCheck,
		RiskAssessment:    r.RiskAssessment,
		ApprovalRequestID: r.ApprovalRequestID,
		StatusReason:      r.StatusReason,
		Overridden:        r.Overridden,
		RequestedAt:       r.RequestedAt,
		BlockedAt:         r.BlockedAt,
		ExecutedAt:        r.ExecutedAt,
		CancelledAt:       r.CancelledAt,
		ExpiredAt:         r.ExpiredAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// SaveTransfer upserts the record keyed by draft id.
func (c *Client) SaveTransfer(ctx context.Context, rec *domain.TransferRecord) error {
	ctx, span := tracer.Start(ctx, "Supabase.SaveTransfer")
	defer span.End()

	data := map[string]any{
		"draft_id":            rec.DraftID,
		"account_holder_id":   rec.AccountHolderID,
		"amount":              rec.Amount,
		"recipient_bank":      rec.RecipientBank,
		"recipient_account":   rec.RecipientAccount,
		"recipient_name":      rec.RecipientName,
		"state":               rec.State,
		"limit_check":         rec.LimitCheck,
		"risk_assessment":     rec.RiskAssessment,
		"approval_request_id": rec.ApprovalRequestID,
		"status_reason":       rec.StatusReason,
		"overridden":          rec.Overridden,
		"requested_at":        rec.RequestedAt,
		"blocked_at":          rec.BlockedAt,
		"executed_at":         rec.ExecutedAt,
		"cancelled_at":        rec.CancelledAt,
		"expired_at":          rec.ExpiredAt,
		"created_at":          rec.CreatedAt,
		"updated_at":          rec.UpdatedAt,
	}
	return wrapErr("transfer_records", c.doUpsert(ctx, "transfer_records", data))
}

func (c *Client) GetTransfer(ctx context.Context, transferID string) (*domain.TransferRecord, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetTransfer")
	defer span.End()

	path := fmt.Sprintf("transfer_records?draft_id=eq.%s&limit=1", url.QueryEscape(transferID))
	var rows []transferRow
	if err := c.query(ctx, "transfer_records", path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "transfer", ID: transferID}
	}
	rec := rows[0].toDomain()
	return &rec, nil
}

// ListTransfers returns the holder's records, newest first.
func (c *Client) ListTransfers(ctx context.Context, accountHolderID string) ([]domain.TransferRecord, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListTransfers")
	defer span.End()

	path := fmt.Sprintf("transfer_records?account_holder_id=eq.%s&order=created_at.desc&limit=100", url.QueryEscape(accountHolderID))
	var rows []transferRow
	if err := c.query(ctx, "transfer_records", path, &rows); err != nil {
		return nil, err
	}

	out := make([]domain.TransferRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

type approvalRow struct {
	ID                string                             `json:"id"`
	TransferID        string                             `json:"transfer_id"`
	AccountHolderID   string                             `json:"account_holder_id"`
	TransferDraft     domain.TransferDraft               `json:"transfer_draft"`
	CreatedAt         time.Time                          `json:"created_at"`
	ExpiresAt         time.Time                          `json:"expires_at"`
	Status            domain.ApprovalStatus              `json:"status"`
	RequiredApprovals []string                           `json:"required_approvals"`
	ReceivedApprovals map[string]domain.ReceivedApproval `json:"received_approvals"`
	RejectedBy        string                             `json:"rejected_by"`
	RejectionReason   string                             `json:"rejection_reason"`
	ResolvedAt        *time.Time                         `json:"resolved_at"`
}

func (r approvalRow) toDomain() *domain.ApprovalRequest {
	req := &domain.ApprovalRequest{
		ID:                r.ID,
		TransferID:        r.TransferID,
		AccountHolderID:   r.AccountHolderID,
		TransferDraft:     r.TransferDraft,
		CreatedAt:         r.CreatedAt,
		ExpiresAt:         r.ExpiresAt,
		Status:            r.Status,
		RequiredApprovals: r.RequiredApprovals,
		ReceivedApprovals: r.ReceivedApprovals,
		RejectedBy:        r.RejectedBy,
		RejectionReason:   r.RejectionReason,
		ResolvedAt:        r.ResolvedAt,
	}
	if req.ReceivedApprovals == nil {
		req.ReceivedApprovals = map[string]domain.ReceivedApproval{}
	}
	return req
}

// SaveApproval updates the request while it is still pending and inserts
// it when it does not exist yet. A resolved row is never rewritten.
func (c *Client) SaveApproval(ctx context.Context, req *domain.ApprovalRequest) error {
	ctx, span := tracer.Start(ctx, "Supabase.SaveApproval")
	defer span.End()

	data := map[string]any{
		"id":                 req.ID,
		"transfer_id":        req.TransferID,
		"account_holder_id":  req.AccountHolderID,
		"transfer_draft":     req.TransferDraft,
		"created_at":         req.CreatedAt,
		"expires_at":         req.ExpiresAt,
		"status":             req.Status,
		"required_approvals": req.RequiredApprovals,
		"received_approvals": req.ReceivedApprovals,
		"rejected_by":        req.RejectedBy,
		"rejection_reason":   req.RejectionReason,
		"resolved_at":        req.ResolvedAt,
	}

	path := fmt.Sprintf("approval_requests?id=eq.%s&status=eq.%s", url.QueryEscape(req.ID), domain.ApprovalPending)
	body, err := c.doPatchReturning(ctx, path, data)
	if err != nil {
		return wrapErr("approval_requests", err)
	}
	var updated []approvalRow
	if len(body) > 0 {
		if err := json.Unmarshal(body, &updated); err != nil {
			return wrapErr("approval_requests", err)
		}
	}
	if len(updated) > 0 {
		return nil
	}
	return wrapErr("approval_requests", c.doInsertIgnore(ctx, "approval_requests", data))
}

func (c *Client) GetApproval(ctx context.Context, requestID string) (*domain.ApprovalRequest, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetApproval")
	defer span.End()

	path := fmt.Sprintf("approval_requests?id=eq.%s&limit=1", url.QueryEscape(requestID))
	var rows []approvalRow
	if err := c.query(ctx, "approval_requests", path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "approval_request", ID: requestID}
	}
	return rows[0].toDomain(), nil
}

func (c *Client) ListPendingApprovals(ctx context.Context) ([]domain.ApprovalRequest, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListPendingApprovals")
	defer span.End()

	path := fmt.Sprintf("approval_requests?status=eq.%s&order=expires_at.asc", domain.ApprovalPending)
	var rows []approvalRow
	if err := c.query(ctx, "approval_requests", path, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.ApprovalRequest, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toDomain())
	}
	return out, nil
}

// parseTimestamp accepts both RFC3339 timestamps and plain dates.
func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	if t.IsZero() {
		t, _ = time.Parse("2006-01-02", s)
	}
	return t
}
