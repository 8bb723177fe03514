package supabase

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

// ============================================================
// Guardians store: list, get, create, update, delete
// ============================================================

type guardianRow struct {
	ID               string              `json:"id"`
	AccountHolderID  string              `json:"account_holder_id"`
	Name             string              `json:"name"`
	Relationship     domain.Relationship `json:"relationship"`
	Phone            string              `json:"phone"`
	Email            string              `json:"email"`
	CanApprove       bool                `json:"can_approve"`
	CanSetLimit      bool                `json:"can_set_limit"`
	CanReceiveAlert  bool                `json:"can_receive_alert"`
	CanViewBalance   bool                `json:"can_view_balance"`
	ApprovalRequired bool                `json:"approval_required"`
	Active           bool                `json:"active"`
	RegisteredAt     time.Time           `json:"registered_at"`
}

func (r guardianRow) toDomain() domain.Guardian {
	return domain.Guardian{
		ID:              r.ID,
		AccountHolderID: r.AccountHolderID,
		Name:            r.Name,
		Relationship:    r.Relationship,
		Contact:         domain.ContactInfo{Phone: r.Phone, Email: r.Email},
		Permissions: domain.GuardianPermissions{
			CanApprove:       r.CanApprove,
			CanSetLimit:      r.CanSetLimit,
			CanReceiveAlert:  r.CanReceiveAlert,
			CanViewBalance:   r.CanViewBalance,
			ApprovalRequired: r.ApprovalRequired,
		},
		Active:       r.Active,
		RegisteredAt: r.RegisteredAt,
	}
}

func guardianColumns(g *domain.Guardian) map[string]any {
	return map[string]any{
		"name":              g.Name,
		"relationship":      g.Relationship,
		"phone":             g.Contact.Phone,
		"email":             g.Contact.Email,
		"can_approve":       g.Permissions.CanApprove,
		"can_set_limit":     g.Permissions.CanSetLimit,
		"can_receive_alert": g.Permissions.CanReceiveAlert,
		"can_view_balance":  g.Permissions.CanViewBalance,
		"approval_required": g.Permissions.ApprovalRequired,
		"active":            g.Active,
	}
}

func (c *Client) ListGuardians(ctx context.Context, accountHolderID string) ([]domain.Guardian, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListGuardians")
	defer span.End()

	path := fmt.Sprintf("guardians?account_holder_id=eq.%s&order=registered_at.asc", url.QueryEscape(accountHolderID))
	var rows []guardianRow
	if err := c.query(ctx, "guardians", path, &rows); err != nil {
		return nil, err
	}

	out := make([]domain.Guardian, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (c *Client) GetGuardian(ctx context.Context, guardianID string) (*domain.Guardian, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetGuardian")
	defer span.End()

	path := fmt.Sprintf("guardians?id=eq.%s&limit=1", url.QueryEscape(guardianID))
	var rows []guardianRow
	if err := c.query(ctx, "guardians", path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "guardian", ID: guardianID}
	}
	g := rows[0].toDomain()
	return &g, nil
}

func (c *Client) CreateGuardian(ctx context.Context, g *domain.Guardian) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateGuardian")
	defer span.End()

	data := guardianColumns(g)
	data["id"] = g.ID
	data["account_holder_id"] = g.AccountHolderID
	data["registered_at"] = g.RegisteredAt

	_, err := c.doPost(ctx, "guardians", data)
	return wrapErr("guardians", err)
}

func (c *Client) UpdateGuardian(ctx context.Context, g *domain.Guardian) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateGuardian")
	defer span.End()

	path := fmt.Sprintf("guardians?id=eq.%s", url.QueryEscape(g.ID))
	return wrapErr("guardians", c.doPatch(ctx, path, guardianColumns(g)))
}

func (c *Client) DeleteGuardian(ctx context.Context, guardianID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteGuardian")
	defer span.End()

	path := fmt.Sprintf("guardians?id=eq.%s", url.QueryEscape(guardianID))
	return wrapErr("guardians", c.doDelete(ctx, path))
}
