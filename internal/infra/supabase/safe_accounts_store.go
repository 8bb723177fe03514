package supabase

import (
	"context"
	"fmt"
	"net/url"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

// ============================================================
// Safe accounts store: list, create, delete
// ============================================================

type safeAccountRow struct {
	ID              string              `json:"id"`
	AccountHolderID string              `json:"account_holder_id"`
	Nickname        string              `json:"nickname"`
	BankName        string              `json:"bank_name"`
	AccountNumber   string              `json:"account_number"`
	HolderName      string              `json:"holder_name"`
	Relationship    domain.Relationship `json:"relationship"`
	IsFavorite      bool                `json:"is_favorite"`
	CreatedAt       string              `json:"created_at"`
}

func (c *Client) ListSafeAccounts(ctx context.Context, accountHolderID string) ([]domain.SafeAccount, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSafeAccounts")
	defer span.End()

	path := fmt.Sprintf("safe_accounts?account_holder_id=eq.%s&order=created_at.asc", url.QueryEscape(accountHolderID))
	var rows []safeAccountRow
	if err := c.query(ctx, "safe_accounts", path, &rows); err != nil {
		return nil, err
	}

	out := make([]domain.SafeAccount, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.SafeAccount{
			ID:              r.ID,
			AccountHolderID: r.AccountHolderID,
			Nickname:        r.Nickname,
			BankName:        r.BankName,
			AccountNumber:   r.AccountNumber,
			HolderName:      r.HolderName,
			Relationship:    r.Relationship,
			IsFavorite:      r.IsFavorite,
			CreatedAt:       parseTimestamp(r.CreatedAt),
		})
	}
	return out, nil
}

func (c *Client) CreateSafeAccount(ctx context.Context, a *domain.SafeAccount) error {
	ctx, span := tracer.Start(ctx, "Supabase.CreateSafeAccount")
	defer span.End()

	data := map[string]any{
		"id":                a.ID,
		"account_holder_id": a.AccountHolderID,
		"nickname":          a.Nickname,
		"bank_name":         a.BankName,
		"account_number":    a.AccountNumber,
		"holder_name":       a.HolderName,
		"relationship":      a.Relationship,
		"is_favorite":       a.IsFavorite,
		"created_at":        a.CreatedAt,
	}
	_, err := c.doPost(ctx, "safe_accounts", data)
	return wrapErr("safe_accounts", err)
}

// DeleteSafeAccount only removes rows owned by accountHolderID.
func (c *Client) DeleteSafeAccount(ctx context.Context, accountHolderID, safeAccountID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteSafeAccount")
	defer span.End()

	path := fmt.Sprintf("safe_accounts?id=eq.%s&account_holder_id=eq.%s&limit=1",
		url.QueryEscape(safeAccountID), url.QueryEscape(accountHolderID))
	var rows []safeAccountRow
	if err := c.query(ctx, "safe_accounts", path, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return &domain.ErrNotFound{Resource: "safe_account", ID: safeAccountID}
	}

	path = fmt.Sprintf("safe_accounts?id=eq.%s&account_holder_id=eq.%s",
		url.QueryEscape(safeAccountID), url.QueryEscape(accountHolderID))
	return wrapErr("safe_accounts", c.doDelete(ctx, path))
}
