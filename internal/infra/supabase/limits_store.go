package supabase

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

// ============================================================
// Limit configs store: one row per account holder
// ============================================================

type limitConfigRow struct {
	AccountHolderID     string                               `json:"account_holder_id"`
	BaseLimit           domain.Money                         `json:"base_limit"`
	LimitByRelationship map[domain.Relationship]domain.Money `json:"limit_by_relationship"`
	LimitByTimeOfDay    map[domain.TimeBand]domain.Money     `json:"limit_by_time_of_day"`
	LastUpdated         time.Time                            `json:"last_updated"`
}

// GetLimitConfig returns nil without error when the holder never saved one.
func (c *Client) GetLimitConfig(ctx context.Context, accountHolderID string) (*domain.LimitConfig, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetLimitConfig")
	defer span.End()

	path := fmt.Sprintf("limit_configs?account_holder_id=eq.%s&limit=1", url.QueryEscape(accountHolderID))
	var rows []limitConfigRow
	if err := c.query(ctx, "limit_configs", path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	r := rows[0]
	cfg := &domain.LimitConfig{
		AccountHolderID:     r.AccountHolderID,
		BaseLimit:           r.BaseLimit,
		LimitByRelationship: r.LimitByRelationship,
		LimitByTimeOfDay:    r.LimitByTimeOfDay,
		LastUpdated:         r.LastUpdated,
	}
	if cfg.LimitByRelationship == nil {
		cfg.LimitByRelationship = map[domain.Relationship]domain.Money{}
	}
	if cfg.LimitByTimeOfDay == nil {
		cfg.LimitByTimeOfDay = map[domain.TimeBand]domain.Money{}
	}
	return cfg, nil
}

func (c *Client) SaveLimitConfig(ctx context.Context, cfg *domain.LimitConfig) error {
	ctx, span := tracer.Start(ctx, "Supabase.SaveLimitConfig")
	defer span.End()

	data := map[string]any{
		"account_holder_id":     cfg.AccountHolderID,
		"base_limit":            cfg.BaseLimit,
		"limit_by_relationship": cfg.LimitByRelationship,
		"limit_by_time_of_day":  cfg.LimitByTimeOfDay,
		"last_updated":          cfg.LastUpdated,
	}
	return wrapErr("limit_configs", c.doUpsert(ctx, "limit_configs", data))
}
