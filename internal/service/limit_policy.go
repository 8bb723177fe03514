package service

import (
	"fmt"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

// EvaluateLimit resolves the effective ceiling for draft and the remaining
// daily allowance. The most restrictive applicable rule wins: base limit,
// the recipient relationship limit and the limit of the draft's time band.
// An empty relationship means the recipient has none on file.
//
// EvaluateLimit is pure: identical inputs always give identical output.
func EvaluateLimit(draft domain.TransferDraft, cfg *domain.LimitConfig, rel domain.Relationship, dailySpend domain.Money) (domain.TransferLimitCheck, error) {
	if err := cfg.Validate(); err != nil {
		return domain.TransferLimitCheck{}, err
	}
	if rel != "" && !rel.Valid() {
		return domain.TransferLimitCheck{}, &domain.ErrInvalidConfig{Field: "relationship", Reason: "unknown relationship " + string(rel)}
	}
	if draft.Amount < 0 {
		return domain.TransferLimitCheck{}, &domain.ErrValidation{Field: "amount", Message: "must not be negative"}
	}
	if dailySpend < 0 {
		dailySpend = 0
	}

	ceiling, rule := cfg.BaseLimit, "base"
	if v, ok := cfg.LimitByRelationship[rel]; ok && rel != "" && v < ceiling {
		ceiling, rule = v, fmt.Sprintf("relationship:%s", rel)
	}
	band := domain.BandOf(draft.RequestedAt)
	if v, ok := cfg.LimitByTimeOfDay[band]; ok && v < ceiling {
		ceiling, rule = v, fmt.Sprintf("time_of_day:%s", band)
	}
	if ceiling < 0 {
		return domain.TransferLimitCheck{}, &domain.ErrInvalidConfig{Field: "effectiveCeiling", Reason: "must not be negative"}
	}

	remaining := ceiling - dailySpend
	if remaining < 0 {
		remaining = 0
	}
	requiresApproval := draft.Amount > remaining || draft.Amount > ceiling

	return domain.TransferLimitCheck{
		WithinLimit:         !requiresApproval,
		RemainingDailyLimit: remaining,
		RequiresApproval:    requiresApproval,
		EffectiveLimit:      ceiling,
		AppliedRule:         rule,
	}, nil
}
