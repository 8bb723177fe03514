package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/service"
)

func draftAt(amount domain.Money, hour int) domain.TransferDraft {
	return domain.TransferDraft{
		ID:               "draft-1",
		AccountHolderID:  "holder-1",
		RecipientBank:    "001",
		RecipientAccount: "12345-6",
		Amount:           amount,
		RequestedAt:      time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateLimit_NightBandWins(t *testing.T) {
	cfg := &domain.LimitConfig{
		BaseLimit:        5_000_000,
		LimitByTimeOfDay: map[domain.TimeBand]domain.Money{domain.TimeBandNight: 1_000_000},
	}

	got, err := service.EvaluateLimit(draftAt(2_000_000, 2), cfg, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.EffectiveLimit != 1_000_000 {
		t.Errorf("expected ceiling 1000000, got %d", got.EffectiveLimit)
	}
	if !got.RequiresApproval || got.WithinLimit {
		t.Errorf("expected approval to be required, got %+v", got)
	}
	// remaining = ceiling - spend; the amount does not consume it
	if got.RemainingDailyLimit != 1_000_000 {
		t.Errorf("expected remaining 1000000, got %d", got.RemainingDailyLimit)
	}
	if got.AppliedRule != "time_of_day:night" {
		t.Errorf("unexpected rule %q", got.AppliedRule)
	}
}

func TestEvaluateLimit_NightBandWithFullSpend(t *testing.T) {
	cfg := &domain.LimitConfig{
		BaseLimit:        5_000_000,
		LimitByTimeOfDay: map[domain.TimeBand]domain.Money{domain.TimeBandNight: 1_000_000},
	}

	got, err := service.EvaluateLimit(draftAt(2_000_000, 2), cfg, "", 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if got.RemainingDailyLimit != 0 || !got.RequiresApproval {
		t.Errorf("expected remaining 0 and approval, got %+v", got)
	}
}

func TestEvaluateLimit_MostRestrictiveWins(t *testing.T) {
	cfg := domain.DefaultLimitConfig("holder-1")

	tests := []struct {
		name     string
		rel      domain.Relationship
		hour     int
		expected domain.Money
		rule     string
	}{
		{"high relationship limit capped by base", domain.RelationshipSpouse, 10, 5_000_000, "base"},
		{"caregiver below evening", domain.RelationshipCaregiver, 20, 500_000, "relationship:caregiver"},
		{"night below sibling", domain.RelationshipSibling, 3, 1_000_000, "time_of_day:night"},
		{"no relationship in evening", "", 19, 3_000_000, "time_of_day:evening"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := service.EvaluateLimit(draftAt(100, tt.hour), cfg, tt.rel, 0)
			if err != nil {
				t.Fatal(err)
			}
			if got.EffectiveLimit != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got.EffectiveLimit)
			}
			if got.AppliedRule != tt.rule {
				t.Errorf("expected rule %q, got %q", tt.rule, got.AppliedRule)
			}
		})
	}
}

func TestEvaluateLimit_Deterministic(t *testing.T) {
	cfg := domain.DefaultLimitConfig("holder-1")
	d := draftAt(4_000_000, 14)

	first, _ := service.EvaluateLimit(d, cfg, domain.RelationshipChild, 500_000)
	for i := 0; i < 20; i++ {
		again, _ := service.EvaluateLimit(d, cfg, domain.RelationshipChild, 500_000)
		if again != first {
			t.Fatalf("evaluation %d differs: %+v vs %+v", i, again, first)
		}
	}
}

func TestEvaluateLimit_MonotonicInSpend(t *testing.T) {
	cfg := domain.DefaultLimitConfig("holder-1")
	d := draftAt(2_000_000, 9)

	required := false
	for spend := domain.Money(0); spend <= 6_000_000; spend += 250_000 {
		got, err := service.EvaluateLimit(d, cfg, "", spend)
		if err != nil {
			t.Fatal(err)
		}
		if required && !got.RequiresApproval {
			t.Fatalf("approval requirement dropped at spend %d", spend)
		}
		required = got.RequiresApproval
	}
	if !required {
		t.Fatal("expected approval once spend exhausts the limit")
	}
}

func TestEvaluateLimit_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *domain.LimitConfig
		rel  domain.Relationship
	}{
		{"negative base", &domain.LimitConfig{BaseLimit: -1}, ""},
		{"unknown band", &domain.LimitConfig{BaseLimit: 10, LimitByTimeOfDay: map[domain.TimeBand]domain.Money{"dawn": 5}}, ""},
		{"unknown relationship key", &domain.LimitConfig{BaseLimit: 10, LimitByRelationship: map[domain.Relationship]domain.Money{"friend": 5}}, ""},
		{"negative relationship value", &domain.LimitConfig{BaseLimit: 10, LimitByRelationship: map[domain.Relationship]domain.Money{domain.RelationshipChild: -5}}, ""},
		{"unknown recipient relationship", domain.DefaultLimitConfig("h"), "neighbor"},
		{"nil config", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.EvaluateLimit(draftAt(1, 10), tt.cfg, tt.rel, 0)
			var invalid *domain.ErrInvalidConfig
			if !errors.As(err, &invalid) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestEvaluateLimit_WithinLimit(t *testing.T) {
	got, err := service.EvaluateLimit(draftAt(3_000_000, 10), domain.DefaultLimitConfig("h"), "", 1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if !got.WithinLimit || got.RequiresApproval {
		t.Errorf("expected within limit, got %+v", got)
	}
	if got.RemainingDailyLimit != 4_000_000 {
		t.Errorf("expected remaining 4000000, got %d", got.RemainingDailyLimit)
	}
}
