package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

func TestLimitService_DefaultsAndSnapshots(t *testing.T) {
	f := newFixture(5 * time.Minute)
	ctx := context.Background()

	cfg, err := f.limits.Get(ctx, "holder-1")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseLimit != 5_000_000 || cfg.LimitByRelationship[domain.RelationshipCaregiver] != 500_000 {
		t.Fatalf("expected default config, got %+v", cfg)
	}

	cfg.BaseLimit = 1
	again, _ := f.limits.Get(ctx, "holder-1")
	if again.BaseLimit != 5_000_000 {
		t.Error("mutating a snapshot leaked into the active config")
	}
}

func TestLimitService_UpdateRejectsInvalid(t *testing.T) {
	f := newFixture(5 * time.Minute)
	ctx := context.Background()

	bad := domain.DefaultLimitConfig("holder-1")
	bad.LimitByTimeOfDay["dusk"] = 10

	_, err := f.limits.Update(ctx, "holder-1", bad)
	var invalid *domain.ErrInvalidConfig
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	cfg, _ := f.limits.Get(ctx, "holder-1")
	if _, ok := cfg.LimitByTimeOfDay["dusk"]; ok {
		t.Error("invalid config must not be applied")
	}
}

func TestLimitService_UpdateSetsOwnerAndTimestamp(t *testing.T) {
	f := newFixture(5 * time.Minute)
	ctx := context.Background()

	next := &domain.LimitConfig{AccountHolderID: "someone-else", BaseLimit: 2_000_000}
	saved, err := f.limits.Update(ctx, "holder-1", next)
	if err != nil {
		t.Fatal(err)
	}
	if saved.AccountHolderID != "holder-1" || saved.LastUpdated.IsZero() {
		t.Errorf("unexpected saved config %+v", saved)
	}

	stored, _ := f.store.GetLimitConfig(ctx, "holder-1")
	if stored.BaseLimit != 2_000_000 {
		t.Errorf("expected stored base 2000000, got %d", stored.BaseLimit)
	}
}

func TestSafeAccountRegistry_AddAndRemove(t *testing.T) {
	f := newFixture(5 * time.Minute)
	ctx := context.Background()

	sa, err := f.safe.Add(ctx, "holder-1", domain.SafeAccount{BankName: "001", AccountNumber: "12-3", HolderName: "Maria"})
	if err != nil {
		t.Fatal(err)
	}
	if sa.Nickname != "Maria" {
		t.Errorf("expected nickname to default to holder name, got %q", sa.Nickname)
	}

	_, err = f.safe.Add(ctx, "holder-1", domain.SafeAccount{BankName: "001", AccountNumber: "123"})
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Errorf("expected duplicate to fail validation, got %v", err)
	}

	if err := f.safe.Remove(ctx, "holder-2", sa.ID); err == nil {
		t.Error("expected other holder removal to fail")
	}
	if err := f.safe.Remove(ctx, "holder-1", sa.ID); err != nil {
		t.Fatal(err)
	}
	list, _ := f.safe.List(ctx, "holder-1")
	if len(list) != 0 {
		t.Errorf("expected empty list, got %d", len(list))
	}
}
