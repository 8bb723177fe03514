package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/service"
)

type stubCheck struct {
	name   string
	status domain.CheckStatus
	err    error
	block  bool
}

func (s *stubCheck) Name() string { return s.name }

func (s *stubCheck) Run(ctx context.Context, _ domain.TransferDraft, _ *domain.AccountHistory) (domain.CheckStatus, string, error) {
	if s.block {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	return s.status, s.name + " done", s.err
}

func newAssessor(timeout time.Duration, checks ...service.RiskCheck) *service.RiskAssessor {
	return service.NewRiskAssessor(checks, timeout, resilience.NewBulkhead(4), observability.NewMetrics(), zap.NewNop())
}

func TestAssess_Aggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []domain.CheckStatus
		expected domain.RiskLevel
		allowed  bool
	}{
		{"all passed", []domain.CheckStatus{domain.CheckPassed, domain.CheckPassed}, domain.RiskSafe, true},
		{"one warning", []domain.CheckStatus{domain.CheckPassed, domain.CheckWarning}, domain.RiskWarning, true},
		{"failed beats warning", []domain.CheckStatus{domain.CheckWarning, domain.CheckFailed}, domain.RiskDanger, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var checks []service.RiskCheck
			for i, s := range tt.statuses {
				checks = append(checks, &stubCheck{name: string(rune('a' + i)), status: s})
			}
			got := newAssessor(time.Second, checks...).Assess(context.Background(), draftAt(100, 10), nil)

			if got.OverallStatus != tt.expected || got.AllowedToProceed != tt.allowed {
				t.Errorf("expected %s/%v, got %s/%v", tt.expected, tt.allowed, got.OverallStatus, got.AllowedToProceed)
			}
			if got.ID == "" || got.Recommendation == "" {
				t.Errorf("expected id and recommendation, got %+v", got)
			}
		})
	}
}

func TestAssess_KeepsCheckOrderAndFreshIDs(t *testing.T) {
	a := newAssessor(time.Second,
		&stubCheck{name: "first", status: domain.CheckPassed},
		&stubCheck{name: "second", status: domain.CheckPassed},
		&stubCheck{name: "third", status: domain.CheckPassed},
	)
	one := a.Assess(context.Background(), draftAt(100, 10), nil)
	two := a.Assess(context.Background(), draftAt(100, 10), nil)

	for i, name := range []string{"first", "second", "third"} {
		if one.Checks[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, one.Checks[i].Name)
		}
	}
	if one.ID == two.ID {
		t.Error("re-assessment must produce a new id")
	}
}

func TestAssess_UnavailableCheckBecomesWarning(t *testing.T) {
	a := newAssessor(50*time.Millisecond,
		&stubCheck{name: "slow", block: true},
		&stubCheck{name: "broken", err: errors.New("registry down")},
		&stubCheck{name: "ok", status: domain.CheckPassed},
	)

	start := time.Now()
	got := a.Assess(context.Background(), draftAt(100, 10), nil)
	if time.Since(start) > time.Second {
		t.Fatalf("assessment not bounded by check timeout")
	}

	if got.OverallStatus != domain.RiskWarning {
		t.Fatalf("expected warning, got %s", got.OverallStatus)
	}
	for _, c := range got.Checks[:2] {
		if c.Status != domain.CheckWarning {
			t.Errorf("%s: expected warning, got %s", c.Name, c.Status)
		}
	}
	for _, c := range got.Checks {
		if !c.Status.Terminal() {
			t.Errorf("%s left in non-terminal status %s", c.Name, c.Status)
		}
	}
}

func TestAccountValidityCheck(t *testing.T) {
	c := service.NewAccountValidityCheck([]string{"001", "237"}, []string{"237:999-1", "55555"})

	tests := []struct {
		name    string
		bank    string
		account string
		want    domain.CheckStatus
	}{
		{"known bank", "001", "12345", domain.CheckPassed},
		{"unknown bank", "999", "12345", domain.CheckFailed},
		{"missing account", "001", " ", domain.CheckFailed},
		{"denied pair", "237", "9991", domain.CheckFailed},
		{"denied pair other bank", "001", "999-1", domain.CheckPassed},
		{"denied everywhere", "001", "55555", domain.CheckFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := draftAt(100, 10)
			d.RecipientBank, d.RecipientAccount = tt.bank, tt.account
			got, _, err := c.Run(context.Background(), d, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFraudPatternCheck(t *testing.T) {
	registry := &mockFraudRegistry{reported: map[string]bool{"001:666": true}}
	c := service.NewFraudPatternCheck(registry)
	history := &domain.AccountHistory{
		Transfers:    []domain.HistoricalTransfer{{RecipientBank: "001", RecipientAccount: "111-1"}},
		SafeAccounts: []domain.SafeAccount{{BankName: "001", AccountNumber: "222"}},
	}

	tests := []struct {
		name    string
		account string
		want    domain.CheckStatus
	}{
		{"reported", "666", domain.CheckFailed},
		{"seen before", "1111", domain.CheckPassed},
		{"safe account", "222", domain.CheckPassed},
		{"first time", "333", domain.CheckWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := draftAt(100, 10)
			d.RecipientAccount = tt.account
			got, _, err := c.Run(context.Background(), d, history)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	registry.err = errors.New("timeout")
	if _, _, err := c.Run(context.Background(), draftAt(100, 10), history); err == nil {
		t.Error("expected registry error to surface")
	}
}

func TestAnomalyCheck(t *testing.T) {
	now := draftAt(0, 10).RequestedAt
	history := &domain.AccountHistory{Transfers: []domain.HistoricalTransfer{
		{Amount: 100_000, ExecutedAt: now.Add(-24 * time.Hour)},
		{Amount: 200_000, ExecutedAt: now.Add(-48 * time.Hour)},
		{Amount: 300_000, ExecutedAt: now.Add(-72 * time.Hour)},
		{Amount: 9_000_000, ExecutedAt: now.Add(-60 * 24 * time.Hour)}, // outside window
	}}

	tests := []struct {
		name      string
		amount    domain.Money
		threshold domain.Money
		history   *domain.AccountHistory
		want      domain.CheckStatus
	}{
		{"within 3x median", 600_000, 0, history, domain.CheckPassed},
		{"above 3x median", 600_001, 0, history, domain.CheckWarning},
		{"no history", 50_000_000, 0, nil, domain.CheckPassed},
		{"absolute threshold", 500_000, 500_000, history, domain.CheckWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := service.NewAnomalyCheck(3, 30*24*time.Hour, tt.threshold)
			got, _, err := c.Run(context.Background(), draftAt(tt.amount, 10), tt.history)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
