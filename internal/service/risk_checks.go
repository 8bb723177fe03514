package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/port"
)

// Check names as reported on assessments.
const (
	CheckAccountValidation = "account_validation"
	CheckFraud             = "fraud_check"
	CheckAnomaly           = "anomaly_detection"
)

// ============================================================
// Account validity
// ============================================================

// AccountValidityCheck fails recipients whose bank is unknown, whose
// account number is missing or that are on the deny list.
type AccountValidityCheck struct {
	knownBanks map[string]bool
	denied     map[string]bool
}

// NewAccountValidityCheck builds the check. An empty bank directory accepts
// every bank. Deny list entries are "bank:account" pairs or a bare account
// number that is denied at any bank.
func NewAccountValidityCheck(knownBanks, denyList []string) *AccountValidityCheck {
	c := &AccountValidityCheck{knownBanks: map[string]bool{}, denied: map[string]bool{}}
	for _, b := range knownBanks {
		c.knownBanks[strings.ToLower(strings.TrimSpace(b))] = true
	}
	for _, d := range denyList {
		bank, account, ok := strings.Cut(d, ":")
		if !ok {
			c.denied[denyKey("", bank)] = true
			continue
		}
		c.denied[denyKey(bank, account)] = true
	}
	return c
}

func denyKey(bank, account string) string {
	return strings.ToLower(strings.TrimSpace(bank)) + ":" + domain.NormalizeAccount(strings.TrimSpace(account))
}

func (c *AccountValidityCheck) Name() string { return CheckAccountValidation }

func (c *AccountValidityCheck) Run(_ context.Context, draft domain.TransferDraft, _ *domain.AccountHistory) (domain.CheckStatus, string, error) {
	if strings.TrimSpace(draft.RecipientAccount) == "" {
		return domain.CheckFailed, "Recipient account number is missing", nil
	}
	if len(c.knownBanks) > 0 && !c.knownBanks[strings.ToLower(strings.TrimSpace(draft.RecipientBank))] {
		return domain.CheckFailed, fmt.Sprintf("Bank %q could not be found", draft.RecipientBank), nil
	}
	if c.denied[denyKey(draft.RecipientBank, draft.RecipientAccount)] || c.denied[denyKey("", draft.RecipientAccount)] {
		return domain.CheckFailed, "Recipient account is blocked", nil
	}
	return domain.CheckPassed, "Recipient account is valid", nil
}

// ============================================================
// Fraud pattern
// ============================================================

// FraudPatternCheck fails recipients reported to the fraud registry and
// warns on first-time recipients that are not safe accounts.
type FraudPatternCheck struct {
	registry port.FraudRegistry
}

// NewFraudPatternCheck builds the check. A nil registry skips the lookup.
func NewFraudPatternCheck(registry port.FraudRegistry) *FraudPatternCheck {
	return &FraudPatternCheck{registry: registry}
}

func (c *FraudPatternCheck) Name() string { return CheckFraud }

func (c *FraudPatternCheck) Run(ctx context.Context, draft domain.TransferDraft, history *domain.AccountHistory) (domain.CheckStatus, string, error) {
	if c.registry != nil {
		reported, err := c.registry.IsReported(ctx, draft.RecipientBank, draft.RecipientAccount)
		if err != nil {
			return "", "", err
		}
		if reported {
			return domain.CheckFailed, "Recipient account was reported for fraud", nil
		}
	}
	if _, safe := history.SafeAccountFor(draft.RecipientBank, draft.RecipientAccount); safe {
		return domain.CheckPassed, "Recipient is a registered safe account", nil
	}
	if !history.HasSent(draft.RecipientBank, draft.RecipientAccount) {
		return domain.CheckWarning, "First transfer to this recipient", nil
	}
	return domain.CheckPassed, "No fraud reports for this recipient", nil
}

// ============================================================
// Anomaly
// ============================================================

// AnomalyCheck warns when the amount is far above the account's usual
// transfers in the trailing window.
type AnomalyCheck struct {
	multiplier int
	window     time.Duration
	threshold  domain.Money
}

// NewAnomalyCheck builds the check. A zero threshold disables the absolute
// amount rule.
func NewAnomalyCheck(multiplier int, window time.Duration, threshold domain.Money) *AnomalyCheck {
	if multiplier <= 0 {
		multiplier = 3
	}
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &AnomalyCheck{multiplier: multiplier, window: window, threshold: threshold}
}

func (c *AnomalyCheck) Name() string { return CheckAnomaly }

func (c *AnomalyCheck) Run(_ context.Context, draft domain.TransferDraft, history *domain.AccountHistory) (domain.CheckStatus, string, error) {
	if c.threshold > 0 && draft.Amount >= c.threshold {
		return domain.CheckWarning, fmt.Sprintf("Amount is at or above %d", c.threshold), nil
	}

	amounts := history.AmountsSince(draft.RequestedAt.Add(-c.window))
	if len(amounts) == 0 {
		return domain.CheckPassed, "No recent history to compare", nil
	}
	median := medianOf(amounts)
	if draft.Amount > domain.Money(c.multiplier)*median {
		return domain.CheckWarning, fmt.Sprintf("Amount is more than %dx your usual transfer", c.multiplier), nil
	}
	return domain.CheckPassed, "Amount is in your usual range", nil
}

func medianOf(amounts []domain.Money) domain.Money {
	sorted := append([]domain.Money(nil), amounts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// DefaultRiskChecks returns the reference policy in pipeline order.
func DefaultRiskChecks(validity *AccountValidityCheck, fraud *FraudPatternCheck, anomaly *AnomalyCheck) []RiskCheck {
	return []RiskCheck{validity, fraud, anomaly}
}
