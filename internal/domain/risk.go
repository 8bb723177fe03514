package domain

import "time"

// ============================================================
// Risk assessment
// ============================================================

// CheckStatus is the outcome of a single risk check.
type CheckStatus string

const (
	CheckChecking CheckStatus = "checking"
	CheckPassed   CheckStatus = "passed"
	CheckWarning  CheckStatus = "warning"
	CheckFailed   CheckStatus = "failed"
)

// Terminal reports whether the check has finished.
func (s CheckStatus) Terminal() bool {
	return s == CheckPassed || s == CheckWarning || s == CheckFailed
}

// RiskLevel is the aggregated verdict of an assessment.
type RiskLevel string

const (
	RiskSafe    RiskLevel = "safe"
	RiskWarning RiskLevel = "warning"
	RiskDanger  RiskLevel = "danger"
)

// RiskCheck is one named check result.
type RiskCheck struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
}

// RiskAssessment is computed fresh per draft and never mutated afterwards.
type RiskAssessment struct {
	ID               string      `json:"id"`
	Checks           []RiskCheck `json:"checks"`
	OverallStatus    RiskLevel   `json:"overallStatus"`
	AllowedToProceed bool        `json:"allowedToProceed"`
	Recommendation   string      `json:"recommendation"`
	AssessedAt       time.Time   `json:"assessedAt"`
}

// AggregateRisk folds check results into the overall verdict: any failed
// check is danger, any warning is warning, otherwise safe.
func AggregateRisk(checks []RiskCheck) RiskLevel {
	level := RiskSafe
	for _, c := range checks {
		switch c.Status {
		case CheckFailed:
			return RiskDanger
		case CheckWarning, CheckChecking:
			level = RiskWarning
		}
	}
	return level
}

// Recommendation returns the user-facing advice for a verdict.
func Recommendation(level RiskLevel) string {
	switch level {
	case RiskDanger:
		return "Do not send this transfer. Contact a family member before trying again."
	case RiskWarning:
		return "Please confirm the recipient with a family member before sending."
	default:
		return "Transfer looks safe."
	}
}

// ============================================================
// Account history (input of the risk checks)
// ============================================================

// HistoricalTransfer is a past executed transfer of the account holder.
type HistoricalTransfer struct {
	RecipientBank    string    `json:"recipientBank"`
	RecipientAccount string    `json:"recipientAccount"`
	Amount           Money     `json:"amount"`
	ExecutedAt       time.Time `json:"executedAt"`
}

// AccountHistory is what the risk checks know about the account holder.
type AccountHistory struct {
	AccountHolderID string               `json:"accountHolderId"`
	Transfers       []HistoricalTransfer `json:"transfers"`
	SafeAccounts    []SafeAccount        `json:"safeAccounts"`
}

// HasSent reports whether the holder already sent money to bank/account.
func (h *AccountHistory) HasSent(bank, account string) bool {
	if h == nil {
		return false
	}
	acct := NormalizeAccount(account)
	for _, t := range h.Transfers {
		if t.RecipientBank == bank && NormalizeAccount(t.RecipientAccount) == acct {
			return true
		}
	}
	return false
}

// SafeAccountFor returns the registered safe account for bank/account.
func (h *AccountHistory) SafeAccountFor(bank, account string) (SafeAccount, bool) {
	if h == nil {
		return SafeAccount{}, false
	}
	for _, s := range h.SafeAccounts {
		if s.Matches(bank, account) {
			return s, true
		}
	}
	return SafeAccount{}, false
}

// AmountsSince returns the amounts of transfers executed at or after since.
func (h *AccountHistory) AmountsSince(since time.Time) []Money {
	if h == nil {
		return nil
	}
	var out []Money
	for _, t := range h.Transfers {
		if !t.ExecutedAt.Before(since) {
			out = append(out, t.Amount)
		}
	}
	return out
}
