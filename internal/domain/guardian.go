package domain

import "time"

// ============================================================
// Guardians (family members with oversight permissions)
// ============================================================

// GuardianPermissions are the delegated rights of a guardian.
type GuardianPermissions struct {
	CanApprove       bool `json:"canApprove"`
	CanSetLimit      bool `json:"canSetLimit"`
	CanReceiveAlert  bool `json:"canReceiveAlert"`
	CanViewBalance   bool `json:"canViewBalance"`
	ApprovalRequired bool `json:"approvalRequired"`
}

// DefaultGuardianPermissions grants everything, as new family members get
// when registered.
func DefaultGuardianPermissions() GuardianPermissions {
	return GuardianPermissions{
		CanApprove:       true,
		CanSetLimit:      true,
		CanReceiveAlert:  true,
		CanViewBalance:   true,
		ApprovalRequired: true,
	}
}

// ContactInfo is how a guardian is reached.
type ContactInfo struct {
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Guardian belongs to exactly one account holder.
type Guardian struct {
	ID              string              `json:"id"`
	AccountHolderID string              `json:"accountHolderId"`
	Name            string              `json:"name"`
	Relationship    Relationship        `json:"relationship"`
	Contact         ContactInfo         `json:"contact"`
	Permissions     GuardianPermissions `json:"permissions"`
	Active          bool                `json:"active"`
	RegisteredAt    time.Time           `json:"registeredAt"`
}

// AddGuardianRequest is the payload to register a guardian.
type AddGuardianRequest struct {
	Name         string               `json:"name"`
	Relationship Relationship         `json:"relationship"`
	Phone        string               `json:"phone"`
	Email        string               `json:"email,omitempty"`
	Permissions  *GuardianPermissions `json:"permissions,omitempty"`
}

// ============================================================
// Safe accounts (trusted recipients)
// ============================================================

// SafeAccount is a recipient account the account holder registered as
// trusted. Relationship, when set, selects the per-relationship limit.
type SafeAccount struct {
	ID              string       `json:"id"`
	AccountHolderID string       `json:"accountHolderId"`
	Nickname        string       `json:"nickname"`
	BankName        string       `json:"bankName"`
	AccountNumber   string       `json:"accountNumber"`
	HolderName      string       `json:"holderName"`
	Relationship    Relationship `json:"relationship,omitempty"`
	IsFavorite      bool         `json:"isFavorite"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// Matches reports whether the safe account points at bank/account.
func (s SafeAccount) Matches(bank, account string) bool {
	return NormalizeAccount(s.AccountNumber) == NormalizeAccount(account) && s.BankName == bank
}
