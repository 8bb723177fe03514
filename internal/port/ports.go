// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// GuardianStore persists the guardians of every account holder.
type GuardianStore interface {
	ListGuardians(ctx context.Context, accountHolderID string) ([]domain.Guardian, error)
	GetGuardian(ctx context.Context, guardianID string) (*domain.Guardian, error)
	CreateGuardian(ctx context.Context, g *domain.Guardian) error
	UpdateGuardian(ctx context.Context, g *domain.Guardian) error
	DeleteGuardian(ctx context.Context, guardianID string) error
}

// LimitConfigStore persists the active LimitConfig per account holder.
// GetLimitConfig returns (nil, nil) when none was ever saved.
type LimitConfigStore interface {
	GetLimitConfig(ctx context.Context, accountHolderID string) (*domain.LimitConfig, error)
	SaveLimitConfig(ctx context.Context, cfg *domain.LimitConfig) error
}

// SafeAccountStore persists trusted recipients.
type SafeAccountStore interface {
	ListSafeAccounts(ctx context.Context, accountHolderID string) ([]domain.SafeAccount, error)
	CreateSafeAccount(ctx context.Context, s *domain.SafeAccount) error
	DeleteSafeAccount(ctx context.Context, accountHolderID, safeAccountID string) error
}

// TransferStore persists transfer audit records. SaveTransfer upserts.
type TransferStore interface {
	SaveTransfer(ctx context.Context, rec *domain.TransferRecord) error
	GetTransfer(ctx context.Context, transferID string) (*domain.TransferRecord, error)
	ListTransfers(ctx context.Context, accountHolderID string) ([]domain.TransferRecord, error)
}

// ApprovalStore persists approval requests. SaveApproval upserts but must
// leave a resolved request untouched.
type ApprovalStore interface {
	SaveApproval(ctx context.Context, req *domain.ApprovalRequest) error
	GetApproval(ctx context.Context, requestID string) (*domain.ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context) ([]domain.ApprovalRequest, error)
}

// HistoryFetcher retrieves past executed transfers of an account holder.
type HistoryFetcher interface {
	GetTransferHistory(ctx context.Context, accountHolderID string, since time.Time) ([]domain.HistoricalTransfer, error)
}

// FraudRegistry answers whether a recipient account was reported as fraud.
type FraudRegistry interface {
	IsReported(ctx context.Context, bank, account string) (bool, error)
}

// SpendTracker keeps the per-day cumulative spend of each account holder.
type SpendTracker interface {
	DailySpend(ctx context.Context, accountHolderID string, day time.Time) (domain.Money, error)
	AddSpend(ctx context.Context, accountHolderID string, day time.Time, amount domain.Money) (domain.Money, error)
}

// EventPublisher delivers workflow events to the settlement and
// notification collaborators.
type EventPublisher interface {
	PublishExecution(ctx context.Context, ev *domain.ExecutionEvent) error
	PublishApprovalRequested(ctx context.Context, n *domain.ApprovalNotification) error
	PublishRiskAlert(ctx context.Context, a *domain.RiskAlert) error
}
