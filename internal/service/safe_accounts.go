package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/port"
)

// SafeAccountRegistry manages the trusted recipients of account holders.
type SafeAccountRegistry struct {
	mu     sync.Mutex
	store  port.SafeAccountStore
	logger *zap.Logger
	now    func() time.Time
}

// NewSafeAccountRegistry creates the registry.
func NewSafeAccountRegistry(store port.SafeAccountStore, logger *zap.Logger) *SafeAccountRegistry {
	return &SafeAccountRegistry{store: store, logger: logger, now: time.Now}
}

// List returns the holder's safe accounts.
func (r *SafeAccountRegistry) List(ctx context.Context, accountHolderID string) ([]domain.SafeAccount, error) {
	ctx, span := tracer.Start(ctx, "SafeAccountRegistry.List")
	defer span.End()
	span.SetAttributes(attribute.String("account_holder.id", accountHolderID))

	return r.store.ListSafeAccounts(ctx, accountHolderID)
}

// Add registers a trusted recipient. The same bank/account pair cannot be
// registered twice.
func (r *SafeAccountRegistry) Add(ctx context.Context, accountHolderID string, in domain.SafeAccount) (*domain.SafeAccount, error) {
	ctx, span := tracer.Start(ctx, "SafeAccountRegistry.Add")
	defer span.End()

	in.BankName = strings.TrimSpace(in.BankName)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	switch {
	case in.BankName == "":
		return nil, &domain.ErrValidation{Field: "bankName", Message: "required"}
	case in.AccountNumber == "":
		return nil, &domain.ErrValidation{Field: "accountNumber", Message: "required"}
	case in.Relationship != "" && !in.Relationship.Valid():
		return nil, &domain.ErrValidation{Field: "relationship", Message: "unknown relationship " + string(in.Relationship)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.ListSafeAccounts(ctx, accountHolderID)
	if err != nil {
		return nil, err
	}
	for _, s := range existing {
		if s.Matches(in.BankName, in.AccountNumber) {
			return nil, &domain.ErrValidation{Field: "accountNumber", Message: "safe account already registered"}
		}
	}

	in.ID = uuid.NewString()
	in.AccountHolderID = accountHolderID
	in.CreatedAt = r.now()
	if in.Nickname == "" {
		in.Nickname = in.HolderName
	}
	if err := r.store.CreateSafeAccount(ctx, &in); err != nil {
		return nil, err
	}

	r.logger.Info("safe account registered",
		zap.String("account_holder_id", accountHolderID),
		zap.String("safe_account_id", in.ID),
	)
	return &in, nil
}

// Remove deletes a safe account of the holder.
func (r *SafeAccountRegistry) Remove(ctx context.Context, accountHolderID, safeAccountID string) error {
	ctx, span := tracer.Start(ctx, "SafeAccountRegistry.Remove")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.DeleteSafeAccount(ctx, accountHolderID, safeAccountID)
}
