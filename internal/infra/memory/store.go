// Package memory provides in-process implementations of the persistence
// ports for local development and tests. Every read returns a copy.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

// Store implements the guardian, limit, safe account, transfer and approval
// stores.
type Store struct {
	mu           sync.RWMutex
	guardians    map[string]domain.Guardian
	limits       map[string]*domain.LimitConfig
	safeAccounts map[string]domain.SafeAccount
	transfers    map[string]domain.TransferRecord
	approvals    map[string]*domain.ApprovalRequest
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		guardians:    make(map[string]domain.Guardian),
		limits:       make(map[string]*domain.LimitConfig),
		safeAccounts: make(map[string]domain.SafeAccount),
		transfers:    make(map[string]domain.TransferRecord),
		approvals:    make(map[string]*domain.ApprovalRequest),
	}
}

// --- Guardians ---

func (s *Store) ListGuardians(_ context.Context, accountHolderID string) ([]domain.Guardian, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Guardian, 0)
	for _, g := range s.guardians {
		if g.AccountHolderID == accountHolderID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (s *Store) GetGuardian(_ context.Context, guardianID string) (*domain.Guardian, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.guardians[guardianID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "guardian", ID: guardianID}
	}
	return &g, nil
}

func (s *Store) CreateGuardian(_ context.Context, g *domain.Guardian) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.guardians[g.ID] = *g
	return nil
}

func (s *Store) UpdateGuardian(_ context.Context, g *domain.Guardian) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.guardians[g.ID]; !ok {
		return &domain.ErrNotFound{Resource: "guardian", ID: g.ID}
	}
	s.guardians[g.ID] = *g
	return nil
}

func (s *Store) DeleteGuardian(_ context.Context, guardianID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.guardians[guardianID]; !ok {
		return &domain.ErrNotFound{Resource: "guardian", ID: guardianID}
	}
	delete(s.guardians, guardianID)
	return nil
}

// --- Limit configs ---

func (s *Store) GetLimitConfig(_ context.Context, accountHolderID string) (*domain.LimitConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.limits[accountHolderID].Clone(), nil
}

func (s *Store) SaveLimitConfig(_ context.Context, cfg *domain.LimitConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.limits[cfg.AccountHolderID] = cfg.Clone()
	return nil
}

// --- Safe accounts ---

func (s *Store) ListSafeAccounts(_ context.Context, accountHolderID string) ([]domain.SafeAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SafeAccount, 0)
	for _, a := range s.safeAccounts {
		if a.AccountHolderID == accountHolderID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateSafeAccount(_ context.Context, a *domain.SafeAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.safeAccounts[a.ID] = *a
	return nil
}

func (s *Store) DeleteSafeAccount(_ context.Context, accountHolderID, safeAccountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.safeAccounts[safeAccountID]
	if !ok || a.AccountHolderID != accountHolderID {
		return &domain.ErrNotFound{Resource: "safe_account", ID: safeAccountID}
	}
	delete(s.safeAccounts, safeAccountID)
	return nil
}

// --- Transfers ---

func (s *Store) SaveTransfer(_ context.Context, rec *domain.TransferRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transfers[rec.DraftID] = *rec
	return nil
}

func (s *Store) GetTransfer(_ context.Context, transferID string) (*domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.transfers[transferID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transfer", ID: transferID}
	}
	return &rec, nil
}

func (s *Store) ListTransfers(_ context.Context, accountHolderID string) ([]domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TransferRecord, 0)
	for _, rec := range s.transfers {
		if rec.AccountHolderID == accountHolderID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- Approvals ---

// SaveApproval upserts the request. A resolved request is never rewritten.
func (s *Store) SaveApproval(_ context.Context, req *domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.approvals[req.ID]; ok && prev.Status.Terminal() {
		return nil
	}
	s.approvals[req.ID] = req.Clone()
	return nil
}

func (s *Store) GetApproval(_ context.Context, requestID string) (*domain.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.approvals[requestID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "approval_request", ID: requestID}
	}
	return req.Clone(), nil
}

func (s *Store) ListPendingApprovals(_ context.Context) ([]domain.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ApprovalRequest, 0)
	for _, req := range s.approvals {
		if req.Status == domain.ApprovalPending {
			out = append(out, *req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// ============================================================
// Daily spend
// ============================================================

// SpendTracker keeps daily spend counters in a mutex-guarded map.
type SpendTracker struct {
	mu     sync.Mutex
	totals map[string]domain.Money
}

// NewSpendTracker creates an empty tracker.
func NewSpendTracker() *SpendTracker {
	return &SpendTracker{totals: make(map[string]domain.Money)}
}

// DayKey identifies one holder's calendar day in day's location.
func DayKey(accountHolderID string, day time.Time) string {
	return accountHolderID + ":" + day.Format("2006-01-02")
}

func (t *SpendTracker) DailySpend(_ context.Context, accountHolderID string, day time.Time) (domain.Money, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.totals[DayKey(accountHolderID, day)], nil
}

func (t *SpendTracker) AddSpend(_ context.Context, accountHolderID string, day time.Time, amount domain.Money) (domain.Money, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := DayKey(accountHolderID, day)
	t.totals[key] += amount
	return t.totals[key], nil
}
