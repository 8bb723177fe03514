package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/port"
)

// ResolutionHandler is called once per request that reaches approved,
// rejected by a guardian, or expired. It runs outside the request lock.
type ResolutionHandler func(req domain.ApprovalRequest)

// ApprovalCoordinator tracks open approval requests and resolves them.
//
// Each request has its own mutex, so concurrent guardian responses on the
// same request are linearizable while different requests never contend.
// The deadline is enforced by one timer per request; SweepExpired is the
// periodic backstop.
type ApprovalCoordinator struct {
	mu       sync.RWMutex
	requests map[string]*approvalEntry

	ttl        time.Duration
	store      port.ApprovalStore
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
	onResolved ResolutionHandler
}

type approvalEntry struct {
	mu    sync.Mutex
	req   *domain.ApprovalRequest
	timer *time.Timer
}

// CoordinatorOption customizes an ApprovalCoordinator.
type CoordinatorOption func(*ApprovalCoordinator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *ApprovalCoordinator) { c.now = now }
}

// NewApprovalCoordinator creates a coordinator whose requests expire ttl
// after creation.
func NewApprovalCoordinator(store port.ApprovalStore, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger, opts ...CoordinatorOption) *ApprovalCoordinator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &ApprovalCoordinator{
		requests: make(map[string]*approvalEntry),
		ttl:      ttl,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnResolved registers the handler for resolved requests. Must be called
// before the first Create.
func (c *ApprovalCoordinator) OnResolved(h ResolutionHandler) {
	c.onResolved = h
}

// RequiredApprovers returns the active guardians with approvalRequired, or
// the active guardians that can approve when none is hard-required.
func RequiredApprovers(guardians []domain.Guardian) []string {
	var required, fallback []string
	for _, g := range guardians {
		if !g.Active {
			continue
		}
		if g.Permissions.ApprovalRequired {
			required = append(required, g.ID)
		}
		if g.Permissions.CanApprove {
			fallback = append(fallback, g.ID)
		}
	}
	if len(required) > 0 {
		return domain.SortedApprovers(required)
	}
	return domain.SortedApprovers(fallback)
}

// Create opens an approval request for draft and arms its deadline timer.
func (c *ApprovalCoordinator) Create(ctx context.Context, transferID string, draft domain.TransferDraft, guardians []domain.Guardian) (*domain.ApprovalRequest, error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.Create")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.id", transferID))

	required := RequiredApprovers(guardians)
	if len(required) == 0 {
		return nil, &domain.ErrNoApprovers{AccountHolderID: draft.AccountHolderID}
	}

	now := c.now()
	req := &domain.ApprovalRequest{
		ID:                uuid.NewString(),
		TransferID:        transferID,
		AccountHolderID:   draft.AccountHolderID,
		TransferDraft:     draft,
		CreatedAt:         now,
		ExpiresAt:         now.Add(c.ttl),
		Status:            domain.ApprovalPending,
		RequiredApprovals: required,
		ReceivedApprovals: make(map[string]domain.ReceivedApproval),
	}

	if err := c.store.SaveApproval(ctx, req); err != nil {
		c.logger.Error("failed to persist approval request",
			zap.String("transfer_id", transferID), zap.Error(err))
		return nil, err
	}

	entry := c.track(req)
	entry.mu.Lock()
	snapshot := entry.req.Clone()
	entry.mu.Unlock()

	c.logger.Info("approval request created",
		zap.String("request_id", req.ID),
		zap.String("transfer_id", transferID),
		zap.Strings("required_approvals", required),
		zap.Time("expires_at", req.ExpiresAt),
	)
	return snapshot, nil
}

// Restore reloads the pending requests of the store into the live set and
// re-arms their timers. Requests already past their deadline are expired
// through the resolution handler. Call it after OnResolved.
func (c *ApprovalCoordinator) Restore(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.Restore")
	defer span.End()

	pending, err := c.store.ListPendingApprovals(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range pending {
		entry := c.track(pending[i].Clone())
		if snapshot := c.expireEntry(ctx, entry); snapshot != nil {
			c.announce(snapshot, true)
			expired++
		}
	}

	span.SetAttributes(attribute.Int("restored", len(pending)), attribute.Int("expired", expired))
	c.logger.Info("approval requests restored",
		zap.Int("pending", len(pending)-expired),
		zap.Int("expired", expired),
	)
	return len(pending), nil
}

// RecordApproval records guardianID's approval. A repeated approval from
// the same guardian is a no-op.
func (c *ApprovalCoordinator) RecordApproval(ctx context.Context, requestID, guardianID string, method domain.ResponseMethod) (*domain.ApprovalRequest, error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.RecordApproval")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID), attribute.String("guardian.id", guardianID))

	if method == "" {
		method = domain.MethodApp
	}
	if !method.Valid() {
		return nil, &domain.ErrValidation{Field: "method", Message: "must be app, sms or call"}
	}

	return c.respond(ctx, requestID, guardianID, func(req *domain.ApprovalRequest, now time.Time) (changed, resolved bool) {
		if _, dup := req.ReceivedApprovals[guardianID]; dup {
			return false, false
		}
		req.ReceivedApprovals[guardianID] = domain.ReceivedApproval{ApprovedAt: now, Method: method}
		if req.FullyApproved() {
			resolve(req, domain.ApprovalApproved, now)
			return true, true
		}
		return true, false
	})
}

// RecordRejection vetoes the request on behalf of guardianID.
func (c *ApprovalCoordinator) RecordRejection(ctx context.Context, requestID, guardianID, reason string) (*domain.ApprovalRequest, error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.RecordRejection")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", requestID), attribute.String("guardian.id", guardianID))

	return c.respond(ctx, requestID, guardianID, func(req *domain.ApprovalRequest, now time.Time) (changed, resolved bool) {
		req.RejectedBy = guardianID
		req.RejectionReason = reason
		resolve(req, domain.ApprovalRejected, now)
		return true, true
	})
}

// respond applies mutate under the request lock after the shared
// preconditions. Failed preconditions leave the request untouched, except a
// request found past its deadline, which is expired first. Every change is
// persisted before the lock is released, so saves of one request land in
// the order they were made.
func (c *ApprovalCoordinator) respond(ctx context.Context, requestID, guardianID string, mutate func(*domain.ApprovalRequest, time.Time) (changed, resolved bool)) (*domain.ApprovalRequest, error) {
	entry, err := c.live(ctx, requestID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	now := c.now()
	req := entry.req

	if req.Status.Terminal() {
		status := req.Status
		entry.mu.Unlock()
		return nil, &domain.ErrRequestNotPending{RequestID: requestID, Status: status}
	}
	if !now.Before(req.ExpiresAt) {
		resolve(req, domain.ApprovalExpired, now)
		stopTimer(entry)
		snapshot := req.Clone()
		c.persist(ctx, snapshot)
		entry.mu.Unlock()
		c.announce(snapshot, true)
		return nil, &domain.ErrRequestNotPending{RequestID: requestID, Status: domain.ApprovalExpired}
	}
	if !req.Requires(guardianID) {
		entry.mu.Unlock()
		return nil, &domain.ErrUnknownGuardian{RequestID: requestID, GuardianID: guardianID}
	}

	changed, resolved := mutate(req, now)
	if resolved {
		stopTimer(entry)
	}
	snapshot := req.Clone()
	if changed {
		c.persist(ctx, snapshot)
	}
	entry.mu.Unlock()

	if resolved {
		c.announce(snapshot, true)
	}
	return snapshot, nil
}

// Withdraw resolves a pending request to rejected on the account holder's
// behalf. The resolution handler is not called; the caller owns the
// transfer's outcome.
func (c *ApprovalCoordinator) Withdraw(ctx context.Context, requestID, reason string) (*domain.ApprovalRequest, error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.Withdraw")
	defer span.End()

	entry, err := c.live(ctx, requestID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	req := entry.req
	if req.Status.Terminal() {
		status := req.Status
		entry.mu.Unlock()
		return nil, &domain.ErrRequestNotPending{RequestID: requestID, Status: status}
	}
	req.RejectionReason = reason
	resolve(req, domain.ApprovalRejected, c.now())
	stopTimer(entry)
	snapshot := req.Clone()
	c.persist(ctx, snapshot)
	entry.mu.Unlock()

	c.announce(snapshot, false)
	return snapshot, nil
}

// CheckStatus is a pure read. A pending request past its deadline reads as
// expired even before the timer or the sweep resolved it.
func (c *ApprovalCoordinator) CheckStatus(ctx context.Context, requestID string) (domain.ApprovalStatus, error) {
	entry, err := c.entry(requestID)
	if err != nil {
		stored, err := c.store.GetApproval(ctx, requestID)
		if err != nil {
			return "", err
		}
		return c.effectiveStatus(stored), nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return c.effectiveStatus(entry.req), nil
}

// Get returns a snapshot of a live request, falling back to the store for
// archived ones.
func (c *ApprovalCoordinator) Get(ctx context.Context, requestID string) (*domain.ApprovalRequest, error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.Get")
	defer span.End()

	if entry, err := c.entry(requestID); err == nil {
		entry.mu.Lock()
		snapshot := entry.req.Clone()
		snapshot.Status = c.effectiveStatus(entry.req)
		entry.mu.Unlock()
		return snapshot, nil
	}
	stored, err := c.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}
	stored.Status = c.effectiveStatus(stored)
	return stored, nil
}

// HasOpenRequests reports whether the account holder has a pending request
// that is still within its deadline.
func (c *ApprovalCoordinator) HasOpenRequests(accountHolderID string) bool {
	for _, entry := range c.snapshotEntries() {
		entry.mu.Lock()
		open := entry.req.AccountHolderID == accountHolderID && c.effectiveStatus(entry.req) == domain.ApprovalPending
		entry.mu.Unlock()
		if open {
			return true
		}
	}
	return false
}

// SweepExpired expires every pending request past its deadline and returns
// how many it resolved.
func (c *ApprovalCoordinator) SweepExpired(ctx context.Context) int {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.SweepExpired")
	defer span.End()

	n := 0
	for _, entry := range c.snapshotEntries() {
		if snapshot := c.expireEntry(ctx, entry); snapshot != nil {
			c.announce(snapshot, true)
			n++
		}
	}
	span.SetAttributes(attribute.Int("expired", n))
	return n
}

// Archive drops a terminal request from the live set. Later reads and
// responses are served from the store.
func (c *ApprovalCoordinator) Archive(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.requests[requestID]
	if !ok {
		return
	}
	entry.mu.Lock()
	terminal := entry.req.Status.Terminal()
	entry.mu.Unlock()
	if terminal {
		delete(c.requests, requestID)
	}
}

// Stop disarms every deadline timer. Pending requests are left pending.
func (c *ApprovalCoordinator) Stop() {
	for _, entry := range c.snapshotEntries() {
		entry.mu.Lock()
		stopTimer(entry)
		entry.mu.Unlock()
	}
}

// track adds req to the live set and arms its deadline timer. A request
// already tracked keeps its existing entry.
func (c *ApprovalCoordinator) track(req *domain.ApprovalRequest) *approvalEntry {
	c.mu.Lock()
	if existing, ok := c.requests[req.ID]; ok {
		c.mu.Unlock()
		return existing
	}
	entry := &approvalEntry{req: req}
	c.requests[req.ID] = entry
	entry.mu.Lock()
	c.mu.Unlock()

	// A request already past its deadline is expired by the caller.
	if wait := req.ExpiresAt.Sub(c.now()); wait > 0 {
		id := req.ID
		entry.timer = time.AfterFunc(wait, func() { c.expire(id) })
	}
	entry.mu.Unlock()
	return entry
}

// live returns the tracked entry for requestID. An untracked request is
// loaded from the store: a resolved one fails with RequestNotPending, a
// pending one is tracked again.
func (c *ApprovalCoordinator) live(ctx context.Context, requestID string) (*approvalEntry, error) {
	if entry, err := c.entry(requestID); err == nil {
		return entry, nil
	}
	stored, err := c.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if stored.Status.Terminal() {
		return nil, &domain.ErrRequestNotPending{RequestID: requestID, Status: stored.Status}
	}
	return c.track(stored), nil
}

func (c *ApprovalCoordinator) expire(requestID string) {
	entry, err := c.entry(requestID)
	if err != nil {
		return
	}
	if snapshot := c.expireEntry(context.Background(), entry); snapshot != nil {
		c.announce(snapshot, true)
	}
}

func (c *ApprovalCoordinator) expireEntry(ctx context.Context, entry *approvalEntry) *domain.ApprovalRequest {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := c.now()
	if entry.req.Status != domain.ApprovalPending || now.Before(entry.req.ExpiresAt) {
		return nil
	}
	resolve(entry.req, domain.ApprovalExpired, now)
	stopTimer(entry)
	snapshot := entry.req.Clone()
	c.persist(ctx, snapshot)
	return snapshot
}

// persist saves a snapshot. Callers hold the entry lock.
func (c *ApprovalCoordinator) persist(ctx context.Context, req *domain.ApprovalRequest) {
	if err := c.store.SaveApproval(ctx, req); err != nil {
		c.logger.Error("failed to persist approval request",
			zap.String("request_id", req.ID),
			zap.String("status", string(req.Status)),
			zap.Error(err),
		)
	}
}

// announce records a resolution and hands it to the resolution handler.
func (c *ApprovalCoordinator) announce(req *domain.ApprovalRequest, notify bool) {
	c.metrics.IncrApprovalResolved(req.Status)
	c.logger.Info("approval request resolved",
		zap.String("request_id", req.ID),
		zap.String("transfer_id", req.TransferID),
		zap.String("status", string(req.Status)),
		zap.String("rejected_by", req.RejectedBy),
	)

	if notify && c.onResolved != nil {
		c.onResolved(*req)
	}
}

func (c *ApprovalCoordinator) effectiveStatus(req *domain.ApprovalRequest) domain.ApprovalStatus {
	if req.Status == domain.ApprovalPending && !c.now().Before(req.ExpiresAt) {
		return domain.ApprovalExpired
	}
	return req.Status
}

func (c *ApprovalCoordinator) entry(requestID string) (*approvalEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.requests[requestID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "approval_request", ID: requestID}
	}
	return entry, nil
}

func (c *ApprovalCoordinator) snapshotEntries() []*approvalEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*approvalEntry, 0, len(c.requests))
	for _, e := range c.requests {
		out = append(out, e)
	}
	return out
}

func resolve(req *domain.ApprovalRequest, status domain.ApprovalStatus, at time.Time) {
	req.Status = status
	req.ResolvedAt = &at
}

func stopTimer(entry *approvalEntry) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
}
