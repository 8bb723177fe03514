package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/cache"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/memory"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/port"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/service"
)

// --- Mocks ---

type mockFraudRegistry struct {
	reported map[string]bool
	err      error
	delay    time.Duration
}

func (m *mockFraudRegistry) IsReported(ctx context.Context, bank, account string) (bool, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return m.reported[bank+":"+account], m.err
}

type recordingEvents struct {
	mu            sync.Mutex
	executions    []domain.ExecutionEvent
	notifications []domain.ApprovalNotification
	alerts        []domain.RiskAlert
}

func (r *recordingEvents) PublishExecution(_ context.Context, ev *domain.ExecutionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions = append(r.executions, *ev)
	return nil
}

func (r *recordingEvents) PublishApprovalRequested(_ context.Context, n *domain.ApprovalNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, *n)
	return nil
}

func (r *recordingEvents) PublishRiskAlert(_ context.Context, a *domain.RiskAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, *a)
	return nil
}

func (r *recordingEvents) counts() (executions, notifications, alerts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.executions), len(r.notifications), len(r.alerts)
}

// flakyTransfers fails the next failures saves of records in state failOn.
type flakyTransfers struct {
	*memory.Store
	mu       sync.Mutex
	failOn   domain.TransferState
	failures int
}

func (s *flakyTransfers) SaveTransfer(ctx context.Context, rec *domain.TransferRecord) error {
	s.mu.Lock()
	if rec.State == s.failOn && s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("transfer store unavailable")
	}
	s.mu.Unlock()
	return s.Store.SaveTransfer(ctx, rec)
}

// gatedApprovals holds back the save of a pending request carrying exactly
// one approval until release is closed.
type gatedApprovals struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedApprovals() *gatedApprovals {
	return &gatedApprovals{Store: memory.NewStore(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedApprovals) SaveApproval(ctx context.Context, req *domain.ApprovalRequest) error {
	if req.Status == domain.ApprovalPending && len(req.ReceivedApprovals) == 1 {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	return s.Store.SaveApproval(ctx, req)
}

// fakeClock is a settable clock shared by the coordinator and the workflow.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- Fixture ---

type fixture struct {
	store     *memory.Store
	spend     *memory.SpendTracker
	events    *recordingEvents
	fraud     *mockFraudRegistry
	clock     *fakeClock
	metrics   *observability.Metrics
	approvals *service.ApprovalCoordinator
	guardians *service.GuardianRegistry
	safe      *service.SafeAccountRegistry
	limits    *service.LimitService
	workflow  *service.TransferWorkflow
}

// newFixture wires the workflow over in-memory stores. The clock starts at
// 10:00 UTC so the morning band applies.
func newFixture(ttl time.Duration) *fixture {
	return newFixtureWithTransfers(ttl, nil)
}

// newFixtureWithTransfers lets wrap replace the transfer store the workflow
// writes through.
func newFixtureWithTransfers(ttl time.Duration, wrap func(*memory.Store) port.TransferStore) *fixture {
	f := &fixture{
		store:   memory.NewStore(),
		spend:   memory.NewSpendTracker(),
		events:  &recordingEvents{},
		fraud:   &mockFraudRegistry{reported: map[string]bool{}},
		clock:   newFakeClock(time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)),
		metrics: observability.NewMetrics(),
	}
	logger := zap.NewNop()
	var transfers port.TransferStore = f.store
	if wrap != nil {
		transfers = wrap(f.store)
	}

	f.approvals = service.NewApprovalCoordinator(f.store, ttl, f.metrics, logger, service.WithClock(f.clock.Now))
	f.guardians = service.NewGuardianRegistry(f.store, f.approvals, logger)
	f.safe = service.NewSafeAccountRegistry(f.store, logger)
	f.limits = service.NewLimitService(f.store, cache.New[*domain.LimitConfig](time.Minute), f.metrics, logger)

	checks := service.DefaultRiskChecks(
		service.NewAccountValidityCheck(nil, []string{"666:0000"}),
		service.NewFraudPatternCheck(f.fraud),
		service.NewAnomalyCheck(3, 30*24*time.Hour, 0),
	)
	risk := service.NewRiskAssessor(checks, time.Second, resilience.NewBulkhead(4), f.metrics, logger)

	f.workflow = service.NewTransferWorkflow(service.TransferWorkflowDeps{
		Limits:       f.limits,
		SafeAccounts: f.safe,
		Guardians:    f.guardians,
		Risk:         risk,
		Approvals:    f.approvals,
		Spend:        f.spend,
		History:      service.NewTransferHistory(f.store),
		Transfers:    transfers,
		Events:       f.events,
		Metrics:      f.metrics,
		Logger:       logger,
		CoolingOff:   5 * time.Second,
		Now:          f.clock.Now,
	})
	return f
}

func (f *fixture) addGuardian(name string, perms domain.GuardianPermissions) *domain.Guardian {
	g, err := f.guardians.Add(context.Background(), "holder-1", domain.AddGuardianRequest{
		Name:         name,
		Relationship: domain.RelationshipChild,
		Phone:        "+55 11 9" + name,
		Permissions:  &perms,
	})
	if err != nil {
		panic(err)
	}
	return g
}

func (f *fixture) addSafeAccount(bank, account string, rel domain.Relationship) {
	_, err := f.safe.Add(context.Background(), "holder-1", domain.SafeAccount{
		BankName: bank, AccountNumber: account, HolderName: "Maria", Relationship: rel,
	})
	if err != nil {
		panic(err)
	}
}

func approverPerms() domain.GuardianPermissions {
	return domain.DefaultGuardianPermissions()
}
