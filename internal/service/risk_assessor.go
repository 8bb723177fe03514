package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/resilience"
)

// RiskCheck is one independently replaceable step of the risk pipeline.
// Run must not mutate the draft or the history.
type RiskCheck interface {
	Name() string
	Run(ctx context.Context, draft domain.TransferDraft, history *domain.AccountHistory) (domain.CheckStatus, string, error)
}

// RiskAssessor runs every check concurrently and aggregates the verdict.
type RiskAssessor struct {
	checks   []RiskCheck
	timeout  time.Duration
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewRiskAssessor creates the assessor. Each check is bounded by timeout and
// all checks share the bulkhead.
func NewRiskAssessor(checks []RiskCheck, timeout time.Duration, bulkhead *resilience.Bulkhead, metrics *observability.Metrics, logger *zap.Logger) *RiskAssessor {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if bulkhead == nil {
		bulkhead = resilience.NewBulkhead(len(checks) + 1)
	}
	return &RiskAssessor{
		checks:   checks,
		timeout:  timeout,
		bulkhead: bulkhead,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Assess returns a fresh assessment once every check reached a terminal
// status. A check that errors or misses its deadline is recorded as a
// warning, never as failed.
func (a *RiskAssessor) Assess(ctx context.Context, draft domain.TransferDraft, history *domain.AccountHistory) *domain.RiskAssessment {
	ctx, span := tracer.Start(ctx, "RiskAssessor.Assess")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.id", draft.ID), attribute.Int64("amount", int64(draft.Amount)))

	start := time.Now()
	defer func() { a.metrics.RecordRequestDuration("risk_assessment", time.Since(start)) }()

	results := make([]domain.RiskCheck, len(a.checks))

	g := new(errgroup.Group)
	for i, check := range a.checks {
		i, check := i, check
		results[i] = domain.RiskCheck{Name: check.Name(), Status: domain.CheckChecking}
		g.Go(func() error {
			results[i] = a.runCheck(ctx, check, draft, history)
			return nil
		})
	}
	_ = g.Wait()

	level := domain.AggregateRisk(results)
	span.SetAttributes(attribute.String("risk.level", string(level)))

	return &domain.RiskAssessment{
		ID:               uuid.NewString(),
		Checks:           results,
		OverallStatus:    level,
		AllowedToProceed: level != domain.RiskDanger,
		Recommendation:   domain.Recommendation(level),
		AssessedAt:       a.now(),
	}
}

type checkOutcome struct {
	status  domain.CheckStatus
	message string
	err     error
}

func (a *RiskAssessor) runCheck(ctx context.Context, check RiskCheck, draft domain.TransferDraft, history *domain.AccountHistory) domain.RiskCheck {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan checkOutcome, 1)
	go func() {
		var out checkOutcome
		out.err = a.bulkhead.Do(ctx, func(ctx context.Context) error {
			var err error
			out.status, out.message, err = check.Run(ctx, draft, history)
			return err
		})
		done <- out
	}()

	var out checkOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = ctx.Err()
	}
	if out.err == nil && !out.status.Terminal() {
		out.err = errors.New("check returned non-terminal status " + string(out.status))
	}

	result := domain.RiskCheck{Name: check.Name(), Status: out.status, Message: out.message}
	if out.err != nil {
		unavailable := &domain.ErrRiskCheckUnavailable{Check: check.Name(), Err: out.err}
		a.logger.Warn("risk check unavailable",
			zap.String("transfer_id", draft.ID),
			zap.String("check", check.Name()),
			zap.Error(unavailable),
		)
		a.metrics.IncrExternalError("risk_check:" + check.Name())
		result.Status = domain.CheckWarning
		result.Message = "Could not complete this check right now"
	}
	a.metrics.IncrRiskCheck(check.Name(), result.Status)
	return result
}
