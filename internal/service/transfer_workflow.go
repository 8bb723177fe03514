package service

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/port"
)

const cancelledByHolder = "cancelled by account holder"

// TransferWorkflowDeps groups the collaborators of the workflow.
type TransferWorkflowDeps struct {
	Limits       *LimitService
	SafeAccounts *SafeAccountRegistry
	Guardians    *GuardianRegistry
	Risk         *RiskAssessor
	Approvals    *ApprovalCoordinator
	Spend        port.SpendTracker
	History      port.HistoryFetcher
	Transfers    port.TransferStore
	Events       port.EventPublisher
	Metrics      *observability.Metrics
	Logger       *zap.Logger

	CoolingOff    time.Duration
	HistoryWindow time.Duration
	Now           func() time.Time
}

// TransferWorkflow drives each transfer through limit evaluation, risk
// assessment and, when needed, guardian approval.
type TransferWorkflow struct {
	limits       *LimitService
	safeAccounts *SafeAccountRegistry
	guardians    *GuardianRegistry
	risk         *RiskAssessor
	approvals    *ApprovalCoordinator
	spend        port.SpendTracker
	history      port.HistoryFetcher
	transfers    port.TransferStore
	events       port.EventPublisher
	metrics      *observability.Metrics
	logger       *zap.Logger

	coolingOff    time.Duration
	historyWindow time.Duration
	now           func() time.Time

	locks [64]sync.Mutex
}

// NewTransferWorkflow wires the workflow and subscribes it to approval
// resolutions.
func NewTransferWorkflow(d TransferWorkflowDeps) *TransferWorkflow {
	w := &TransferWorkflow{
		limits:        d.Limits,
		safeAccounts:  d.SafeAccounts,
		guardians:     d.Guardians,
		risk:          d.Risk,
		approvals:     d.Approvals,
		spend:         d.Spend,
		history:       d.History,
		transfers:     d.Transfers,
		events:        d.Events,
		metrics:       d.Metrics,
		logger:        d.Logger,
		coolingOff:    d.CoolingOff,
		historyWindow: d.HistoryWindow,
		now:           d.Now,
	}
	if w.coolingOff <= 0 {
		w.coolingOff = 5 * time.Second
	}
	if w.historyWindow <= 0 {
		w.historyWindow = 30 * 24 * time.Hour
	}
	if w.now == nil {
		w.now = time.Now
	}
	w.approvals.OnResolved(w.onApprovalResolved)
	return w
}

// lock serializes transitions of one transfer.
func (w *TransferWorkflow) lock(transferID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(transferID))
	m := &w.locks[h.Sum32()%uint32(len(w.locks))]
	m.Lock()
	return m.Unlock
}

// ============================================================
// Submit
// ============================================================

// Submit evaluates a new transfer and decides whether it executes now,
// waits for guardians or is blocked. Malformed input is rejected before any
// state is recorded.
func (w *TransferWorkflow) Submit(ctx context.Context, accountHolderID string, in domain.TransferInput) (*domain.TransferRecord, error) {
	ctx, span := tracer.Start(ctx, "TransferWorkflow.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("account_holder.id", accountHolderID), attribute.Int64("amount", int64(in.Amount)))

	start := time.Now()
	defer func() { w.metrics.RecordRequestDuration("transfer_submit", time.Since(start)) }()

	if err := validateTransferInput(accountHolderID, in); err != nil {
		return nil, err
	}

	now := w.now()
	draft := domain.TransferDraft{
		ID:               uuid.NewString(),
		AccountHolderID:  accountHolderID,
		RecipientBank:    strings.TrimSpace(in.Bank),
		RecipientAccount: strings.TrimSpace(in.AccountNumber),
		RecipientName:    strings.TrimSpace(in.RecipientName),
		Amount:           in.Amount,
		RequestedAt:      now,
	}
	span.SetAttributes(attribute.String("transfer.id", draft.ID))

	unlock := w.lock(draft.ID)
	defer unlock()

	// Everything the decision depends on is read up front.
	cfg, err := w.limits.Get(ctx, accountHolderID)
	if err != nil {
		return nil, err
	}
	history, err := w.loadHistory(ctx, accountHolderID, now)
	if err != nil {
		return nil, err
	}
	spent, err := w.spend.DailySpend(ctx, accountHolderID, now)
	if err != nil {
		return nil, err
	}
	var rel domain.Relationship
	if sa, ok := history.SafeAccountFor(draft.RecipientBank, draft.RecipientAccount); ok {
		rel = sa.Relationship
	}

	rec := &domain.TransferRecord{
		DraftID:          draft.ID,
		AccountHolderID:  accountHolderID,
		Amount:           draft.Amount,
		RecipientBank:    draft.RecipientBank,
		RecipientAccount: draft.RecipientAccount,
		RecipientName:    draft.RecipientName,
		State:            domain.StateDraft,
		RequestedAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	check, err := EvaluateLimit(draft, cfg, rel, spent)
	if err != nil {
		return nil, err
	}
	rec.LimitCheck = &check
	w.advance(rec, domain.StateLimitEvaluated)

	// Risk is assessed regardless of the limit outcome.
	rec.RiskAssessment = w.risk.Assess(ctx, draft, history)
	w.advance(rec, domain.StateRiskAssessed)

	switch {
	case rec.RiskAssessment.OverallStatus == domain.RiskDanger:
		err = w.block(ctx, rec, "risk assessment rated this transfer dangerous")
	case rec.RiskAssessment.OverallStatus == domain.RiskWarning || check.RequiresApproval:
		err = w.requestApproval(ctx, rec, draft)
	default:
		w.advance(rec, domain.StateCleared)
		err = w.execute(ctx, rec)
	}
	if err != nil {
		return nil, err
	}

	w.logger.Info("transfer submitted",
		zap.String("transfer_id", rec.DraftID),
		zap.String("account_holder_id", accountHolderID),
		zap.String("state", string(rec.State)),
		zap.String("risk", string(rec.RiskAssessment.OverallStatus)),
		zap.Bool("requires_approval", check.RequiresApproval),
		zap.String("applied_rule", check.AppliedRule),
	)
	return rec, nil
}

func validateTransferInput(accountHolderID string, in domain.TransferInput) error {
	switch {
	case strings.TrimSpace(accountHolderID) == "":
		return &domain.ErrValidation{Field: "customerId", Message: "required"}
	case in.Amount < 0:
		return &domain.ErrValidation{Field: "amount", Message: "must not be negative"}
	case strings.TrimSpace(in.Bank) == "":
		return &domain.ErrValidation{Field: "bank", Message: "required"}
	case strings.TrimSpace(in.AccountNumber) == "":
		return &domain.ErrValidation{Field: "accountNumber", Message: "required"}
	}
	return nil
}

func (w *TransferWorkflow) loadHistory(ctx context.Context, accountHolderID string, now time.Time) (*domain.AccountHistory, error) {
	safe, err := w.safeAccounts.List(ctx, accountHolderID)
	if err != nil {
		return nil, err
	}
	h := &domain.AccountHistory{AccountHolderID: accountHolderID, SafeAccounts: safe}

	if w.history != nil {
		past, err := w.history.GetTransferHistory(ctx, accountHolderID, now.Add(-w.historyWindow))
		if err != nil {
			// Checks treat a missing history as unknown recipients.
			w.logger.Warn("transfer history unavailable",
				zap.String("account_holder_id", accountHolderID), zap.Error(err))
			w.metrics.IncrExternalError("history")
		} else {
			h.Transfers = past
		}
	}
	return h, nil
}

// ============================================================
// Decisions
// ============================================================

func (w *TransferWorkflow) block(ctx context.Context, rec *domain.TransferRecord, reason string) error {
	w.advance(rec, domain.StateBlocked)
	at := rec.UpdatedAt
	rec.BlockedAt = &at
	rec.StatusReason = reason
	if err := w.transfers.SaveTransfer(ctx, rec); err != nil {
		return err
	}
	w.metrics.IncrTransfer(domain.StateBlocked)

	w.logger.Warn("transfer blocked",
		zap.String("transfer_id", rec.DraftID),
		zap.String("account_holder_id", rec.AccountHolderID),
		zap.String("reason", reason),
		zap.Any("risk_assessment", rec.RiskAssessment),
	)
	w.alertGuardians(ctx, rec)
	return nil
}

func (w *TransferWorkflow) requestApproval(ctx context.Context, rec *domain.TransferRecord, draft domain.TransferDraft) error {
	guardians, err := w.guardians.ListActive(ctx, rec.AccountHolderID)
	if err != nil {
		return err
	}

	req, err := w.approvals.Create(ctx, rec.DraftID, draft, guardians)
	var none *domain.ErrNoApprovers
	if errors.As(err, &none) {
		return w.block(ctx, rec, "approval required but no guardian can approve")
	}
	if err != nil {
		return err
	}

	w.advance(rec, domain.StatePendingApproval)
	rec.ApprovalRequestID = req.ID
	if err := w.transfers.SaveTransfer(ctx, rec); err != nil {
		if _, wErr := w.approvals.Withdraw(ctx, req.ID, "transfer could not be recorded"); wErr != nil {
			w.logger.Error("failed to withdraw orphaned approval request",
				zap.String("request_id", req.ID), zap.Error(wErr))
		}
		return err
	}
	w.metrics.IncrTransfer(domain.StatePendingApproval)

	for _, guardianID := range req.RequiredApprovals {
		n := &domain.ApprovalNotification{
			RequestID:         req.ID,
			GuardianID:        guardianID,
			RequiredApprovals: req.RequiredApprovals,
			ExpiresAt:         req.ExpiresAt,
			Amount:            rec.Amount,
			RecipientName:     rec.RecipientName,
		}
		if err := w.events.PublishApprovalRequested(ctx, n); err != nil {
			w.logger.Error("failed to notify guardian",
				zap.String("request_id", req.ID), zap.String("guardian_id", guardianID), zap.Error(err))
		}
	}
	return nil
}

// execute hands the transfer to settlement. Spend and events are best
// effort once the execution decision is recorded.
func (w *TransferWorkflow) execute(ctx context.Context, rec *domain.TransferRecord) error {
	w.advance(rec, domain.StateExecuted)
	at := rec.UpdatedAt
	rec.ExecutedAt = &at
	if err := w.transfers.SaveTransfer(ctx, rec); err != nil {
		return err
	}
	w.metrics.IncrTransfer(domain.StateExecuted)

	if _, err := w.spend.AddSpend(ctx, rec.AccountHolderID, rec.RequestedAt, rec.Amount); err != nil {
		w.logger.Error("failed to record daily spend",
			zap.String("transfer_id", rec.DraftID), zap.Error(err))
	}

	ev := &domain.ExecutionEvent{
		TransferDraftID: rec.DraftID,
		AccountHolderID: rec.AccountHolderID,
		FinalStatus:     string(domain.StateExecuted),
		Amount:          rec.Amount,
		RiskAssessment:  rec.RiskAssessment,
		LimitCheck:      rec.LimitCheck,
		Overridden:      rec.Overridden,
		ExecutedAt:      at,
	}
	if err := w.events.PublishExecution(ctx, ev); err != nil {
		w.logger.Error("failed to publish execution event",
			zap.String("transfer_id", rec.DraftID), zap.Error(err))
	}
	return nil
}

func (w *TransferWorkflow) alertGuardians(ctx context.Context, rec *domain.TransferRecord) {
	guardians, err := w.guardians.ListActive(ctx, rec.AccountHolderID)
	if err != nil {
		w.logger.Error("failed to load guardians for risk alert",
			zap.String("transfer_id", rec.DraftID), zap.Error(err))
		return
	}
	for _, g := range guardians {
		if !g.Permissions.CanReceiveAlert {
			continue
		}
		alert := &domain.RiskAlert{
			TransferDraftID: rec.DraftID,
			AccountHolderID: rec.AccountHolderID,
			GuardianID:      g.ID,
			Amount:          rec.Amount,
			RecipientName:   rec.RecipientName,
			RiskAssessment:  rec.RiskAssessment,
			BlockedAt:       *rec.BlockedAt,
		}
		if err := w.events.PublishRiskAlert(ctx, alert); err != nil {
			w.logger.Error("failed to publish risk alert",
				zap.String("transfer_id", rec.DraftID), zap.String("guardian_id", g.ID), zap.Error(err))
		}
	}
}

// advance moves rec along the transition table. Callers check legality
// first when the move depends on user input.
func (w *TransferWorkflow) advance(rec *domain.TransferRecord, to domain.TransferState) {
	if !domain.CanTransition(rec.State, to) {
		panic("illegal transfer transition " + string(rec.State) + " -> " + string(to))
	}
	rec.State = to
	rec.UpdatedAt = w.now()
}

// ============================================================
// Account holder actions
// ============================================================

// Cancel stops a transfer that is still waiting on guardians. When the
// request was withdrawn but the cancelled record could not be saved, the
// withdrawal is replayed through the approval outcome path, and a retried
// Cancel still succeeds.
func (w *TransferWorkflow) Cancel(ctx context.Context, accountHolderID, transferID string) (*domain.TransferRecord, error) {
	ctx, span := tracer.Start(ctx, "TransferWorkflow.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.id", transferID))

	var replay *domain.ApprovalRequest
	defer func() {
		if replay != nil {
			w.onApprovalResolved(*replay)
		}
	}()

	unlock := w.lock(transferID)
	defer unlock()

	rec, err := w.owned(ctx, accountHolderID, transferID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(rec.State, domain.StateCancelled) {
		return nil, &domain.ErrInvalidTransition{TransferID: transferID, From: rec.State, To: domain.StateCancelled}
	}

	var withdrawn *domain.ApprovalRequest
	if rec.ApprovalRequestID != "" {
		withdrawn, err = w.approvals.Withdraw(ctx, rec.ApprovalRequestID, cancelledByHolder)
		var nf *domain.ErrNotFound
		var notPending *domain.ErrRequestNotPending
		switch {
		case err == nil, errors.As(err, &nf):
		case errors.As(err, &notPending) && notPending.Status == domain.ApprovalRejected:
			// Already withdrawn or vetoed; either way the transfer ends cancelled.
		case errors.As(err, &notPending):
			// Resolved concurrently; its handler decides the outcome.
			return nil, &domain.ErrInvalidTransition{TransferID: transferID, From: rec.State, To: domain.StateCancelled}
		default:
			return nil, err
		}
	}

	w.advance(rec, domain.StateCancelled)
	at := rec.UpdatedAt
	rec.CancelledAt = &at
	rec.StatusReason = cancelledByHolder
	if err := w.transfers.SaveTransfer(ctx, rec); err != nil {
		replay = withdrawn
		return nil, err
	}
	w.approvals.Archive(rec.ApprovalRequestID)
	w.metrics.IncrTransfer(domain.StateCancelled)

	w.logger.Info("transfer cancelled",
		zap.String("transfer_id", transferID),
		zap.String("account_holder_id", accountHolderID),
	)
	return rec, nil
}

// Override executes a blocked transfer once the cooling-off delay passed.
// The caller must echo the id of the assessment it showed to the user.
func (w *TransferWorkflow) Override(ctx context.Context, accountHolderID, transferID, acknowledgedAssessmentID string) (*domain.TransferRecord, error) {
	ctx, span := tracer.Start(ctx, "TransferWorkflow.Override")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.id", transferID))

	unlock := w.lock(transferID)
	defer unlock()

	rec, err := w.owned(ctx, accountHolderID, transferID)
	if err != nil {
		return nil, err
	}
	if rec.State != domain.StateBlocked {
		return nil, &domain.ErrInvalidTransition{TransferID: transferID, From: rec.State, To: domain.StateExecuted}
	}
	if rec.RiskAssessment == nil || acknowledgedAssessmentID != rec.RiskAssessment.ID {
		return nil, &domain.ErrValidation{Field: "acknowledgedAssessmentId", Message: "must match the assessment shown to the user"}
	}
	if elapsed := w.now().Sub(*rec.BlockedAt); elapsed < w.coolingOff {
		return nil, &domain.ErrCoolingOffActive{TransferID: transferID, Remaining: w.coolingOff - elapsed}
	}

	w.logger.Warn("blocked transfer overridden after cooling-off",
		zap.String("transfer_id", transferID),
		zap.String("account_holder_id", accountHolderID),
		zap.Int64("amount", int64(rec.Amount)),
		zap.Any("risk_assessment", rec.RiskAssessment),
	)

	rec.Overridden = true
	if err := w.execute(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Respond routes a guardian's decision to the coordinator.
func (w *TransferWorkflow) Respond(ctx context.Context, resp domain.GuardianResponse) (*domain.ApprovalRequest, error) {
	ctx, span := tracer.Start(ctx, "TransferWorkflow.Respond")
	defer span.End()
	span.SetAttributes(attribute.String("request.id", resp.RequestID), attribute.String("guardian.id", resp.GuardianID))

	if resp.GuardianID == "" {
		return nil, &domain.ErrValidation{Field: "guardianId", Message: "required"}
	}
	switch resp.Decision {
	case domain.DecisionApprove:
		return w.approvals.RecordApproval(ctx, resp.RequestID, resp.GuardianID, resp.Method)
	case domain.DecisionReject:
		return w.approvals.RecordRejection(ctx, resp.RequestID, resp.GuardianID, resp.Reason)
	}
	return nil, &domain.ErrValidation{Field: "decision", Message: "must be approve or reject"}
}

// Get returns one transfer of the holder.
func (w *TransferWorkflow) Get(ctx context.Context, accountHolderID, transferID string) (*domain.TransferRecord, error) {
	ctx, span := tracer.Start(ctx, "TransferWorkflow.Get")
	defer span.End()

	return w.owned(ctx, accountHolderID, transferID)
}

// List returns the holder's transfers.
func (w *TransferWorkflow) List(ctx context.Context, accountHolderID string) ([]domain.TransferRecord, error) {
	ctx, span := tracer.Start(ctx, "TransferWorkflow.List")
	defer span.End()

	return w.transfers.ListTransfers(ctx, accountHolderID)
}

func (w *TransferWorkflow) owned(ctx context.Context, accountHolderID, transferID string) (*domain.TransferRecord, error) {
	rec, err := w.transfers.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if rec.AccountHolderID != accountHolderID {
		return nil, &domain.ErrNotFound{Resource: "transfer", ID: transferID}
	}
	return rec, nil
}

// ============================================================
// Approval outcomes
// ============================================================

func (w *TransferWorkflow) onApprovalResolved(req domain.ApprovalRequest) {
	ctx, span := tracer.Start(context.Background(), "TransferWorkflow.onApprovalResolved")
	defer span.End()
	span.SetAttributes(attribute.String("transfer.id", req.TransferID), attribute.String("approval.status", string(req.Status)))

	unlock := w.lock(req.TransferID)
	defer unlock()

	rec, err := w.transfers.GetTransfer(ctx, req.TransferID)
	if err != nil {
		w.logger.Error("approval resolved for unknown transfer",
			zap.String("request_id", req.ID), zap.String("transfer_id", req.TransferID), zap.Error(err))
		return
	}
	if rec.State != domain.StatePendingApproval || rec.ApprovalRequestID != req.ID {
		return
	}

	switch req.Status {
	case domain.ApprovalApproved:
		err = w.execute(ctx, rec)
	case domain.ApprovalRejected:
		w.advance(rec, domain.StateCancelled)
		at := rec.UpdatedAt
		rec.CancelledAt = &at
		switch {
		case req.RejectedBy == "":
			rec.StatusReason = req.RejectionReason
		case req.RejectionReason != "":
			rec.StatusReason = "rejected by guardian: " + req.RejectionReason
		default:
			rec.StatusReason = "rejected by guardian"
		}
		if err = w.transfers.SaveTransfer(ctx, rec); err == nil {
			w.metrics.IncrTransfer(domain.StateCancelled)
		}
	case domain.ApprovalExpired:
		w.advance(rec, domain.StateExpired)
		at := rec.UpdatedAt
		rec.ExpiredAt = &at
		rec.StatusReason = "no guardian response before the deadline"
		if err = w.transfers.SaveTransfer(ctx, rec); err == nil {
			w.metrics.IncrTransfer(domain.StateExpired)
		}
	default:
		return
	}
	if err != nil {
		w.logger.Error("failed to apply approval outcome",
			zap.String("transfer_id", rec.DraftID), zap.String("status", string(req.Status)), zap.Error(err))
		return
	}

	w.approvals.Archive(req.ID)
	w.logger.Info("approval outcome applied",
		zap.String("transfer_id", rec.DraftID),
		zap.String("request_id", req.ID),
		zap.String("state", string(rec.State)),
	)
}
