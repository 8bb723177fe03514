package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
)

// SaveTransfer upserts the record and appends a state log row whenever the
// state changes.
func (l *Ledger) SaveTransfer(ctx context.Context, rec *domain.TransferRecord) error {
	ctx, span := tracer.Start(ctx, "Postgres.SaveTransfer")
	defer span.End()

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer: %w", err)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var previous string
	err = tx.QueryRow(ctx, `SELECT state FROM transfer_records WHERE draft_id = $1 FOR UPDATE`, rec.DraftID).Scan(&previous)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return &domain.ErrExternalService{Service: "postgres", Err: err}
	}

	_, err = tx.Exec(ctx, `INSERT INTO transfer_records
	(draft_id, account_holder_id, state, amount, document, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (draft_id) DO UPDATE
	SET state = EXCLUDED.state, document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		rec.DraftID, rec.AccountHolderID, string(rec.State), int64(rec.Amount), doc, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return &domain.ErrExternalService{Service: "postgres", Err: err}
	}

	if previous != string(rec.State) {
		_, err = tx.Exec(ctx, `INSERT INTO transfer_state_log (draft_id, state, reason, recorded_at)
		VALUES ($1, $2, $3, $4)`, rec.DraftID, string(rec.State), rec.StatusReason, rec.UpdatedAt)
		if err != nil {
			return &domain.ErrExternalService{Service: "postgres", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	return nil
}

func (l *Ledger) GetTransfer(ctx context.Context, transferID string) (*domain.TransferRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetTransfer")
	defer span.End()

	var doc []byte
	err := l.pool.QueryRow(ctx, `SELECT document FROM transfer_records WHERE draft_id = $1`, transferID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "transfer", ID: transferID}
	}
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres", Err: err}
	}

	var rec domain.TransferRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transfer: %w", err)
	}
	return &rec, nil
}

// ListTransfers returns the holder's records, newest first.
func (l *Ledger) ListTransfers(ctx context.Context, accountHolderID string) ([]domain.TransferRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListTransfers")
	defer span.End()

	rows, err := l.pool.Query(ctx, `SELECT document FROM transfer_records
	WHERE account_holder_id = $1 ORDER BY created_at DESC LIMIT 100`, accountHolderID)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	defer rows.Close()

	out := []domain.TransferRecord{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec domain.TransferRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			l.logger.Warn("skipping undecodable transfer record", zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	return out, nil
}

// SaveApproval upserts the request. A resolved row is never rewritten.
func (l *Ledger) SaveApproval(ctx context.Context, req *domain.ApprovalRequest) error {
	ctx, span := tracer.Start(ctx, "Postgres.SaveApproval")
	defer span.End()

	doc, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal approval request: %w", err)
	}

	_, err = l.pool.Exec(ctx, `INSERT INTO approval_requests
	(id, transfer_id, account_holder_id, status, expires_at, document, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (id) DO UPDATE
	SET status = EXCLUDED.status, document = EXCLUDED.document, updated_at = now()
	WHERE approval_requests.status = 'pending'`,
		req.ID, req.TransferID, req.AccountHolderID, string(req.Status), req.ExpiresAt, doc)
	if err != nil {
		return &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	return nil
}

func (l *Ledger) GetApproval(ctx context.Context, requestID string) (*domain.ApprovalRequest, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetApproval")
	defer span.End()

	var doc []byte
	err := l.pool.QueryRow(ctx, `SELECT document FROM approval_requests WHERE id = $1`, requestID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "approval_request", ID: requestID}
	}
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres", Err: err}
	}

	return decodeApproval(doc)
}

// ListPendingApprovals returns the unresolved requests, soonest deadline
// first.
func (l *Ledger) ListPendingApprovals(ctx context.Context) ([]domain.ApprovalRequest, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListPendingApprovals")
	defer span.End()

	rows, err := l.pool.Query(ctx, `SELECT document FROM approval_requests
	WHERE status = 'pending' ORDER BY expires_at`)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	defer rows.Close()

	out := make([]domain.ApprovalRequest, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		req, err := decodeApproval(doc)
		if err != nil {
			l.logger.Warn("skipping undecodable approval request", zap.Error(err))
			continue
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.ErrExternalService{Service: "postgres", Err: err}
	}
	return out, nil
}

func decodeApproval(doc []byte) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	if err := json.Unmarshal(doc, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal approval request: %w", err)
	}
	if req.ReceivedApprovals == nil {
		req.ReceivedApprovals = map[string]domain.ReceivedApproval{}
	}
	return &req, nil
}
