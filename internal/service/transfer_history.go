package service

import (
	"context"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/port"
)

// TransferHistory serves account history from the workflow's own executed
// transfers. Used when no external history API is configured.
type TransferHistory struct {
	transfers port.TransferStore
}

// NewTransferHistory creates the store-backed history fetcher.
func NewTransferHistory(transfers port.TransferStore) *TransferHistory {
	return &TransferHistory{transfers: transfers}
}

// GetTransferHistory returns executed transfers at or after since.
func (h *TransferHistory) GetTransferHistory(ctx context.Context, accountHolderID string, since time.Time) ([]domain.HistoricalTransfer, error) {
	ctx, span := tracer.Start(ctx, "TransferHistory.GetTransferHistory")
	defer span.End()

	records, err := h.transfers.ListTransfers(ctx, accountHolderID)
	if err != nil {
		return nil, err
	}
	var out []domain.HistoricalTransfer
	for _, r := range records {
		if r.State != domain.StateExecuted || r.ExecutedAt == nil || r.ExecutedAt.Before(since) {
			continue
		}
		out = append(out, domain.HistoricalTransfer{
			RecipientBank:    r.RecipientBank,
			RecipientAccount: r.RecipientAccount,
			Amount:           r.Amount,
			ExecutedAt:       *r.ExecutedAt,
		})
	}
	return out, nil
}
