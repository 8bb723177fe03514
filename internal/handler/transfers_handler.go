package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/service"
)

// ============================================================
// Transfers
// ============================================================

func submitTransferHandler(wf *service.TransferWorkflow, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/customers/{customerId}/transfers")
		defer span.End()

		customerID := chi.URLParam(r, "customerId")
		span.SetAttributes(attribute.String("customer.id", customerID))

		var in domain.TransferInput
		if err := decodeBody(r, &in); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		start := time.Now()
		rec, err := wf.Submit(ctx, customerID, in)
		metrics.RecordRequestDuration("submit_transfer", time.Since(start))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		span.SetAttributes(attribute.String("transfer.state", string(rec.State)))
		writeJSON(w, http.StatusCreated, rec)
	}
}

func listTransfersHandler(wf *service.TransferWorkflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/customers/{customerId}/transfers")
		defer span.End()

		records, err := wf.List(ctx, chi.URLParam(r, "customerId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if state := r.URL.Query().Get("state"); state != "" {
			filtered := make([]domain.TransferRecord, 0, len(records))
			for _, rec := range records {
				if string(rec.State) == state {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}

		page, pageSize := parsePagination(r)
		writeJSON(w, http.StatusOK, paginate(records, page, pageSize))
	}
}

func getTransferHandler(wf *service.TransferWorkflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/customers/{customerId}/transfers/{transferId}")
		defer span.End()

		rec, err := wf.Get(ctx, chi.URLParam(r, "customerId"), chi.URLParam(r, "transferId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func cancelTransferHandler(wf *service.TransferWorkflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/customers/{customerId}/transfers/{transferId}/cancel")
		defer span.End()

		rec, err := wf.Cancel(ctx, chi.URLParam(r, "customerId"), chi.URLParam(r, "transferId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func overrideTransferHandler(wf *service.TransferWorkflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/customers/{customerId}/transfers/{transferId}/override")
		defer span.End()

		var req domain.OverrideRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		rec, err := wf.Override(ctx, chi.URLParam(r, "customerId"), chi.URLParam(r, "transferId"), req.AcknowledgedAssessmentID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}
