package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/service"
)

// ============================================================
// Guardian approvals
// ============================================================

func getApprovalHandler(coord *service.ApprovalCoordinator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/approvals/{requestId}")
		defer span.End()

		req, err := coord.Get(ctx, chi.URLParam(r, "requestId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func respondApprovalHandler(wf *service.TransferWorkflow, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/approvals/{requestId}/responses")
		defer span.End()

		var resp domain.GuardianResponse
		if err := decodeBody(r, &resp); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		resp.RequestID = chi.URLParam(r, "requestId")
		span.SetAttributes(
			attribute.String("approval.request_id", resp.RequestID),
			attribute.String("approval.decision", string(resp.Decision)),
		)

		req, err := wf.Respond(ctx, resp)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ApprovalStatusView{
			RequestID: req.ID,
			Status:    req.Status,
			ExpiresAt: req.ExpiresAt,
		})
	}
}
