package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/service"
)

// ============================================================
// Guardians
// ============================================================

func listGuardiansHandler(reg *service.GuardianRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/customers/{customerId}/guardians")
		defer span.End()

		guardians, err := reg.List(ctx, chi.URLParam(r, "customerId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, guardians)
	}
}

func addGuardianHandler(reg *service.GuardianRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/customers/{customerId}/guardians")
		defer span.End()

		var req domain.AddGuardianRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		g, err := reg.Add(ctx, chi.URLParam(r, "customerId"), req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, g)
	}
}

func removeGuardianHandler(reg *service.GuardianRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/customers/{customerId}/guardians/{guardianId}")
		defer span.End()

		guardianID := chi.URLParam(r, "guardianId")
		if err := reg.Remove(ctx, chi.URLParam(r, "customerId"), guardianID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "guardian removed", ID: guardianID})
	}
}

func updatePermissionsHandler(reg *service.GuardianRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/customers/{customerId}/guardians/{guardianId}/permissions")
		defer span.End()

		var perms domain.GuardianPermissions
		if err := decodeBody(r, &perms); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		g, err := reg.UpdatePermissions(ctx, chi.URLParam(r, "customerId"), chi.URLParam(r, "guardianId"), perms)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}

func setGuardianActiveHandler(reg *service.GuardianRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/customers/{customerId}/guardians/{guardianId}/active")
		defer span.End()

		var req struct {
			Active *bool `json:"active"`
		}
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if req.Active == nil {
			handleServiceError(w, &domain.ErrValidation{Field: "active", Message: "is required"}, logger)
			return
		}

		g, err := reg.SetActive(ctx, chi.URLParam(r, "customerId"), chi.URLParam(r, "guardianId"), *req.Active)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}
