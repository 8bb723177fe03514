package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/service"
)

// ============================================================
// Limits & safe accounts
// ============================================================

func getLimitsHandler(svc *service.LimitService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/customers/{customerId}/limits")
		defer span.End()

		cfg, err := svc.Get(ctx, chi.URLParam(r, "customerId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

func updateLimitsHandler(svc *service.LimitService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/customers/{customerId}/limits")
		defer span.End()

		var cfg domain.LimitConfig
		if err := decodeBody(r, &cfg); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		saved, err := svc.Update(ctx, chi.URLParam(r, "customerId"), &cfg)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func listSafeAccountsHandler(reg *service.SafeAccountRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/customers/{customerId}/safe-accounts")
		defer span.End()

		accounts, err := reg.List(ctx, chi.URLParam(r, "customerId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, accounts)
	}
}

func addSafeAccountHandler(reg *service.SafeAccountRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/customers/{customerId}/safe-accounts")
		defer span.End()

		var in domain.SafeAccount
		if err := decodeBody(r, &in); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		acct, err := reg.Add(ctx, chi.URLParam(r, "customerId"), in)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, acct)
	}
}

func removeSafeAccountHandler(reg *service.SafeAccountRegistry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/customers/{customerId}/safe-accounts/{safeAccountId}")
		defer span.End()

		id := chi.URLParam(r, "safeAccountId")
		if err := reg.Remove(ctx, chi.URLParam(r, "customerId"), id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "safe account removed", ID: id})
	}
}
