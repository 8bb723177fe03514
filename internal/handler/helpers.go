package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeBody rejects unknown fields so typos in limit or permission
// payloads are not silently ignored.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid request body"}
	}
	return nil
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 20
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}
	return
}

func paginate[T any](items []T, page, pageSize int) domain.ListResponse[T] {
	start := (page - 1) * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return domain.ListResponse[T]{
		Data:     items[start:end],
		Total:    len(items),
		Page:     page,
		PageSize: pageSize,
		HasMore:  end < len(items),
	}
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var external *domain.ErrExternalService
	var validation *domain.ErrValidation
	var invalidConfig *domain.ErrInvalidConfig
	var forbidden *domain.ErrForbidden
	var unauthorized *domain.ErrUnauthorized
	var unknownGuardian *domain.ErrUnknownGuardian
	var notPending *domain.ErrRequestNotPending
	var duplicate *domain.ErrDuplicateGuardian
	var lastApprover *domain.ErrLastApproverRemoval
	var invalidTransition *domain.ErrInvalidTransition
	var coolingOff *domain.ErrCoolingOffActive
	var noApprovers *domain.ErrNoApprovers

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation), errors.As(err, &invalidConfig):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &unknownGuardian):
		logger.Warn("response from guardian outside the required set",
			zap.String("request_id", unknownGuardian.RequestID),
			zap.String("guardian_id", unknownGuardian.GuardianID),
		)
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &notPending):
		logger.Debug("request no longer pending", zap.String("status", string(notPending.Status)))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &duplicate), errors.As(err, &lastApprover),
		errors.As(err, &invalidTransition), errors.As(err, &noApprovers):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &coolingOff):
		w.Header().Set("Retry-After", strconv.Itoa(int(coolingOff.Remaining.Seconds())+1))
		writeError(w, http.StatusTooEarly, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &external):
		logger.Error("external service failure", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
