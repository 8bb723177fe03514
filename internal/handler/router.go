package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Services bundles the application services behind the HTTP API.
type Services struct {
	Transfers    *service.TransferWorkflow
	Guardians    *service.GuardianRegistry
	Limits       *service.LimitService
	SafeAccounts *service.SafeAccountRegistry
	Approvals    *service.ApprovalCoordinator
}

// DependencyCheck checks one backing service for /healthz and /readyz.
type DependencyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterConfig holds the optional security settings. Empty secrets leave
// the corresponding routes open, which is only meant for local development.
type RouterConfig struct {
	JWTSecret      string
	InternalAPIKey string
	Dependencies   []DependencyCheck
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svcs Services, cfg RouterConfig, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(cfg.Dependencies))
	r.Get("/readyz", readyzHandler(cfg.Dependencies))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/workflow", workflowMetricsHandler(metrics))

		// =============================================
		// Account holder routes
		// =============================================
		r.Route("/customers/{customerId}", func(r chi.Router) {
			if cfg.JWTSecret != "" {
				r.Use(JWTAuthMiddleware(cfg.JWTSecret, logger))
			}

			// Transfers
			r.Post("/transfers", submitTransferHandler(svcs.Transfers, metrics, logger))
			r.Get("/transfers", listTransfersHandler(svcs.Transfers, logger))
			r.Get("/transfers/{transferId}", getTransferHandler(svcs.Transfers, logger))
			r.Post("/transfers/{transferId}/cancel", cancelTransferHandler(svcs.Transfers, logger))
			r.Post("/transfers/{transferId}/override", overrideTransferHandler(svcs.Transfers, logger))

			// Guardians
			r.Get("/guardians", listGuardiansHandler(svcs.Guardians, logger))
			r.Post("/guardians", addGuardianHandler(svcs.Guardians, logger))
			r.Delete("/guardians/{guardianId}", removeGuardianHandler(svcs.Guardians, logger))
			r.Put("/guardians/{guardianId}/permissions", updatePermissionsHandler(svcs.Guardians, logger))
			r.Put("/guardians/{guardianId}/active", setGuardianActiveHandler(svcs.Guardians, logger))

			// Limits
			r.Get("/limits", getLimitsHandler(svcs.Limits, logger))
			r.Put("/limits", updateLimitsHandler(svcs.Limits, logger))

			// Safe accounts
			r.Get("/safe-accounts", listSafeAccountsHandler(svcs.SafeAccounts, logger))
			r.Post("/safe-accounts", addSafeAccountHandler(svcs.SafeAccounts, logger))
			r.Delete("/safe-accounts/{safeAccountId}", removeSafeAccountHandler(svcs.SafeAccounts, logger))
		})

		// =============================================
		// Guardian responses (internal channel)
		// =============================================
		r.Route("/approvals/{requestId}", func(r chi.Router) {
			if cfg.InternalAPIKey != "" {
				r.Use(InternalAPIKeyMiddleware(cfg.InternalAPIKey, logger))
			}
			r.Get("/", getApprovalHandler(svcs.Approvals, logger))
			r.Post("/responses", respondApprovalHandler(svcs.Transfers, logger))
		})
	})

	return r
}

// ============================================================
// Health & metrics
// ============================================================

func runChecks(ctx context.Context, deps []DependencyCheck) ([]domain.ServiceHealth, string) {
	now := time.Now().Format(time.RFC3339)
	services := []domain.ServiceHealth{
		{Name: "guardian-transfer-bfa", Status: "healthy", LatencyMs: 0, UptimePercent: 99.99, LastChecked: now},
	}

	overallStatus := "healthy"
	for _, d := range deps {
		start := time.Now()
		err := d.Check(ctx)
		status := "healthy"
		if err != nil {
			status = "degraded"
			overallStatus = "degraded"
		}
		services = append(services, domain.ServiceHealth{
			Name: d.Name, Status: status, LatencyMs: time.Since(start).Milliseconds(),
			UptimePercent: 99.9, LastChecked: now,
		})
	}
	return services, overallStatus
}

func healthzHandler(deps []DependencyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		services, overallStatus := runChecks(ctx, deps)
		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(deps []DependencyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		services, overallStatus := runChecks(ctx, deps)
		status := http.StatusOK
		if overallStatus != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, domain.HealthStatus{Status: overallStatus, Services: services})
	}
}

func workflowMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetWorkflowSnapshot())
	}
}
