package service

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/port"
)

var tracer = otel.Tracer("service/guardian-transfer")

// LimitService owns the active LimitConfig of each account holder.
// Updates are validated and swapped whole; readers always get a private
// snapshot, so a transfer keeps the limits it was evaluated with.
type LimitService struct {
	mu      sync.Mutex
	store   port.LimitConfigStore
	cache   port.Cache[*domain.LimitConfig]
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewLimitService creates the limit service.
func NewLimitService(store port.LimitConfigStore, cache port.Cache[*domain.LimitConfig], metrics *observability.Metrics, logger *zap.Logger) *LimitService {
	return &LimitService{
		store:   store,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns a snapshot of the holder's active config, or the default
// config when none was saved.
func (s *LimitService) Get(ctx context.Context, accountHolderID string) (*domain.LimitConfig, error) {
	ctx, span := tracer.Start(ctx, "LimitService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("account_holder.id", accountHolderID))

	if cfg, ok := s.cache.Get(accountHolderID); ok {
		s.metrics.IncrCacheHit("limit_config")
		return cfg.Clone(), nil
	}
	s.metrics.IncrCacheMiss("limit_config")

	cfg, err := s.store.GetLimitConfig(ctx, accountHolderID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = domain.DefaultLimitConfig(accountHolderID)
	}
	s.cache.Set(accountHolderID, cfg)
	return cfg.Clone(), nil
}

// Update validates cfg and replaces the holder's active config.
func (s *LimitService) Update(ctx context.Context, accountHolderID string, cfg *domain.LimitConfig) (*domain.LimitConfig, error) {
	ctx, span := tracer.Start(ctx, "LimitService.Update")
	defer span.End()
	span.SetAttributes(attribute.String("account_holder.id", accountHolderID))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	next := cfg.Clone()
	next.AccountHolderID = accountHolderID
	next.LastUpdated = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SaveLimitConfig(ctx, next); err != nil {
		s.logger.Error("failed to save limit config",
			zap.String("account_holder_id", accountHolderID), zap.Error(err))
		return nil, err
	}
	s.cache.Set(accountHolderID, next)

	s.logger.Info("limit config updated",
		zap.String("account_holder_id", accountHolderID),
		zap.Int64("base_limit", int64(next.BaseLimit)),
	)
	return next.Clone(), nil
}
