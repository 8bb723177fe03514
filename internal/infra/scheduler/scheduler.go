// Package scheduler runs periodic maintenance jobs on a cron schedule.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ExpirySweeper resolves approval requests whose deadline has passed.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) int
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	sweeper ExpirySweeper
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a scheduler whose jobs recover from panics.
func New(sweeper ExpirySweeper, logger *zap.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:    c,
		sweeper: sweeper,
		timeout: 30 * time.Second,
		logger:  logger,
	}
}

// Start registers the expiry sweep and starts the cron scheduler.
func (s *Scheduler) Start(expirySchedule string) error {
	if _, err := s.cron.AddFunc(expirySchedule, s.sweepExpired); err != nil {
		s.logger.Error("failed to schedule approval expiry sweep", zap.String("schedule", expirySchedule), zap.Error(err))
		return err
	}
	s.logger.Info("scheduled approval expiry sweep", zap.String("schedule", expirySchedule))

	s.cron.Start()
	return nil
}

func (s *Scheduler) sweepExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if n := s.sweeper.SweepExpired(ctx); n > 0 {
		s.logger.Info("expired approval requests swept", zap.Int("count", n))
	}
}

// Stop gracefully stops the cron scheduler. The returned context is done
// once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
