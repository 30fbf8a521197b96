// Package sweeper closes idle sessions on a schedule. Idle auto-close is a
// policy layered on top of the session state machine, not part of it: the
// sweeper only calls the normal idempotent close path with a system actor.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/helpdeskhq/support-chat/internal/service"
	"github.com/helpdeskhq/support-chat/pkg/logger"
)

// Sweeper runs the idle-close job.
type Sweeper struct {
	sessions    *service.SessionService
	idleTimeout time.Duration
	schedule    string
	cron        *cron.Cron
	logger      *logger.Logger
}

// New creates a sweeper. An idleTimeout of zero disables it.
func New(sessions *service.SessionService, schedule string, idleTimeout time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		sessions:    sessions,
		idleTimeout: idleTimeout,
		schedule:    schedule,
		logger:      log,
	}
}

// Start schedules the sweep job. No-op when disabled.
func (s *Sweeper) Start() error {
	if s.idleTimeout <= 0 {
		s.logger.Info("idle sweeper disabled")
		return nil
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()

	s.logger.Info("idle sweeper started",
		zap.String("schedule", s.schedule),
		zap.Duration("idle_timeout", s.idleTimeout),
	)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.idleTimeout)
	closed, err := s.sessions.CloseIdle(ctx, cutoff)
	if err != nil {
		s.logger.Error("idle sweep failed", zap.Error(err))
		return
	}
	if closed > 0 {
		s.logger.Info("idle sessions closed", zap.Int("count", closed))
	}
}
