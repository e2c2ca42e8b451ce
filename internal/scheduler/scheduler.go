package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/adiouf/wabridge/internal/config"
	"github.com/adiouf/wabridge/internal/storage"
)

// Scheduler runs periodic maintenance jobs, currently message retention cleanup.
type Scheduler struct {
	cron     *cron.Cron
	messages storage.MessageStore
	cfg      config.RetentionConfig
	logger   *zap.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(cfg config.RetentionConfig, messages storage.MessageStore, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		cron:     cron.New(),
		messages: messages,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start registers the cleanup job and starts the cron loop.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", zap.String("schedule", s.cfg.CronSchedule))

	if _, err := s.cron.AddFunc(s.cfg.CronSchedule, s.cleanupOldMessages); err != nil {
		s.logger.Error("failed to schedule retention cleanup", zap.Error(err))
	}

	s.cron.Start()
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	s.cron.Stop()
}

func (s *Scheduler) cleanupOldMessages() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.cfg.MaxAge)
	deleted, err := s.messages.Cleanup(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention cleanup failed", zap.Error(err))
		return
	}

	s.logger.Info("retention cleanup completed",
		zap.Time("cutoff", cutoff),
		zap.Int("deleted", deleted))
}
