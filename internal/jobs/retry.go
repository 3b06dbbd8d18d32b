// Package jobs runs scheduled background work for the server process.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kaonic/k1serial/internal/ingest"
	"github.com/kaonic/k1serial/internal/queue"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRetrySchedule runs the offline queue retry every minute.
const DefaultRetrySchedule = "@every 1m"

// Retrier drains pending offline queue entries.
type Retrier interface {
	RetryPending(ctx context.Context, limit int, deliver queue.DeliverFunc) (queue.RetryStats, error)
}

// Ingester re-runs ingestion of a queued upload.
type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (*ingest.Result, error)
}

// RetryScheduler periodically re-delivers queued uploads.
type RetryScheduler struct {
	queue    Retrier
	ingester Ingester
	schedule string
	batch    int
	timeout  time.Duration
	cron     *cron.Cron
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
	pass     sync.Mutex
}

// NewRetryScheduler creates a new offline queue retry scheduler.
func NewRetryScheduler(q Retrier, ingester Ingester, schedule string, batch int, logger zerolog.Logger) *RetryScheduler {
	if schedule == "" {
		schedule = DefaultRetrySchedule
	}
	if batch <= 0 {
		batch = 50
	}
	return &RetryScheduler{
		queue:    q,
		ingester: ingester,
		schedule: schedule,
		batch:    batch,
		timeout:  5 * time.Minute,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "queue_retry").Logger(),
	}
}

// Start begins the retry schedule.
func (s *RetryScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("retry scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runRetry); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Int("batch", s.batch).
		Msg("offline queue retry scheduler started")
	return nil
}

// Stop stops the scheduler. The returned context is done once a running pass
// has finished.
func (s *RetryScheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping offline queue retry scheduler")
	return s.cron.Stop()
}

func (s *RetryScheduler) runRetry() {
	// Skip a tick while the previous pass is still running.
	if !s.pass.TryLock() {
		s.logger.Debug().Msg("previous retry pass still running")
		return
	}
	defer s.pass.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	stats, err := s.queue.RetryPending(ctx, s.batch, func(ctx context.Context, up ingest.Upload) error {
		_, err := s.ingester.Ingest(ctx, up)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("offline queue retry failed")
		return
	}
	if stats.Attempted == 0 {
		return
	}

	s.logger.Info().
		Int("attempted", stats.Attempted).
		Int("delivered", stats.Delivered).
		Int("failed", stats.Failed).
		Int("exhausted", stats.Exhausted).
		Msg("offline queue retry pass completed")
}

// RunNow triggers an immediate retry pass.
func (s *RetryScheduler) RunNow() {
	s.runRetry()
}
