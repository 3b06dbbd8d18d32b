// Package queue keeps authenticated uploads whose delivery failed so they can
// be retried within a bounded budget.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaonic/k1serial/internal/crypto"
	"github.com/kaonic/k1serial/internal/ingest"
	"github.com/kaonic/k1serial/internal/metrics"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
)

// Store defines the offline queue persistence operations.
type Store interface {
	EnqueueOfflineUpload(ctx context.Context, e *models.OfflineQueueEntry) error
	GetOfflineQueueCounts(ctx context.Context, factoryID string) (*models.QueueCounts, error)
	// ResetFailedOfflineUploads moves failed entries of a factory back to
	// pending, zeroing retry_count and clearing error_message.
	ResetFailedOfflineUploads(ctx context.Context, factoryID string) (int64, error)
	// ClaimPendingOfflineUploads leases pending entries so no other worker
	// picks them up until the lease expires or a failure is recorded.
	ClaimPendingOfflineUploads(ctx context.Context, limit int, lease time.Duration) ([]*models.OfflineQueueEntry, error)
	DeleteOfflineUpload(ctx context.Context, id uuid.UUID) error
	RecordOfflineUploadFailure(ctx context.Context, e *models.OfflineQueueEntry) error
}

// ClaimLease bounds how long a retry pass holds its entries.
const ClaimLease = 5 * time.Minute

// Queue manages deferred deliveries.
type Queue struct {
	store   Store
	sealer  *crypto.PayloadSealer
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a new Queue. A nil sealer stores payloads in the clear.
func New(store Store, sealer *crypto.PayloadSealer, m *metrics.Metrics, logger zerolog.Logger) *Queue {
	return &Queue{
		store:   store,
		sealer:  sealer,
		metrics: m,
		logger:  logger.With().Str("component", "offline_queue").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores an authenticated upload for later delivery.
func (q *Queue) Enqueue(ctx context.Context, up ingest.Upload, cause error) (*models.OfflineQueueEntry, error) {
	data, err := q.sealer.Seal(up.Payload)
	if err != nil {
		return nil, fmt.Errorf("seal payload: %w", err)
	}

	e := models.NewOfflineQueueEntry(up.Provenance, data)
	switch {
	case up.Chunk != nil:
		id, idx, total := up.Chunk.BatchID, up.Chunk.Index, up.Chunk.TotalChunks
		e.BatchID, e.ChunkIndex, e.TotalChunks = &id, &idx, &total
	case up.Batch != nil:
		id := up.Batch.ID
		e.BatchID = &id
		e.TestRunCount = up.Batch.TestRunCount
	}
	if cause != nil {
		msg := cause.Error()
		e.ErrorMessage = &msg
	}

	if err := q.store.EnqueueOfflineUpload(ctx, e); err != nil {
		return nil, fmt.Errorf("enqueue upload: %w", err)
	}

	q.logger.Warn().
		Str("entry_id", e.ID.String()).
		Str("factory", e.FactoryID).
		Msg("upload queued for retry")
	return e, nil
}

// Counts returns pending and failed counts for a factory.
func (q *Queue) Counts(ctx context.Context, factoryID string) (*models.QueueCounts, error) {
	counts, err := q.store.GetOfflineQueueCounts(ctx, strings.TrimSpace(factoryID))
	if err != nil {
		return nil, fmt.Errorf("queue counts: %w", err)
	}
	return counts, nil
}

// PendingCount returns the number of pending entries for a factory.
func (q *Queue) PendingCount(ctx context.Context, factoryID string) (int, error) {
	c, err := q.Counts(ctx, factoryID)
	if err != nil {
		return 0, err
	}
	return c.PendingUploads, nil
}

// FailedCount returns the number of failed entries for a factory.
func (q *Queue) FailedCount(ctx context.Context, factoryID string) (int, error) {
	c, err := q.Counts(ctx, factoryID)
	if err != nil {
		return 0, err
	}
	return c.FailedUploads, nil
}

// ResetFailed moves a factory's failed entries back to pending.
func (q *Queue) ResetFailed(ctx context.Context, factoryID string) (int64, error) {
	factoryID = strings.TrimSpace(factoryID)
	if factoryID == "" {
		return 0, fmt.Errorf("%w: factory id is required", models.ErrInvalidPayload)
	}
	n, err := q.store.ResetFailedOfflineUploads(ctx, factoryID)
	if err != nil {
		return 0, fmt.Errorf("reset failed uploads: %w", err)
	}
	q.logger.Info().Str("factory", factoryID).Int64("reset", n).Msg("failed uploads reset to pending")
	return n, nil
}

// DeliverFunc re-runs ingestion of a queued upload.
type DeliverFunc func(ctx context.Context, up ingest.Upload) error

// RetryStats summarizes one retry pass.
type RetryStats struct {
	Attempted int
	Delivered int
	Failed    int
	Exhausted int
}

// RetryPending claims up to limit pending entries, oldest first, and attempts
// them. Delivered entries are removed; failures spend one retry.
func (q *Queue) RetryPending(ctx context.Context, limit int, deliver DeliverFunc) (RetryStats, error) {
	var stats RetryStats

	entries, err := q.store.ClaimPendingOfflineUploads(ctx, limit, ClaimLease)
	if err != nil {
		return stats, fmt.Errorf("claim pending uploads: %w", err)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Attempted++

		derr := q.deliver(ctx, e, deliver)
		if derr == nil {
			if err := q.store.DeleteOfflineUpload(ctx, e.ID); err != nil {
				// Another worker delivered and removed it after our lease lapsed.
				if !errors.Is(err, models.ErrNotFound) {
					return stats, fmt.Errorf("delete delivered upload %s: %w", e.ID, err)
				}
				q.logger.Debug().Str("entry_id", e.ID.String()).Msg("queued upload already removed")
			}
			stats.Delivered++
			q.metrics.RecordQueueRetry("delivered")
			q.logger.Info().Str("entry_id", e.ID.String()).Str("factory", e.FactoryID).Msg("queued upload delivered")
			continue
		}

		e.RecordFailure(derr.Error(), q.now())
		if err := q.store.RecordOfflineUploadFailure(ctx, e); err != nil {
			return stats, fmt.Errorf("record failure of %s: %w", e.ID, err)
		}
		stats.Failed++
		result := "failed"
		if e.Status == models.QueueStatusFailed {
			stats.Exhausted++
			result = "exhausted"
		}
		q.metrics.RecordQueueRetry(result)
		q.logger.Warn().
			Err(derr).
			Str("entry_id", e.ID.String()).
			Int("retry_count", e.RetryCount).
			Str("status", string(e.Status)).
			Msg("queued upload delivery failed")
	}
	return stats, nil
}

func (q *Queue) deliver(ctx context.Context, e *models.OfflineQueueEntry, deliver DeliverFunc) error {
	payload, err := q.sealer.Open(e.SerialData)
	if err != nil {
		return fmt.Errorf("open payload: %w", err)
	}

	up := ingest.Upload{Provenance: e.FactoryID, Payload: payload}
	if e.BatchID != nil {
		if e.ChunkIndex != nil && e.TotalChunks != nil {
			up.Chunk = &ingest.ChunkInfo{BatchID: *e.BatchID, Index: *e.ChunkIndex, TotalChunks: *e.TotalChunks}
		} else {
			up.Batch = &ingest.BatchInfo{ID: *e.BatchID, TestRunCount: e.TestRunCount}
		}
	}

	if err := deliver(ctx, up); err != nil {
		// Payload problems will not heal on retry.
		if errors.Is(err, models.ErrInvalidPayload) && e.RetryCount < e.MaxRetries-1 {
			e.RetryCount = e.MaxRetries - 1
		}
		return err
	}
	return nil
}
