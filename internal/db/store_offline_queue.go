package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kaonic/k1serial/internal/models"
)

const offlineQueueColumns = `id, factory_id, batch_id, chunk_index, total_chunks, test_run_count,
	serial_data, status, retry_count, max_retries, created_at, last_attempt, error_message`

// EnqueueOfflineUpload stores a deferred delivery.
func (db *DB) EnqueueOfflineUpload(ctx context.Context, e *models.OfflineQueueEntry) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO offline_queue (`+offlineQueueColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.FactoryID, e.BatchID, e.ChunkIndex, e.TotalChunks, e.TestRunCount,
		e.SerialData, string(e.Status), e.RetryCount, e.MaxRetries, e.CreatedAt, e.LastAttempt, e.ErrorMessage)
	if err != nil {
		return storageErr("enqueue offline upload", err)
	}
	return nil
}

// GetOfflineQueueCounts returns pending and failed counts for a factory.
func (db *DB) GetOfflineQueueCounts(ctx context.Context, factoryID string) (*models.QueueCounts, error) {
	counts := &models.QueueCounts{FactoryID: factoryID}
	err := db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM offline_queue
		WHERE LOWER(factory_id) = LOWER($1)
	`, factoryID).Scan(&counts.PendingUploads, &counts.FailedUploads)
	if err != nil {
		return nil, storageErr("get offline queue counts", err)
	}
	return counts, nil
}

// ResetFailedOfflineUploads moves failed entries of a factory back to pending.
func (db *DB) ResetFailedOfflineUploads(ctx context.Context, factoryID string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE offline_queue
		SET status = 'pending', retry_count = 0, error_message = NULL, claimed_until = NULL
		WHERE LOWER(factory_id) = LOWER($1) AND status = 'failed'
	`, factoryID)
	if err != nil {
		return 0, storageErr("reset failed offline uploads", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimPendingOfflineUploads leases up to limit pending entries, oldest
// first. Rows locked or leased by another worker are skipped; a lease that
// outlives its worker expires after the lease duration.
func (db *DB) ClaimPendingOfflineUploads(ctx context.Context, limit int, lease time.Duration) ([]*models.OfflineQueueEntry, error) {
	now := time.Now().UTC()
	rows, err := db.Pool.Query(ctx, `
		UPDATE offline_queue
		SET claimed_until = $2
		WHERE id IN (
			SELECT id FROM offline_queue
			WHERE status = 'pending' AND (claimed_until IS NULL OR claimed_until < $3)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+offlineQueueColumns+`
	`, limit, now.Add(lease), now)
	if err != nil {
		return nil, storageErr("claim pending offline uploads", err)
	}
	defer rows.Close()

	var entries []*models.OfflineQueueEntry
	for rows.Next() {
		var e models.OfflineQueueEntry
		var status string
		if err := rows.Scan(
			&e.ID, &e.FactoryID, &e.BatchID, &e.ChunkIndex, &e.TotalChunks, &e.TestRunCount,
			&e.SerialData, &status, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastAttempt, &e.ErrorMessage,
		); err != nil {
			return nil, storageErr("scan offline upload", err)
		}
		e.Status = models.QueueStatus(status)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate offline uploads", err)
	}
	// RETURNING does not keep the subquery order.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

// DeleteOfflineUpload removes a delivered entry.
func (db *DB) DeleteOfflineUpload(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM offline_queue WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete offline upload", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("offline upload %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// RecordOfflineUploadFailure persists the retry state of an entry.
func (db *DB) RecordOfflineUploadFailure(ctx context.Context, e *models.OfflineQueueEntry) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE offline_queue
		SET status = $2, retry_count = $3, last_attempt = $4, error_message = $5, claimed_until = NULL
		WHERE id = $1
	`, e.ID, string(e.Status), e.RetryCount, e.LastAttempt, e.ErrorMessage)
	if err != nil {
		return storageErr("record offline upload failure", err)
	}
	return nil
}

// CountOfflineQueueByStatus returns the number of queue entries per status.
func (db *DB) CountOfflineQueueByStatus(ctx context.Context) (map[string]int64, error) {
	return countByStatus(ctx, db.Pool, `SELECT status, COUNT(*) FROM offline_queue GROUP BY status`)
}
