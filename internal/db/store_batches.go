package db

import (
	"context"
	"fmt"
	"time"

	"github.com/kaonic/k1serial/internal/models"
)

// batchStore persists batch sessions and chunk bookkeeping on a pool or a transaction.
type batchStore struct {
	q querier
}

// UpsertBatchUpload records batch metadata. A re-delivered batch keeps its
// creation time and returns to processing until completed again.
func (s batchStore) UpsertBatchUpload(ctx context.Context, b *models.BatchUpload) error {
	meta, err := b.Metadata.JSON()
	if err != nil {
		return fmt.Errorf("encode batch metadata: %w", err)
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO batch_uploads (id, factory_id, test_run_count, total_serials, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			factory_id = EXCLUDED.factory_id,
			test_run_count = EXCLUDED.test_run_count,
			total_serials = EXCLUDED.total_serials,
			status = EXCLUDED.status,
			metadata = EXCLUDED.metadata
	`, b.ID, b.FactoryID, b.TestRunCount, b.TotalSerials, string(b.Status), meta, b.CreatedAt)
	if err != nil {
		return storageErr("upsert batch upload", err)
	}
	return nil
}

// EnsureBatchUpload inserts a processing batch if the id is unknown.
func (s batchStore) EnsureBatchUpload(ctx context.Context, batchID, factoryID string, at time.Time) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO batch_uploads (id, factory_id, status, created_at)
		VALUES ($1, $2, 'processing', $3)
		ON CONFLICT (id) DO NOTHING
	`, batchID, factoryID, at)
	if err != nil {
		return storageErr("ensure batch upload", err)
	}
	return nil
}

// CompleteBatchUpload marks a batch completed with its final serial count.
func (s batchStore) CompleteBatchUpload(ctx context.Context, batchID string, totalSerials int, completedAt time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE batch_uploads
		SET status = 'completed', total_serials = $2, completed_at = $3
		WHERE id = $1
	`, batchID, totalSerials, completedAt)
	if err != nil {
		return storageErr("complete batch upload", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %s: %w", batchID, models.ErrNotFound)
	}
	return nil
}

// UpsertBatchChunk records a chunk arrival. A re-sent chunk replaces its row.
func (s batchStore) UpsertBatchChunk(ctx context.Context, c *models.BatchChunk) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO batch_chunks (batch_id, chunk_index, total_chunks, serial_count, status, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (batch_id, chunk_index) DO UPDATE SET
			total_chunks = EXCLUDED.total_chunks,
			serial_count = EXCLUDED.serial_count,
			status = EXCLUDED.status,
			uploaded_at = EXCLUDED.uploaded_at
	`, c.BatchID, c.ChunkIndex, c.TotalChunks, c.SerialCount, c.Status, c.UploadedAt)
	if err != nil {
		return storageErr("upsert batch chunk", err)
	}
	return nil
}

// CountBatchChunks returns how many distinct chunks of a batch have arrived.
func (s batchStore) CountBatchChunks(ctx context.Context, batchID string) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM batch_chunks WHERE batch_id = $1`, batchID).Scan(&n)
	if err != nil {
		return 0, storageErr("count batch chunks", err)
	}
	return n, nil
}

// GetBatchUpload returns a batch by id.
func (s batchStore) GetBatchUpload(ctx context.Context, batchID string) (*models.BatchUpload, error) {
	var b models.BatchUpload
	var status string
	var meta []byte
	err := s.q.QueryRow(ctx, `
		SELECT id, factory_id, test_run_count, total_serials, status, metadata, created_at, completed_at
		FROM batch_uploads
		WHERE id = $1
	`, batchID).Scan(&b.ID, &b.FactoryID, &b.TestRunCount, &b.TotalSerials, &status, &meta, &b.CreatedAt, &b.CompletedAt)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("get batch %s", batchID), err)
	}
	b.Status = models.BatchStatus(status)
	if err := b.SetMetadata(meta); err != nil {
		return nil, storageErr("decode batch metadata", err)
	}
	return &b, nil
}

// ListBatchChunks returns the chunks of a batch ordered by index.
func (s batchStore) ListBatchChunks(ctx context.Context, batchID string) ([]*models.BatchChunk, error) {
	rows, err := s.q.Query(ctx, `
		SELECT batch_id, chunk_index, total_chunks, serial_count, status, uploaded_at
		FROM batch_chunks
		WHERE batch_id = $1
		ORDER BY chunk_index
	`, batchID)
	if err != nil {
		return nil, storageErr("list batch chunks", err)
	}
	defer rows.Close()

	var chunks []*models.BatchChunk
	for rows.Next() {
		var c models.BatchChunk
		if err := rows.Scan(&c.BatchID, &c.ChunkIndex, &c.TotalChunks, &c.SerialCount, &c.Status, &c.UploadedAt); err != nil {
			return nil, storageErr("scan batch chunk", err)
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate batch chunks", err)
	}
	return chunks, nil
}
