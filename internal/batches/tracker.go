// Package batches records multi-part upload sessions and their chunks.
package batches

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kaonic/k1serial/internal/models"
)

// Store defines the batch bookkeeping operations. Implementations may be bound
// to a transaction so the bookkeeping commits with the serials it describes.
type Store interface {
	UpsertBatchUpload(ctx context.Context, b *models.BatchUpload) error
	// EnsureBatchUpload inserts a processing batch if the id is unknown.
	EnsureBatchUpload(ctx context.Context, batchID, factoryID string, at time.Time) error
	CompleteBatchUpload(ctx context.Context, batchID string, totalSerials int, completedAt time.Time) error
	UpsertBatchChunk(ctx context.Context, c *models.BatchChunk) error
	CountBatchChunks(ctx context.Context, batchID string) (int, error)
}

// Reader reads batch state for operators.
type Reader interface {
	GetBatchUpload(ctx context.Context, batchID string) (*models.BatchUpload, error)
	ListBatchChunks(ctx context.Context, batchID string) ([]*models.BatchChunk, error)
}

// Tracker records batch metadata, completion and chunk arrival. It never
// assembles chunks; callers decide when all chunks have arrived.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker creates a tracker over store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// RecordBatchMetadata upserts the batch row; the latest call wins.
func (t *Tracker) RecordBatchMetadata(ctx context.Context, batchID string, meta *models.BatchMetadata) error {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return fmt.Errorf("%w: batch id is required", models.ErrInvalidPayload)
	}

	b := &models.BatchUpload{
		ID:           batchID,
		FactoryID:    meta.FactoryID,
		TestRunCount: meta.TestRunCount,
		TotalSerials: meta.TotalSerials,
		Status:       models.BatchStatusProcessing,
		Metadata:     meta,
		CreatedAt:    t.now(),
	}
	if err := t.store.UpsertBatchUpload(ctx, b); err != nil {
		return fmt.Errorf("record batch %s: %w", batchID, err)
	}
	return nil
}

// CompleteBatch marks the batch completed with its final serial count.
func (t *Tracker) CompleteBatch(ctx context.Context, batchID string, totalSerials int) error {
	if err := t.store.CompleteBatchUpload(ctx, batchID, totalSerials, t.now()); err != nil {
		return fmt.Errorf("complete batch %s: %w", batchID, err)
	}
	return nil
}

// RecordChunk upserts the chunk row and returns how many distinct chunks of
// the batch have been received.
func (t *Tracker) RecordChunk(ctx context.Context, factoryID, batchID string, chunkIndex, totalChunks, serialCount int) (int, error) {
	if err := ValidateChunk(batchID, chunkIndex, totalChunks); err != nil {
		return 0, err
	}

	now := t.now()
	if err := t.store.EnsureBatchUpload(ctx, batchID, factoryID, now); err != nil {
		return 0, fmt.Errorf("ensure batch %s: %w", batchID, err)
	}

	c := &models.BatchChunk{
		BatchID:     batchID,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		SerialCount: serialCount,
		Status:      models.ChunkStatusUploaded,
		UploadedAt:  now,
	}
	if err := t.store.UpsertBatchChunk(ctx, c); err != nil {
		return 0, fmt.Errorf("record chunk %d of batch %s: %w", chunkIndex, batchID, err)
	}

	received, err := t.store.CountBatchChunks(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("count chunks of batch %s: %w", batchID, err)
	}
	return received, nil
}

// ValidateChunk checks chunk coordinates before any row is processed.
func ValidateChunk(batchID string, chunkIndex, totalChunks int) error {
	switch {
	case strings.TrimSpace(batchID) == "":
		return fmt.Errorf("%w: batch id is required", models.ErrInvalidPayload)
	case totalChunks < 1:
		return fmt.Errorf("%w: total chunks must be positive", models.ErrInvalidPayload)
	case chunkIndex < 0 || chunkIndex >= totalChunks:
		return fmt.Errorf("%w: chunk index %d out of range [0,%d)", models.ErrInvalidPayload, chunkIndex, totalChunks)
	}
	return nil
}

// Progress is an operator view of a batch.
type Progress struct {
	Batch          *models.BatchUpload  `json:"batch"`
	Chunks         []*models.BatchChunk `json:"chunks"`
	ChunksReceived int                  `json:"chunks_received"`
	TotalChunks    int                  `json:"total_chunks,omitempty"`
	Missing        []int                `json:"missing_chunks,omitempty"`
}

// GetProgress returns a batch with its chunks and the indices still missing.
func GetProgress(ctx context.Context, r Reader, batchID string) (*Progress, error) {
	b, err := r.GetBatchUpload(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", batchID, err)
	}
	chunks, err := r.ListBatchChunks(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list chunks of batch %s: %w", batchID, err)
	}

	p := &Progress{Batch: b, Chunks: chunks, ChunksReceived: len(chunks)}
	seen := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		seen[c.ChunkIndex] = true
		if c.TotalChunks > p.TotalChunks {
			p.TotalChunks = c.TotalChunks
		}
	}
	for i := 0; i < p.TotalChunks; i++ {
		if !seen[i] {
			p.Missing = append(p.Missing, i)
		}
	}
	return p, nil
}
