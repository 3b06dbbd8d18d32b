package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kaonic/k1serial/internal/batches"
	"github.com/kaonic/k1serial/internal/crypto"
	"github.com/kaonic/k1serial/internal/metrics"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
)

// Tx is the set of writes one ingestion performs inside a single transaction.
type Tx interface {
	batches.Store
	// InsertSerial inserts rec unless its serial exists and reports whether a
	// row was written.
	InsertSerial(ctx context.Context, rec *models.SerialRecord) (bool, error)
}

// TxRunner runs fn in a transaction, committing only when fn returns nil.
type TxRunner interface {
	WithIngestTx(ctx context.Context, fn func(tx Tx) error) error
}

// EventPublisher announces committed ingestions.
type EventPublisher interface {
	PublishIngested(ctx context.Context, ev Event) error
}

// Archiver keeps a copy of accepted payloads.
type Archiver interface {
	Archive(ctx context.Context, provenance, payloadHash string, payload []byte) error
}

// BatchInfo identifies a batch upload.
type BatchInfo struct {
	ID           string
	TestRunCount int
}

// ChunkInfo identifies one chunk of a chunked upload.
type ChunkInfo struct {
	BatchID     string
	Index       int
	TotalChunks int
}

// Upload is one authenticated payload. Provenance is the stored factory label.
type Upload struct {
	Provenance  string
	Payload     []byte
	PayloadHash string
	FileName    string
	Batch       *BatchInfo
	Chunk       *ChunkInfo
}

// Result summarizes an ingestion.
type Result struct {
	// Accepted counts rows that passed validation.
	Accepted int `json:"accepted"`
	// Added counts serials that did not exist before.
	Added          int       `json:"added"`
	Duplicates     int       `json:"duplicates"`
	Skipped        int       `json:"skipped"`
	Skips          []RowSkip `json:"skipped_rows,omitempty"`
	BatchID        string    `json:"batch_id,omitempty"`
	ChunkIndex     *int      `json:"chunk_index,omitempty"`
	TotalChunks    *int      `json:"total_chunks,omitempty"`
	ChunksReceived int       `json:"chunks_received,omitempty"`
	PayloadHash    string    `json:"payload_hash"`
}

// Event is published after an ingestion commits.
type Event struct {
	Provenance  string    `json:"provenance"`
	BatchID     string    `json:"batch_id,omitempty"`
	ChunkIndex  *int      `json:"chunk_index,omitempty"`
	Accepted    int       `json:"accepted"`
	Added       int       `json:"added"`
	Skipped     int       `json:"skipped"`
	PayloadHash string    `json:"payload_hash"`
	IngestedAt  time.Time `json:"ingested_at"`
}

// Pipeline validates rows and persists them idempotently.
type Pipeline struct {
	db         TxRunner
	metrics    *metrics.Metrics
	publishers []EventPublisher
	archiver   Archiver
	logger     zerolog.Logger
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records row outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithPublisher publishes an event after each committed ingestion.
// It may be given more than once.
func WithPublisher(pub EventPublisher) Option {
	return func(p *Pipeline) { p.publishers = append(p.publishers, pub) }
}

// WithArchiver archives each accepted payload after commit.
func WithArchiver(a Archiver) Option {
	return func(p *Pipeline) { p.archiver = a }
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(db TxRunner, logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		db:     db,
		logger: logger.With().Str("component", "ingest_pipeline").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest parses the payload and writes every valid row in one transaction.
// Row problems are skipped and reported; structural problems abort before any
// write.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (*Result, error) {
	provenance := strings.TrimSpace(up.Provenance)
	if provenance == "" {
		return nil, fmt.Errorf("%w: missing provenance", models.ErrUnauthorized)
	}
	if up.Batch != nil && strings.TrimSpace(up.Batch.ID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", models.ErrInvalidPayload)
	}
	if up.Chunk != nil {
		if err := batches.ValidateChunk(up.Chunk.BatchID, up.Chunk.Index, up.Chunk.TotalChunks); err != nil {
			return nil, err
		}
	}

	hash := up.PayloadHash
	if hash == "" {
		hash = crypto.ComputeFileHash(up.Payload)
	}

	rows, skips, err := ParseRows(up.Payload)
	if err != nil {
		return nil, err
	}
	for _, s := range skips {
		p.logger.Warn().
			Str("provenance", provenance).
			Int("line", s.Line).
			Str("reason", string(s.Reason)).
			Str("value", s.Value).
			Msg("skipping row")
	}

	res := &Result{
		Accepted:    len(rows),
		Skipped:     len(skips),
		Skips:       skips,
		PayloadHash: hash,
	}

	var batchID *string
	var chunkIndex *int
	switch {
	case up.Chunk != nil:
		id := strings.TrimSpace(up.Chunk.BatchID)
		idx, total := up.Chunk.Index, up.Chunk.TotalChunks
		batchID, chunkIndex = &id, &idx
		res.BatchID, res.ChunkIndex, res.TotalChunks = id, &idx, &total
	case up.Batch != nil:
		id := strings.TrimSpace(up.Batch.ID)
		batchID = &id
		res.BatchID = id
	}

	err = p.db.WithIngestTx(ctx, func(tx Tx) error {
		tracker := batches.NewTracker(tx)
		added := 0

		if up.Batch != nil {
			meta := &models.BatchMetadata{
				FactoryID:    provenance,
				TestRunCount: up.Batch.TestRunCount,
				TotalSerials: len(rows),
				PayloadHash:  hash,
				FileName:     up.FileName,
				RowCount:     len(rows) + len(skips),
				SkippedRows:  len(skips),
			}
			if err := tracker.RecordBatchMetadata(ctx, *batchID, meta); err != nil {
				return err
			}
		}

		now := p.now()
		for _, row := range rows {
			inserted, err := tx.InsertSerial(ctx, &models.SerialRecord{
				SerialNumber:   row.SerialNumber,
				ProductionDate: row.ProductionDate,
				Provenance:     provenance,
				BatchID:        batchID,
				ChunkIndex:     chunkIndex,
				CreatedAt:      now,
			})
			if err != nil {
				return fmt.Errorf("insert serial %s: %w", row.SerialNumber, err)
			}
			if inserted {
				added++
			}
		}

		if up.Batch != nil {
			if err := tracker.CompleteBatch(ctx, *batchID, len(rows)); err != nil {
				return err
			}
		}
		if up.Chunk != nil {
			received, err := tracker.RecordChunk(ctx, provenance, *batchID, *chunkIndex, up.Chunk.TotalChunks, len(rows))
			if err != nil {
				return err
			}
			res.ChunksReceived = received
		}

		res.Added = added
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Duplicates = res.Accepted - res.Added

	p.metrics.RecordIngest(res.Added, res.Duplicates, res.Skipped)
	p.logger.Info().
		Str("provenance", provenance).
		Str("batch_id", res.BatchID).
		Int("accepted", res.Accepted).
		Int("added", res.Added).
		Int("skipped", res.Skipped).
		Str("payload_hash", hash).
		Msg("payload ingested")

	p.afterCommit(ctx, provenance, up, res)
	return res, nil
}

func (p *Pipeline) afterCommit(ctx context.Context, provenance string, up Upload, res *Result) {
	if p.archiver != nil {
		if err := p.archiver.Archive(ctx, provenance, res.PayloadHash, up.Payload); err != nil {
			p.logger.Error().Err(err).Str("payload_hash", res.PayloadHash).Msg("failed to archive payload")
		}
	}
	if len(p.publishers) > 0 {
		ev := Event{
			Provenance:  provenance,
			BatchID:     res.BatchID,
			ChunkIndex:  res.ChunkIndex,
			Accepted:    res.Accepted,
			Added:       res.Added,
			Skipped:     res.Skipped,
			PayloadHash: res.PayloadHash,
			IngestedAt:  p.now(),
		}
		for _, pub := range p.publishers {
			if err := pub.PublishIngested(ctx, ev); err != nil {
				p.logger.Error().Err(err).Str("payload_hash", res.PayloadHash).Msg("failed to publish ingestion event")
			}
		}
	}
}
