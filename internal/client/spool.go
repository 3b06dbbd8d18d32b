package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SpoolStatus is the state of a spooled upload.
type SpoolStatus string

const (
	// SpoolStatusPending is waiting for the next flush.
	SpoolStatusPending SpoolStatus = "pending"
	// SpoolStatusFailed was rejected by the server or ran out of retries.
	SpoolStatusFailed SpoolStatus = "failed"
)

// DefaultSpoolMaxRetries is the retry budget of a spooled upload.
const DefaultSpoolMaxRetries = 5

// spoolTimeFormat is fixed width so stored timestamps sort as text.
const spoolTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrSpoolFull is returned when the spool reached its size limit.
var ErrSpoolFull = errors.New("upload spool is full")

// SpooledUpload is an upload kept locally because the server could not take it.
// Only the payload and its routing are kept; it is re-signed when flushed.
type SpooledUpload struct {
	ID           uuid.UUID   `json:"id"`
	Kind         UploadKind  `json:"kind"`
	FileName     string      `json:"file_name"`
	Payload      []byte      `json:"-"`
	BatchID      string      `json:"batch_id,omitempty"`
	TestRunCount int         `json:"test_run_count,omitempty"`
	ChunkIndex   int         `json:"chunk_index,omitempty"`
	TotalChunks  int         `json:"total_chunks,omitempty"`
	Status       SpoolStatus `json:"status"`
	RetryCount   int         `json:"retry_count"`
	LastError    string      `json:"last_error,omitempty"`
	QueuedAt     time.Time   `json:"queued_at"`
}

// Spool persists uploads in a local SQLite database.
type Spool struct {
	db       *sql.DB
	maxSize  int
	maxRetry int
	logger   zerolog.Logger
}

// OpenSpool opens or creates the spool database in dir.
func OpenSpool(dir string, logger zerolog.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}
	dbPath := filepath.Join(dir, "spool.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open spool database: %w", err)
	}

	s := &Spool{
		db:       db,
		maxSize:  1000,
		maxRetry: DefaultSpoolMaxRetries,
		logger:   logger.With().Str("component", "upload_spool").Logger(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate spool database: %w", err)
	}
	return s, nil
}

func (s *Spool) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS spooled_uploads (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			file_name TEXT NOT NULL,
			payload BLOB NOT NULL,
			batch_id TEXT NOT NULL DEFAULT '',
			test_run_count INTEGER NOT NULL DEFAULT 0,
			chunk_index INTEGER NOT NULL DEFAULT 0,
			total_chunks INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			queued_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_spooled_uploads_status ON spooled_uploads(status, queued_at);
	`)
	return err
}

// Close closes the spool database.
func (s *Spool) Close() error {
	return s.db.Close()
}

// Add stores an unsigned copy of up.
func (s *Spool) Add(ctx context.Context, up *Upload, cause error) (*SpooledUpload, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spooled_uploads`).Scan(&count); err != nil {
		return nil, fmt.Errorf("count spooled uploads: %w", err)
	}
	if count >= s.maxSize {
		return nil, ErrSpoolFull
	}

	e := &SpooledUpload{
		ID:           uuid.New(),
		Kind:         up.Kind,
		FileName:     up.FileName,
		Payload:      up.Payload,
		BatchID:      up.BatchID,
		TestRunCount: up.TestRunCount,
		ChunkIndex:   up.ChunkIndex,
		TotalChunks:  up.TotalChunks,
		Status:       SpoolStatusPending,
		QueuedAt:     time.Now().UTC(),
	}
	if cause != nil {
		e.LastError = cause.Error()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spooled_uploads (id, kind, file_name, payload, batch_id, test_run_count, chunk_index, total_chunks, status, retry_count, last_error, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID.String(), string(e.Kind), e.FileName, e.Payload, e.BatchID, e.TestRunCount, e.ChunkIndex, e.TotalChunks,
		string(e.Status), e.RetryCount, e.LastError, e.QueuedAt.Format(spoolTimeFormat))
	if err != nil {
		return nil, fmt.Errorf("insert spooled upload: %w", err)
	}

	s.logger.Info().Str("id", e.ID.String()).Str("kind", string(e.Kind)).Str("file", e.FileName).Msg("upload spooled")
	return e, nil
}

// List returns spooled uploads, oldest first. An empty status lists all.
func (s *Spool) List(ctx context.Context, status SpoolStatus) ([]*SpooledUpload, error) {
	query := `
		SELECT id, kind, file_name, payload, batch_id, test_run_count, chunk_index, total_chunks, status, retry_count, last_error, queued_at
		FROM spooled_uploads`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY queued_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list spooled uploads: %w", err)
	}
	defer rows.Close()

	var out []*SpooledUpload
	for rows.Next() {
		var (
			e            SpooledUpload
			id, kind, st string
			queuedAt     string
		)
		if err := rows.Scan(&id, &kind, &e.FileName, &e.Payload, &e.BatchID, &e.TestRunCount, &e.ChunkIndex,
			&e.TotalChunks, &st, &e.RetryCount, &e.LastError, &queuedAt); err != nil {
			return nil, fmt.Errorf("scan spooled upload: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse spooled upload id: %w", err)
		}
		e.Kind, e.Status = UploadKind(kind), SpoolStatus(st)
		if e.QueuedAt, err = time.Parse(spoolTimeFormat, queuedAt); err != nil {
			return nil, fmt.Errorf("parse queued_at: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Delete removes a spooled upload.
func (s *Spool) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM spooled_uploads WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete spooled upload: %w", err)
	}
	return nil
}

// Reset moves failed uploads back to pending.
func (s *Spool) Reset(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE spooled_uploads SET status = 'pending', retry_count = 0, last_error = ''
		WHERE status = 'failed'
	`)
	if err != nil {
		return 0, fmt.Errorf("reset spooled uploads: %w", err)
	}
	return res.RowsAffected()
}

func (s *Spool) recordFailure(ctx context.Context, e *SpooledUpload, err error, permanent bool) error {
	e.RetryCount++
	e.LastError = err.Error()
	if permanent || e.RetryCount >= s.maxRetry {
		e.Status = SpoolStatusFailed
	}
	_, dbErr := s.db.ExecContext(ctx, `
		UPDATE spooled_uploads SET status = ?, retry_count = ?, last_error = ? WHERE id = ?
	`, string(e.Status), e.RetryCount, e.LastError, e.ID.String())
	if dbErr != nil {
		return fmt.Errorf("update spooled upload: %w", dbErr)
	}
	return nil
}

// Uploader sends signed uploads.
type Uploader interface {
	Upload(ctx context.Context, up *Upload) (*UploadResult, error)
}

// FlushStats summarizes one flush.
type FlushStats struct {
	Delivered int
	Retrying  int
	Failed    int
}

// Flush re-signs and sends every pending upload. A transport failure stops
// the flush, since the server is likely still unreachable.
func (s *Spool) Flush(ctx context.Context, up Uploader, signer *Signer) (FlushStats, error) {
	var stats FlushStats
	pending, err := s.List(ctx, SpoolStatusPending)
	if err != nil {
		return stats, err
	}

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		signed, err := signer.Sign(e.Payload)
		if err != nil {
			return stats, err
		}
		_, sendErr := up.Upload(ctx, &Upload{
			Kind:         e.Kind,
			FileName:     e.FileName,
			Payload:      e.Payload,
			Signed:       signed,
			BatchID:      e.BatchID,
			TestRunCount: e.TestRunCount,
			ChunkIndex:   e.ChunkIndex,
			TotalChunks:  e.TotalChunks,
		})
		if sendErr == nil {
			if err := s.Delete(ctx, e.ID); err != nil {
				return stats, err
			}
			stats.Delivered++
			continue
		}

		retryable := IsRetryable(sendErr)
		if err := s.recordFailure(ctx, e, sendErr, !retryable); err != nil {
			return stats, err
		}
		if e.Status == SpoolStatusFailed {
			stats.Failed++
		} else {
			stats.Retrying++
		}
		s.logger.Warn().Err(sendErr).Str("id", e.ID.String()).Int("retry_count", e.RetryCount).Msg("spooled upload not delivered")

		var apiErr *APIError
		if retryable && !errors.As(sendErr, &apiErr) {
			return stats, fmt.Errorf("server unreachable: %w", sendErr)
		}
	}

	s.logger.Info().Int("delivered", stats.Delivered).Int("retrying", stats.Retrying).Int("failed", stats.Failed).Msg("spool flushed")
	return stats, nil
}
