package models

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus is the state of a deferred delivery.
type QueueStatus string

const (
	// QueueStatusPending is waiting for a retry.
	QueueStatusPending QueueStatus = "pending"
	// QueueStatusFailed has exhausted its retries and needs an explicit reset.
	QueueStatusFailed QueueStatus = "failed"
)

// DefaultQueueMaxRetries is the retry budget of a new queue entry.
const DefaultQueueMaxRetries = 5

// OfflineQueueEntry is one delivery that failed after authentication succeeded.
type OfflineQueueEntry struct {
	ID           uuid.UUID   `json:"id"`
	FactoryID    string      `json:"factory_id"`
	BatchID      *string     `json:"batch_id,omitempty"`
	ChunkIndex   *int        `json:"chunk_index,omitempty"`
	TotalChunks  *int        `json:"total_chunks,omitempty"`
	TestRunCount int         `json:"test_run_count"`
	SerialData   []byte      `json:"-"`
	Status       QueueStatus `json:"status"`
	RetryCount   int         `json:"retry_count"`
	MaxRetries   int         `json:"max_retries"`
	CreatedAt    time.Time   `json:"created_at"`
	LastAttempt  *time.Time  `json:"last_attempt,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
}

// NewOfflineQueueEntry creates a pending entry for a payload.
func NewOfflineQueueEntry(factoryID string, serialData []byte) *OfflineQueueEntry {
	return &OfflineQueueEntry{
		ID:         uuid.New(),
		FactoryID:  factoryID,
		SerialData: serialData,
		Status:     QueueStatusPending,
		MaxRetries: DefaultQueueMaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}

// RecordFailure increments the retry counter and marks the entry failed once
// the budget is spent.
func (e *OfflineQueueEntry) RecordFailure(msg string, at time.Time) {
	e.RetryCount++
	e.LastAttempt = &at
	e.ErrorMessage = &msg
	if e.RetryCount >= e.MaxRetries {
		e.Status = QueueStatusFailed
	}
}

// QueueCounts summarizes a factory's offline queue.
type QueueCounts struct {
	FactoryID      string `json:"factory_id"`
	PendingUploads int    `json:"pending_uploads"`
	FailedUploads  int    `json:"failed_uploads"`
}
