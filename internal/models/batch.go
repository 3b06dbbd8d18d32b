package models

import (
	"encoding/json"
	"time"
)

// BatchStatus is the state of a multi-part upload session.
type BatchStatus string

const (
	// BatchStatusProcessing means the batch metadata exists but ingestion has not finished.
	BatchStatusProcessing BatchStatus = "processing"
	// BatchStatusCompleted means the full batch payload was ingested.
	BatchStatusCompleted BatchStatus = "completed"
)

// ChunkStatusUploaded is the status recorded for a received chunk.
const ChunkStatusUploaded = "uploaded"

// BatchUpload is one multi-part upload session, keyed by the client-supplied id.
type BatchUpload struct {
	ID           string         `json:"id"`
	FactoryID    string         `json:"factory_id"`
	TestRunCount int            `json:"test_run_count"`
	TotalSerials int            `json:"total_serials"`
	Status       BatchStatus    `json:"status"`
	Metadata     *BatchMetadata `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// BatchMetadata is the structured blob stored alongside a batch.
type BatchMetadata struct {
	FactoryID    string `json:"factory_id"`
	TestRunCount int    `json:"test_run_count"`
	TotalSerials int    `json:"total_serials"`
	PayloadHash  string `json:"payload_hash,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	RowCount     int    `json:"row_count"`
	SkippedRows  int    `json:"skipped_rows"`
}

// JSON returns the metadata encoded for storage.
func (m *BatchMetadata) JSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// SetMetadata decodes stored metadata bytes into the batch.
func (b *BatchUpload) SetMetadata(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var m BatchMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	b.Metadata = &m
	return nil
}

// BatchChunk is the bookkeeping row for one chunk of a chunked upload.
// (BatchID, ChunkIndex) is unique.
type BatchChunk struct {
	BatchID     string    `json:"batch_id"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	SerialCount int       `json:"serial_count"`
	Status      string    `json:"status"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
