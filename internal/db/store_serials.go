package db

import (
	"context"

	"github.com/kaonic/k1serial/internal/models"
)

// serialStore writes and reads issued serials on a pool or a transaction.
type serialStore struct {
	q querier
}

// InsertSerial inserts rec unless the serial exists. It reports whether a new
// row was written; an existing serial is left untouched.
func (s serialStore) InsertSerial(ctx context.Context, rec *models.SerialRecord) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO serials (serial_number, production_date, provenance, batch_id, chunk_index, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (serial_number) DO NOTHING
	`, rec.SerialNumber, rec.ProductionDate, rec.Provenance, rec.BatchID, rec.ChunkIndex, rec.CreatedAt)
	if err != nil {
		return false, storageErr("insert serial", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSerial returns the record of an exact serial number.
func (s serialStore) GetSerial(ctx context.Context, serialNumber string) (*models.SerialRecord, error) {
	var rec models.SerialRecord
	err := s.q.QueryRow(ctx, `
		SELECT serial_number, production_date, provenance, batch_id, chunk_index, created_at
		FROM serials
		WHERE serial_number = $1
	`, serialNumber).Scan(&rec.SerialNumber, &rec.ProductionDate, &rec.Provenance, &rec.BatchID, &rec.ChunkIndex, &rec.CreatedAt)
	if err != nil {
		return nil, storageErr("get serial", err)
	}
	return &rec, nil
}
