package models

import (
	"regexp"
	"strings"
	"time"
)

// SerialPrefix is prepended to every device id to form the public serial number.
const SerialPrefix = "K1S-"

// DateLayout is the calendar date format used for production dates on the wire.
const DateLayout = "2006-01-02"

// serialPattern is the public serial format accepted by the verification lookup.
var serialPattern = regexp.MustCompile(`^K1S-[A-Za-z0-9_-]{1,60}$`)

// SerialRecord is one issued serial. SerialNumber is the primary key.
type SerialRecord struct {
	SerialNumber   string    `json:"serial_number"`
	ProductionDate time.Time `json:"production_date"`
	Provenance     string    `json:"provenance"`
	BatchID        *string   `json:"batch_id,omitempty"`
	ChunkIndex     *int      `json:"chunk_index,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SerialNumberFor derives the serial for a device id. The id is trimmed but keeps its case.
func SerialNumberFor(deviceID string) string {
	return SerialPrefix + strings.TrimSpace(deviceID)
}

// IsValidSerialFormat reports whether s matches the public serial format.
func IsValidSerialFormat(s string) bool {
	return serialPattern.MatchString(s)
}

// VerifySerialResponse is the public answer of a serial lookup.
type VerifySerialResponse struct {
	Status         string  `json:"status"`
	SerialNumber   string  `json:"serial_number,omitempty"`
	ProductionDate string  `json:"production_date,omitempty"`
	Provenance     string  `json:"provenance,omitempty"`
	BatchID        *string `json:"batch_id,omitempty"`
}

const (
	// VerifyStatusAuthentic is reported for a serial that exists.
	VerifyStatusAuthentic = "Authentic"
	// VerifyStatusNotFound is reported for an unknown serial.
	VerifyStatusNotFound = "Not Found"
)

// NewVerifySerialResponse builds the found response for a record.
func NewVerifySerialResponse(r *SerialRecord) VerifySerialResponse {
	return VerifySerialResponse{
		Status:         VerifyStatusAuthentic,
		SerialNumber:   r.SerialNumber,
		ProductionDate: r.ProductionDate.Format(DateLayout),
		Provenance:     r.Provenance,
		BatchID:        r.BatchID,
	}
}
