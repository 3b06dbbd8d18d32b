// Package ingest turns signed tabular uploads into serial records.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kaonic/k1serial/internal/models"
)

// MaxDeviceIDLength bounds a device id so the serial fits the public format.
const MaxDeviceIDLength = 60

// SkipReason explains why a data row was not ingested.
type SkipReason string

const (
	SkipShortRow         SkipReason = "fewer than two fields"
	SkipEmptyDeviceID    SkipReason = "empty device id"
	SkipInvalidDeviceID  SkipReason = "device id has unsupported characters or length"
	SkipInvalidWeekYear  SkipReason = "week/year code is not a 4-digit number"
	SkipInvalidWeek      SkipReason = "week number does not exist in year"
	SkipMalformedCSVLine SkipReason = "malformed csv line"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// ValidatedRow is a data row ready for insertion.
type ValidatedRow struct {
	Line           int
	SerialNumber   string
	ProductionDate time.Time
}

// RowSkip records a data row that was rejected.
type RowSkip struct {
	Line   int        `json:"line"`
	Reason SkipReason `json:"reason"`
	Value  string     `json:"value,omitempty"`
}

// RowResult is the outcome of transforming one row: exactly one field is set.
type RowResult struct {
	Row  *ValidatedRow
	Skip *RowSkip
}

// ProductionDateFromWeekYear derives the Monday of ISO week WW in year 20YY
// from a WWYY code. Numeric codes shorter than four digits are left-padded.
func ProductionDateFromWeekYear(code string) (time.Time, SkipReason, bool) {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 4 {
		return time.Time{}, SkipInvalidWeekYear, false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return time.Time{}, SkipInvalidWeekYear, false
		}
	}
	code = strings.Repeat("0", 4-len(code)) + code

	week, _ := strconv.Atoi(code[:2])
	yy, _ := strconv.Atoi(code[2:])
	year := 2000 + yy
	if week < 1 || week > 53 {
		return time.Time{}, SkipInvalidWeek, false
	}

	// January 4th is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	date := jan4.AddDate(0, 0, -offset+(week-1)*7)

	if y, w := date.ISOWeek(); y != year || w != week {
		return time.Time{}, SkipInvalidWeek, false
	}
	return date, "", true
}

// TransformRow validates one data row. It never fails the upload.
func TransformRow(line int, fields []string) RowResult {
	if len(fields) < 2 {
		return RowResult{Skip: &RowSkip{Line: line, Reason: SkipShortRow, Value: strings.Join(fields, ",")}}
	}

	deviceID := strings.TrimSpace(fields[0])
	if deviceID == "" {
		return RowResult{Skip: &RowSkip{Line: line, Reason: SkipEmptyDeviceID}}
	}
	serial := models.SerialNumberFor(deviceID)
	if len(deviceID) > MaxDeviceIDLength || !models.IsValidSerialFormat(serial) {
		return RowResult{Skip: &RowSkip{Line: line, Reason: SkipInvalidDeviceID, Value: deviceID}}
	}

	date, reason, ok := ProductionDateFromWeekYear(fields[1])
	if !ok {
		return RowResult{Skip: &RowSkip{Line: line, Reason: reason, Value: strings.TrimSpace(fields[1])}}
	}

	return RowResult{Row: &ValidatedRow{Line: line, SerialNumber: serial, ProductionDate: date}}
}

// parseLine decodes a single CSV record.
func parseLine(text string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after record")
	}
	return fields, nil
}

// ParseRows decodes a CSV payload, drops the header row and transforms every
// data row in payload order. Undecodable payloads fail with ErrInvalidPayload.
func ParseRows(payload []byte) ([]ValidatedRow, []RowSkip, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil, fmt.Errorf("%w: empty file", models.ErrInvalidPayload)
	}
	if !utf8.Valid(payload) {
		return nil, nil, fmt.Errorf("%w: file is not valid UTF-8 text", models.ErrInvalidPayload)
	}
	payload = bytes.TrimPrefix(payload, utf8BOM)

	var (
		rows    []ValidatedRow
		skips   []RowSkip
		sawHead bool
	)
	// Each line is decoded on its own so a broken quote only costs that line.
	for i, raw := range strings.Split(string(payload), "\n") {
		line := i + 1
		text := strings.TrimSuffix(raw, "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		fields, err := parseLine(text)
		if !sawHead {
			sawHead = true
			continue
		}
		if err != nil {
			skips = append(skips, RowSkip{Line: line, Reason: SkipMalformedCSVLine})
			continue
		}

		res := TransformRow(line, fields)
		if res.Skip != nil {
			skips = append(skips, *res.Skip)
			continue
		}
		rows = append(rows, *res.Row)
	}
	return rows, skips, nil
}
