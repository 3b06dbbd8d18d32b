package client

import (
	"bytes"
	"errors"
)

// SplitRows splits a CSV payload into parts of at most rowsPerPart data rows.
// Every part repeats the header line, since the server drops the first line
// of each upload.
func SplitRows(payload []byte, rowsPerPart int) ([][]byte, error) {
	if rowsPerPart <= 0 {
		return nil, errors.New("rows per part must be positive")
	}
	lines := bytes.SplitAfter(payload, []byte("\n"))
	if len(lines) > 0 && len(bytes.TrimSpace(lines[len(lines)-1])) == 0 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 2 {
		return nil, errors.New("payload has no data rows")
	}

	header := lines[0]
	if !bytes.HasSuffix(header, []byte("\n")) {
		header = append(append([]byte{}, header...), '\n')
	}

	var parts [][]byte
	rows := lines[1:]
	for start := 0; start < len(rows); start += rowsPerPart {
		end := min(start+rowsPerPart, len(rows))
		var part bytes.Buffer
		part.Write(header)
		for _, row := range rows[start:end] {
			part.Write(row)
		}
		parts = append(parts, part.Bytes())
	}
	return parts, nil
}
