package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type mockSerialReader struct {
	records map[string]*models.SerialRecord
	err     error
}

func (m *mockSerialReader) GetSerial(_ context.Context, sn string) (*models.SerialRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[sn]
	if !ok {
		return nil, fmt.Errorf("get serial: %w", models.ErrNotFound)
	}
	return rec, nil
}

func TestVerify(t *testing.T) {
	batch := "B-1"
	reader := &mockSerialReader{records: map[string]*models.SerialRecord{
		"K1S-A100": {
			SerialNumber:   "K1S-A100",
			ProductionDate: time.Date(2023, 10, 2, 0, 0, 0, 0, time.UTC),
			Provenance:     "Factory One",
			BatchID:        &batch,
		},
	}}

	tests := []struct {
		name     string
		query    string
		reader   *mockSerialReader
		wantCode int
		wantBody string
	}{
		{
			name:     "authentic",
			query:    "?sn=K1S-A100",
			reader:   reader,
			wantCode: http.StatusOK,
			wantBody: `{"status":"Authentic","serial_number":"K1S-A100","production_date":"2023-10-02","provenance":"Factory One","batch_id":"B-1"}`,
		},
		{
			name:     "surrounding whitespace is trimmed",
			query:    "?sn=%20K1S-A100%20",
			reader:   reader,
			wantCode: http.StatusOK,
		},
		{
			name:     "lookup is case sensitive",
			query:    "?sn=K1S-a100",
			reader:   reader,
			wantCode: http.StatusNotFound,
			wantBody: `{"status":"Not Found"}`,
		},
		{
			name:     "missing parameter",
			reader:   reader,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad format",
			query:    "?sn=XYZ-1",
			reader:   reader,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "storage failure",
			query:    "?sn=K1S-A100",
			reader:   &mockSerialReader{err: fmt.Errorf("get serial: %w: timeout", models.ErrStorageFailure)},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			r := gin.New()
			NewVerifyHandler(tt.reader, zerolog.Nop()).RegisterPublicRoutes(r)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/verify"+tt.query, nil)
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
		})
	}
}
