package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kaonic/k1serial/internal/api/middleware"
	"github.com/kaonic/k1serial/internal/auth"
	"github.com/kaonic/k1serial/internal/ingest"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockIngester struct {
	result *ingest.Result
	err    error
	got    ingest.Upload
	calls  int
}

func (m *mockIngester) Ingest(_ context.Context, up ingest.Upload) (*ingest.Result, error) {
	m.calls++
	m.got = up
	return m.result, m.err
}

type mockUploadQueue struct {
	err      error
	got      *ingest.Upload
	gotCause error
}

func (m *mockUploadQueue) Enqueue(_ context.Context, up ingest.Upload, cause error) (*models.OfflineQueueEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.got = &up
	m.gotCause = cause
	return &models.OfflineQueueEntry{ID: uuid.New(), FactoryID: up.Provenance}, nil
}

// withSignedUpload stands in for the signature middleware.
func withSignedUpload(payload []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(string(middleware.SignedUploadContextKey), &middleware.SignedUpload{
			Identity:    &auth.Result{Tenant: "Factory One", RegistrationID: 1, Strategy: "ecdsa"},
			Payload:     payload,
			PayloadHash: "abc123",
			FileName:    "serials.csv",
		})
		c.Next()
	}
}

func setupSerialsTestRouter(ing SerialIngester, q UploadQueue) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("", withSignedUpload([]byte("device_id,wwyy\nA100,4023\n")))
	NewSerialsHandler(ing, q, zerolog.Nop()).RegisterRoutes(g)
	return r
}

func postWithHeaders(path string, headers map[string]string) *http.Request {
	req, _ := http.NewRequest("POST", path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestAddSerials(t *testing.T) {
	ing := &mockIngester{result: &ingest.Result{Accepted: 1, Added: 1, PayloadHash: "abc123"}}
	w := httptest.NewRecorder()
	setupSerialsTestRouter(ing, &mockUploadQueue{}).ServeHTTP(w, postWithHeaders("/add_serials", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "1 serial numbers added successfully.", resp["message"])
	assert.Equal(t, float64(1), resp["added"])
	assert.Equal(t, float64(1), resp["accepted"])

	assert.Equal(t, "Factory One", ing.got.Provenance)
	assert.Equal(t, "abc123", ing.got.PayloadHash)
	assert.Nil(t, ing.got.Batch)
	assert.Nil(t, ing.got.Chunk)
}

func TestAddSerialsWithoutSignedUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	ing := &mockIngester{}
	NewSerialsHandler(ing, nil, zerolog.Nop()).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, postWithHeaders("/add_serials", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, ing.calls)
}

func TestAddBatchSerials(t *testing.T) {
	tests := []struct {
		name      string
		headers   map[string]string
		wantCode  int
		wantBatch *ingest.BatchInfo
	}{
		{
			name:      "with test run count",
			headers:   map[string]string{middleware.HeaderBatchID: "B-7", middleware.HeaderTestRunCount: "3"},
			wantCode:  http.StatusOK,
			wantBatch: &ingest.BatchInfo{ID: "B-7", TestRunCount: 3},
		},
		{
			name:      "test run count defaults to zero",
			headers:   map[string]string{middleware.HeaderBatchID: " B-7 "},
			wantCode:  http.StatusOK,
			wantBatch: &ingest.BatchInfo{ID: "B-7"},
		},
		{
			name:     "missing batch id",
			headers:  map[string]string{middleware.HeaderTestRunCount: "3"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad test run count",
			headers:  map[string]string{middleware.HeaderBatchID: "B-7", middleware.HeaderTestRunCount: "many"},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "negative test run count",
			headers:  map[string]string{middleware.HeaderBatchID: "B-7", middleware.HeaderTestRunCount: "-1"},
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &mockIngester{result: &ingest.Result{}}
			w := httptest.NewRecorder()
			setupSerialsTestRouter(ing, nil).ServeHTTP(w, postWithHeaders("/add_batch_serials", tt.headers))

			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantBatch != nil {
				assert.Equal(t, tt.wantBatch, ing.got.Batch)
			} else {
				assert.Zero(t, ing.calls)
			}
		})
	}
}

func TestAddChunkSerials(t *testing.T) {
	t.Run("chunk coordinates reach the pipeline", func(t *testing.T) {
		idx, total := 1, 4
		ing := &mockIngester{result: &ingest.Result{BatchID: "B-9", ChunkIndex: &idx, TotalChunks: &total, ChunksReceived: 2}}
		w := httptest.NewRecorder()
		setupSerialsTestRouter(ing, nil).ServeHTTP(w, postWithHeaders("/add_chunk_serials", map[string]string{
			middleware.HeaderBatchID:     "B-9",
			middleware.HeaderChunkIndex:  "1",
			middleware.HeaderTotalChunks: "4",
		}))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, &ingest.ChunkInfo{BatchID: "B-9", Index: 1, TotalChunks: 4}, ing.got.Chunk)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(2), resp["chunks_received"])
		assert.Equal(t, float64(1), resp["chunk_index"])
	})

	t.Run("missing chunk headers", func(t *testing.T) {
		ing := &mockIngester{}
		w := httptest.NewRecorder()
		setupSerialsTestRouter(ing, nil).ServeHTTP(w, postWithHeaders("/add_chunk_serials", map[string]string{
			middleware.HeaderBatchID:    "B-9",
			middleware.HeaderChunkIndex: "1",
		}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, ing.calls)
	})

	t.Run("pipeline rejects out of range index", func(t *testing.T) {
		ing := &mockIngester{err: fmt.Errorf("%w: chunk index 4 out of range [0,4)", models.ErrInvalidPayload)}
		w := httptest.NewRecorder()
		setupSerialsTestRouter(ing, nil).ServeHTTP(w, postWithHeaders("/add_chunk_serials", map[string]string{
			middleware.HeaderBatchID:     "B-9",
			middleware.HeaderChunkIndex:  "4",
			middleware.HeaderTotalChunks: "4",
		}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"invalid payload"}`, w.Body.String())
	})
}

func TestAddSerialsStorageFailure(t *testing.T) {
	cause := fmt.Errorf("insert serial: %w: connection reset", models.ErrStorageFailure)

	t.Run("payload is queued", func(t *testing.T) {
		q := &mockUploadQueue{}
		w := httptest.NewRecorder()
		setupSerialsTestRouter(&mockIngester{err: cause}, q).ServeHTTP(w, postWithHeaders("/add_serials", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"internal server error","queued":true}`, w.Body.String())
		require.NotNil(t, q.got)
		assert.Equal(t, "Factory One", q.got.Provenance)
		assert.ErrorIs(t, q.gotCause, models.ErrStorageFailure)
	})

	t.Run("queue failure still answers 500", func(t *testing.T) {
		q := &mockUploadQueue{err: fmt.Errorf("enqueue: %w", models.ErrStorageFailure)}
		w := httptest.NewRecorder()
		setupSerialsTestRouter(&mockIngester{err: cause}, q).ServeHTTP(w, postWithHeaders("/add_serials", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"internal server error","queued":false}`, w.Body.String())
	})

	t.Run("non storage errors are not queued", func(t *testing.T) {
		q := &mockUploadQueue{}
		ing := &mockIngester{err: fmt.Errorf("%w: empty payload", models.ErrInvalidPayload)}
		w := httptest.NewRecorder()
		setupSerialsTestRouter(ing, q).ServeHTTP(w, postWithHeaders("/add_serials", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Nil(t, q.got)
	})
}
