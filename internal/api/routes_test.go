package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kaonic/k1serial/internal/activity"
	"github.com/kaonic/k1serial/internal/auth"
	"github.com/kaonic/k1serial/internal/crypto"
	"github.com/kaonic/k1serial/internal/health"
	"github.com/kaonic/k1serial/internal/ingest"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/kaonic/k1serial/internal/queue"
	"github.com/kaonic/k1serial/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is an in-memory stand-in for the postgres store.
type memBackend struct {
	mu         sync.Mutex
	nextID     int64
	regs       map[int64]*models.KeyRegistration
	serials    map[string]*models.SerialRecord
	batches    map[string]*models.BatchUpload
	chunks     map[string]map[int]*models.BatchChunk
	queue      map[uuid.UUID]*models.OfflineQueueEntry
	failIngest bool
}

func newMemBackend() *memBackend {
	return &memBackend{
		regs:    make(map[int64]*models.KeyRegistration),
		serials: make(map[string]*models.SerialRecord),
		batches: make(map[string]*models.BatchUpload),
		chunks:  make(map[string]map[int]*models.BatchChunk),
		queue:   make(map[uuid.UUID]*models.OfflineQueueEntry),
	}
}

func (m *memBackend) Ping(context.Context) error { return nil }

func (m *memBackend) Health() map[string]any { return map[string]any{"status": "healthy"} }

func (m *memBackend) CreateKeyRegistration(_ context.Context, reg *models.KeyRegistration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regs {
		if r.PublicKey == reg.PublicKey {
			*reg = *r
			return false, nil
		}
	}
	m.nextID++
	reg.ID = m.nextID
	cp := *reg
	m.regs[reg.ID] = &cp
	return true, nil
}

func (m *memBackend) GetKeyRegistrationByID(_ context.Context, id int64) (*models.KeyRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memBackend) GetKeyRegistrationByPublicKey(_ context.Context, key string) (*models.KeyRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regs {
		if r.PublicKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memBackend) GetLatestApprovedRegistration(_ context.Context, tenant string) (*models.KeyRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.KeyRegistration
	for _, r := range m.regs {
		if r.Status != models.RegistrationStatusApproved || !strings.EqualFold(r.TenantName, strings.TrimSpace(tenant)) {
			continue
		}
		if best == nil || r.ApprovedAt.After(*best.ApprovedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, models.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memBackend) ListKeyRegistrations(_ context.Context, status *models.RegistrationStatus) ([]*models.KeyRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.KeyRegistration
	for _, r := range m.regs {
		if status == nil || r.Status == *status {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memBackend) SetRegistrationDecision(_ context.Context, id int64, status models.RegistrationStatus, actor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok {
		return models.ErrNotFound
	}
	r.Status, r.ApprovedAt, r.ApprovedBy = status, &at, &actor
	return nil
}

func (m *memBackend) RevokeRegistration(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok {
		return models.ErrNotFound
	}
	if r.Status != models.RegistrationStatusApproved {
		return models.ErrInvalidTransition
	}
	r.Status, r.ApprovedAt, r.ApprovedBy = models.RegistrationStatusPending, nil, nil
	return nil
}

// WithIngestTx runs fn under the lock and restores the serial and batch
// tables when it fails.
func (m *memBackend) WithIngestTx(_ context.Context, fn func(ingest.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIngest {
		return fmt.Errorf("begin transaction: %w: connection refused", models.ErrStorageFailure)
	}

	serials := make(map[string]*models.SerialRecord, len(m.serials))
	for k, v := range m.serials {
		serials[k] = v
	}
	batchRows := make(map[string]*models.BatchUpload, len(m.batches))
	for k, v := range m.batches {
		batchRows[k] = v
	}
	if err := fn(memTx{m}); err != nil {
		m.serials, m.batches = serials, batchRows
		return err
	}
	return nil
}

type memTx struct{ m *memBackend }

func (t memTx) InsertSerial(_ context.Context, rec *models.SerialRecord) (bool, error) {
	if _, ok := t.m.serials[rec.SerialNumber]; ok {
		return false, nil
	}
	cp := *rec
	t.m.serials[rec.SerialNumber] = &cp
	return true, nil
}

func (t memTx) UpsertBatchUpload(_ context.Context, b *models.BatchUpload) error {
	cp := *b
	t.m.batches[b.ID] = &cp
	return nil
}

func (t memTx) EnsureBatchUpload(_ context.Context, batchID, factoryID string, at time.Time) error {
	if _, ok := t.m.batches[batchID]; !ok {
		t.m.batches[batchID] = &models.BatchUpload{ID: batchID, FactoryID: factoryID, Status: models.BatchStatusProcessing, CreatedAt: at}
	}
	return nil
}

func (t memTx) CompleteBatchUpload(_ context.Context, batchID string, total int, at time.Time) error {
	b, ok := t.m.batches[batchID]
	if !ok {
		return models.ErrNotFound
	}
	b.Status, b.TotalSerials, b.CompletedAt = models.BatchStatusCompleted, total, &at
	return nil
}

func (t memTx) UpsertBatchChunk(_ context.Context, c *models.BatchChunk) error {
	if t.m.chunks[c.BatchID] == nil {
		t.m.chunks[c.BatchID] = make(map[int]*models.BatchChunk)
	}
	cp := *c
	t.m.chunks[c.BatchID][c.ChunkIndex] = &cp
	return nil
}

func (t memTx) CountBatchChunks(_ context.Context, batchID string) (int, error) {
	return len(t.m.chunks[batchID]), nil
}

func (m *memBackend) GetSerial(_ context.Context, sn string) (*models.SerialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.serials[sn]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memBackend) GetBatchUpload(_ context.Context, batchID string) (*models.BatchUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBackend) ListBatchChunks(_ context.Context, batchID string) ([]*models.BatchChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BatchChunk
	for _, c := range m.chunks[batchID] {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (m *memBackend) EnqueueOfflineUpload(_ context.Context, e *models.OfflineQueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.queue[e.ID] = &cp
	return nil
}

func (m *memBackend) GetOfflineQueueCounts(_ context.Context, factoryID string) (*models.QueueCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.QueueCounts{FactoryID: factoryID}
	for _, e := range m.queue {
		if !strings.EqualFold(e.FactoryID, factoryID) {
			continue
		}
		switch e.Status {
		case models.QueueStatusPending:
			c.PendingUploads++
		case models.QueueStatusFailed:
			c.FailedUploads++
		}
	}
	return c, nil
}

func (m *memBackend) ResetFailedOfflineUploads(_ context.Context, factoryID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.queue {
		if strings.EqualFold(e.FactoryID, factoryID) && e.Status == models.QueueStatusFailed {
			e.Status, e.RetryCount, e.ErrorMessage = models.QueueStatusPending, 0, nil
			n++
		}
	}
	return n, nil
}

func (m *memBackend) ClaimPendingOfflineUploads(_ context.Context, limit int, _ time.Duration) ([]*models.OfflineQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.OfflineQueueEntry
	for _, e := range m.queue {
		if e.Status == models.QueueStatusPending && len(out) < limit {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memBackend) DeleteOfflineUpload(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.queue, id)
	return nil
}

func (m *memBackend) RecordOfflineUploadFailure(_ context.Context, e *models.OfflineQueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.queue[e.ID] = &cp
	return nil
}

const testAdminToken = "s3cret-admin"

type testServer struct {
	router  *gin.Engine
	backend *memBackend
	feed    *activity.Feed
	key     *ecdsa.PrivateKey
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()

	backend := newMemBackend()
	feed := activity.NewFeed(activity.DefaultConfig(), logger)
	feed.Start()
	t.Cleanup(feed.Stop)
	reg := registry.New(backend, nil, logger, registry.WithNotifier(feed))
	hash, err := auth.HashAdminToken(testAdminToken)
	require.NoError(t, err)
	admin, err := auth.NewAdminTokenValidator(hash)
	require.NoError(t, err)

	router, err := NewRouter(cfg, Services{
		DB:            backend,
		Registry:      reg,
		Authenticator: auth.NewAuthenticator(reg, logger),
		Ingester:      ingest.NewPipeline(backend, logger, ingest.WithPublisher(feed)),
		Queue:         queue.New(backend, nil, nil, logger),
		AdminTokens:   admin,
		Gatherer:      prometheus.NewRegistry(),
		Activity:      feed,
		System:        fixedSampler{DiskPath: "/srv", DiskUsage: 42, MemoryUsage: 30},
	}, logger)
	require.NoError(t, err)

	key, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return &testServer{router: router.Engine, backend: backend, feed: feed, key: key}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) publicKey(t *testing.T) string {
	t.Helper()
	pub, err := crypto.CanonicalPublicKey(&s.key.PublicKey)
	require.NoError(t, err)
	return pub
}

func (s *testServer) registerAndApprove(t *testing.T, factory string) int64 {
	t.Helper()
	body, _ := json.Marshal(models.RegisterKeyRequest{FactoryName: factory, PublicKey: s.publicKey(t)})
	req, _ := http.NewRequest("POST", "/register_public_key", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := s.do(req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res models.RegistrationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	req, _ = http.NewRequest("POST", "/admin/approve_request/"+strconv.FormatInt(res.ID, 10), strings.NewReader(`{"approved_by":"ops"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return res.ID
}

func (s *testServer) signedUpload(t *testing.T, path, factory string, payload []byte, extra map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "serials.csv")
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := crypto.SignECDSA(s.key, crypto.SignatureMessage(ts, crypto.ComputeFileHash(payload)))
	require.NoError(t, err)

	req, _ := http.NewRequest("POST", path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Factory-ID", factory)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", sig)
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRegisterApproveUploadVerify(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.registerAndApprove(t, "Factory One")
	payload := []byte("device_id,wwyy\nA100,4023\n")

	w := s.do(s.signedUpload(t, "/add_serials", "factory one", payload, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "1 serial numbers added successfully.", resp["message"])
	assert.Equal(t, float64(1), resp["added"])

	req, _ := http.NewRequest("GET", "/verify?sn=K1S-A100", nil)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decode(t, w)
	assert.Equal(t, "Authentic", resp["status"])
	assert.Equal(t, "2023-10-02", resp["production_date"])
	assert.Equal(t, "Factory One", resp["provenance"])

	// The same payload again adds nothing.
	w = s.do(s.signedUpload(t, "/add_serials", "Factory One", payload, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp = decode(t, w)
	assert.Equal(t, "0 serial numbers added successfully.", resp["message"])
	assert.Equal(t, float64(1), resp["accepted"])
	assert.Equal(t, float64(1), resp["duplicates"])
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	payload := []byte("device_id,wwyy\nA100,4023\n")

	t.Run("factory without approved key", func(t *testing.T) {
		w := s.do(s.signedUpload(t, "/add_serials", "Factory One", payload, nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	s.registerAndApprove(t, "Factory One")

	t.Run("tampered payload", func(t *testing.T) {
		req := s.signedUpload(t, "/add_serials", "Factory One", payload, nil)
		req.Header.Set("X-Signature", "AAAA")
		w := s.do(req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing headers", func(t *testing.T) {
		req := s.signedUpload(t, "/add_serials", "Factory One", payload, nil)
		req.Header.Del("X-Timestamp")
		w := s.do(req)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.JSONEq(t, `{"error":"missing authentication headers"}`, w.Body.String())
	})

	t.Run("body over the limit", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxUploadBytes = 64
		small := newTestServer(t, cfg)
		small.key = s.key
		w := small.do(small.signedUpload(t, "/add_serials", "Factory One", bytes.Repeat([]byte("A100,4023\n"), 20), nil))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	assert.Empty(t, s.backend.serials)
}

func TestBatchAndChunkUploads(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.registerAndApprove(t, "Factory One")

	w := s.do(s.signedUpload(t, "/add_batch_serials", "Factory One", []byte("device_id,wwyy\nA1,0124\nA2,0224\nbad,9999\n"), map[string]string{
		"X-Batch-ID":       "B-1",
		"X-Test-Run-Count": "2",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, float64(2), resp["added"])
	assert.Equal(t, float64(1), resp["skipped"])
	assert.Equal(t, "B-1", resp["batch_id"])

	for i := 0; i < 2; i++ {
		w = s.do(s.signedUpload(t, "/add_chunk_serials", "Factory One", []byte(fmt.Sprintf("device_id,wwyy\nC%d,0124\n", i)), map[string]string{
			"X-Batch-ID":     "B-2",
			"X-Chunk-Index":  strconv.Itoa(i * 2),
			"X-Total-Chunks": "3",
		}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, float64(i+1), decode(t, w)["chunks_received"])
	}

	req, _ := http.NewRequest("GET", "/admin/batches/B-2", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []any{float64(1)}, decode(t, w)["missing_chunks"])
}

func TestStorageFailureQueuesUpload(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.registerAndApprove(t, "Factory One")
	s.backend.failIngest = true

	w := s.do(s.signedUpload(t, "/add_serials", "Factory One", []byte("device_id,wwyy\nA100,4023\n"), nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")

	req, _ := http.NewRequest("GET", "/queue_status?public_key="+s.publicKey(t), nil)
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"factory_id":"Factory One","pending_uploads":1,"failed_uploads":0}`, w.Body.String())
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	req, _ := http.NewRequest("GET", "/admin/registration_requests", nil)
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)

	req, _ = http.NewRequest("GET", "/admin/registration_requests", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	w := s.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"requests":[]}`, w.Body.String())
}

func TestVerifyRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VerifyRateLimit = 2
	s := newTestServer(t, cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("GET", "/verify?sn=K1S-NOPE", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		codes = append(codes, s.do(req).Code)
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}, codes)

	// Other routes keep the global allowance.
	req, _ := http.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "203.0.113.7:5000"
	assert.Equal(t, http.StatusOK, s.do(req).Code)
}

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	for _, path := range []string{"/", "/version", "/health", "/health/db", "/metrics"} {
		req, _ := http.NewRequest("GET", path, nil)
		assert.Equal(t, http.StatusOK, s.do(req).Code, path)
	}
}

func TestNewRouterRequiresServices(t *testing.T) {
	_, err := NewRouter(DefaultConfig(), Services{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestActivityFeed(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	srv := httptest.NewServer(s.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/activity?factory=Factory+One"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + testAdminToken}})
	require.NoError(t, err)
	defer conn.Close()

	id := s.registerAndApprove(t, "Factory One")
	w := s.do(s.signedUpload(t, "/add_serials", "Factory One", []byte("device_id,wwyy\nA100,4023\n"), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got []activity.Event
	for len(got) < 2 {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev activity.Event
		require.NoError(t, conn.ReadJSON(&ev))
		got = append(got, ev)
	}
	assert.Equal(t, activity.EventRegistrationApproved, got[0].Type)
	assert.EqualValues(t, id, got[0].Data["request_id"])
	assert.Equal(t, activity.EventSerialsIngested, got[1].Type)
	assert.Equal(t, "Factory One", got[1].Factory)
	assert.EqualValues(t, 1, got[1].Data["added"])
}

type fixedSampler health.Metrics

func (f fixedSampler) Collect(context.Context) (*health.Metrics, error) {
	m := health.Metrics(f)
	return &m, nil
}

func TestSystemHealthRequiresAdmin(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/admin/health/system", nil)
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/health/system", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	w := s.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var res health.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, health.StatusHealthy, res.Status)
	require.NotNil(t, res.Metrics)
	assert.Equal(t, "/srv", res.Metrics.DiskPath)
}

func TestAPIDocs(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/docs/doc.json", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		Swagger string                    `json:"swagger"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "2.0", doc.Swagger)
	for _, path := range []string{"/add_serials", "/add_chunk_serials", "/register_public_key", "/verify", "/admin/revoke_request/{id}"} {
		assert.Contains(t, doc.Paths, path)
	}

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/docs/index.html", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
