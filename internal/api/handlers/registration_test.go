package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRegistrar struct {
	result    *models.RegistrationResult
	reg       *models.KeyRegistration
	err       error
	gotTenant string
}

func (m *mockRegistrar) Register(_ context.Context, tenantName, _ string) (*models.RegistrationResult, error) {
	m.gotTenant = tenantName
	return m.result, m.err
}

func (m *mockRegistrar) Status(context.Context, string) (*models.KeyRegistration, error) {
	return m.reg, m.err
}

func setupRegistrationTestRouter(reg KeyRegistrar) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewRegistrationHandler(reg, zerolog.Nop()).RegisterPublicRoutes(r)
	return r
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRegisterPublicKey(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		mock     *mockRegistrar
		wantCode int
		wantBody string
	}{
		{
			name:     "new registration",
			body:     models.RegisterKeyRequest{FactoryName: "Factory One", PublicKey: "MFkw"},
			mock:     &mockRegistrar{result: &models.RegistrationResult{ID: 1, Status: models.RegistrationStatusPending}},
			wantCode: http.StatusCreated,
			wantBody: `{"request_id":1,"status":"pending","already_exists":false}`,
		},
		{
			name:     "existing key",
			body:     models.RegisterKeyRequest{FactoryName: "Factory One", PublicKey: "MFkw"},
			mock:     &mockRegistrar{result: &models.RegistrationResult{ID: 1, Status: models.RegistrationStatusApproved, Existed: true}},
			wantCode: http.StatusOK,
			wantBody: `{"request_id":1,"status":"approved","already_exists":true}`,
		},
		{
			name:     "missing fields",
			body:     map[string]string{"factory_name": "Factory One"},
			mock:     &mockRegistrar{},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "blank factory name",
			body:     models.RegisterKeyRequest{FactoryName: "   ", PublicKey: "MFkw"},
			mock:     &mockRegistrar{},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad key",
			body:     models.RegisterKeyRequest{FactoryName: "Factory One", PublicKey: "nope"},
			mock:     &mockRegistrar{err: fmt.Errorf("%w: not a P-256 key", models.ErrInvalidKeyFormat)},
			wantCode: http.StatusBadRequest,
			wantBody: `{"error":"invalid public key format"}`,
		},
		{
			name:     "storage failure is hidden",
			body:     models.RegisterKeyRequest{FactoryName: "Factory One", PublicKey: "MFkw"},
			mock:     &mockRegistrar{err: fmt.Errorf("create: %w: connection refused", models.ErrStorageFailure)},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":"internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			setupRegistrationTestRouter(tt.mock).ServeHTTP(w, jsonRequest(t, "POST", "/register_public_key", tt.body))

			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestCheckRegistrationStatus(t *testing.T) {
	t.Run("known key", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		mock := &mockRegistrar{reg: &models.KeyRegistration{
			ID: 4, TenantName: "Factory One", Status: models.RegistrationStatusApproved, CreatedAt: now, ApprovedAt: &now,
		}}
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/check_registration_status?public_key=MFkw", nil)
		setupRegistrationTestRouter(mock).ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "approved", resp["status"])
		assert.Equal(t, float64(4), resp["request_id"])
		assert.Equal(t, "Factory One", resp["factory_name"])
	})

	t.Run("missing parameter", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/check_registration_status", nil)
		setupRegistrationTestRouter(&mockRegistrar{}).ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown key", func(t *testing.T) {
		mock := &mockRegistrar{err: fmt.Errorf("registration status: %w", models.ErrNotFound)}
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/check_registration_status?public_key=MFkw", nil)
		setupRegistrationTestRouter(mock).ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
