package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Upload(t *testing.T) {
	tests := []struct {
		name     string
		upload   Upload
		wantPath string
		wantHdr  map[string]string
	}{
		{
			name:     "plain",
			upload:   Upload{Kind: UploadPlain},
			wantPath: "/add_serials",
		},
		{
			name:     "batch",
			upload:   Upload{Kind: UploadBatch, BatchID: "B-1", TestRunCount: 3},
			wantPath: "/add_batch_serials",
			wantHdr:  map[string]string{"X-Batch-ID": "B-1", "X-Test-Run-Count": "3"},
		},
		{
			name:     "chunk",
			upload:   Upload{Kind: UploadChunk, BatchID: "B-2", ChunkIndex: 1, TotalChunks: 4},
			wantPath: "/add_chunk_serials",
			wantHdr:  map[string]string{"X-Batch-ID": "B-2", "X-Chunk-Index": "1", "X-Total-Chunks": "4"},
		},
	}

	payload := []byte("device_id,wwyy\nA100,4023\n")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.wantPath {
					t.Errorf("path: got %s, want %s", r.URL.Path, tt.wantPath)
				}
				if r.Header.Get("X-Factory-ID") != "Factory One" || r.Header.Get("X-Signature") != "sig" {
					t.Errorf("signed headers missing: %v", r.Header)
				}
				for k, v := range tt.wantHdr {
					if got := r.Header.Get(k); got != v {
						t.Errorf("header %s: got %q, want %q", k, got, v)
					}
				}
				if r.Header.Get("Authorization") != "" {
					t.Error("uploads must not carry the admin token")
				}
				f, _, err := r.FormFile("file")
				if err != nil {
					t.Errorf("form file: %v", err)
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				data, _ := io.ReadAll(f)
				if string(data) != string(payload) {
					t.Errorf("payload: got %q", data)
				}
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, `{"message":"1 serial numbers added successfully.","accepted":1,"added":1,"payload_hash":"abc"}`)
			}))
			defer srv.Close()

			c := NewClient(srv.URL+"/", "token")
			up := tt.upload
			up.Payload = payload
			up.Signed = SignedHeaders{FactoryID: "Factory One", Timestamp: "1700000000", Signature: "sig"}
			res, err := c.Upload(context.Background(), &up)
			if err != nil {
				t.Fatalf("upload: %v", err)
			}
			if res.Added != 1 || res.PayloadHash != "abc" {
				t.Errorf("unexpected result: %+v", res)
			}
		})
	}
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"status":"Not Found"}`)
		case "/add_serials":
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":"invalid signature"}`)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"unhealthy"}`)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	ctx := context.Background()

	res, err := c.Verify(ctx, "K1S-A100")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Status != "Not Found" {
		t.Errorf("status: got %q", res.Status)
	}

	_, err = c.Upload(ctx, &Upload{Payload: []byte("h\n")})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "invalid signature" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if IsRetryable(err) {
		t.Error("403 must not be retryable")
	}

	err = c.CheckHealth(ctx)
	if !errors.As(err, &apiErr) || apiErr.Message != "unhealthy" {
		t.Errorf("expected unhealthy error, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("503 must be retryable")
	}
}

func TestClient_Admin(t *testing.T) {
	var decided map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized"}`)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/admin/registration_requests":
			if r.URL.Query().Get("status") != "pending" {
				t.Errorf("status filter: got %q", r.URL.Query().Get("status"))
			}
			fmt.Fprint(w, `{"requests":[{"id":7,"factory_name":"Factory One","status":"pending"}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/admin/approve_request/7":
			_ = json.NewDecoder(r.Body).Decode(&decided)
			fmt.Fprint(w, `{"message":"Request approved","request_id":7}`)
		case r.URL.Path == "/admin/queue/Factory One/reset":
			fmt.Fprint(w, `{"factory_id":"Factory One","reset":2}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL, "s3cret")

	regs, err := c.ListRegistrations(ctx, "pending")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(regs) != 1 || regs[0].ID != 7 || regs[0].FactoryName != "Factory One" {
		t.Errorf("unexpected registrations: %+v", regs)
	}

	if err := c.Decide(ctx, "approve", 7, "ops"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if decided["approved_by"] != "ops" {
		t.Errorf("actor not sent: %v", decided)
	}
	if err := c.Decide(ctx, "promote", 7, ""); err == nil {
		t.Error("expected error for unknown action")
	}

	n, err := c.ResetQueue(ctx, "Factory One")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 2 {
		t.Errorf("reset count: got %d", n)
	}

	_, err = NewClient(srv.URL, "wrong").ListRegistrations(ctx, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{context.Canceled, false},
		{&APIError{StatusCode: http.StatusTooManyRequests}, true},
		{&APIError{StatusCode: http.StatusBadGateway}, true},
		{&APIError{StatusCode: http.StatusBadRequest}, false},
		{fmt.Errorf("upload serials: %w", &APIError{StatusCode: http.StatusInternalServerError}), true},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
