// Package client provides the factory-side HTTP client for the k1serial server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether an upload error may succeed later without
// changing the request: transport failures, 429 and 5xx answers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// Client is an HTTP client for the k1serial server.
type Client struct {
	serverURL  string
	adminToken string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client, e.g. one from NewHTTPClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new client. adminToken is only needed by admin calls.
func NewClient(serverURL, adminToken string, opts ...Option) *Client {
	c := &Client{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		adminToken: adminToken,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registration is the server's view of a key registration.
type Registration struct {
	ID          int64      `json:"id"`
	RequestID   int64      `json:"request_id"`
	FactoryName string     `json:"factory_name"`
	PublicKey   string     `json:"public_key,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  *string    `json:"approved_by,omitempty"`
}

// RegisterResult is returned when a key is submitted.
type RegisterResult struct {
	RequestID     int64  `json:"request_id"`
	Status        string `json:"status"`
	AlreadyExists bool   `json:"already_exists"`
}

// UploadKind selects the upload route.
type UploadKind string

const (
	UploadPlain UploadKind = "plain"
	UploadBatch UploadKind = "batch"
	UploadChunk UploadKind = "chunk"
)

// Upload is one signed CSV delivery.
type Upload struct {
	Kind         UploadKind
	FileName     string
	Payload      []byte
	Signed       SignedHeaders
	BatchID      string
	TestRunCount int
	ChunkIndex   int
	TotalChunks  int
}

// UploadResult is the server's ingestion summary.
type UploadResult struct {
	Message        string `json:"message"`
	Accepted       int    `json:"accepted"`
	Added          int    `json:"added"`
	Duplicates     int    `json:"duplicates"`
	Skipped        int    `json:"skipped"`
	BatchID        string `json:"batch_id,omitempty"`
	ChunkIndex     *int   `json:"chunk_index,omitempty"`
	TotalChunks    *int   `json:"total_chunks,omitempty"`
	ChunksReceived int    `json:"chunks_received,omitempty"`
	PayloadHash    string `json:"payload_hash"`
}

// VerifyResult is the public answer of a serial lookup.
type VerifyResult struct {
	Status         string  `json:"status"`
	SerialNumber   string  `json:"serial_number,omitempty"`
	ProductionDate string  `json:"production_date,omitempty"`
	Provenance     string  `json:"provenance,omitempty"`
	BatchID        *string `json:"batch_id,omitempty"`
}

// QueueCounts are the server-side deferred uploads of a factory.
type QueueCounts struct {
	FactoryID      string `json:"factory_id"`
	PendingUploads int    `json:"pending_uploads"`
	FailedUploads  int    `json:"failed_uploads"`
}

// CheckHealth checks whether the server is reachable and healthy.
func (c *Client) CheckHealth(ctx context.Context) error {
	var out map[string]any
	return c.do(ctx, http.MethodGet, "/health", nil, &out)
}

// Register submits a public key for approval.
func (c *Client) Register(ctx context.Context, factoryName, publicKey string) (*RegisterResult, error) {
	var out RegisterResult
	body := map[string]string{"factory_name": factoryName, "public_key": publicKey}
	if err := c.do(ctx, http.MethodPost, "/register_public_key", body, &out); err != nil {
		return nil, fmt.Errorf("register public key: %w", err)
	}
	return &out, nil
}

// RegistrationStatus reports the registration state of a public key.
func (c *Client) RegistrationStatus(ctx context.Context, publicKey string) (*Registration, error) {
	var out Registration
	path := "/check_registration_status?public_key=" + url.QueryEscape(publicKey)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("check registration status: %w", err)
	}
	return &out, nil
}

// QueueStatus returns the server-side queue counts of the factory owning publicKey.
func (c *Client) QueueStatus(ctx context.Context, publicKey string) (*QueueCounts, error) {
	var out QueueCounts
	if err := c.do(ctx, http.MethodGet, "/queue_status?public_key="+url.QueryEscape(publicKey), nil, &out); err != nil {
		return nil, fmt.Errorf("queue status: %w", err)
	}
	return &out, nil
}

// Verify looks up a serial. An unknown serial is not an error.
func (c *Client) Verify(ctx context.Context, serial string) (*VerifyResult, error) {
	var out VerifyResult
	err := c.do(ctx, http.MethodGet, "/verify?sn="+url.QueryEscape(serial), nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return &VerifyResult{Status: "Not Found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify serial: %w", err)
	}
	return &out, nil
}

// Upload sends a signed CSV payload.
func (c *Client) Upload(ctx context.Context, up *Upload) (*UploadResult, error) {
	var path string
	headers := up.Signed.Header()
	switch up.Kind {
	case UploadBatch:
		path = "/add_batch_serials"
		headers.Set("X-Batch-ID", up.BatchID)
		headers.Set("X-Test-Run-Count", strconv.Itoa(up.TestRunCount))
	case UploadChunk:
		path = "/add_chunk_serials"
		headers.Set("X-Batch-ID", up.BatchID)
		headers.Set("X-Chunk-Index", strconv.Itoa(up.ChunkIndex))
		headers.Set("X-Total-Chunks", strconv.Itoa(up.TotalChunks))
	default:
		path = "/add_serials"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	name := up.FileName
	if name == "" {
		name = "serials.csv"
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(up.Payload); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header = headers
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResult
	if err := c.send(req, &out); err != nil {
		return nil, fmt.Errorf("upload serials: %w", err)
	}
	return &out, nil
}

// ListRegistrations returns registrations, optionally filtered by status.
func (c *Client) ListRegistrations(ctx context.Context, status string) ([]Registration, error) {
	path := "/admin/registration_requests"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Requests []Registration `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return out.Requests, nil
}

// Decide approves, denies or revokes a registration.
func (c *Client) Decide(ctx context.Context, action string, id int64, actor string) error {
	var key string
	switch action {
	case "approve":
		key = "approved_by"
	case "deny":
		key = "denied_by"
	case "revoke":
		key = "revoked_by"
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	body := map[string]string{}
	if actor != "" {
		body[key] = actor
	}
	path := fmt.Sprintf("/admin/%s_request/%d", action, id)
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("%s registration %d: %w", action, id, err)
	}
	return nil
}

// AdminQueueCounts returns the queue counts of a factory label.
func (c *Client) AdminQueueCounts(ctx context.Context, factory string) (*QueueCounts, error) {
	var out QueueCounts
	if err := c.do(ctx, http.MethodGet, "/admin/queue/"+url.PathEscape(factory), nil, &out); err != nil {
		return nil, fmt.Errorf("queue counts: %w", err)
	}
	return &out, nil
}

// ResetQueue moves the failed server-side uploads of a factory back to pending.
func (c *Client) ResetQueue(ctx context.Context, factory string) (int64, error) {
	var out struct {
		Reset int64 `json:"reset"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/queue/"+url.PathEscape(factory)+"/reset", nil, &out); err != nil {
		return 0, fmt.Errorf("reset queue: %w", err)
	}
	return out.Reset, nil
}

// BatchProgress returns the raw progress document of a batch.
func (c *Client) BatchProgress(ctx context.Context, batchID string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/admin/batches/"+url.PathEscape(batchID), nil, &out); err != nil {
		return nil, fmt.Errorf("batch progress: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" && strings.HasPrefix(path, "/admin/") {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	return c.send(req, result)
}

func (c *Client) send(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var msg struct {
			Error  string `json:"error"`
			Status string `json:"status"`
		}
		if json.Unmarshal(body, &msg) == nil {
			apiErr.Message = msg.Error
			if apiErr.Message == "" {
				apiErr.Message = msg.Status
			}
		}
		return apiErr
	}

	if result != nil && len(body) > 0 {
		return json.Unmarshal(body, result)
	}
	return nil
}
