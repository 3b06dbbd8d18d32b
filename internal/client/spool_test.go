package client

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/kaonic/k1serial/internal/crypto"
	"github.com/rs/zerolog"
)

type fakeUploader struct {
	errs  map[string]error
	calls []*Upload
}

func (f *fakeUploader) Upload(_ context.Context, up *Upload) (*UploadResult, error) {
	f.calls = append(f.calls, up)
	if err := f.errs[up.FileName]; err != nil {
		return nil, err
	}
	return &UploadResult{Accepted: 1, Added: 1}, nil
}

func testSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := NewSigner("Factory One", key)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func openTestSpool(t *testing.T) *Spool {
	t.Helper()
	spool, err := OpenSpool(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("open spool: %v", err)
	}
	t.Cleanup(func() { spool.Close() })
	return spool
}

func TestSpool_AddList(t *testing.T) {
	spool := openTestSpool(t)
	ctx := context.Background()

	up := &Upload{
		Kind:        UploadChunk,
		FileName:    "part-2.csv",
		Payload:     []byte("device_id,wwyy\nA100,4023\n"),
		BatchID:     "B-1",
		ChunkIndex:  1,
		TotalChunks: 3,
	}
	added, err := spool.Add(ctx, up, errors.New("connection refused"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	entries, err := spool.List(ctx, SpoolStatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.ID != added.ID {
		t.Errorf("ID mismatch: got %s, want %s", got.ID, added.ID)
	}
	if got.Kind != UploadChunk || got.BatchID != "B-1" || got.ChunkIndex != 1 || got.TotalChunks != 3 {
		t.Errorf("routing not preserved: %+v", got)
	}
	if string(got.Payload) != string(up.Payload) {
		t.Errorf("payload mismatch: got %q", got.Payload)
	}
	if got.LastError != "connection refused" {
		t.Errorf("last error: got %q", got.LastError)
	}

	failed, err := spool.List(ctx, SpoolStatusFailed)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("expected no failed entries, got %d", len(failed))
	}
}

func TestSpool_Full(t *testing.T) {
	spool := openTestSpool(t)
	spool.maxSize = 1
	ctx := context.Background()

	up := &Upload{FileName: "a.csv", Payload: []byte("h\nA1,4023\n")}
	if _, err := spool.Add(ctx, up, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := spool.Add(ctx, up, nil); !errors.Is(err, ErrSpoolFull) {
		t.Errorf("expected ErrSpoolFull, got %v", err)
	}
}

func TestSpool_Flush(t *testing.T) {
	spool := openTestSpool(t)
	ctx := context.Background()

	for _, name := range []string{"ok.csv", "busy.csv", "bad.csv"} {
		if _, err := spool.Add(ctx, &Upload{FileName: name, Payload: []byte("h\nA1,4023\n")}, nil); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	up := &fakeUploader{errs: map[string]error{
		"busy.csv": &APIError{StatusCode: http.StatusInternalServerError},
		"bad.csv":  &APIError{StatusCode: http.StatusForbidden, Message: "invalid signature"},
	}}
	stats, err := spool.Flush(ctx, up, testSigner(t))
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if stats.Delivered != 1 || stats.Retrying != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	for _, call := range up.calls {
		if call.Signed.FactoryID != "Factory One" || call.Signed.Signature == "" {
			t.Errorf("upload %s was not signed: %+v", call.FileName, call.Signed)
		}
	}

	pending, _ := spool.List(ctx, SpoolStatusPending)
	if len(pending) != 1 || pending[0].FileName != "busy.csv" || pending[0].RetryCount != 1 {
		t.Errorf("unexpected pending entries: %+v", pending)
	}
	failed, _ := spool.List(ctx, SpoolStatusFailed)
	if len(failed) != 1 || failed[0].FileName != "bad.csv" {
		t.Errorf("unexpected failed entries: %+v", failed)
	}

	n, err := spool.Reset(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reset, got %d", n)
	}
}

func TestSpool_FlushStopsWhenUnreachable(t *testing.T) {
	spool := openTestSpool(t)
	spool.maxRetry = 2
	ctx := context.Background()

	for _, name := range []string{"a.csv", "b.csv"} {
		if _, err := spool.Add(ctx, &Upload{FileName: name, Payload: []byte("h\nA1,4023\n")}, nil); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	down := errors.New("dial tcp: connection refused")
	up := &fakeUploader{errs: map[string]error{"a.csv": down, "b.csv": down}}
	signer := testSigner(t)

	if _, err := spool.Flush(ctx, up, signer); !errors.Is(err, down) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(up.calls) != 1 {
		t.Errorf("expected flush to stop after first failure, got %d calls", len(up.calls))
	}

	// Second failure exhausts the retry budget of a.csv.
	if _, err := spool.Flush(ctx, up, signer); err == nil {
		t.Fatal("expected transport error")
	}
	failed, _ := spool.List(ctx, SpoolStatusFailed)
	if len(failed) != 1 || failed[0].FileName != "a.csv" {
		t.Errorf("unexpected failed entries: %+v", failed)
	}
}
