package models

import (
	"testing"
	"time"
)

func TestSerialNumberFor(t *testing.T) {
	tests := []struct {
		deviceID string
		want     string
	}{
		{"A100", "K1S-A100"},
		{"  a100 ", "K1S-a100"},
		{"Dev-7b", "K1S-Dev-7b"},
	}

	for _, tt := range tests {
		if got := SerialNumberFor(tt.deviceID); got != tt.want {
			t.Errorf("SerialNumberFor(%q) = %q, want %q", tt.deviceID, got, tt.want)
		}
	}
}

func TestIsValidSerialFormat(t *testing.T) {
	valid := []string{"K1S-A100", "K1S-a100", "K1S-ECC-001"}
	invalid := []string{"", "A100", "K1S-", "K1S-A 100", "k1s-A100", "K1S-A100;DROP"}

	for _, s := range valid {
		if !IsValidSerialFormat(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range invalid {
		if IsValidSerialFormat(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestNewVerifySerialResponse(t *testing.T) {
	batch := "B-1"
	rec := &SerialRecord{
		SerialNumber:   "K1S-A100",
		ProductionDate: time.Date(2023, 10, 2, 0, 0, 0, 0, time.UTC),
		Provenance:     "Factory One",
		BatchID:        &batch,
	}

	resp := NewVerifySerialResponse(rec)
	if resp.Status != VerifyStatusAuthentic {
		t.Errorf("expected status %q, got %q", VerifyStatusAuthentic, resp.Status)
	}
	if resp.ProductionDate != "2023-10-02" {
		t.Errorf("expected production date 2023-10-02, got %s", resp.ProductionDate)
	}
	if resp.Provenance != "Factory One" {
		t.Errorf("expected provenance 'Factory One', got %s", resp.Provenance)
	}
}

func TestOfflineQueueEntry_RecordFailureBudget(t *testing.T) {
	e := NewOfflineQueueEntry("Factory One", []byte("device_id,wwyy\n"))
	e.MaxRetries = 2
	now := time.Now()

	e.RecordFailure("db down", now)
	if e.Status != QueueStatusPending {
		t.Errorf("expected pending after first failure, got %s", e.Status)
	}
	if e.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", e.RetryCount)
	}

	e.RecordFailure("db still down", now)
	if e.Status != QueueStatusFailed {
		t.Errorf("expected failed after budget spent, got %s", e.Status)
	}
	if e.ErrorMessage == nil || *e.ErrorMessage != "db still down" {
		t.Errorf("expected last error message recorded, got %v", e.ErrorMessage)
	}
}

func TestRegistrationDecisionRequest_Actor(t *testing.T) {
	if got := (RegistrationDecisionRequest{DeniedBy: " ops "}).Actor("admin"); got != "ops" {
		t.Errorf("expected ops, got %q", got)
	}
	if got := (RegistrationDecisionRequest{}).Actor("admin"); got != "admin" {
		t.Errorf("expected fallback admin, got %q", got)
	}
}

func TestBatchMetadata_RoundTripThroughBatch(t *testing.T) {
	m := &BatchMetadata{FactoryID: "F", TestRunCount: 3, TotalSerials: 2}
	data, err := m.JSON()
	if err != nil {
		t.Fatalf("JSON() error: %v", err)
	}

	var b BatchUpload
	if err := b.SetMetadata(data); err != nil {
		t.Fatalf("SetMetadata() error: %v", err)
	}
	if b.Metadata == nil || b.Metadata.TestRunCount != 3 {
		t.Errorf("expected metadata with test_run_count 3, got %+v", b.Metadata)
	}
}
