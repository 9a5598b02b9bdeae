package domain

import (
	"testing"
	"time"
)

func TestIdempotencyStatus_Valid(t *testing.T) {
	for _, status := range []IdempotencyStatus{
		IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed,
	} {
		if !status.Valid() {
			t.Fatalf("expected %s to be valid", status)
		}
	}
	if IdempotencyStatus("queued").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestIdempotencyRecord_Expired(t *testing.T) {
	now := time.Now().UTC()
	record := IdempotencyRecord{TTLAt: now.Add(time.Hour)}

	if record.Expired(now) {
		t.Fatal("record with future TTL must not be expired")
	}
	if !record.Expired(now.Add(time.Hour)) {
		t.Fatal("record is expired exactly at its TTL")
	}
	if !record.Expired(now.Add(2 * time.Hour)) {
		t.Fatal("record past TTL must be expired")
	}
}
