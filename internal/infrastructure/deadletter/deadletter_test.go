package deadletter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/coverloop/coverloop/internal/domain/export"
)

func TestStore_RecordAndReadAll(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "deadletters.jsonl"))

	entries := []export.DeadLetterEntry{
		{IntegrationID: "crm-sync", URL: "https://crm.example", Code: 502, ErrorBody: "bad gateway", Timestamp: time.Now().UTC().Truncate(time.Second)},
		{IntegrationID: "crm-sync", URL: "https://crm.example", Code: 0, ErrorBody: "dial refused", Timestamp: time.Now().UTC().Truncate(time.Second)},
	}
	for _, e := range entries {
		if err := store.Record(context.Background(), e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Code != 502 || got[1].ErrorBody != "dial refused" {
		t.Errorf("unexpected entries %+v", got)
	}
}

func TestStore_ReadAllMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nonexistent.jsonl"))

	got, err := store.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no entries, got %d", len(got))
	}
}
