package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"rental-sync/internal/domain/listing"
	"rental-sync/internal/usecase/reconcile"
)

// LoadImportFile reads snapshot records written by the scraper. Both a bare
// array and {"records": [...]} are accepted.
func LoadImportFile(path string) ([]listing.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read import file %s: %w", path, err)
	}
	return DecodeRecords(b)
}

func DecodeRecords(b []byte) ([]listing.Snapshot, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return []listing.Snapshot{}, nil
	}

	if b[0] == '[' {
		var out []listing.Snapshot
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, fmt.Errorf("decode snapshot records: %w", err)
		}
		return out, nil
	}

	var wrapped struct {
		Records []listing.Snapshot `json:"records"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return nil, fmt.Errorf("decode snapshot records: %w", err)
	}
	if wrapped.Records == nil {
		wrapped.Records = []listing.Snapshot{}
	}
	return wrapped.Records, nil
}

// LoadSyncFile reads a precomputed diff.
func LoadSyncFile(path string) (reconcile.SyncInput, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return reconcile.SyncInput{}, fmt.Errorf("read sync file %s: %w", path, err)
	}
	var in reconcile.SyncInput
	if err := json.Unmarshal(b, &in); err != nil {
		return reconcile.SyncInput{}, fmt.Errorf("decode sync file %s: %w", path, err)
	}
	return in, nil
}
