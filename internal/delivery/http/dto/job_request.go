package dto

import "rental-sync/internal/domain/listing"

type ImportRequest struct {
	Records []listing.Snapshot `json:"records"`
}

type SyncRequest struct {
	CurrentURLs []string           `json:"currentUrls"`
	NewRecords  []listing.Snapshot `json:"newRecords"`
	RemovedURLs []string           `json:"removedUrls"`
}
