package dto

import (
	"time"

	"rental-sync/internal/domain/syncrun"
	"rental-sync/internal/usecase/geocode"
	"rental-sync/internal/usecase/reconcile"

	"github.com/google/uuid"
)

type JobResultResponse struct {
	Market string `json:"market"`
	reconcile.Result
}

type BackfillResponse struct {
	Market string `json:"market,omitempty"`
	geocode.Report
}

type SyncRunResponse struct {
	ID                    uuid.UUID `json:"id"`
	Kind                  string    `json:"kind"`
	Market                string    `json:"market"`
	Status                string    `json:"status"`
	StartedAt             string    `json:"startedAt"`
	FinishedAt            string    `json:"finishedAt,omitempty"`
	NewProperties         int       `json:"newProperties"`
	UpdatedProperties     int       `json:"updatedProperties"`
	DeactivatedProperties int       `json:"deactivatedProperties"`
	Skipped               int       `json:"skipped"`
	Failed                int       `json:"failed"`
	Errors                []string  `json:"errors"`
}

func NewSyncRunResponse(r syncrun.Run) SyncRunResponse {
	out := SyncRunResponse{
		ID:                    r.ID,
		Kind:                  string(r.Kind),
		Market:                r.SourceMarket,
		Status:                string(r.Status),
		StartedAt:             r.StartedAt.UTC().Format(time.RFC3339),
		NewProperties:         r.NewProperties,
		UpdatedProperties:     r.UpdatedProperties,
		DeactivatedProperties: r.DeactivatedProperties,
		Skipped:               r.Skipped,
		Failed:                r.Failed,
		Errors:                r.Errors,
	}
	if r.FinishedAt != nil {
		out.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339)
	}
	if out.Errors == nil {
		out.Errors = []string{}
	}
	return out
}
