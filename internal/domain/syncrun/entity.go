package syncrun

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindImport   Kind = "import"
	KindSync     Kind = "sync"
	KindRefresh  Kind = "refresh"
	KindBackfill Kind = "geocode_backfill"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Run struct {
	ID           uuid.UUID  `json:"id"`
	Kind         Kind       `json:"kind"`
	SourceMarket string     `json:"sourceMarket"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`

	NewProperties         int      `json:"newProperties"`
	UpdatedProperties     int      `json:"updatedProperties"`
	DeactivatedProperties int      `json:"deactivatedProperties"`
	Skipped               int      `json:"skipped"`
	Failed                int      `json:"failed"`
	Errors                []string `json:"errors"`
}
