package listing

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInserted    EventType = "inserted"
	EventUpdated     EventType = "updated"
	EventReactivated EventType = "reactivated"
	EventDeactivated EventType = "deactivated"
	EventGeocoded    EventType = "geocoded"
)

// Event is one append-only lifecycle transition. ListingID is nil for bulk
// deactivations, which are keyed by url.
type Event struct {
	ListingID    *uuid.UUID
	SourceMarket string
	ExternalURL  string
	Type         EventType
	RunID        *uuid.UUID
	OccurredAt   time.Time
}
