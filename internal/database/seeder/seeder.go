package seeder

import (
	"context"

	"rental-sync/internal/database"
)

// Seeder loads reference rows. Implementations must be safe to re-run.
type Seeder interface {
	Name() string
	Run(ctx context.Context, db database.DB) (int, error)
}
