package repository

import (
	"context"
	"fmt"

	"rental-sync/internal/database"
	"rental-sync/internal/domain/listing"
)

type ListingEventRepository interface {
	Append(ctx context.Context, events []listing.Event) error
}

type PostgresListingEventRepository struct {
	db database.DB
}

func NewPostgresListingEventRepository(db database.DB) *PostgresListingEventRepository {
	return &PostgresListingEventRepository{db: db}
}

// Append writes all events in one transaction.
func (r *PostgresListingEventRepository) Append(ctx context.Context, events []listing.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	for _, e := range events {
		_, err := tx.Exec(ctx,
			`INSERT INTO listing_events (listing_id, source_market, external_url, event_type, run_id, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ListingID, e.SourceMarket, e.ExternalURL, string(e.Type), e.RunID, e.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("append listing event type=%s url=%s: %w", e.Type, e.ExternalURL, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var _ ListingEventRepository = (*PostgresListingEventRepository)(nil)
