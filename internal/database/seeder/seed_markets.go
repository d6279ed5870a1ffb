package seeder

import (
	"context"
	"fmt"

	"rental-sync/internal/database"
	"rental-sync/internal/domain/market"
	"rental-sync/internal/repository"
)

type MarketsSeeder struct {
	Markets []market.Market
}

func (MarketsSeeder) Name() string { return "markets" }

func (s MarketsSeeder) Run(ctx context.Context, db database.DB) (int, error) {
	if err := EnsureTableColumns(ctx, db, "markets", "slug", "display_name", "city", "state", "created_at"); err != nil {
		return 0, err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	repo := repository.NewPostgresMarketRepository(tx)
	inserted := 0
	for _, m := range s.Markets {
		created, err := repo.Upsert(ctx, m)
		if err != nil {
			return 0, fmt.Errorf("market %q: %w", m.Slug, err)
		}
		if created {
			inserted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}
