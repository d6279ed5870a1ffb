package repository

import (
	"context"
	"errors"
	"strings"

	"rental-sync/internal/database"
	"rental-sync/internal/domain/market"
)

type MarketRepository interface {
	List(ctx context.Context) ([]market.Market, error)
	Upsert(ctx context.Context, m market.Market) (bool, error)
}

type PostgresMarketRepository struct {
	db database.Querier
}

func NewPostgresMarketRepository(db database.Querier) *PostgresMarketRepository {
	return &PostgresMarketRepository{db: db}
}

func (r *PostgresMarketRepository) List(ctx context.Context) ([]market.Market, error) {
	rows, err := r.db.Query(ctx,
		`SELECT slug, display_name, city, state, created_at
		 FROM markets
		 ORDER BY slug`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]market.Market, 0)
	for rows.Next() {
		var m market.Market
		if err := rows.Scan(&m.Slug, &m.DisplayName, &m.City, &m.State, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert inserts m or refreshes the descriptive columns of an existing slug.
// It reports whether a new row was created.
func (r *PostgresMarketRepository) Upsert(ctx context.Context, m market.Market) (bool, error) {
	slug := strings.ToLower(strings.TrimSpace(m.Slug))
	if slug == "" {
		return false, errors.New("market slug is required")
	}

	var inserted bool
	err := r.db.QueryRow(ctx,
		`INSERT INTO markets (slug, display_name, city, state)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (slug) DO UPDATE
		 SET display_name = EXCLUDED.display_name, city = EXCLUDED.city, state = EXCLUDED.state
		 RETURNING (xmax = 0)`,
		slug, strings.TrimSpace(m.DisplayName), strings.TrimSpace(m.City), strings.TrimSpace(m.State),
	).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}
