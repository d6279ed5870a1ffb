package seeder

import (
	"context"
	"fmt"
	"slices"

	"rental-sync/internal/database"

	"go.uber.org/zap"
)

type Runner struct {
	Seeders []Seeder
	// Only restricts the run to the named seeders when non-empty.
	Only   []string
	Logger *zap.Logger
}

func (r Runner) Run(ctx context.Context, db database.DB) error {
	if db == nil {
		return database.ErrNilDB
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, s := range r.Seeders {
		if s == nil {
			continue
		}
		if len(r.Only) > 0 && !slices.Contains(r.Only, s.Name()) {
			continue
		}
		n, err := s.Run(ctx, db)
		if err != nil {
			return fmt.Errorf("seed %s: %w", s.Name(), err)
		}
		logger.Info("seeder applied", zap.String("seeder", s.Name()), zap.Int("inserted", n))
	}
	return nil
}
