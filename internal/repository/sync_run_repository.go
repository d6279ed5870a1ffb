package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-sync/internal/database"
	"rental-sync/internal/domain/syncrun"

	"github.com/google/uuid"
)

var ErrSyncRunNotFound = errors.New("sync run not found")

type SyncRunRepository interface {
	Start(ctx context.Context, kind syncrun.Kind, market string, at time.Time) (uuid.UUID, error)
	Finish(ctx context.Context, run syncrun.Run) error
	ListRecent(ctx context.Context, market string, limit int) ([]syncrun.Run, error)
}

type PostgresSyncRunRepository struct {
	db database.Querier
}

func NewPostgresSyncRunRepository(db database.Querier) *PostgresSyncRunRepository {
	return &PostgresSyncRunRepository{db: db}
}

func (r *PostgresSyncRunRepository) Start(ctx context.Context, kind syncrun.Kind, market string, at time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	row := r.db.QueryRow(ctx,
		`INSERT INTO sync_runs (kind, source_market, status, started_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		string(kind), market, string(syncrun.StatusRunning), at,
	)
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("start sync run: %w", err)
	}
	return id, nil
}

func (r *PostgresSyncRunRepository) Finish(ctx context.Context, run syncrun.Run) error {
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	affected, err := r.db.Exec(ctx,
		`UPDATE sync_runs
		 SET status = $1, finished_at = $2,
		     new_properties = $3, updated_properties = $4, deactivated_properties = $5,
		     skipped = $6, failed = $7, errors = $8
		 WHERE id = $9`,
		string(run.Status), run.FinishedAt,
		run.NewProperties, run.UpdatedProperties, run.DeactivatedProperties,
		run.Skipped, run.Failed, errs,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish sync run %s: %w", run.ID, err)
	}
	if affected == 0 {
		return ErrSyncRunNotFound
	}
	return nil
}

func (r *PostgresSyncRunRepository) ListRecent(ctx context.Context, market string, limit int) ([]syncrun.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, kind, source_market, status, started_at, finished_at,
		        new_properties, updated_properties, deactivated_properties, skipped, failed, errors
		 FROM sync_runs
		 WHERE ($1 = '' OR source_market = $1)
		 ORDER BY started_at DESC
		 LIMIT $2`,
		market, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]syncrun.Run, 0)
	for rows.Next() {
		var (
			run          syncrun.Run
			kind, status string
		)
		if err := rows.Scan(
			&run.ID, &kind, &run.SourceMarket, &status, &run.StartedAt, &run.FinishedAt,
			&run.NewProperties, &run.UpdatedProperties, &run.DeactivatedProperties, &run.Skipped, &run.Failed, &run.Errors,
		); err != nil {
			return nil, err
		}
		run.Kind = syncrun.Kind(kind)
		run.Status = syncrun.Status(status)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ SyncRunRepository = (*PostgresSyncRunRepository)(nil)
