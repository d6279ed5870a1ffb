package syncjob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rental-sync/internal/domain/listing"
	"rental-sync/internal/domain/syncrun"
	"rental-sync/internal/infrastructure/cache"
	"rental-sync/internal/usecase/geocode"
	"rental-sync/internal/usecase/reconcile"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrJobInProgress   = errors.New("a job for this market is already running")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSourceMissing   = errors.New("snapshot source is not configured")
	ErrGeocoderMissing = errors.New("geocode worker is not configured")
	ErrLockLost        = errors.New("job lock lost while running")
)

type Engine interface {
	ImportMarket(ctx context.Context, market string, records []listing.Snapshot) (reconcile.Result, error)
	IncrementalSync(ctx context.Context, in reconcile.SyncInput, market string) (reconcile.Result, error)
	SyncMarket(ctx context.Context, market string, currentURLs []string, lookup reconcile.RecordLookup) (reconcile.Result, error)
}

type Backfiller interface {
	BackfillMissingCoordinates(ctx context.Context, f geocode.Filter) (geocode.Report, error)
}

// Source is the live scraper feed used by Refresh.
type Source interface {
	reconcile.RecordLookup
	CurrentURLs(ctx context.Context, market string) ([]string, error)
}

// Locker is a TTL lock. RefreshLock reports false once owner no longer holds
// key.
type Locker interface {
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	RefreshLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) error
}

type MarketCache interface {
	InvalidateMarket(ctx context.Context, market string) error
}

type RunStore interface {
	Start(ctx context.Context, kind syncrun.Kind, market string, at time.Time) (uuid.UUID, error)
	Finish(ctx context.Context, run syncrun.Run) error
	ListRecent(ctx context.Context, market string, limit int) ([]syncrun.Run, error)
}

type Notifier interface {
	ListingsUpdated(market, kind string, newCount, updated, deactivated int)
}

// Deps wires optional collaborators. Any nil bookkeeping dependency is
// skipped.
type Deps struct {
	Engine   Engine
	Backfill Backfiller
	Source   Source
	Locker   Locker
	Cache    MarketCache
	Runs     RunStore
	Notifier Notifier
	Logger   *zap.Logger
}

type Options struct {
	LockTTL    time.Duration
	JobTimeout time.Duration
	Now        func() time.Time
}

// Service runs reconciliation and backfill invocations as discrete jobs.
type Service struct {
	deps Deps
	opts Options
	log  *zap.Logger
}

func NewService(deps Deps, opts Options) *Service {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, opts: opts, log: logger}
}

// outcome is what a job reports back to the bookkeeping wrapper.
type outcome struct {
	summary reconcile.Summary
	failed  int
	success bool
	alert   bool
	mutated bool
}

func fromResult(res reconcile.Result) outcome {
	return outcome{
		summary: res.Summary,
		success: res.Success,
		alert:   res.DeactivationAlert,
		mutated: res.Summary.NewProperties+res.Summary.UpdatedProperties+res.Summary.DeactivatedProperties > 0,
	}
}

func (s *Service) Import(ctx context.Context, market string, records []listing.Snapshot) (reconcile.Result, error) {
	var res reconcile.Result
	err := s.run(ctx, syncrun.KindImport, market, func(ctx context.Context) (outcome, error) {
		var err error
		res, err = s.deps.Engine.ImportMarket(ctx, market, records)
		return fromResult(res), err
	})
	return res, err
}

func (s *Service) Sync(ctx context.Context, market string, in reconcile.SyncInput) (reconcile.Result, error) {
	var res reconcile.Result
	err := s.run(ctx, syncrun.KindSync, market, func(ctx context.Context) (outcome, error) {
		var err error
		res, err = s.deps.Engine.IncrementalSync(ctx, in, market)
		return fromResult(res), err
	})
	return res, err
}

// Refresh pulls the current url set from the scraper service and lets the
// engine compute the diff.
func (s *Service) Refresh(ctx context.Context, market string) (reconcile.Result, error) {
	if s.deps.Source == nil {
		return reconcile.Result{}, ErrSourceMissing
	}
	var res reconcile.Result
	err := s.run(ctx, syncrun.KindRefresh, market, func(ctx context.Context) (outcome, error) {
		urls, err := s.deps.Source.CurrentURLs(ctx, market)
		if err != nil {
			err = fmt.Errorf("%w: current urls: %w", reconcile.ErrSnapshotSource, err)
			res = reconcile.Result{Summary: reconcile.Summary{Errors: []string{err.Error()}}}
			return fromResult(res), err
		}
		res, err = s.deps.Engine.SyncMarket(ctx, market, urls, s.deps.Source)
		return fromResult(res), err
	})
	return res, err
}

func (s *Service) Backfill(ctx context.Context, f geocode.Filter) (geocode.Report, error) {
	if s.deps.Backfill == nil {
		return geocode.Report{}, ErrGeocoderMissing
	}
	var rep geocode.Report
	err := s.run(ctx, syncrun.KindBackfill, f.Market, func(ctx context.Context) (outcome, error) {
		var err error
		rep, err = s.deps.Backfill.BackfillMissingCoordinates(ctx, f)
		return outcome{
			summary: reconcile.Summary{
				UpdatedProperties: rep.Success,
				Skipped:           rep.Skipped,
				Errors:            rep.Errors,
			},
			failed:  rep.Failure,
			success: err == nil,
			mutated: rep.Success > 0,
		}, err
	})
	return rep, err
}

func (s *Service) ListRuns(ctx context.Context, market string, limit int) ([]syncrun.Run, error) {
	if s.deps.Runs == nil {
		return []syncrun.Run{}, nil
	}
	return s.deps.Runs.ListRecent(ctx, strings.TrimSpace(market), limit)
}

func (s *Service) run(ctx context.Context, kind syncrun.Kind, market string, job func(context.Context) (outcome, error)) error {
	market = strings.TrimSpace(market)
	if market == "" && kind != syncrun.KindBackfill {
		return fmt.Errorf("%w: market is required", ErrInvalidInput)
	}

	lockMarket := market
	if lockMarket == "" || kind == syncrun.KindBackfill {
		// one backfill at a time: a global run covers every market's rows
		lockMarket = "all"
	}
	lockKey := cache.LockKey(string(kind), lockMarket)
	if kind != syncrun.KindBackfill {
		// import, sync and refresh all mutate the same rows
		lockKey = cache.LockKey("reconcile", lockMarket)
	}
	owner := uuid.NewString()

	locked, err := s.acquire(ctx, lockKey, owner)
	if err != nil {
		return err
	}
	if locked {
		var stop func()
		ctx, stop = s.keepLock(ctx, lockKey, owner)
		defer func() {
			stop()
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := s.deps.Locker.ReleaseLock(rctx, lockKey, owner); err != nil {
				s.log.Warn("job lock release failed", zap.String("key", lockKey), zap.Error(err))
			}
		}()
	}

	if s.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.JobTimeout)
		defer cancel()
	}

	started := s.opts.Now().UTC()
	run := syncrun.Run{Kind: kind, SourceMarket: market, Status: syncrun.StatusRunning, StartedAt: started}
	if s.deps.Runs != nil {
		id, err := s.deps.Runs.Start(ctx, kind, market, started)
		if err != nil {
			s.log.Warn("sync run start failed", zap.String("kind", string(kind)), zap.String("market", market), zap.Error(err))
		} else {
			run.ID = id
			ctx = syncrun.WithRunID(ctx, id)
		}
	}

	out, jobErr := job(ctx)
	if jobErr != nil && errors.Is(context.Cause(ctx), ErrLockLost) {
		jobErr = fmt.Errorf("%w: %w", ErrLockLost, jobErr)
	}
	finished := s.opts.Now().UTC()

	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.String("market", market),
		zap.Bool("success", out.success && jobErr == nil),
		zap.Int("new", out.summary.NewProperties),
		zap.Int("updated", out.summary.UpdatedProperties),
		zap.Int("deactivated", out.summary.DeactivatedProperties),
		zap.Int("skipped", out.summary.Skipped),
		zap.Int("failed", out.failed),
		zap.Int("errors", len(out.summary.Errors)),
		zap.Duration("duration", finished.Sub(started)),
	}
	if run.ID != uuid.Nil {
		fields = append(fields, zap.Stringer("run_id", run.ID))
	}
	switch {
	case jobErr != nil:
		s.log.Error("job failed", append(fields, zap.Error(jobErr))...)
	case out.alert:
		s.log.Warn("job deactivation spike", fields...)
	case len(out.summary.Errors) > 0 || out.failed > 0:
		s.log.Warn("job completed with errors", fields...)
	default:
		s.log.Info("job completed", fields...)
	}

	s.finish(ctx, run, out, jobErr, finished)

	if out.mutated && market != "" {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if s.deps.Cache != nil {
			if err := s.deps.Cache.InvalidateMarket(bctx, market); err != nil {
				s.log.Warn("market cache invalidation failed", zap.String("market", market), zap.Error(err))
			}
		}
		if s.deps.Notifier != nil {
			s.deps.Notifier.ListingsUpdated(market, string(kind),
				out.summary.NewProperties, out.summary.UpdatedProperties, out.summary.DeactivatedProperties)
		}
	}

	return jobErr
}

func (s *Service) acquire(ctx context.Context, key, owner string) (bool, error) {
	if s.deps.Locker == nil {
		return false, nil
	}
	ok, err := s.deps.Locker.AcquireLock(ctx, key, owner, s.opts.LockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrCacheUnavailable) {
			s.log.Warn("job lock unavailable, running without single-flight", zap.String("key", key), zap.Error(err))
			return false, nil
		}
		return false, err
	}
	if !ok {
		return false, ErrJobInProgress
	}
	return true, nil
}

// keepLock renews the job lock every third of its TTL until stop is called.
// Losing the lock cancels the returned context with ErrLockLost.
func (s *Service) keepLock(ctx context.Context, key, owner string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	interval := s.opts.LockTTL / 3
	if interval <= 0 {
		interval = time.Millisecond
	}

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			ok, err := s.deps.Locker.RefreshLock(ctx, key, owner, s.opts.LockTTL)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				s.log.Warn("job lock renewal failed", zap.String("key", key), zap.Error(err))
			case !ok:
				s.log.Error("job lock lost, cancelling job", zap.String("key", key))
				cancel(ErrLockLost)
				return
			}
		}
	}()

	return ctx, func() {
		cancel(nil)
		<-done
	}
}

func (s *Service) finish(ctx context.Context, run syncrun.Run, out outcome, jobErr error, finished time.Time) {
	if s.deps.Runs == nil || run.ID == uuid.Nil {
		return
	}
	run.FinishedAt = &finished
	run.Status = syncrun.StatusCompleted
	if jobErr != nil || !out.success {
		run.Status = syncrun.StatusFailed
	}
	run.NewProperties = out.summary.NewProperties
	run.UpdatedProperties = out.summary.UpdatedProperties
	run.DeactivatedProperties = out.summary.DeactivatedProperties
	run.Skipped = out.summary.Skipped
	run.Failed = out.failed
	run.Errors = out.summary.Errors
	if jobErr != nil && len(run.Errors) == 0 {
		run.Errors = []string{jobErr.Error()}
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.deps.Runs.Finish(fctx, run); err != nil {
		s.log.Warn("sync run finish failed", zap.Stringer("run_id", run.ID), zap.Error(err))
	}
}
