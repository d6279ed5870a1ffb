package syncjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rental-sync/internal/domain/listing"
	"rental-sync/internal/domain/syncrun"
	"rental-sync/internal/infrastructure/cache"
	"rental-sync/internal/usecase/geocode"
	"rental-sync/internal/usecase/reconcile"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	result   reconcile.Result
	err      error
	runID    *uuid.UUID
	market   string
	urls     []string
	imported int
}

func (e *stubEngine) ImportMarket(ctx context.Context, market string, records []listing.Snapshot) (reconcile.Result, error) {
	e.market, e.imported, e.runID = market, len(records), syncrun.RunIDFrom(ctx)
	return e.result, e.err
}

func (e *stubEngine) IncrementalSync(ctx context.Context, _ reconcile.SyncInput, market string) (reconcile.Result, error) {
	e.market, e.runID = market, syncrun.RunIDFrom(ctx)
	return e.result, e.err
}

func (e *stubEngine) SyncMarket(ctx context.Context, market string, urls []string, _ reconcile.RecordLookup) (reconcile.Result, error) {
	e.market, e.urls, e.runID = market, urls, syncrun.RunIDFrom(ctx)
	return e.result, e.err
}

type memLocker struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	released []string
}

func (l *memLocker) AcquireLock(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = owner
	return true, nil
}

func (l *memLocker) RefreshLock(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key] == owner, nil
}

func (l *memLocker) ReleaseLock(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == owner {
		delete(l.held, key)
		l.released = append(l.released, key)
	}
	return nil
}

type memRuns struct {
	started  []syncrun.Kind
	finished []syncrun.Run
	startErr error
	id       uuid.UUID
}

func (r *memRuns) Start(_ context.Context, kind syncrun.Kind, _ string, _ time.Time) (uuid.UUID, error) {
	if r.startErr != nil {
		return uuid.Nil, r.startErr
	}
	r.started = append(r.started, kind)
	r.id = uuid.New()
	return r.id, nil
}

func (r *memRuns) Finish(_ context.Context, run syncrun.Run) error {
	r.finished = append(r.finished, run)
	return nil
}

func (r *memRuns) ListRecent(context.Context, string, int) ([]syncrun.Run, error) {
	return r.finished, nil
}

type recorder struct {
	invalidated []string
	notified    []string
	cacheErr    error
}

func (r *recorder) InvalidateMarket(_ context.Context, market string) error {
	r.invalidated = append(r.invalidated, market)
	return r.cacheErr
}

func (r *recorder) ListingsUpdated(market, kind string, n, u, d int) {
	r.notified = append(r.notified, fmt.Sprintf("%s/%s/%d/%d/%d", market, kind, n, u, d))
}

type fixture struct {
	engine *stubEngine
	locker *memLocker
	runs   *memRuns
	rec    *recorder
	svc    *Service
}

func newFixture(res reconcile.Result, err error) *fixture {
	f := &fixture{
		engine: &stubEngine{result: res, err: err},
		locker: &memLocker{held: map[string]string{}},
		runs:   &memRuns{},
		rec:    &recorder{},
	}
	f.svc = NewService(Deps{
		Engine:   f.engine,
		Locker:   f.locker,
		Cache:    f.rec,
		Runs:     f.runs,
		Notifier: f.rec,
	}, Options{})
	return f
}

func okResult(n, u, d int) reconcile.Result {
	return reconcile.Result{
		Success: true,
		Summary: reconcile.Summary{NewProperties: n, UpdatedProperties: u, DeactivatedProperties: d, Errors: []string{}},
	}
}

func TestService_SyncRecordsRunAndNotifies(t *testing.T) {
	f := newFixture(okResult(1, 2, 1), nil)

	res, err := f.svc.Sync(context.Background(), "austin", reconcile.SyncInput{})
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, f.runs.finished, 1)
	run := f.runs.finished[0]
	assert.Equal(t, syncrun.StatusCompleted, run.Status)
	assert.Equal(t, 1, run.NewProperties)
	assert.Equal(t, 1, run.DeactivatedProperties)
	require.NotNil(t, run.FinishedAt)

	require.NotNil(t, f.engine.runID)
	assert.Equal(t, f.runs.id, *f.engine.runID)

	assert.Equal(t, []string{"austin"}, f.rec.invalidated)
	assert.Equal(t, []string{"austin/sync/1/2/1"}, f.rec.notified)
	assert.Empty(t, f.locker.held, "lock released")
	assert.Equal(t, []string{cache.LockKey("reconcile", "austin")}, f.locker.released)
}

func TestService_RejectsConcurrentJob(t *testing.T) {
	f := newFixture(okResult(0, 0, 0), nil)
	f.locker.held[cache.LockKey("reconcile", "austin")] = "someone-else"

	_, err := f.svc.Import(context.Background(), "austin", nil)
	assert.ErrorIs(t, err, ErrJobInProgress)
	assert.Empty(t, f.engine.market, "engine not invoked")
	assert.Empty(t, f.runs.started)
}

func TestService_ProceedsWithoutRedis(t *testing.T) {
	f := newFixture(okResult(1, 0, 0), nil)
	f.locker.err = fmt.Errorf("%w: dial tcp: refused", cache.ErrCacheUnavailable)

	_, err := f.svc.Import(context.Background(), "austin", []listing.Snapshot{{URL: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, f.engine.imported)
}

func TestService_FailedJobMarksRun(t *testing.T) {
	verr := &reconcile.ValidationError{Problems: []string{"bad"}}
	res := reconcile.Result{Summary: reconcile.Summary{Errors: []string{verr.Error()}}}
	f := newFixture(res, verr)

	_, err := f.svc.Sync(context.Background(), "austin", reconcile.SyncInput{})
	assert.ErrorIs(t, err, reconcile.ErrValidation)

	require.Len(t, f.runs.finished, 1)
	assert.Equal(t, syncrun.StatusFailed, f.runs.finished[0].Status)
	assert.Equal(t, []string{verr.Error()}, f.runs.finished[0].Errors)
	assert.Empty(t, f.rec.notified, "nothing mutated")
	assert.Empty(t, f.locker.held)
}

func TestService_BookkeepingFailuresDoNotChangeResult(t *testing.T) {
	f := newFixture(okResult(1, 0, 0), nil)
	f.runs.startErr = errors.New("sync_runs missing")
	f.rec.cacheErr = errors.New("redis timeout")

	res, err := f.svc.Sync(context.Background(), "austin", reconcile.SyncInput{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, f.engine.runID)
	assert.Empty(t, f.runs.finished)
	assert.Len(t, f.rec.notified, 1)
}

func TestService_RequiresMarket(t *testing.T) {
	f := newFixture(okResult(0, 0, 0), nil)
	_, err := f.svc.Sync(context.Background(), " ", reconcile.SyncInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type stubSource struct {
	urls []string
	err  error
}

func (s stubSource) CurrentURLs(context.Context, string) ([]string, error) { return s.urls, s.err }
func (s stubSource) Lookup(context.Context, string, []string) ([]listing.Snapshot, error) {
	return nil, nil
}

func TestService_Refresh(t *testing.T) {
	f := newFixture(okResult(0, 2, 0), nil)
	f.svc.deps.Source = stubSource{urls: []string{"A", "B"}}

	_, err := f.svc.Refresh(context.Background(), "austin")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, f.engine.urls)
	assert.Equal(t, []syncrun.Kind{syncrun.KindRefresh}, f.runs.started)
}

func TestService_RefreshSourceFailure(t *testing.T) {
	f := newFixture(okResult(0, 0, 0), nil)
	f.svc.deps.Source = stubSource{err: errors.New("scraper down")}

	res, err := f.svc.Refresh(context.Background(), "austin")
	assert.ErrorIs(t, err, reconcile.ErrSnapshotSource)
	assert.False(t, res.Success)
	assert.Empty(t, f.engine.market)
	require.Len(t, f.runs.finished, 1)
	assert.Equal(t, syncrun.StatusFailed, f.runs.finished[0].Status)
}

func TestService_RefreshWithoutSource(t *testing.T) {
	f := newFixture(okResult(0, 0, 0), nil)
	_, err := f.svc.Refresh(context.Background(), "austin")
	assert.ErrorIs(t, err, ErrSourceMissing)
}

type stubBackfill struct {
	report geocode.Report
	filter geocode.Filter
}

func (b *stubBackfill) BackfillMissingCoordinates(_ context.Context, f geocode.Filter) (geocode.Report, error) {
	b.filter = f
	return b.report, nil
}

func TestService_Backfill(t *testing.T) {
	f := newFixture(okResult(0, 0, 0), nil)
	bf := &stubBackfill{report: geocode.Report{Success: 3, Failure: 1, Skipped: 2, Total: 6, Errors: []string{"x"}}}
	f.svc.deps.Backfill = bf

	rep, err := f.svc.Backfill(context.Background(), geocode.Filter{Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Success)
	assert.Equal(t, 50, bf.filter.Limit)

	require.Len(t, f.runs.finished, 1)
	run := f.runs.finished[0]
	assert.Equal(t, syncrun.KindBackfill, run.Kind)
	assert.Equal(t, 3, run.UpdatedProperties)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 2, run.Skipped)
	assert.Equal(t, []string{cache.LockKey("geocode_backfill", "all")}, f.locker.released)
	assert.Empty(t, f.rec.notified, "marketless backfill broadcasts nothing")
}

func TestService_MarketBackfillSharesGlobalLock(t *testing.T) {
	f := newFixture(okResult(0, 0, 0), nil)
	f.svc.deps.Backfill = &stubBackfill{}
	f.locker.held[cache.LockKey("geocode_backfill", "all")] = "global-run"

	_, err := f.svc.Backfill(context.Background(), geocode.Filter{Market: "austin"})
	assert.ErrorIs(t, err, ErrJobInProgress)
	assert.Empty(t, f.runs.started)
}

// ttlLocker expires entries like Redis does.
type ttlLocker struct {
	mu      sync.Mutex
	held    map[string]ttlEntry
	refresh bool
}

type ttlEntry struct {
	owner   string
	expires time.Time
}

func newTTLLocker() *ttlLocker {
	return &ttlLocker{held: map[string]ttlEntry{}, refresh: true}
}

func (l *ttlLocker) AcquireLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.held[key]; ok && time.Now().Before(e.expires) {
		return false, nil
	}
	l.held[key] = ttlEntry{owner: owner, expires: time.Now().Add(ttl)}
	return true, nil
}

func (l *ttlLocker) RefreshLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.held[key]
	if !l.refresh || !ok || e.owner != owner || !time.Now().Before(e.expires) {
		return false, nil
	}
	l.held[key] = ttlEntry{owner: owner, expires: time.Now().Add(ttl)}
	return true, nil
}

func (l *ttlLocker) ReleaseLock(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key].owner == owner {
		delete(l.held, key)
	}
	return nil
}

// slowEngine holds each sync for d and tracks how many overlap.
type slowEngine struct {
	stubEngine
	d       time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (e *slowEngine) IncrementalSync(ctx context.Context, _ reconcile.SyncInput, _ string) (reconcile.Result, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		cur := e.maxSeen.Load()
		if n <= cur || e.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	select {
	case <-time.After(e.d):
		return okResult(0, 1, 0), nil
	case <-ctx.Done():
		return reconcile.Result{}, ctx.Err()
	}
}

func TestService_LockOutlivesItsTTLWhileJobRuns(t *testing.T) {
	eng := &slowEngine{d: 200 * time.Millisecond}
	svc := NewService(Deps{Engine: eng, Locker: newTTLLocker()}, Options{
		LockTTL:    50 * time.Millisecond,
		JobTimeout: time.Second,
	})

	first := make(chan error, 1)
	go func() {
		_, err := svc.Sync(context.Background(), "austin", reconcile.SyncInput{})
		first <- err
	}()

	time.Sleep(100 * time.Millisecond)
	_, err := svc.Sync(context.Background(), "austin", reconcile.SyncInput{})
	assert.ErrorIs(t, err, ErrJobInProgress)

	require.NoError(t, <-first)
	assert.Equal(t, int32(1), eng.maxSeen.Load())
}

func TestService_LostLockCancelsJob(t *testing.T) {
	eng := &slowEngine{d: time.Second}
	lk := newTTLLocker()
	lk.refresh = false
	svc := NewService(Deps{Engine: eng, Locker: lk}, Options{LockTTL: 30 * time.Millisecond})

	start := time.Now()
	_, err := svc.Sync(context.Background(), "austin", reconcile.SyncInput{})
	assert.ErrorIs(t, err, ErrLockLost)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
