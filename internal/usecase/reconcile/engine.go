package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"rental-sync/internal/domain/listing"
	"rental-sync/internal/domain/syncrun"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultDeactivationAlertThreshold = 10

// Store is the slice of the listing store the engine reads and writes.
type Store interface {
	ListByMarket(ctx context.Context, market string) ([]listing.Record, error)
	FindByMarketAndURLs(ctx context.Context, market string, urls []string) ([]listing.Record, error)
	Insert(ctx context.Context, rec listing.Record) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, u listing.Update) error
	BulkDeactivate(ctx context.Context, market string, urls []string, at time.Time) (int64, error)
}

type EventLog interface {
	Append(ctx context.Context, events []listing.Event) error
}

type Options struct {
	DeactivationAlertThreshold int
	Events                     EventLog
	Logger                     *zap.Logger
	Now                        func() time.Time
}

// Engine reconciles scraped snapshots against the listing store. It is not
// safe to run two invocations for the same market concurrently; callers
// serialize per market.
type Engine struct {
	store          Store
	events         EventLog
	logger         *zap.Logger
	alertThreshold int
	now            func() time.Time
}

func NewEngine(store Store, opts Options) *Engine {
	threshold := opts.DeactivationAlertThreshold
	if threshold <= 0 {
		threshold = defaultDeactivationAlertThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:          store,
		events:         opts.Events,
		logger:         logger,
		alertThreshold: threshold,
		now:            now,
	}
}

type SyncInput struct {
	CurrentURLs []string           `json:"currentUrls"`
	NewRecords  []listing.Snapshot `json:"newRecords"`
	RemovedURLs []string           `json:"removedUrls"`
}

// ImportMarket upserts a best-effort snapshot. Missing listings are not
// deactivated; a listing that reappears inactive is reactivated.
func (e *Engine) ImportMarket(ctx context.Context, market string, records []listing.Snapshot) (Result, error) {
	market = strings.TrimSpace(market)
	if market == "" {
		verr := &ValidationError{Problems: []string{"empty source market"}}
		return failed(verr), verr
	}

	res := newResult()
	seen := make(map[string]struct{}, len(records))
	batch := make([]listing.Snapshot, 0, len(records))
	for i, rec := range records {
		u := listing.NormalizeURL(rec.URL)
		if u == "" {
			res.Summary.Skipped++
			res.addError(RecordError{Op: "import", Cause: fmt.Errorf("record %d has empty url", i)})
			continue
		}
		if _, dup := seen[u]; dup {
			res.Summary.Skipped++
			res.addError(RecordError{Op: "import", URL: u, Cause: fmt.Errorf("duplicate url in batch")})
			continue
		}
		seen[u] = struct{}{}
		rec.URL = u
		batch = append(batch, rec)
	}

	urls := make([]string, 0, len(batch))
	for _, rec := range batch {
		urls = append(urls, rec.URL)
	}

	existing, err := e.store.FindByMarketAndURLs(ctx, market, urls)
	if err != nil {
		rerr := &StoreReadError{Op: "find existing listings", Cause: err}
		e.logger.Error("reconcile import read failed", zap.String("market", market), zap.Error(err))
		return failed(rerr), rerr
	}
	byURL := make(map[string]listing.Record, len(existing))
	for _, rec := range existing {
		byURL[rec.ExternalURL] = rec
	}

	now := e.now().UTC()
	var events []listing.Event
	for _, snap := range batch {
		if err := ctx.Err(); err != nil {
			return e.aborted(res, err)
		}

		attrs := snap.ToAttributes()
		cur, ok := byURL[snap.URL]
		if !ok {
			id, err := e.store.Insert(ctx, newScrapedRecord(market, snap.URL, attrs, now))
			if err != nil {
				res.addError(RecordError{Op: "insert", URL: snap.URL, Cause: err})
				continue
			}
			res.Summary.NewProperties++
			events = append(events, e.event(ctx, &id, market, snap.URL, listing.EventInserted, now))
			continue
		}

		u := listing.Update{Attributes: &attrs, LastScrapedAt: &now, UpdatedAt: now}
		if !cur.IsActive {
			active := true
			u.IsActive = &active
		}
		if err := e.store.Update(ctx, cur.ID, u); err != nil {
			res.addError(RecordError{Op: "update", URL: snap.URL, Cause: err})
			continue
		}
		res.Summary.UpdatedProperties++
		evt := listing.EventUpdated
		if !cur.IsActive {
			res.Reactivated++
			evt = listing.EventReactivated
		}
		events = append(events, e.event(ctx, &cur.ID, market, snap.URL, evt, now))
	}

	e.appendEvents(ctx, market, events)
	e.logger.Info("reconcile import done",
		zap.String("market", market),
		zap.Int("records", len(records)),
		zap.Int("new", res.Summary.NewProperties),
		zap.Int("updated", res.Summary.UpdatedProperties),
		zap.Int("reactivated", res.Reactivated),
		zap.Int("skipped", res.Summary.Skipped),
		zap.Int("errors", len(res.Summary.Errors)),
	)
	return res, nil
}

// IncrementalSync applies a caller-computed diff. The diff is validated
// against the store first and rejected as a whole when inconsistent.
func (e *Engine) IncrementalSync(ctx context.Context, in SyncInput, market string) (Result, error) {
	market = strings.TrimSpace(market)
	if market == "" {
		verr := &ValidationError{Problems: []string{"empty source market"}}
		return failed(verr), verr
	}

	existing, err := e.store.ListByMarket(ctx, market)
	if err != nil {
		rerr := &StoreReadError{Op: "list market listings", Cause: err}
		e.logger.Error("reconcile sync read failed", zap.String("market", market), zap.Error(err))
		return failed(rerr), rerr
	}

	p, verr := buildPlan(existing, in)
	if verr != nil {
		e.logger.Warn("reconcile sync rejected",
			zap.String("market", market),
			zap.Int("problems", len(verr.Problems)),
			zap.Error(verr),
		)
		return failed(verr), verr
	}

	return e.apply(ctx, market, p)
}

func (e *Engine) apply(ctx context.Context, market string, p plan) (Result, error) {
	res := newResult()
	now := e.now().UTC()
	var events []listing.Event

	// 1. deactivate
	if len(p.deactivate) > 0 {
		n, err := e.store.BulkDeactivate(ctx, market, p.deactivate, now)
		if err != nil {
			res.addError(RecordError{Op: "deactivate", Cause: err})
		} else {
			res.Summary.DeactivatedProperties = int(n)
			for _, rec := range p.deactivateActive {
				id := rec.ID
				events = append(events, e.event(ctx, &id, market, rec.ExternalURL, listing.EventDeactivated, now))
			}
		}
	}

	// 2. insert, or reactivate a soft-deleted record with the same url
	for _, op := range p.inserts {
		if err := ctx.Err(); err != nil {
			e.appendEvents(ctx, market, events)
			return e.aborted(res, err)
		}

		attrs := op.snapshot.ToAttributes()
		if op.inactive != nil {
			active := true
			err := e.store.Update(ctx, op.inactive.ID, listing.Update{
				Attributes:    &attrs,
				IsActive:      &active,
				LastScrapedAt: &now,
				UpdatedAt:     now,
			})
			if err != nil {
				res.addError(RecordError{Op: "reactivate", URL: op.snapshot.URL, Cause: err})
				continue
			}
			res.Summary.NewProperties++
			res.Reactivated++
			id := op.inactive.ID
			events = append(events, e.event(ctx, &id, market, op.snapshot.URL, listing.EventReactivated, now))
			continue
		}

		id, err := e.store.Insert(ctx, newScrapedRecord(market, op.snapshot.URL, attrs, now))
		if err != nil {
			res.addError(RecordError{Op: "insert", URL: op.snapshot.URL, Cause: err})
			continue
		}
		res.Summary.NewProperties++
		events = append(events, e.event(ctx, &id, market, op.snapshot.URL, listing.EventInserted, now))
	}

	// 3. refresh listings confirmed live
	for _, rec := range p.refresh {
		if err := ctx.Err(); err != nil {
			e.appendEvents(ctx, market, events)
			return e.aborted(res, err)
		}
		if err := e.store.Update(ctx, rec.ID, listing.Update{LastScrapedAt: &now, UpdatedAt: now}); err != nil {
			res.addError(RecordError{Op: "refresh", URL: rec.ExternalURL, Cause: err})
			continue
		}
		res.Summary.UpdatedProperties++
	}

	e.appendEvents(ctx, market, events)

	res.DeactivationAlert = res.Summary.DeactivatedProperties > e.alertThreshold
	e.logger.Info("reconcile sync done",
		zap.String("market", market),
		zap.Int("new", res.Summary.NewProperties),
		zap.Int("reactivated", res.Reactivated),
		zap.Int("deactivated", res.Summary.DeactivatedProperties),
		zap.Int("refreshed", res.Summary.UpdatedProperties),
		zap.Int("errors", len(res.Summary.Errors)),
		zap.Bool("deactivation_alert", res.DeactivationAlert),
	)
	return res, nil
}

func (e *Engine) aborted(res Result, err error) (Result, error) {
	res.Success = false
	res.addError(fmt.Errorf("aborted: %w", err))
	return res, err
}

func (e *Engine) event(ctx context.Context, id *uuid.UUID, market, url string, t listing.EventType, at time.Time) listing.Event {
	return listing.Event{
		ListingID:    id,
		SourceMarket: market,
		ExternalURL:  url,
		Type:         t,
		RunID:        syncrun.RunIDFrom(ctx),
		OccurredAt:   at,
	}
}

// appendEvents is best-effort; the event log never changes a job result.
func (e *Engine) appendEvents(ctx context.Context, market string, events []listing.Event) {
	if e.events == nil || len(events) == 0 {
		return
	}
	if err := e.events.Append(ctx, events); err != nil {
		e.logger.Warn("reconcile event append failed",
			zap.String("market", market),
			zap.Int("events", len(events)),
			zap.Error(err),
		)
	}
}

func newScrapedRecord(market, url string, attrs listing.Attributes, now time.Time) listing.Record {
	return listing.Record{
		DataSource:    listing.DataSourceScraped,
		SourceMarket:  market,
		ExternalURL:   url,
		IsActive:      true,
		LastScrapedAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
		Attributes:    attrs,
	}
}

type insertOp struct {
	snapshot listing.Snapshot
	inactive *listing.Record
}

type plan struct {
	deactivate       []string
	deactivateActive []listing.Record
	inserts          []insertOp
	refresh          []listing.Record
}

// buildPlan validates in against the stored records of one market and orders
// the resulting mutations. E is the set of active urls, C the current urls.
func buildPlan(existing []listing.Record, in SyncInput) (plan, *ValidationError) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	known := make(map[string]listing.Record, len(existing))
	for _, rec := range existing {
		known[rec.ExternalURL] = rec
	}

	current := make(map[string]struct{}, len(in.CurrentURLs))
	for _, raw := range in.CurrentURLs {
		u := listing.NormalizeURL(raw)
		if u == "" {
			addf("currentUrls contains an empty url")
			continue
		}
		current[u] = struct{}{}
	}

	removed := make(map[string]struct{}, len(in.RemovedURLs))
	var p plan
	for _, raw := range in.RemovedURLs {
		u := listing.NormalizeURL(raw)
		switch {
		case u == "":
			addf("removedUrls contains an empty url")
			continue
		case hasKey(removed, u):
			addf("removed url %q is listed twice", u)
			continue
		}
		removed[u] = struct{}{}

		rec, ok := known[u]
		if !ok {
			addf("removed url %q is not a listing of this market", u)
			continue
		}
		if hasKey(current, u) {
			addf("removed url %q is also in currentUrls", u)
			continue
		}
		p.deactivate = append(p.deactivate, u)
		if rec.IsActive {
			p.deactivateActive = append(p.deactivateActive, rec)
		}
	}

	added := make(map[string]struct{}, len(in.NewRecords))
	for _, snap := range in.NewRecords {
		u := listing.NormalizeURL(snap.URL)
		switch {
		case u == "":
			addf("newRecords contains a record with an empty url")
			continue
		case hasKey(added, u):
			addf("new record url %q is listed twice", u)
			continue
		}
		added[u] = struct{}{}

		if !hasKey(current, u) {
			addf("new record url %q is not in currentUrls", u)
			continue
		}
		rec, ok := known[u]
		if ok && rec.IsActive {
			addf("new record url %q is already active", u)
			continue
		}

		snap.URL = u
		op := insertOp{snapshot: snap}
		if ok {
			r := rec
			op.inactive = &r
		}
		p.inserts = append(p.inserts, op)
	}

	for _, u := range sortedKeys(known) {
		rec := known[u]
		if !rec.IsActive {
			continue
		}
		if hasKey(current, u) {
			p.refresh = append(p.refresh, rec)
			continue
		}
		if !hasKey(removed, u) {
			addf("active url %q is missing from both currentUrls and removedUrls", u)
		}
	}
	for _, u := range sortedKeys(current) {
		rec, ok := known[u]
		if ok && rec.IsActive {
			continue
		}
		if !hasKey(added, u) {
			addf("current url %q is not active and has no new record", u)
		}
	}

	if len(problems) > 0 {
		return plan{}, &ValidationError{Problems: problems}
	}
	return p, nil
}

func hasKey[V any](m map[string]V, k string) bool {
	_, ok := m[k]
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
