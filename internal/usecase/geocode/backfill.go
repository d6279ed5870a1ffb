package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rental-sync/internal/domain/listing"
	"rental-sync/internal/domain/syncrun"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrStoreRead = errors.New("listing store read failed")

type Store interface {
	ListMissingCoordinates(ctx context.Context, market string, limit int) ([]listing.Record, error)
	UpdateCoordinates(ctx context.Context, id uuid.UUID, c listing.Coordinates, at time.Time) error
}

// Geocoder resolves a composite address. A nil result with a nil error means
// the provider found nothing.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*listing.GeocodeResult, error)
}

// CacheReader is implemented by geocoders that can answer from a cache
// without calling the provider. Cache hits skip the throttle.
type CacheReader interface {
	LookupCached(ctx context.Context, address string) (*listing.GeocodeResult, bool)
}

type EventLog interface {
	Append(ctx context.Context, events []listing.Event) error
}

type Filter struct {
	Market string
	Limit  int
}

type Report struct {
	Success int      `json:"success"`
	Failure int      `json:"failure"`
	Skipped int      `json:"skipped"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors"`
}

type Options struct {
	MinDelay      time.Duration
	PauseEvery    int
	PauseDuration time.Duration
	DefaultLimit  int

	Events EventLog
	Logger *zap.Logger
	Now    func() time.Time
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Worker struct {
	store    Store
	geocoder Geocoder
	opts     Options
	logger   *zap.Logger
}

func NewWorker(store Store, geocoder Geocoder, opts Options) *Worker {
	if opts.MinDelay < 0 {
		opts.MinDelay = 0
	}
	if opts.PauseEvery <= 0 {
		opts.PauseEvery = 10
	}
	if opts.PauseDuration < opts.MinDelay {
		opts.PauseDuration = opts.MinDelay
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 500
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{store: store, geocoder: geocoder, opts: opts, logger: logger}
}

// BackfillMissingCoordinates geocodes active listings that lack coordinates,
// at most Filter.Limit of them per run (DefaultLimit when unset). Provider
// calls are sequential and throttled. Only a failed store read is
// fatal; every other failure is counted and left for the next run.
func (w *Worker) BackfillMissingCoordinates(ctx context.Context, f Filter) (Report, error) {
	rep := Report{Errors: []string{}}

	limit := f.Limit
	if limit <= 0 {
		limit = w.opts.DefaultLimit
	}
	market := strings.TrimSpace(f.Market)

	records, err := w.store.ListMissingCoordinates(ctx, market, limit)
	if err != nil {
		w.logger.Error("geocode backfill read failed", zap.String("market", market), zap.Error(err))
		return rep, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	rep.Total = len(records)

	var (
		calls  int
		events []listing.Event
	)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			w.appendEvents(ctx, events)
			return rep, err
		}

		if !rec.HasGeocodableAddress() {
			rep.Skipped++
			continue
		}

		query := rec.GeocodeQuery()
		res, hit := w.lookupCached(ctx, query)
		if !hit {
			if calls > 0 {
				wait := w.opts.MinDelay
				if calls%w.opts.PauseEvery == 0 {
					wait = w.opts.PauseDuration
				}
				if err := w.opts.Sleep(ctx, wait); err != nil {
					w.appendEvents(ctx, events)
					return rep, err
				}
			}
			calls++

			res, err = w.geocoder.Geocode(ctx, query)
			if err != nil {
				rep.Failure++
				rep.Errors = append(rep.Errors, fmt.Sprintf("geocode %s: %v", rec.ID, err))
				w.logger.Warn("geocode backfill provider error", zap.Stringer("listing_id", rec.ID), zap.Error(err))
				continue
			}
			if res == nil {
				rep.Failure++
				w.logger.Debug("geocode backfill no result", zap.Stringer("listing_id", rec.ID), zap.String("address", query))
				continue
			}
		}

		now := w.opts.Now().UTC()
		if err := w.store.UpdateCoordinates(ctx, rec.ID, res.Coordinates, now); err != nil {
			rep.Failure++
			rep.Errors = append(rep.Errors, fmt.Sprintf("update coordinates %s: %v", rec.ID, err))
			continue
		}
		rep.Success++

		id := rec.ID
		events = append(events, listing.Event{
			ListingID:    &id,
			SourceMarket: rec.SourceMarket,
			ExternalURL:  rec.ExternalURL,
			Type:         listing.EventGeocoded,
			RunID:        syncrun.RunIDFrom(ctx),
			OccurredAt:   now,
		})
	}

	w.appendEvents(ctx, events)
	w.logger.Info("geocode backfill done",
		zap.String("market", market),
		zap.Int("total", rep.Total),
		zap.Int("success", rep.Success),
		zap.Int("failure", rep.Failure),
		zap.Int("skipped", rep.Skipped),
	)
	return rep, nil
}

func (w *Worker) lookupCached(ctx context.Context, address string) (*listing.GeocodeResult, bool) {
	cr, ok := w.geocoder.(CacheReader)
	if !ok {
		return nil, false
	}
	res, hit := cr.LookupCached(ctx, address)
	return res, hit && res != nil
}

func (w *Worker) appendEvents(ctx context.Context, events []listing.Event) {
	if w.opts.Events == nil || len(events) == 0 {
		return
	}
	if err := w.opts.Events.Append(ctx, events); err != nil {
		w.logger.Warn("geocode backfill event append failed", zap.Int("events", len(events)), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
