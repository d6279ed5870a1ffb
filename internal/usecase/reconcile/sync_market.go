package reconcile

import (
	"context"
	"fmt"
	"strings"

	"rental-sync/internal/domain/listing"

	"go.uber.org/zap"
)

// RecordLookup resolves full snapshots for urls the engine found to be new.
// Urls it cannot resolve are simply left out of the returned slice.
type RecordLookup interface {
	Lookup(ctx context.Context, market string, urls []string) ([]listing.Snapshot, error)
}

// SyncMarket computes the diff itself from currentURLs and the stored state,
// fetches records for added urls only and applies the resulting plan.
func (e *Engine) SyncMarket(ctx context.Context, market string, currentURLs []string, lookup RecordLookup) (Result, error) {
	market = strings.TrimSpace(market)
	if market == "" {
		verr := &ValidationError{Problems: []string{"empty source market"}}
		return failed(verr), verr
	}

	existing, err := e.store.ListByMarket(ctx, market)
	if err != nil {
		rerr := &StoreReadError{Op: "list market listings", Cause: err}
		e.logger.Error("reconcile refresh read failed", zap.String("market", market), zap.Error(err))
		return failed(rerr), rerr
	}

	current := make(map[string]struct{}, len(currentURLs))
	for _, raw := range currentURLs {
		if u := listing.NormalizeURL(raw); u != "" {
			current[u] = struct{}{}
		}
	}

	active := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		if rec.IsActive {
			active[rec.ExternalURL] = struct{}{}
		}
	}

	var removed, added []string
	for _, u := range sortedKeys(active) {
		if !hasKey(current, u) {
			removed = append(removed, u)
		}
	}
	for _, u := range sortedKeys(current) {
		if !hasKey(active, u) {
			added = append(added, u)
		}
	}

	var fetched []listing.Snapshot
	if len(added) > 0 {
		fetched, err = lookup.Lookup(ctx, market, added)
		if err != nil {
			serr := fmt.Errorf("%w: lookup %d new urls: %w", ErrSnapshotSource, len(added), err)
			e.logger.Error("reconcile refresh lookup failed", zap.String("market", market), zap.Error(err))
			return failed(serr), serr
		}
	}

	addedSet := make(map[string]struct{}, len(added))
	for _, u := range added {
		addedSet[u] = struct{}{}
	}
	resolved := make(map[string]struct{}, len(fetched))
	records := make([]listing.Snapshot, 0, len(fetched))
	for _, snap := range fetched {
		u := listing.NormalizeURL(snap.URL)
		if !hasKey(addedSet, u) || hasKey(resolved, u) {
			continue
		}
		resolved[u] = struct{}{}
		snap.URL = u
		records = append(records, snap)
	}

	var unresolved []RecordError
	in := SyncInput{RemovedURLs: removed, NewRecords: records}
	for _, u := range sortedKeys(current) {
		if hasKey(addedSet, u) && !hasKey(resolved, u) {
			unresolved = append(unresolved, RecordError{Op: "lookup", URL: u, Cause: fmt.Errorf("no record returned")})
			continue
		}
		in.CurrentURLs = append(in.CurrentURLs, u)
	}

	p, verr := buildPlan(existing, in)
	if verr != nil {
		// Unreachable for a self-computed diff unless the store holds
		// inconsistent rows.
		return failed(verr), verr
	}

	res, err := e.apply(ctx, market, p)
	for _, ue := range unresolved {
		res.addError(ue)
	}
	if len(unresolved) > 0 {
		e.logger.Warn("reconcile refresh unresolved urls",
			zap.String("market", market),
			zap.Int("count", len(unresolved)),
		)
	}
	return res, err
}
