package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"rental-sync/internal/domain/listing"
	"rental-sync/internal/domain/syncrun"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
)

type memStore struct {
	rows map[uuid.UUID]*listing.Record

	readErr   error
	failWrite map[string]error
	writes    int
}

func newMemStore() *memStore {
	return &memStore{rows: map[uuid.UUID]*listing.Record{}, failWrite: map[string]error{}}
}

func (s *memStore) seed(market, url string, active bool, title string) uuid.UUID {
	id := uuid.New()
	ts := t0
	s.rows[id] = &listing.Record{
		ID:            id,
		DataSource:    listing.DataSourceScraped,
		SourceMarket:  market,
		ExternalURL:   url,
		IsActive:      active,
		LastScrapedAt: &ts,
		CreatedAt:     t0,
		UpdatedAt:     t0,
		Attributes:    listing.Attributes{Title: title, Address: "1 Main St", City: "Austin", State: "TX"},
	}
	return id
}

func (s *memStore) byURL(market, url string) *listing.Record {
	for _, r := range s.rows {
		if r.SourceMarket == market && r.ExternalURL == url {
			return r
		}
	}
	return nil
}

func (s *memStore) activeURLs(market string) []string {
	var out []string
	for _, r := range s.rows {
		if r.SourceMarket == market && r.IsActive {
			out = append(out, r.ExternalURL)
		}
	}
	sort.Strings(out)
	return out
}

func (s *memStore) snapshot() map[uuid.UUID]listing.Record {
	out := make(map[uuid.UUID]listing.Record, len(s.rows))
	for id, r := range s.rows {
		out[id] = *r
	}
	return out
}

func (s *memStore) ListByMarket(_ context.Context, market string) ([]listing.Record, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	var out []listing.Record
	for _, r := range s.rows {
		if r.SourceMarket == market && r.DataSource == listing.DataSourceScraped {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) FindByMarketAndURLs(ctx context.Context, market string, urls []string) ([]listing.Record, error) {
	all, err := s.ListByMarket(ctx, market)
	if err != nil {
		return nil, err
	}
	want := map[string]bool{}
	for _, u := range urls {
		want[u] = true
	}
	var out []listing.Record
	for _, r := range all {
		if want[r.ExternalURL] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) Insert(_ context.Context, rec listing.Record) (uuid.UUID, error) {
	if err := s.failWrite[rec.ExternalURL]; err != nil {
		return uuid.Nil, err
	}
	s.writes++
	rec.ID = uuid.New()
	s.rows[rec.ID] = &rec
	return rec.ID, nil
}

func (s *memStore) Update(_ context.Context, id uuid.UUID, u listing.Update) error {
	r, ok := s.rows[id]
	if !ok {
		return errors.New("not found")
	}
	if err := s.failWrite[r.ExternalURL]; err != nil {
		return err
	}
	s.writes++
	if u.Attributes != nil {
		r.Attributes = *u.Attributes
	}
	if u.IsActive != nil {
		r.IsActive = *u.IsActive
	}
	if u.LastScrapedAt != nil {
		ts := *u.LastScrapedAt
		r.LastScrapedAt = &ts
	}
	r.UpdatedAt = u.UpdatedAt
	return nil
}

func (s *memStore) BulkDeactivate(_ context.Context, market string, urls []string, at time.Time) (int64, error) {
	if err := s.failWrite["*deactivate"]; err != nil {
		return 0, err
	}
	want := map[string]bool{}
	for _, u := range urls {
		want[u] = true
	}
	var n int64
	for _, r := range s.rows {
		if r.SourceMarket == market && want[r.ExternalURL] && r.IsActive {
			r.IsActive = false
			r.UpdatedAt = at
			n++
		}
	}
	s.writes++
	return n, nil
}

type memEvents struct {
	events []listing.Event
	err    error
}

func (m *memEvents) Append(_ context.Context, events []listing.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *memEvents) types() map[listing.EventType]int {
	out := map[listing.EventType]int{}
	for _, e := range m.events {
		out[e.Type]++
	}
	return out
}

func snap(url, title string) listing.Snapshot {
	return listing.Snapshot{
		URL: url,
		Attributes: listing.Attributes{
			Title: title, Address: "9 Oak Ave", City: "Austin", State: "TX", Price: 1500, Bedrooms: 2, Bathrooms: 1,
		},
	}
}

func newTestEngine(store *memStore, events *memEvents) *Engine {
	return NewEngine(store, Options{
		Events: events,
		Now:    func() time.Time { return t1 },
	})
}

func TestIncrementalSync_AppliesDiff(t *testing.T) {
	store := newMemStore()
	aID := store.seed("austin", "A", true, "a")
	store.seed("austin", "B", true, "b")
	cID := store.seed("austin", "C", true, "c")
	events := &memEvents{}

	res, err := newTestEngine(store, events).IncrementalSync(context.Background(), SyncInput{
		CurrentURLs: []string{"A", "C", "D"},
		NewRecords:  []listing.Snapshot{snap("D", "d")},
		RemovedURLs: []string{"B"},
	}, "austin")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Summary.NewProperties)
	assert.Equal(t, 1, res.Summary.DeactivatedProperties)
	assert.Equal(t, 2, res.Summary.UpdatedProperties)
	assert.Empty(t, res.Summary.Errors)
	assert.False(t, res.DeactivationAlert)

	assert.Equal(t, []string{"A", "C", "D"}, store.activeURLs("austin"))

	b := store.byURL("austin", "B")
	require.NotNil(t, b)
	assert.False(t, b.IsActive)
	assert.Equal(t, "b", b.Title, "deactivated record keeps its data")

	assert.Equal(t, t1, *store.rows[aID].LastScrapedAt)
	assert.Equal(t, t1, *store.rows[cID].LastScrapedAt)

	d := store.byURL("austin", "D")
	require.NotNil(t, d)
	assert.Equal(t, listing.DataSourceScraped, d.DataSource)
	assert.Equal(t, t1, *d.LastScrapedAt)
	assert.Equal(t, t1, d.CreatedAt)

	assert.Equal(t, map[listing.EventType]int{
		listing.EventInserted:    1,
		listing.EventDeactivated: 1,
	}, events.types())
}

func TestIncrementalSync_RejectsUnknownRemovedURL(t *testing.T) {
	store := newMemStore()
	store.seed("austin", "A", true, "a")
	before := store.snapshot()

	res, err := newTestEngine(store, nil).IncrementalSync(context.Background(), SyncInput{
		CurrentURLs: []string{"A"},
		RemovedURLs: []string{"Z"},
	}, "austin")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0], `"Z"`)
	assert.False(t, res.Success)
	assert.Equal(t, before, store.snapshot())
	assert.Zero(t, store.writes)
}

func TestIncrementalSync_RejectsInconsistentDiffs(t *testing.T) {
	cases := []struct {
		name string
		in   SyncInput
	}{
		{
			name: "new record already active",
			in: SyncInput{
				CurrentURLs: []string{"A", "B"},
				NewRecords:  []listing.Snapshot{snap("A", "a2")},
			},
		},
		{
			name: "new record not in current",
			in: SyncInput{
				CurrentURLs: []string{"A", "B"},
				NewRecords:  []listing.Snapshot{snap("X", "x")},
			},
		},
		{
			name: "removed url still current",
			in: SyncInput{
				CurrentURLs: []string{"A", "B"},
				RemovedURLs: []string{"B"},
			},
		},
		{
			name: "active url unaccounted for",
			in: SyncInput{
				CurrentURLs: []string{"A"},
			},
		},
		{
			name: "current url without record",
			in: SyncInput{
				CurrentURLs: []string{"A", "B", "N"},
			},
		},
		{
			name: "duplicate new record",
			in: SyncInput{
				CurrentURLs: []string{"A", "B", "N"},
				NewRecords:  []listing.Snapshot{snap("N", "n"), snap("N", "n")},
			},
		},
		{
			name: "empty removed url",
			in: SyncInput{
				CurrentURLs: []string{"A", "B"},
				RemovedURLs: []string{" "},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			store.seed("austin", "A", true, "a")
			store.seed("austin", "B", true, "b")
			before := store.snapshot()

			_, err := newTestEngine(store, nil).IncrementalSync(context.Background(), tc.in, "austin")
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, before, store.snapshot())
		})
	}
}

func TestIncrementalSync_IdempotentState(t *testing.T) {
	store := newMemStore()
	store.seed("austin", "A", true, "a")
	store.seed("austin", "B", true, "b")
	in := SyncInput{
		CurrentURLs: []string{"A", "D"},
		NewRecords:  []listing.Snapshot{snap("D", "d")},
		RemovedURLs: []string{"B"},
	}
	eng := newTestEngine(store, nil)

	_, err := eng.IncrementalSync(context.Background(), in, "austin")
	require.NoError(t, err)
	after := store.snapshot()

	_, err = eng.IncrementalSync(context.Background(), in, "austin")
	assert.ErrorIs(t, err, ErrValidation)
	if diff := cmp.Diff(after, store.snapshot()); diff != "" {
		t.Errorf("store changed on replay (-want +got):\n%s", diff)
	}
	assert.Len(t, after, 3, "no duplicate rows")
}

func TestIncrementalSync_ActiveSetEqualsCurrentURLs(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 6; i++ {
		store.seed("austin", fmt.Sprintf("u%d", i), i%2 == 0, "t")
	}
	store.seed("dallas", "u1", true, "other market")

	// active: u0 u2 u4; inactive: u1 u3 u5
	in := SyncInput{
		CurrentURLs: []string{"u0", "u3", "u9"},
		NewRecords:  []listing.Snapshot{snap("u3", "back"), snap("u9", "new")},
		RemovedURLs: []string{"u2", "u4", "u5"},
	}
	res, err := newTestEngine(store, nil).IncrementalSync(context.Background(), in, "austin")
	require.NoError(t, err)

	assert.Equal(t, []string{"u0", "u3", "u9"}, store.activeURLs("austin"))
	assert.Equal(t, []string{"u1"}, store.activeURLs("dallas"))
	assert.Equal(t, 2, res.Summary.NewProperties)
	assert.Equal(t, 1, res.Reactivated)
	assert.Equal(t, 2, res.Summary.DeactivatedProperties)
	assert.Equal(t, 1, res.Summary.UpdatedProperties)

	u3 := store.byURL("austin", "u3")
	assert.Equal(t, "back", u3.Title)
	n := 0
	for _, r := range store.rows {
		if r.SourceMarket == "austin" && r.ExternalURL == "u3" {
			n++
		}
	}
	assert.Equal(t, 1, n, "reappearing url is reactivated, not duplicated")
}

func TestIncrementalSync_RecordWriteFailureContinues(t *testing.T) {
	store := newMemStore()
	store.seed("austin", "A", true, "a")
	store.failWrite["D"] = errors.New("constraint violation")

	res, err := newTestEngine(store, nil).IncrementalSync(context.Background(), SyncInput{
		CurrentURLs: []string{"A", "D", "E"},
		NewRecords:  []listing.Snapshot{snap("D", "d"), snap("E", "e")},
	}, "austin")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Summary.NewProperties)
	assert.Equal(t, 1, res.Summary.UpdatedProperties)
	require.Len(t, res.Summary.Errors, 1)
	assert.Contains(t, res.Summary.Errors[0], "insert D")
	assert.NotNil(t, store.byURL("austin", "E"))
}

func TestIncrementalSync_StoreReadFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.readErr = errors.New("connection refused")

	res, err := newTestEngine(store, nil).IncrementalSync(context.Background(), SyncInput{
		CurrentURLs: []string{"A"},
		NewRecords:  []listing.Snapshot{snap("A", "a")},
	}, "austin")

	assert.ErrorIs(t, err, ErrStoreRead)
	assert.False(t, res.Success)
	assert.Zero(t, store.writes)
}

func TestIncrementalSync_DeactivationAlert(t *testing.T) {
	store := newMemStore()
	var removed []string
	for i := 0; i < 12; i++ {
		u := fmt.Sprintf("u%02d", i)
		store.seed("austin", u, true, "t")
		removed = append(removed, u)
	}
	eng := NewEngine(store, Options{DeactivationAlertThreshold: 11, Now: func() time.Time { return t1 }})

	res, err := eng.IncrementalSync(context.Background(), SyncInput{RemovedURLs: removed}, "austin")
	require.NoError(t, err)
	assert.Equal(t, 12, res.Summary.DeactivatedProperties)
	assert.True(t, res.DeactivationAlert)
	assert.Empty(t, store.activeURLs("austin"))
}

func TestIncrementalSync_CanceledContext(t *testing.T) {
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestEngine(store, nil).IncrementalSync(ctx, SyncInput{
		CurrentURLs: []string{"N"},
		NewRecords:  []listing.Snapshot{snap("N", "n")},
	}, "austin")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
	assert.Nil(t, store.byURL("austin", "N"))
}

func TestIncrementalSync_EventsCarryRunID(t *testing.T) {
	store := newMemStore()
	events := &memEvents{}
	runID := uuid.New()
	ctx := syncrun.WithRunID(context.Background(), runID)

	_, err := newTestEngine(store, events).IncrementalSync(ctx, SyncInput{
		CurrentURLs: []string{"N"},
		NewRecords:  []listing.Snapshot{snap("N", "n")},
	}, "austin")
	require.NoError(t, err)
	require.Len(t, events.events, 1)
	require.NotNil(t, events.events[0].RunID)
	assert.Equal(t, runID, *events.events[0].RunID)
}

func TestIncrementalSync_EventLogFailureIgnored(t *testing.T) {
	store := newMemStore()
	events := &memEvents{err: errors.New("disk full")}

	res, err := newTestEngine(store, events).IncrementalSync(context.Background(), SyncInput{
		CurrentURLs: []string{"N"},
		NewRecords:  []listing.Snapshot{snap("N", "n")},
	}, "austin")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Summary.Errors)
}

func TestImportMarket(t *testing.T) {
	store := newMemStore()
	aID := store.seed("austin", "A", true, "old a")
	bID := store.seed("austin", "B", false, "old b")
	store.seed("austin", "C", true, "untouched")
	events := &memEvents{}

	res, err := newTestEngine(store, events).ImportMarket(context.Background(), "austin", []listing.Snapshot{
		snap("A", "new a"),
		snap("B", "new b"),
		snap("N", "n"),
		snap("N", "dup"),
		snap("", "no url"),
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Summary.NewProperties)
	assert.Equal(t, 2, res.Summary.UpdatedProperties)
	assert.Equal(t, 1, res.Reactivated)
	assert.Equal(t, 2, res.Summary.Skipped)
	assert.Len(t, res.Summary.Errors, 2)

	assert.Equal(t, "new a", store.rows[aID].Title)
	assert.True(t, store.rows[bID].IsActive)
	assert.Equal(t, "new b", store.rows[bID].Title)
	assert.Equal(t, []string{"A", "B", "C", "N"}, store.activeURLs("austin"), "import never deactivates")

	assert.Equal(t, map[listing.EventType]int{
		listing.EventInserted:    1,
		listing.EventUpdated:     1,
		listing.EventReactivated: 1,
	}, events.types())
}

func TestImportMarket_StoreReadFailure(t *testing.T) {
	store := newMemStore()
	store.readErr = errors.New("timeout")

	res, err := newTestEngine(store, nil).ImportMarket(context.Background(), "austin", []listing.Snapshot{snap("A", "a")})
	assert.ErrorIs(t, err, ErrStoreRead)
	assert.False(t, res.Success)
	assert.Zero(t, store.writes)
}

type stubLookup struct {
	records   []listing.Snapshot
	err       error
	requested []string
}

func (s *stubLookup) Lookup(_ context.Context, _ string, urls []string) ([]listing.Snapshot, error) {
	s.requested = append(s.requested, urls...)
	return s.records, s.err
}

func TestSyncMarket(t *testing.T) {
	store := newMemStore()
	store.seed("austin", "A", true, "a")
	store.seed("austin", "B", true, "b")
	store.seed("austin", "R", false, "r")
	lookup := &stubLookup{records: []listing.Snapshot{snap("R", "r2"), snap("D", "d")}}

	res, err := newTestEngine(store, nil).SyncMarket(context.Background(), "austin", []string{"A", "D", "R", "X"}, lookup)
	require.NoError(t, err)

	assert.Equal(t, []string{"D", "R", "X"}, lookup.requested)
	assert.Equal(t, []string{"A", "D", "R"}, store.activeURLs("austin"))
	assert.Equal(t, 2, res.Summary.NewProperties)
	assert.Equal(t, 1, res.Reactivated)
	assert.Equal(t, 1, res.Summary.DeactivatedProperties)
	assert.Equal(t, 1, res.Summary.UpdatedProperties)
	require.Len(t, res.Summary.Errors, 1)
	assert.Contains(t, res.Summary.Errors[0], "lookup X")
}

func TestSyncMarket_LookupFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.seed("austin", "A", true, "a")
	before := store.snapshot()
	lookup := &stubLookup{err: errors.New("scraper down")}

	res, err := newTestEngine(store, nil).SyncMarket(context.Background(), "austin", []string{"N"}, lookup)
	assert.ErrorIs(t, err, ErrSnapshotSource)
	assert.False(t, res.Success)
	assert.Equal(t, before, store.snapshot())
}

func TestValidationError_TruncatesMessage(t *testing.T) {
	var problems []string
	for i := 0; i < 8; i++ {
		problems = append(problems, fmt.Sprintf("p%d", i))
	}
	err := &ValidationError{Problems: problems}
	assert.Equal(t, "invalid sync input: p0; p1; p2; p3; p4 (+3 more)", err.Error())
}
