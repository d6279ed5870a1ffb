package supabase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"rental-sync/internal/domain/listing"
	"rental-sync/internal/repository"

	"github.com/google/uuid"
	supa "github.com/nedpals/supabase-go"
)

const (
	listingsTable = "listings"

	// listPageSize matches the default PostgREST max_rows cap.
	listPageSize = 1000
	// urlChunkSize bounds how many urls go into one in.(...) filter so the
	// query string stays under gateway limits.
	urlChunkSize = 100
)

var errEmptyURL = errors.New("supabase url and key are required")

// ListingStore keeps listings in a hosted Supabase project through its
// PostgREST interface. The table layout matches the SQL migrations.
type ListingStore struct {
	client *supa.Client
}

func NewListingStore(url, key string) (*ListingStore, error) {
	url, key = strings.TrimSpace(url), strings.TrimSpace(key)
	if url == "" || key == "" {
		return nil, errEmptyURL
	}
	return &ListingStore{client: supa.CreateClient(url, key)}, nil
}

type listingRow struct {
	ID            *uuid.UUID `json:"id,omitempty"`
	DataSource    string     `json:"data_source"`
	SourceMarket  string     `json:"source_market"`
	ExternalURL   string     `json:"external_url"`
	IsActive      bool       `json:"is_active"`
	LastScrapedAt *time.Time `json:"last_scraped_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Title         string     `json:"title"`
	Address       string     `json:"address"`
	City          string     `json:"city"`
	State         string     `json:"state"`
	ZipCode       string     `json:"zip_code"`
	Price         float64    `json:"price"`
	Bedrooms      int        `json:"bedrooms"`
	Bathrooms     float64    `json:"bathrooms"`
	SquareFeet    *int       `json:"square_feet"`
	Description   string     `json:"description"`
	PropertyType  string     `json:"property_type"`
	Images        []string   `json:"images"`
	ContactName   string     `json:"contact_name"`
	ContactPhone  string     `json:"contact_phone"`
	Latitude      *float64   `json:"latitude"`
	Longitude     *float64   `json:"longitude"`
}

func toRow(rec listing.Record) listingRow {
	a := rec.Attributes
	images := a.Images
	if images == nil {
		images = []string{}
	}
	row := listingRow{
		DataSource:    string(rec.DataSource),
		SourceMarket:  rec.SourceMarket,
		ExternalURL:   rec.ExternalURL,
		IsActive:      rec.IsActive,
		LastScrapedAt: rec.LastScrapedAt,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		Title:         a.Title,
		Address:       a.Address,
		City:          a.City,
		State:         a.State,
		ZipCode:       a.ZipCode,
		Price:         a.Price,
		Bedrooms:      a.Bedrooms,
		Bathrooms:     a.Bathrooms,
		SquareFeet:    a.SquareFeet,
		Description:   a.Description,
		PropertyType:  a.PropertyType,
		Images:        images,
		ContactName:   a.ContactName,
		ContactPhone:  a.ContactPhone,
	}
	if rec.Coordinates != nil {
		lat, lng := rec.Coordinates.Latitude, rec.Coordinates.Longitude
		row.Latitude, row.Longitude = &lat, &lng
	}
	return row
}

func (r listingRow) toRecord() listing.Record {
	rec := listing.Record{
		DataSource:    listing.DataSource(r.DataSource),
		SourceMarket:  r.SourceMarket,
		ExternalURL:   r.ExternalURL,
		IsActive:      r.IsActive,
		LastScrapedAt: r.LastScrapedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Coordinates:   listing.NewCoordinates(r.Latitude, r.Longitude),
		Attributes: listing.Attributes{
			Title:        r.Title,
			Address:      r.Address,
			City:         r.City,
			State:        r.State,
			ZipCode:      r.ZipCode,
			Price:        r.Price,
			Bedrooms:     r.Bedrooms,
			Bathrooms:    r.Bathrooms,
			SquareFeet:   r.SquareFeet,
			Description:  r.Description,
			PropertyType: r.PropertyType,
			Images:       r.Images,
			ContactName:  r.ContactName,
			ContactPhone: r.ContactPhone,
		},
	}
	if r.ID != nil {
		rec.ID = *r.ID
	}
	return rec
}

func toRecords(rows []listingRow) []listing.Record {
	out := make([]listing.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// The SDK calls below do not take a context; checking ctx before each
// request keeps cancellation effective between calls.

// ListByMarket pages through the market with Range requests. A server side
// max_rows below listPageSize only shortens pages, so paging stops on the
// first empty page rather than the first short one.
func (s *ListingStore) ListByMarket(ctx context.Context, market string) ([]listing.Record, error) {
	var all []listingRow
	seen := make(map[uuid.UUID]struct{})
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rows []listingRow
		err := s.client.DB.From(listingsTable).
			Select("*").
			LimitWithOffset(listPageSize, offset).
			Eq("source_market", market).
			Eq("data_source", string(listing.DataSourceScraped)).
			Execute(&rows)
		if err != nil {
			return nil, fmt.Errorf("supabase list listings market=%s offset=%d: %w", market, offset, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			if r.ID != nil {
				if _, dup := seen[*r.ID]; dup {
					continue
				}
				seen[*r.ID] = struct{}{}
			}
			all = append(all, r)
		}
		offset += len(rows)
	}
	return toRecords(all), nil
}

func (s *ListingStore) FindByMarketAndURLs(ctx context.Context, market string, urls []string) ([]listing.Record, error) {
	if len(urls) == 0 {
		return []listing.Record{}, nil
	}
	var all []listingRow
	for _, chunk := range chunkURLs(urls) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rows []listingRow
		err := s.client.DB.From(listingsTable).
			Select("*").
			Eq("source_market", market).
			Eq("data_source", string(listing.DataSourceScraped)).
			In("external_url", chunk).
			Execute(&rows)
		if err != nil {
			return nil, fmt.Errorf("supabase find listings market=%s: %w", market, err)
		}
		all = append(all, rows...)
	}
	return toRecords(all), nil
}

func chunkURLs(urls []string) [][]string {
	chunks := make([][]string, 0, (len(urls)+urlChunkSize-1)/urlChunkSize)
	for len(urls) > urlChunkSize {
		chunks = append(chunks, urls[:urlChunkSize])
		urls = urls[urlChunkSize:]
	}
	if len(urls) > 0 {
		chunks = append(chunks, urls)
	}
	return chunks
}

// isUniqueConflict matches PostgREST's 409 response for a unique index hit.
// The listings table has no foreign keys, so a 409 on insert is always the
// url index.
func isUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key") || strings.Contains(msg, "409")
}

func (s *ListingStore) Insert(ctx context.Context, rec listing.Record) (uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}
	var rows []listingRow
	if err := s.client.DB.From(listingsTable).Insert(toRow(rec)).Execute(&rows); err != nil {
		if isUniqueConflict(err) {
			return uuid.Nil, fmt.Errorf("%w: %s", repository.ErrDuplicateURL, rec.ExternalURL)
		}
		return uuid.Nil, fmt.Errorf("supabase insert listing %s: %w", rec.ExternalURL, err)
	}
	if len(rows) == 0 || rows[0].ID == nil {
		return uuid.Nil, fmt.Errorf("supabase insert listing %s: no row returned", rec.ExternalURL)
	}
	return *rows[0].ID, nil
}

func (s *ListingStore) Update(ctx context.Context, id uuid.UUID, u listing.Update) error {
	cols, err := repository.ListingUpdateColumns(u)
	if err != nil {
		return err
	}
	return s.patch(ctx, id, cols)
}

func (s *ListingStore) BulkDeactivate(ctx context.Context, market string, urls []string, at time.Time) (int64, error) {
	var n int64
	for _, chunk := range chunkURLs(urls) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var rows []listingRow
		err := s.client.DB.From(listingsTable).
			Update(map[string]any{"is_active": false, "updated_at": at}).
			Eq("source_market", market).
			Eq("data_source", string(listing.DataSourceScraped)).
			Eq("is_active", "true").
			In("external_url", chunk).
			Execute(&rows)
		if err != nil {
			return n, fmt.Errorf("supabase deactivate listings market=%s: %w", market, err)
		}
		n += int64(len(rows))
	}
	return n, nil
}

func (s *ListingStore) ListMissingCoordinates(ctx context.Context, market string, limit int) ([]listing.Record, error) {
	if limit <= 0 {
		limit = 500
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Coordinates are written as a pair, so a null latitude marks the row.
	q := s.client.DB.From(listingsTable).
		Select("*").
		Limit(limit).
		Eq("is_active", "true").
		Is("latitude", "null")
	if market != "" {
		q = q.Eq("source_market", market)
	}

	var rows []listingRow
	if err := q.Execute(&rows); err != nil {
		return nil, fmt.Errorf("supabase list missing coordinates: %w", err)
	}
	return toRecords(rows), nil
}

func (s *ListingStore) UpdateCoordinates(ctx context.Context, id uuid.UUID, c listing.Coordinates, at time.Time) error {
	return s.patch(ctx, id, []repository.Column{
		{Name: "latitude", Value: c.Latitude},
		{Name: "longitude", Value: c.Longitude},
		{Name: "updated_at", Value: at},
	})
}

func (s *ListingStore) patch(ctx context.Context, id uuid.UUID, cols []repository.Column) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body := make(map[string]any, len(cols))
	for _, c := range cols {
		body[c.Name] = c.Value
	}

	var rows []listingRow
	if err := s.client.DB.From(listingsTable).Update(body).Eq("id", id.String()).Execute(&rows); err != nil {
		return fmt.Errorf("supabase update listing %s: %w", id, err)
	}
	if len(rows) == 0 {
		return repository.ErrListingNotFound
	}
	return nil
}

var _ repository.ListingRepository = (*ListingStore)(nil)
