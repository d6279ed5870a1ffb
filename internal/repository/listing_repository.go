package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rental-sync/internal/database"
	dbpostgres "rental-sync/internal/database/postgres"
	"rental-sync/internal/domain/listing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const scrapedURLKey = "listings_scraped_market_url_key"

var (
	ErrListingNotFound = errors.New("listing not found")
	ErrEmptyUpdate     = errors.New("empty listing update")
	ErrDuplicateURL    = errors.New("listing url already exists for market")
)

type ListingRepository interface {
	// ListByMarket returns every scraped record of the market, active or not.
	ListByMarket(ctx context.Context, market string) ([]listing.Record, error)
	FindByMarketAndURLs(ctx context.Context, market string, urls []string) ([]listing.Record, error)
	Insert(ctx context.Context, rec listing.Record) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, u listing.Update) error
	BulkDeactivate(ctx context.Context, market string, urls []string, at time.Time) (int64, error)
	ListMissingCoordinates(ctx context.Context, market string, limit int) ([]listing.Record, error)
	UpdateCoordinates(ctx context.Context, id uuid.UUID, c listing.Coordinates, at time.Time) error
}

const listingColumns = `id, data_source, COALESCE(source_market, ''), COALESCE(external_url, ''),
	is_active, last_scraped_at, created_at, updated_at,
	title, address, city, state, zip_code, price, bedrooms, bathrooms, square_feet,
	description, property_type, images, contact_name, contact_phone, latitude, longitude`

type PostgresListingRepository struct {
	db database.Querier
}

func NewPostgresListingRepository(db database.Querier) *PostgresListingRepository {
	return &PostgresListingRepository{db: db}
}

func (r *PostgresListingRepository) ListByMarket(ctx context.Context, market string) ([]listing.Record, error) {
	return r.queryRecords(ctx,
		`SELECT `+listingColumns+`
		 FROM listings
		 WHERE source_market = $1 AND data_source = $2
		 ORDER BY created_at`,
		market, string(listing.DataSourceScraped),
	)
}

func (r *PostgresListingRepository) FindByMarketAndURLs(ctx context.Context, market string, urls []string) ([]listing.Record, error) {
	if len(urls) == 0 {
		return []listing.Record{}, nil
	}
	return r.queryRecords(ctx,
		`SELECT `+listingColumns+`
		 FROM listings
		 WHERE source_market = $1 AND data_source = $2 AND external_url = ANY($3)`,
		market, string(listing.DataSourceScraped), urls,
	)
}

func (r *PostgresListingRepository) Insert(ctx context.Context, rec listing.Record) (uuid.UUID, error) {
	a := rec.Attributes
	images := a.Images
	if images == nil {
		images = []string{}
	}
	var lat, lng *float64
	if rec.Coordinates != nil {
		lat, lng = &rec.Coordinates.Latitude, &rec.Coordinates.Longitude
	}

	var id uuid.UUID
	row := r.db.QueryRow(ctx,
		`INSERT INTO listings (
			data_source, source_market, external_url, is_active, last_scraped_at, created_at, updated_at,
			title, address, city, state, zip_code, price, bedrooms, bathrooms, square_feet,
			description, property_type, images, contact_name, contact_phone, latitude, longitude
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING id`,
		string(rec.DataSource), rec.SourceMarket, rec.ExternalURL, rec.IsActive, rec.LastScrapedAt, rec.CreatedAt, rec.UpdatedAt,
		a.Title, a.Address, a.City, a.State, a.ZipCode, a.Price, a.Bedrooms, a.Bathrooms, a.SquareFeet,
		a.Description, a.PropertyType, images, a.ContactName, a.ContactPhone, lat, lng,
	)
	if err := row.Scan(&id); err != nil {
		if dbpostgres.IsUniqueViolation(err, scrapedURLKey) {
			err = ErrDuplicateURL
		}
		return uuid.Nil, fmt.Errorf("insert listing %s: %w", rec.ExternalURL, err)
	}
	return id, nil
}

func (r *PostgresListingRepository) Update(ctx context.Context, id uuid.UUID, u listing.Update) error {
	set, args, err := buildListingUpdate(u)
	if err != nil {
		return err
	}
	args = append(args, id)

	affected, err := r.db.Exec(ctx,
		fmt.Sprintf(`UPDATE listings SET %s WHERE id = $%d`, set, len(args)),
		args...,
	)
	if err != nil {
		return fmt.Errorf("update listing %s: %w", id, err)
	}
	if affected == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (r *PostgresListingRepository) BulkDeactivate(ctx context.Context, market string, urls []string, at time.Time) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	affected, err := r.db.Exec(ctx,
		`UPDATE listings
		 SET is_active = false, updated_at = $1
		 WHERE source_market = $2 AND data_source = $3 AND external_url = ANY($4) AND is_active = true`,
		at, market, string(listing.DataSourceScraped), urls,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate listings market=%s: %w", market, err)
	}
	return affected, nil
}

func (r *PostgresListingRepository) ListMissingCoordinates(ctx context.Context, market string, limit int) ([]listing.Record, error) {
	if limit <= 0 {
		limit = 500
	}
	if market == "" {
		return r.queryRecords(ctx,
			`SELECT `+listingColumns+`
			 FROM listings
			 WHERE is_active = true AND (latitude IS NULL OR longitude IS NULL)
			 ORDER BY created_at
			 LIMIT $1`,
			limit,
		)
	}
	return r.queryRecords(ctx,
		`SELECT `+listingColumns+`
		 FROM listings
		 WHERE is_active = true AND (latitude IS NULL OR longitude IS NULL) AND source_market = $1
		 ORDER BY created_at
		 LIMIT $2`,
		market, limit,
	)
}

func (r *PostgresListingRepository) UpdateCoordinates(ctx context.Context, id uuid.UUID, c listing.Coordinates, at time.Time) error {
	affected, err := r.db.Exec(ctx,
		`UPDATE listings SET latitude = $1, longitude = $2, updated_at = $3 WHERE id = $4`,
		c.Latitude, c.Longitude, at, id,
	)
	if err != nil {
		return fmt.Errorf("update coordinates %s: %w", id, err)
	}
	if affected == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (r *PostgresListingRepository) queryRecords(ctx context.Context, query string, args ...any) ([]listing.Record, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]listing.Record, 0)
	for rows.Next() {
		rec, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanListing(row database.Row) (listing.Record, error) {
	var (
		rec        listing.Record
		dataSource string
		lat, lng   *float64
	)
	err := row.Scan(
		&rec.ID, &dataSource, &rec.SourceMarket, &rec.ExternalURL,
		&rec.IsActive, &rec.LastScrapedAt, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.Title, &rec.Address, &rec.City, &rec.State, &rec.ZipCode, &rec.Price, &rec.Bedrooms, &rec.Bathrooms, &rec.SquareFeet,
		&rec.Description, &rec.PropertyType, &rec.Images, &rec.ContactName, &rec.ContactPhone, &lat, &lng,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
			return listing.Record{}, ErrListingNotFound
		}
		return listing.Record{}, err
	}
	rec.DataSource = listing.DataSource(dataSource)
	rec.Coordinates = listing.NewCoordinates(lat, lng)
	return rec, nil
}

// Column is one assignment of a partial listing update.
type Column struct {
	Name  string
	Value any
}

// ListingUpdateColumns flattens u into column assignments, updated_at last.
// Every listing backend renders its update from this list.
func ListingUpdateColumns(u listing.Update) ([]Column, error) {
	if u.IsEmpty() {
		return nil, ErrEmptyUpdate
	}

	cols := make([]Column, 0, 17)
	add := func(name string, v any) {
		cols = append(cols, Column{Name: name, Value: v})
	}

	if a := u.Attributes; a != nil {
		images := a.Images
		if images == nil {
			images = []string{}
		}
		add("title", a.Title)
		add("address", a.Address)
		add("city", a.City)
		add("state", a.State)
		add("zip_code", a.ZipCode)
		add("price", a.Price)
		add("bedrooms", a.Bedrooms)
		add("bathrooms", a.Bathrooms)
		add("square_feet", a.SquareFeet)
		add("description", a.Description)
		add("property_type", a.PropertyType)
		add("images", images)
		add("contact_name", a.ContactName)
		add("contact_phone", a.ContactPhone)
	}
	if u.IsActive != nil {
		add("is_active", *u.IsActive)
	}
	if u.LastScrapedAt != nil {
		add("last_scraped_at", *u.LastScrapedAt)
	}

	updatedAt := u.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	add("updated_at", updatedAt)
	return cols, nil
}

// buildListingUpdate renders the SET clause for a partial update. Placeholders
// start at $1; the caller appends the id as the last argument.
func buildListingUpdate(u listing.Update) (string, []any, error) {
	cols, err := ListingUpdateColumns(u)
	if err != nil {
		return "", nil, err
	}
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, c := range cols {
		args = append(args, c.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", c.Name, len(args)))
	}
	return strings.Join(sets, ", "), args, nil
}

var _ ListingRepository = (*PostgresListingRepository)(nil)
