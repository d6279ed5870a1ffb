package listing

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type DataSource string

const (
	DataSourceScraped DataSource = "scraped"
	DataSourceManual  DataSource = "manual"
)

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinates pairs nullable columns; a half-set pair is treated as absent.
func NewCoordinates(lat, lng *float64) *Coordinates {
	if lat == nil || lng == nil {
		return nil
	}
	return &Coordinates{Latitude: *lat, Longitude: *lng}
}

type Attributes struct {
	Title        string   `json:"title"`
	Address      string   `json:"address"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	ZipCode      string   `json:"zipCode,omitempty"`
	Price        float64  `json:"price"`
	Bedrooms     int      `json:"bedrooms"`
	Bathrooms    float64  `json:"bathrooms"`
	SquareFeet   *int     `json:"sqft,omitempty"`
	Description  string   `json:"description,omitempty"`
	PropertyType string   `json:"propertyType,omitempty"`
	Images       []string `json:"images,omitempty"`
	ContactName  string   `json:"contactName,omitempty"`
	ContactPhone string   `json:"contactPhone,omitempty"`
}

type Record struct {
	ID            uuid.UUID
	DataSource    DataSource
	SourceMarket  string
	ExternalURL   string
	IsActive      bool
	LastScrapedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Coordinates   *Coordinates

	Attributes
}

// HasGeocodableAddress reports whether address, city and state are all present.
func (r Record) HasGeocodableAddress() bool {
	return strings.TrimSpace(r.Address) != "" &&
		strings.TrimSpace(r.City) != "" &&
		strings.TrimSpace(r.State) != ""
}

// GeocodeQuery renders the composite "address, city, state zip" string.
func (r Record) GeocodeQuery() string {
	q := strings.TrimSpace(r.Address) + ", " + strings.TrimSpace(r.City) + ", " + strings.TrimSpace(r.State)
	if zip := strings.TrimSpace(r.ZipCode); zip != "" {
		q += " " + zip
	}
	return q
}

// Update is a partial mutation. Nil fields are left untouched; UpdatedAt is
// always written.
type Update struct {
	Attributes    *Attributes
	IsActive      *bool
	LastScrapedAt *time.Time
	UpdatedAt     time.Time
}

func (u Update) IsEmpty() bool {
	return u.Attributes == nil && u.IsActive == nil && u.LastScrapedAt == nil
}

// Snapshot is one listing as observed by the scraper.
type Snapshot struct {
	URL string `json:"url"`

	Attributes
}

// ToAttributes normalizes the snapshot and fills contact details from the
// description when the scraper did not provide them.
func (s Snapshot) ToAttributes() Attributes {
	a := s.Attributes
	a.Title = strings.TrimSpace(a.Title)
	a.Address = strings.TrimSpace(a.Address)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.ZipCode = strings.TrimSpace(a.ZipCode)
	a.PropertyType = strings.TrimSpace(a.PropertyType)
	if a.Images == nil {
		a.Images = []string{}
	}

	if a.ContactName == "" || a.ContactPhone == "" {
		c := ExtractContact(a.Description)
		if a.ContactName == "" {
			a.ContactName = c.Name
		}
		if a.ContactPhone == "" {
			a.ContactPhone = c.Phone
		}
	}
	return a
}

// NormalizeURL trims the url used as the natural key.
func NormalizeURL(u string) string {
	return strings.TrimSpace(u)
}
