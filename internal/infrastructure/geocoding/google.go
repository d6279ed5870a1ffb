package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rental-sync/internal/domain/listing"

	"go.uber.org/zap"
)

const (
	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"
)

var ErrMissingAPIKey = errors.New("geocoder api key is not configured")

// StatusError is a non-OK status reported by the provider.
type StatusError struct {
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return "geocoder status " + e.Status
	}
	return fmt.Sprintf("geocoder status %s: %s", e.Status, e.Message)
}

type Google struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func NewGoogle(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Google {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://maps.googleapis.com"
	}
	return &Google{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode returns nil, nil when the address resolves to nothing.
func (g *Google) Geocode(ctx context.Context, address string) (*listing.GeocodeResult, error) {
	if g.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("address", address)
	q.Set("key", g.apiKey)
	endpoint := g.baseURL + "/maps/api/geocode/json?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		bodyStr := strings.TrimSpace(string(rb))
		g.logger.Warn("geocoder request failed", zap.Int("status", resp.StatusCode), zap.String("body", bodyStr))
		return nil, fmt.Errorf("geocoder request failed: status=%d body=%s", resp.StatusCode, bodyStr)
	}

	var out geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode geocoder response: %w", err)
	}

	switch out.Status {
	case statusOK:
		if len(out.Results) == 0 {
			return nil, nil
		}
		r := out.Results[0]
		return &listing.GeocodeResult{
			Coordinates: listing.Coordinates{
				Latitude:  r.Geometry.Location.Lat,
				Longitude: r.Geometry.Location.Lng,
			},
			FormattedAddress: r.FormattedAddress,
		}, nil
	case statusZeroResults:
		return nil, nil
	default:
		return nil, &StatusError{Status: out.Status, Message: out.ErrorMessage}
	}
}
