package snapshot

import (
	"bytes"
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

var ErrNotConfigured = errors.New("scraper base url is not configured")

// Client talks to the scraper service, which owns the latest crawl of each
// market.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

type currentURLsResponse struct {
	URLs []string `json:"urls"`
}

type lookupRequest struct {
	URLs []string `json:"urls"`
}

type lookupResponse struct {
	Records []listing.Snapshot `json:"records"`
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CurrentURLs returns every listing url the latest scrape observed for market.
func (c *Client) CurrentURLs(ctx context.Context, market string) ([]string, error) {
	var out currentURLsResponse
	if err := c.do(ctx, http.MethodGet, c.marketEndpoint(market, "urls"), nil, &out); err != nil {
		return nil, err
	}
	if out.URLs == nil {
		out.URLs = []string{}
	}
	return out.URLs, nil
}

// Lookup fetches full snapshots for urls. Unknown urls are omitted by the
// scraper service.
func (c *Client) Lookup(ctx context.Context, market string, urls []string) ([]listing.Snapshot, error) {
	if len(urls) == 0 {
		return []listing.Snapshot{}, nil
	}
	var out lookupResponse
	if err := c.do(ctx, http.MethodPost, c.marketEndpoint(market, "listings"), lookupRequest{URLs: urls}, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) marketEndpoint(market, resource string) string {
	return c.baseURL + "/markets/" + url.PathEscape(strings.TrimSpace(market)) + "/" + resource
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if c == nil || c.baseURL == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		bodyStr := strings.TrimSpace(string(rb))
		c.logger.Warn("scraper request failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("body", bodyStr),
		)
		return fmt.Errorf("scraper request failed: status=%d body=%s", resp.StatusCode, bodyStr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode scraper response: %w", err)
	}
	return nil
}
