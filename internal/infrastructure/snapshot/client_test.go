package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CurrentURLsAndLookup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /markets/austin/urls", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"urls": ["https://x/1", "https://x/2"]}`))
	})
	mux.HandleFunc("POST /markets/austin/listings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req lookupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"https://x/2"}, req.URLs)
		_, _ = w.Write([]byte(`{"records": [{"url": "https://x/2", "title": "Loft", "city": "Austin", "state": "TX", "price": 1800, "sqft": 700}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/", time.Second, nil)

	urls, err := c.CurrentURLs(context.Background(), "austin")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/1", "https://x/2"}, urls)

	recs, err := c.Lookup(context.Background(), "austin", []string{"https://x/2"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Loft", recs[0].Title)
	require.NotNil(t, recs[0].SquareFeet)
	assert.Equal(t, 700, *recs[0].SquareFeet)
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "crawl in progress", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL, time.Second, nil).CurrentURLs(context.Background(), "austin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
	assert.Contains(t, err.Error(), "crawl in progress")
}

func TestClient_NotConfigured(t *testing.T) {
	_, err := NewClient("", time.Second, nil).CurrentURLs(context.Background(), "austin")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestDecodeRecords(t *testing.T) {
	bare, err := DecodeRecords([]byte(`[{"url": "a"}, {"url": "b"}]`))
	require.NoError(t, err)
	assert.Len(t, bare, 2)

	wrapped, err := DecodeRecords([]byte(` {"records": [{"url": "a", "bedrooms": 3}]}`))
	require.NoError(t, err)
	require.Len(t, wrapped, 1)
	assert.Equal(t, 3, wrapped[0].Bedrooms)

	empty, err := DecodeRecords(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = DecodeRecords([]byte(`{"records": "nope"}`))
	assert.Error(t, err)
}

func TestLoadSyncFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diff.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"currentUrls": ["A", "C", "D"],
		"newRecords": [{"url": "D", "title": "new"}],
		"removedUrls": ["B"]
	}`), 0o644))

	in, err := LoadSyncFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "D"}, in.CurrentURLs)
	assert.Equal(t, []string{"B"}, in.RemovedURLs)
	require.Len(t, in.NewRecords, 1)
	assert.Equal(t, "new", in.NewRecords[0].Title)
}
