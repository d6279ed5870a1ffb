package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_BroadcastFiltersByMarket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil)
	go h.Run(ctx)

	all := NewClient(h, nil, "")
	austin := NewClient(h, nil, "Austin")
	dallas := NewClient(h, nil, "dallas")
	h.Register(all)
	h.Register(austin)
	h.Register(dallas)
	waitClients(t, h, 3)

	NewNotifier(h, nil).ListingsUpdated("AUSTIN", "sync", 1, 2, 3)

	var evt ListingsUpdatedEvent
	require.NoError(t, json.Unmarshal(receive(t, austin), &evt))
	assert.Equal(t, "listings_updated", evt.Type)
	assert.Equal(t, "austin", evt.Market)
	assert.Equal(t, 3, evt.Deactivated)
	assert.NotEmpty(t, receive(t, all))

	select {
	case <-dallas.send:
		t.Fatal("dallas client received austin event")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	<-h.Done()

	_, ok := <-austin.send
	assert.False(t, ok, "send channel closed on shutdown")
	assert.Zero(t, h.ClientCount())
}

func TestHub_UnregisterAfterShutdownDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil)
	go h.Run(ctx)

	c := NewClient(h, nil, "")
	h.Register(c)
	waitClients(t, h, 1)

	h.Unregister(c)
	waitClients(t, h, 0)

	cancel()
	<-h.Done()
	h.Unregister(c)
	h.Register(NewClient(h, nil, ""))
}

func TestNotifier_NilHub(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNotifier(nil, nil).ListingsUpdated("austin", "sync", 0, 0, 0)
	})
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(nil), nil, HandlerOptions{AllowedOrigins: []string{" App.Example.com "}})

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/listings", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, h.checkOrigin(req("https://app.example.com")))
	assert.False(t, h.checkOrigin(req("https://evil.example.net")))
	assert.True(t, h.checkOrigin(req("")), "no origin header")

	open := NewHandler(NewHub(nil), nil, HandlerOptions{})
	assert.True(t, open.checkOrigin(req("https://anything.test")))
}
