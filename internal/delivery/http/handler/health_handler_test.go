package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"rental-sync/internal/delivery/http/handler"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func healthApp(store, cache handler.Pinger) *fiber.App {
	app := fiber.New()
	handler.NewHealthHandler(store, cache).RegisterRoutes(app)
	return app
}

func TestHealth(t *testing.T) {
	status, env := do(t, healthApp(pinger{}, nil), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"store":"up","cache":"disabled"}`, string(env.Data))
}

func TestHealth_CacheDownIsDegradedNotFatal(t *testing.T) {
	status, env := do(t, healthApp(pinger{}, pinger{err: errors.New("refused")}), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"store":"up","cache":"down"}`, string(env.Data))
}

func TestHealth_StoreDown(t *testing.T) {
	status, _ := do(t, healthApp(pinger{err: errors.New("refused")}, nil), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
