package handler

import (
	"context"
	"time"

	"rental-sync/internal/pkg/response"

	"github.com/gofiber/fiber/v3"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness plus the reachability of each dependency.
// Only the listing store is required for a healthy status.
type HealthHandler struct {
	store Pinger
	cache Pinger
}

func NewHealthHandler(store, cache Pinger) *HealthHandler {
	return &HealthHandler{store: store, cache: cache}
}

func (h *HealthHandler) RegisterRoutes(r fiber.Router) {
	if r == nil {
		return
	}
	r.Get("/health", h.HandleHealth)
}

func (h *HealthHandler) HandleHealth(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	checks := fiber.Map{
		"store": check(ctx, h.store),
		"cache": check(ctx, h.cache),
	}
	if checks["store"] == "down" {
		return response.Error(c, fiber.StatusServiceUnavailable, response.MessageServiceUnavailable, checks)
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, checks)
}

func check(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "down"
	}
	return "up"
}
