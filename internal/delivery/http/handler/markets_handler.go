package handler

import (
	"context"

	"rental-sync/internal/domain/market"
	"rental-sync/internal/pkg/response"

	"github.com/gofiber/fiber/v3"
)

type MarketLister interface {
	List(ctx context.Context) ([]market.Market, error)
}

type MarketsHandler struct {
	markets MarketLister
}

func NewMarketsHandler(markets MarketLister) *MarketsHandler {
	return &MarketsHandler{markets: markets}
}

func (h *MarketsHandler) RegisterRoutes(r fiber.Router, readMw fiber.Handler) {
	if r == nil {
		return
	}
	r.Get("/markets", readMw, h.HandleList)
}

// HandleList returns the seeded markets. Jobs may still target markets that
// are not listed here.
func (h *MarketsHandler) HandleList(c fiber.Ctx) error {
	if h.markets == nil {
		return response.Success(c, fiber.StatusOK, response.MessageOK, []market.Market{})
	}
	out, err := h.markets.List(c.Context())
	if err != nil {
		return err
	}
	return response.Success(c, fiber.StatusOK, response.MessageOK, out)
}
