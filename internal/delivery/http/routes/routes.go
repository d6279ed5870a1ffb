package routes

import (
	"rental-sync/internal/delivery/http/handler"
	"rental-sync/internal/delivery/http/middleware"
	"rental-sync/internal/ws"

	"github.com/gofiber/fiber/v3"
)

type Registry struct {
	health  *handler.HealthHandler
	jobs    *handler.JobsHandler
	markets *handler.MarketsHandler
	ws      *ws.Handler
	auth    *middleware.AuthMiddleware
}

func NewRegistry(health *handler.HealthHandler, jobs *handler.JobsHandler, markets *handler.MarketsHandler, wsHandler *ws.Handler, auth *middleware.AuthMiddleware) *Registry {
	return &Registry{health: health, jobs: jobs, markets: markets, ws: wsHandler, auth: auth}
}

func (r *Registry) Register(app *fiber.App) {
	if app == nil {
		return
	}

	r.registerHealth(app)
	r.registerAPI(app)
	if r.ws != nil {
		app.Get("/ws/listings", r.ws.HandleListingsWS)
	}
}

func (r *Registry) registerHealth(app *fiber.App) {
	if r.health != nil {
		r.health.RegisterRoutes(app)
	}
}

func (r *Registry) registerAPI(app *fiber.App) {
	api := app.Group("/api")
	RegisterV1(api.Group("/v1"), r.jobs, r.markets, r.auth)
}
