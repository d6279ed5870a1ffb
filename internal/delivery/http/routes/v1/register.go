package v1

import (
	"rental-sync/internal/delivery/http/handler"
	"rental-sync/internal/delivery/http/middleware"
	"rental-sync/internal/pkg/jwt"

	"github.com/gofiber/fiber/v3"
)

func Register(r fiber.Router, jobs *handler.JobsHandler, markets *handler.MarketsHandler, auth *middleware.AuthMiddleware) {
	if r == nil || auth == nil {
		return
	}

	read := auth.Middleware(jwt.ScopeJobsRead)
	if markets != nil {
		markets.RegisterRoutes(r, read)
	}
	if jobs != nil {
		jobs.RegisterRoutes(r.Group("/jobs"), read, auth.Middleware(jwt.ScopeJobsRun))
	}
}
