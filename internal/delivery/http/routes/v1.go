package routes

import (
	"rental-sync/internal/delivery/http/handler"
	"rental-sync/internal/delivery/http/middleware"
	v1 "rental-sync/internal/delivery/http/routes/v1"

	"github.com/gofiber/fiber/v3"
)

func RegisterV1(r fiber.Router, jobs *handler.JobsHandler, markets *handler.MarketsHandler, auth *middleware.AuthMiddleware) {
	if r == nil {
		return
	}

	v1.Register(r, jobs, markets, auth)
}
