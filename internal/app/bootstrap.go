package app

import (
	"context"
	"fmt"
	"strings"

	"rental-sync/internal/config"
	"rental-sync/internal/delivery/http/handler"
	"rental-sync/internal/delivery/http/middleware"
	"rental-sync/internal/delivery/http/routes"
	"rental-sync/internal/ws"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

type App struct {
	Fiber     *fiber.App
	Container *Container
}

// New builds the HTTP surface over an already constructed container.
func New(c *Container) *App {
	f := fiber.New(fiber.Config{
		AppName: c.Config.App.AppName,
	})

	registerGlobalMiddleware(f, c.Logger)

	var cachePinger handler.Pinger
	if c.Cache != nil {
		cachePinger = c.Cache
	}
	registry := routes.NewRegistry(
		handler.NewHealthHandler(c.DB, cachePinger),
		handler.NewJobsHandler(c.Jobs),
		handler.NewMarketsHandler(c.Markets),
		ws.NewHandler(c.Hub, c.Logger.Named("ws"), ws.HandlerOptions{
			AllowedOrigins: c.Config.App.WSAllowedOrigins,
			MaxClients:     c.Config.App.WSMaxClients,
		}),
		middleware.NewAuthMiddleware(c.Tokens),
	)
	registry.Register(f)

	return &App{Fiber: f, Container: c}
}

// Bootstrap wires the container and the HTTP app. The returned cleanup closes
// every connection the container opened.
func Bootstrap(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, func() error, error) {
	c, err := NewContainer(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Auth.ServiceTokenSecret == "" {
		c.Logger.Warn("SERVICE_TOKEN_SECRET is not set: job endpoints will answer 503")
	}
	return New(c), c.Close, nil
}

func registerGlobalMiddleware(app *fiber.App, logger *zap.Logger) {
	if app == nil {
		return
	}

	app.Use(middleware.NewAccessLogMiddleware(logger.Named("http")).Middleware())
	app.Use(middleware.NewErrorMiddleware(logger.Named("http")).Middleware())
}

func ListenAddr(port string) (string, error) {
	p := strings.TrimSpace(port)
	if p == "" {
		return "", fmt.Errorf("empty HTTP port")
	}
	if strings.HasPrefix(p, ":") {
		return p, nil
	}
	return ":" + p, nil
}
