package ws

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type HandlerOptions struct {
	// AllowedOrigins lists accepted Origin hosts. Empty accepts any origin.
	AllowedOrigins []string
	// MaxClients rejects upgrades once the hub holds this many sockets. Zero
	// means unlimited.
	MaxClients int
}

type Handler struct {
	hub      *Hub
	logger   *zap.Logger
	opts     HandlerOptions
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, logger *zap.Logger, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make([]string, 0, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			origins = append(origins, o)
		}
	}
	opts.AllowedOrigins = origins

	h := &Handler{hub: hub, logger: logger, opts: opts}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no Origin
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.Contains(h.opts.AllowedOrigins, strings.ToLower(u.Host))
}

// HandleListingsWS upgrades to a websocket that receives listings_updated
// events, optionally narrowed with ?market=.
func (h *Handler) HandleListingsWS(c fiber.Ctx) error {
	if h == nil || h.hub == nil {
		return fiber.ErrServiceUnavailable
	}
	if h.opts.MaxClients > 0 && h.hub.ClientCount() >= h.opts.MaxClients {
		h.logger.Warn("ws client limit reached", zap.Int("max_clients", h.opts.MaxClients))
		return fiber.ErrServiceUnavailable
	}

	market := strings.ToLower(strings.TrimSpace(c.Query("market")))

	fiberHandler := adaptor.HTTPHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("ws upgrade failed", zap.String("origin", r.Header.Get("Origin")), zap.Error(err))
			return
		}

		client := NewClient(h.hub, conn, market)
		h.hub.Register(client)
		h.logger.Debug("ws client connected", zap.String("market", market))
		go client.WritePump()
		go client.ReadPump()
	})

	return fiberHandler(c)
}
