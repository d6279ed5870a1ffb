package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type message struct {
	market  string
	payload []byte
}

// Hub fans listing updates out to connected clients. It is constructed once
// per process and driven by Run until its context is canceled.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	logger     *zap.Logger
	done       chan struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 1024),
		register:   make(chan *Client, 128),
		unregister: make(chan *Client, 128),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			if client == nil {
				continue
			}
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debug("ws connected", zap.String("market", client.market), zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.mutex.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				if c.wants(msg.market) {
					targets = append(targets, c)
				}
			}
			h.mutex.RUnlock()

			for _, client := range targets {
				select {
				case client.send <- msg.payload:
				default:
					h.remove(client)
				}
			}
			h.logger.Debug("ws broadcast", zap.String("market", msg.market), zap.Int("clients", len(targets)))
		}
	}
}

func (h *Hub) remove(client *Client) {
	if client == nil {
		return
	}
	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mutex.Unlock()
	h.logger.Debug("ws disconnected", zap.Int("total_clients", total))
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) Register(client *Client) {
	if h == nil {
		return
	}
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	if h == nil {
		return
	}
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues payload for clients following market, or all clients
// when they follow no market. It never blocks; a full queue drops the event.
func (h *Hub) Broadcast(market string, payload []byte) {
	if h == nil {
		return
	}
	select {
	case h.broadcast <- message{market: market, payload: payload}:
	default:
		h.logger.Warn("ws broadcast dropped", zap.String("reason", "buffer_full"))
	}
}

func (h *Hub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
