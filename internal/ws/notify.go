package ws

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
)

type ListingsUpdatedEvent struct {
	Type        string `json:"type"`
	Market      string `json:"market"`
	Kind        string `json:"kind"`
	New         int    `json:"newProperties"`
	Updated     int    `json:"updatedProperties"`
	Deactivated int    `json:"deactivatedProperties"`
	Timestamp   string `json:"timestamp"`
}

// Notifier publishes job outcomes to the hub it was built with.
type Notifier struct {
	hub    *Hub
	logger *zap.Logger
	now    func() time.Time
}

func NewNotifier(hub *Hub, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{hub: hub, logger: logger, now: time.Now}
}

func (n *Notifier) ListingsUpdated(market, kind string, newCount, updated, deactivated int) {
	if n == nil || n.hub == nil {
		return
	}
	market = strings.ToLower(strings.TrimSpace(market))

	evt := ListingsUpdatedEvent{
		Type:        "listings_updated",
		Market:      market,
		Kind:        kind,
		New:         newCount,
		Updated:     updated,
		Deactivated: deactivated,
		Timestamp:   n.now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(evt)
	if err != nil {
		n.logger.Warn("ws notify marshal failed", zap.Error(err))
		return
	}
	n.hub.Broadcast(market, b)
}
