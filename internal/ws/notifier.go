package ws

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/logger"
)

// HubNotifier доставляет доменные события пользователям через хаб:
// уведомление сохраняется в БД и уходит по открытым WebSocket соединениям.
type HubNotifier struct {
	hub *Hub
}

// NewHubNotifier создаёт нотификатор поверх хаба.
func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// Notify отправляет событие пользователю. Сбой доставки не прерывает
// бизнес-операцию, только логируется.
func (n *HubNotifier) Notify(ctx context.Context, userID uuid.UUID, event string, data interface{}) {
	if err := n.hub.BroadcastToUser(userID, event, data); err != nil {
		logger.Log.WithError(err).WithField("user_id", userID).
			Warn("ws: не удалось доставить уведомление")
	}
}
