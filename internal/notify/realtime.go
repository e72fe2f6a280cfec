package notify

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/Kevinzh0C/fechatter-core/pkg/wshub"
)

// RealtimeChannel pushes to any active sockets for user_id via pkg/wshub,
// grounded on the original's WebSocketChannelImpl. Delivering to zero
// sockets is non-fatal (spec.md §4.8 "non-fatal if none").
type RealtimeChannel struct {
	hub *wshub.Hub
	log zerolog.Logger
}

func NewRealtimeChannel(hub *wshub.Hub, log zerolog.Logger) *RealtimeChannel {
	return &RealtimeChannel{hub: hub, log: log}
}

func (c *RealtimeChannel) Name() Channel { return ChannelRealtime }

type realtimeWireNotification struct {
	ID       int64  `json:"id"`
	Type     Type   `json:"type"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	ChatID   *int64 `json:"chat_id,omitempty"`
	Priority Priority `json:"priority"`
}

func (c *RealtimeChannel) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(realtimeWireNotification{
		ID: n.ID, Type: n.Type, Title: n.Title, Message: n.Message, ChatID: n.ChatID, Priority: n.Priority,
	})
	if err != nil {
		return err
	}

	delivered := c.hub.Send(n.UserID, payload)
	if delivered == 0 {
		c.log.Debug().Int64("user_id", n.UserID).Msg("notify: no active sockets for user, skipping realtime push")
	}
	return nil
}
