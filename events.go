package main

import (
	"fmt"
	"log/slog"

	"github.com/hobbyme/hobbyme/messaging"
)

// Server event types pushed over /ws/chat.
const (
	eventMessage         = "message"
	eventTyping          = "typing"
	eventInfo            = "info"
	eventError           = "error"
	eventProfilesChanged = "profiles_changed"
)

// serverEvent is what a websocket client receives.
type serverEvent struct {
	Type string `json:"type"`
	From string `json:"from,omitempty"`
	Data any    `json:"data,omitempty"`
}

// eventBus delivers events to connected users. With NATS every instance
// receives the event and delivers to its own sockets; without it delivery
// stays in process.
type eventBus struct {
	hub  *Hub
	nats *messaging.NATSClient
}

func newEventBus(hub *Hub, nc *messaging.NATSClient) (*eventBus, error) {
	b := &eventBus{hub: hub, nats: nc}
	if nc == nil {
		return b, nil
	}

	err := nc.SubscribeUsers(func(userID string, data []byte) {
		env, err := messaging.Decode(data)
		if err != nil {
			slog.Warn("dropping bus event", "error", err)
			return
		}
		hub.sendToUser(userID, serverEvent{Type: env.Type, From: env.From, Data: env.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe user events: %w", err)
	}
	err = nc.SubscribeBroadcast(func(data []byte) {
		env, err := messaging.Decode(data)
		if err != nil {
			slog.Warn("dropping broadcast", "error", err)
			return
		}
		hub.broadcast(serverEvent{Type: env.Type, From: env.From, Data: env.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe broadcast: %w", err)
	}
	return b, nil
}

func (b *eventBus) sendToUser(userID string, evt serverEvent) {
	if b == nil {
		return
	}
	if b.nats == nil {
		b.hub.sendToUser(userID, evt)
		return
	}
	data, err := messaging.Encode(userID, evt.Type, evt.From, evt.Data)
	if err == nil {
		err = b.nats.PublishToUser(userID, data)
	}
	if err != nil {
		slog.Warn("publish user event, delivering locally", "user_id", userID, "error", err)
		b.hub.sendToUser(userID, evt)
	}
}

// profilesChanged tells every dashboard to re-run its grouping query.
func (b *eventBus) profilesChanged() {
	if b == nil {
		return
	}
	evt := serverEvent{Type: eventProfilesChanged}
	if b.nats == nil {
		b.hub.broadcast(evt)
		return
	}
	data, err := messaging.Encode("", evt.Type, "", nil)
	if err == nil {
		err = b.nats.PublishBroadcast(data)
	}
	if err != nil {
		slog.Warn("publish broadcast, delivering locally", "error", err)
		b.hub.broadcast(evt)
	}
}
