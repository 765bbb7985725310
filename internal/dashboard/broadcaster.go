package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/syn2much/mantis/internal/model"
)

// wireMessage is the envelope every WebSocket frame carries: the type
// field disambiguates the payload for the dashboard's frontend router.
type wireMessage struct {
	Kind string `json:"type"`
	Data any    `json:"data"`
}

// eventAlertSource is the narrow slice of Store the broadcaster depends
// on, kept separate from Store so tests can fake just the subscriber
// plumbing.
type eventAlertSource interface {
	SubscribeEvents() chan *model.Event
	UnsubscribeEvents(chan *model.Event)
	SubscribeAlerts() chan *model.Alert
	UnsubscribeAlerts(chan *model.Alert)
}

// broadcaster fans captured events and alerts out to every connected
// WebSocket client, generalizing the teacher's pkg/events.ConnectionManager
// (itself fed by Postgres LISTEN/NOTIFY) to Storage's in-process,
// bounded, drop-oldest subscriber channels.
type broadcaster struct {
	store eventAlertSource

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	logger *slog.Logger
}

func newBroadcaster(store eventAlertSource) *broadcaster {
	return &broadcaster{
		store:   store,
		clients: make(map[*wsClient]struct{}),
		logger:  slog.Default().With("component", "dashboard.broadcaster"),
	}
}

// run drains Storage's event and alert subscriber channels until ctx is
// canceled, re-publishing each as a wireMessage to every client.
func (b *broadcaster) run(ctx context.Context) {
	events := b.store.SubscribeEvents()
	alerts := b.store.SubscribeAlerts()
	defer b.store.UnsubscribeEvents(events)
	defer b.store.UnsubscribeAlerts(alerts)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			b.publish("event", e)
		case a, ok := <-alerts:
			if !ok {
				return
			}
			b.publish("alert", a)
		}
	}
}

// Broadcast sends an out-of-band message not sourced from Storage's
// subscriber channels (config_change, ip_blocked, ip_unblocked,
// database_reset).
func (b *broadcaster) Broadcast(kind string, data any) {
	b.publish(kind, data)
}

func (b *broadcaster) publish(kind string, data any) {
	payload, err := json.Marshal(wireMessage{Kind: kind, Data: data})
	if err != nil {
		b.logger.Error("failed to marshal broadcast message", "kind", kind, "error", err)
		return
	}

	b.mu.Lock()
	clients := make([]*wsClient, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.send(payload)
	}
}

func (b *broadcaster) register(c *wsClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

func (b *broadcaster) unregister(c *wsClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
}
