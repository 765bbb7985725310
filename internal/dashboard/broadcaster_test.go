package dashboard

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syn2much/mantis/internal/model"
)

type fakeBroadcastStore struct {
	events chan *model.Event
	alerts chan *model.Alert
}

func newFakeBroadcastStore() *fakeBroadcastStore {
	return &fakeBroadcastStore{
		events: make(chan *model.Event, 10),
		alerts: make(chan *model.Alert, 10),
	}
}

func (f *fakeBroadcastStore) SubscribeEvents() chan *model.Event  { return f.events }
func (f *fakeBroadcastStore) UnsubscribeEvents(chan *model.Event) {}
func (f *fakeBroadcastStore) SubscribeAlerts() chan *model.Alert  { return f.alerts }
func (f *fakeBroadcastStore) UnsubscribeAlerts(chan *model.Alert) {}

func TestBroadcasterRelaysEventsToClients(t *testing.T) {
	store := newFakeBroadcastStore()
	b := newBroadcaster(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.run(ctx)

	client := &wsClient{out: make(chan []byte, 1)}
	b.register(client)
	defer b.unregister(client)

	store.events <- &model.Event{ID: 42, Service: "ssh"}

	select {
	case payload := <-client.out:
		var msg wireMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "event", msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("client never received broadcast event")
	}
}

func TestBroadcasterOutOfBandMessage(t *testing.T) {
	store := newFakeBroadcastStore()
	b := newBroadcaster(store)

	client := &wsClient{out: make(chan []byte, 1)}
	b.register(client)
	defer b.unregister(client)

	b.Broadcast("config_change", map[string]string{"service": "ssh"})

	select {
	case payload := <-client.out:
		var msg wireMessage
		require.NoError(t, json.Unmarshal(payload, &msg))
		assert.Equal(t, "config_change", msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("client never received out-of-band broadcast")
	}
}
