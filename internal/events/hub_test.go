package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	hub := NewHub(nil)
	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()
	require.Equal(t, 2, hub.Subscribers())

	hub.Publish(Event{Type: TypeEntityAdded, ConnectionID: "c1", UniqueID: "c1_pve1:vm:100_status"})

	for _, ch := range []<-chan Event{a, b} {
		e := <-ch
		assert.Equal(t, TypeEntityAdded, e.Type)
		assert.False(t, e.Time.IsZero())
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe()
	cancel()
	cancel()

	assert.Zero(t, hub.Subscribers())
	_, ok := <-ch
	assert.False(t, ok)

	hub.Publish(Event{Type: TypeEntityRemoved})
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub(nil)
	hub.buffer = 1
	_, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(Event{Type: TypeCoordinatorUpdated})
	hub.Publish(Event{Type: TypeCoordinatorUpdated})
	hub.Publish(Event{Type: TypeCoordinatorUpdated})

	assert.Equal(t, uint64(2), hub.Dropped())
}

func TestServeStreamsFilteredEvents(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = hub.Serve(ctx, conn, "c1")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(Event{Type: TypeCoordinatorUpdated, ConnectionID: "other"})
	hub.Publish(Event{Type: TypeCoordinatorFailed, ConnectionID: "c1", Coordinator: "proxmox_resources", Error: "boom"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, TypeCoordinatorFailed, got.Type)
	assert.Equal(t, "c1", got.ConnectionID)
	assert.Equal(t, "proxmox_resources", got.Coordinator)
	assert.Equal(t, "boom", got.Error)

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}
