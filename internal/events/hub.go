// Package events fans coordinator and entity changes out to websocket
// subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/narvanalabs/pve-monitor/internal/entity"
)

// Type is the kind of event.
type Type string

const (
	TypeCoordinatorUpdated Type = "coordinator_updated"
	TypeCoordinatorFailed  Type = "coordinator_failed"
	TypeEntityAdded        Type = "entity_added"
	TypeEntityUpdated      Type = "entity_updated"
	TypeEntityRemoved      Type = "entity_removed"
)

// Event is one published change.
type Event struct {
	Type         Type         `json:"type"`
	ConnectionID string       `json:"connection_id"`
	Coordinator  string       `json:"coordinator,omitempty"`
	UniqueID     string       `json:"unique_id,omitempty"`
	Entity       *entity.View `json:"entity,omitempty"`
	Error        string       `json:"error,omitempty"`
	Time         time.Time    `json:"time"`
}

// Publisher receives events.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

type subscriber struct {
	id string
	ch chan Event
}

// Hub distributes events to subscribers. Slow subscribers lose events
// rather than block publishers.
type Hub struct {
	logger *slog.Logger
	buffer int

	mu      sync.RWMutex
	subs    map[string]*subscriber
	dropped atomic.Uint64
}

// NewHub creates an event hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "events"),
		buffer: DefaultBuffer,
		subs:   make(map[string]*subscriber),
	}
}

// Publish delivers e to every subscriber.
func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		select {
		case s.ch <- e:
		default:
			h.dropped.Add(1)
			h.logger.Debug("subscriber queue full, event dropped", "subscriber", s.id, "type", e.Type)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function removes it
// and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{id: uuid.New().String(), ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s.id)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many events were discarded because a subscriber fell
// behind.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Serve streams events to conn as JSON text messages until the peer goes
// away or ctx is cancelled. An optional connection id filters the stream.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, connectionID string) error {
	events, cancel := h.Subscribe()
	defer cancel()

	// Reader: only needed to process control frames and notice the close.
	readErr := make(chan error, 1)
	go func() {
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return nil
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading websocket: %w", err)
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if connectionID != "" && e.ConnectionID != connectionID {
				continue
			}
			payload, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("failed to encode event", "error", err, "type", e.Type)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("writing websocket: %w", err)
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("pinging websocket: %w", err)
			}
		}
	}
}
