package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/narvanalabs/pve-monitor/internal/events"
	"github.com/narvanalabs/pve-monitor/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler streams coordinator and entity events over websocket.
type EventsHandler struct {
	hub    *events.Hub
	logger *slog.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(hub *events.Hub, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		hub:    hub,
		logger: logger,
	}
}

// Stream handles GET /v1/events. The optional connection_id query parameter
// restricts the stream to one connection.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	connectionID := r.URL.Query().Get("connection_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	if connectionID != "" {
		ctx = logger.ContextWithConnectionID(ctx, connectionID)
	}
	log := (&logger.Logger{Logger: h.logger}).WithContext(ctx)

	log.Debug("event stream opened", "remote", r.RemoteAddr)
	if err := h.hub.Serve(ctx, conn, connectionID); err != nil {
		log.Debug("event stream closed", "error", err)
	}
}
