package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	apierrors "github.com/narvanalabs/pve-monitor/internal/api/errors"
	"github.com/narvanalabs/pve-monitor/internal/connection"
	"github.com/narvanalabs/pve-monitor/internal/entity"
	"github.com/narvanalabs/pve-monitor/internal/pve"
)

// EntityHandler lists entities and runs their controls.
type EntityHandler struct {
	connections *connection.Registry
	logger      *slog.Logger
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(reg *connection.Registry, logger *slog.Logger) *EntityHandler {
	return &EntityHandler{
		connections: reg,
		logger:      logger,
	}
}

// List handles GET /v1/connections/{connectionID}/entities. The optional
// platform query parameter filters by platform.
func (h *EntityHandler) List(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.connections.Get(chi.URLParam(r, "connectionID"))
	if !ok {
		WriteNotFound(w, r, "Connection not found")
		return
	}

	platforms := entity.Platforms()
	if p := r.URL.Query().Get("platform"); p != "" {
		platform := entity.Platform(p)
		valid := false
		for _, known := range platforms {
			if known == platform {
				valid = true
			}
		}
		if !valid {
			WriteBadRequest(w, r, "Unknown platform "+p)
			return
		}
		platforms = []entity.Platform{platform}
	}

	out := []entity.View{}
	for _, p := range platforms {
		for _, e := range conn.Reconciler().Entities(p) {
			out = append(out, entity.Render(e))
		}
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *EntityHandler) lookup(w http.ResponseWriter, r *http.Request) (entity.ResourceEntity, bool) {
	conn, ok := h.connections.Get(chi.URLParam(r, "connectionID"))
	if !ok {
		WriteNotFound(w, r, "Connection not found")
		return nil, false
	}
	e, ok := conn.Reconciler().Entity(chi.URLParam(r, "uniqueID"))
	if !ok {
		WriteNotFound(w, r, "Entity not found")
		return nil, false
	}
	return e, true
}

// Get handles GET /v1/connections/{connectionID}/entities/{uniqueID}.
func (h *EntityHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, entity.Render(e))
}

// Entity actions accepted by Action.
const (
	ActionTurnOn  = "turn_on"
	ActionTurnOff = "turn_off"
	ActionPress   = "press"
)

var errUnsupportedAction = errors.New("unsupported action for entity")

// Action handles POST /v1/connections/{connectionID}/entities/{uniqueID}/{action}.
// Switches accept turn_on and turn_off, buttons accept press. The guest's
// coordinator is refreshed after the command.
func (h *EntityHandler) Action(w http.ResponseWriter, r *http.Request) {
	e, ok := h.lookup(w, r)
	if !ok {
		return
	}
	action := chi.URLParam(r, "action")

	err := errUnsupportedAction
	switch action {
	case ActionTurnOn, ActionTurnOff:
		if sw, ok := e.(entity.Switchable); ok {
			if action == ActionTurnOn {
				err = sw.TurnOn(r.Context())
			} else {
				err = sw.TurnOff(r.Context())
			}
		}
	case ActionPress:
		if b, ok := e.(entity.Pressable); ok {
			err = b.Press(r.Context())
		}
	}

	switch {
	case errors.Is(err, errUnsupportedAction):
		WriteBadRequest(w, r, action+" is not supported by "+string(e.Platform())+" entities")
		return
	case pve.IsAPIError(err):
		requestLog(h.logger, r).Warn("entity action failed", "unique_id", e.UniqueID(), "action", action, "error", err)
		WriteError(w, r, apierrors.New(apierrors.CodeUpstreamError, err.Error()))
		return
	case err != nil:
		requestLog(h.logger, r).Error("entity action failed", "unique_id", e.UniqueID(), "action", action, "error", err)
		WriteInternalError(w, r, "Entity action failed")
		return
	}

	requestLog(h.logger, r).Info("entity action",
		"unique_id", e.UniqueID(),
		"action", action,
	)
	WriteJSON(w, http.StatusAccepted, entity.Render(e))
}
