package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/narvanalabs/pve-monitor/internal/actions"
	apierrors "github.com/narvanalabs/pve-monitor/internal/api/errors"
)

// ServiceHandler exposes the guest command services.
type ServiceHandler struct {
	dispatcher *actions.Dispatcher
	logger     *slog.Logger
}

// NewServiceHandler creates a new service handler.
func NewServiceHandler(d *actions.Dispatcher, logger *slog.Logger) *ServiceHandler {
	return &ServiceHandler{
		dispatcher: d,
		logger:     logger,
	}
}

// ServiceRequest is the body of a service call.
type ServiceRequest struct {
	actions.Target
	// Refresh asks the guest's coordinator for an immediate refresh after
	// the command. The refresh query parameter does the same.
	Refresh bool `json:"refresh,omitempty"`
}

// ServiceResponse is returned by a successful service call.
type ServiceResponse struct {
	*actions.Result
	Refreshed bool `json:"refreshed"`
}

// List handles GET /v1/services - lists the command names and whether they
// are currently registered.
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"services":   actions.Services(),
		"registered": h.dispatcher.Registered(),
	})
}

// Call handles POST /v1/services/{service}.
func (h *ServiceHandler) Call(w http.ResponseWriter, r *http.Request) {
	svc, err := actions.ParseService(chi.URLParam(r, "service"))
	if err != nil {
		WriteNotFound(w, r, err.Error())
		return
	}

	var req ServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if q := r.URL.Query().Get("refresh"); q != "" {
		refresh, err := strconv.ParseBool(q)
		if err != nil {
			WriteBadRequest(w, r, "refresh must be a boolean")
			return
		}
		req.Refresh = req.Refresh || refresh
	}

	res, err := h.dispatcher.Dispatch(r.Context(), svc, req.Target)
	if err != nil {
		requestLog(h.logger, r).Warn("service call failed",
			"service", svc,
			"error", err,
		)
		WriteError(w, r, apierrors.FromDispatch(err))
		return
	}

	refreshed := false
	if req.Refresh {
		refreshed = h.dispatcher.RequestRefresh(res)
	}

	requestLog(h.logger, r).Info("service called",
		"service", svc,
		"connection_id", res.ConnectionID,
		"identifier", res.Identifier,
		"strategy", res.Strategy,
	)
	WriteJSON(w, http.StatusOK, ServiceResponse{Result: res, Refreshed: refreshed})
}
