package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	apierrors "github.com/narvanalabs/pve-monitor/internal/api/errors"
	"github.com/narvanalabs/pve-monitor/internal/connection"
	"github.com/narvanalabs/pve-monitor/internal/diagnostics"
	"github.com/narvanalabs/pve-monitor/internal/models"
)

// ConnectionHandler serves connection state, diagnostics and live options.
type ConnectionHandler struct {
	connections *connection.Registry
	logger      *slog.Logger
}

// NewConnectionHandler creates a new connection handler.
func NewConnectionHandler(reg *connection.Registry, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connections: reg,
		logger:      logger,
	}
}

// OptionsView renders options with the interval in seconds.
type OptionsView struct {
	ScanInterval int           `json:"scan_interval"`
	IPMode       models.IPMode `json:"ip_mode"`
	IPPrefix     string        `json:"ip_prefix"`
}

func optionsView(o models.Options) OptionsView {
	return OptionsView{
		ScanInterval: int(o.ScanInterval / time.Second),
		IPMode:       o.IPMode,
		IPPrefix:     o.IPPrefix,
	}
}

// ConnectionView is the public rendering of a connection. Credentials are
// never included.
type ConnectionView struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Host              string      `json:"host"`
	Port              int         `json:"port"`
	VerifySSL         bool        `json:"verify_ssl"`
	TokenName         string      `json:"token_name"`
	Options           OptionsView `json:"options"`
	Healthy           bool        `json:"healthy"`
	LastError         string      `json:"last_error,omitempty"`
	LoadedAt          time.Time   `json:"loaded_at"`
	GuestCoordinators int         `json:"guest_coordinators"`
	NodeCoordinators  int         `json:"node_coordinators"`
}

func connectionView(c *connection.Connection) ConnectionView {
	s := c.Settings()
	guests, nodes := c.Reconciler().CoordinatorCount()
	v := ConnectionView{
		ID:                s.ID,
		Name:              s.Name,
		Host:              s.Host,
		Port:              s.Port,
		VerifySSL:         s.VerifySSL,
		TokenName:         diagnostics.MaskTokenName(s.TokenName),
		Options:           optionsView(s.Options),
		Healthy:           c.Healthy(),
		LoadedAt:          c.LoadedAt(),
		GuestCoordinators: guests,
		NodeCoordinators:  nodes,
	}
	if err := c.Inventory().LastError(); err != nil {
		v.LastError = err.Error()
	}
	return v
}

func (h *ConnectionHandler) lookup(w http.ResponseWriter, r *http.Request) (*connection.Connection, bool) {
	id := chi.URLParam(r, "connectionID")
	conn, ok := h.connections.Get(id)
	if !ok {
		WriteNotFound(w, r, "Connection not found")
		return nil, false
	}
	return conn, true
}

// List handles GET /v1/connections.
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	conns := h.connections.List()
	out := make([]ConnectionView, 0, len(conns))
	for _, c := range conns {
		out = append(out, connectionView(c))
	}
	WriteJSON(w, http.StatusOK, out)
}

// Get handles GET /v1/connections/{connectionID}.
func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, connectionView(conn))
}

// Diagnostics handles GET /v1/connections/{connectionID}/diagnostics.
func (h *ConnectionHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, diagnostics.Build(r.Context(), conn))
}

// UpdateOptionsRequest is a partial options update. Absent fields keep their
// current value.
type UpdateOptionsRequest struct {
	ScanInterval *int           `json:"scan_interval,omitempty"`
	IPMode       *models.IPMode `json:"ip_mode,omitempty"`
	IPPrefix     *string        `json:"ip_prefix,omitempty"`
}

// Validate checks the fields present in the request. The interval is
// checked in whole seconds so oversized values are rejected before they are
// converted to a duration.
func (req UpdateOptionsRequest) Validate() apierrors.ValidationErrors {
	var errs apierrors.ValidationErrors
	if req.ScanInterval != nil {
		lo, hi := int(models.MinScanInterval.Seconds()), int(models.MaxScanInterval.Seconds())
		if s := *req.ScanInterval; s < lo || s > hi {
			errs.Add("scan_interval", fmt.Sprintf("must be between %d and %d seconds", lo, hi))
		}
	}
	if req.IPMode != nil && !req.IPMode.Valid() {
		errs.Add("ip_mode", fmt.Sprintf("must be one of %v", models.IPModes()))
	}
	return errs
}

// Apply merges the request into opts. Callers validate the request first.
func (req UpdateOptionsRequest) Apply(opts models.Options) models.Options {
	if req.ScanInterval != nil {
		opts.ScanInterval = time.Duration(*req.ScanInterval) * time.Second
	}
	if req.IPMode != nil {
		opts.IPMode = *req.IPMode
	}
	if req.IPPrefix != nil {
		opts.IPPrefix = *req.IPPrefix
	}
	return opts
}

// UpdateOptions handles PATCH /v1/connections/{connectionID}/options.
func (h *ConnectionHandler) UpdateOptions(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req UpdateOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}

	if errs := req.Validate(); errs.HasErrors() {
		WriteError(w, r, errs.ToAPIError())
		return
	}

	opts := req.Apply(conn.Options())
	if err := conn.ApplyOptions(opts); err != nil {
		WriteError(w, r, apierrors.NewValidationError(err.Error()))
		return
	}

	requestLog(h.logger, r).Info("connection options updated",
		"scan_interval", opts.ScanInterval.String(),
		"ip_mode", opts.IPMode,
	)
	WriteJSON(w, http.StatusOK, optionsView(conn.Options()))
}
