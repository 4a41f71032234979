// Package health provides health check functionality for API components.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is operational but with issues.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is not operational.
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response represents the health check response.
type Response struct {
	Status      Status                     `json:"status"`
	Components  map[string]ComponentStatus `json:"components"`
	Connections map[string]ComponentStatus `json:"connections"`
	Version     string                     `json:"version"`
	Uptime      string                     `json:"uptime"`
}

// Pinger is an interface for components that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionHealth is the poll state of one cluster connection.
type ConnectionHealth struct {
	ID      string
	Name    string
	Healthy bool
	Error   string
}

// ConnectionLister reports the state of every loaded connection.
type ConnectionLister func() []ConnectionHealth

// Checker performs health checks for the registry and the connections.
type Checker struct {
	pinger      Pinger
	connections ConnectionLister
	startTime   time.Time
	version     string
	timeout     time.Duration
}

// NewChecker creates a new health checker.
func NewChecker(pinger Pinger, connections ConnectionLister, version string) *Checker {
	return &Checker{
		pinger:      pinger,
		connections: connections,
		startTime:   time.Now(),
		version:     version,
		timeout:     5 * time.Second,
	}
}

// Check performs all health checks and returns the aggregated response.
// The service is unhealthy when the registry is unreachable or when every
// connection fails to poll, and degraded when some do or none is loaded.
func (c *Checker) Check(ctx context.Context) *Response {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	components := map[string]ComponentStatus{
		"registry": c.checkRegistry(checkCtx),
	}

	var conns []ConnectionHealth
	if c.connections != nil {
		conns = c.connections()
	}
	connections := make(map[string]ComponentStatus, len(conns))
	failing := 0
	for _, conn := range conns {
		if conn.Healthy {
			connections[conn.ID] = ComponentStatus{Status: StatusHealthy, Message: conn.Name}
			continue
		}
		failing++
		msg := conn.Error
		if msg == "" {
			msg = "last poll failed"
		}
		connections[conn.ID] = ComponentStatus{Status: StatusUnhealthy, Message: msg}
	}

	overall := StatusHealthy
	switch {
	case components["registry"].Status == StatusUnhealthy:
		overall = StatusUnhealthy
	case len(conns) > 0 && failing == len(conns):
		overall = StatusUnhealthy
	case len(conns) == 0 || failing > 0:
		overall = StatusDegraded
	}

	return &Response{
		Status:      overall,
		Components:  components,
		Connections: connections,
		Version:     c.version,
		Uptime:      time.Since(c.startTime).Round(time.Second).String(),
	}
}

func (c *Checker) checkRegistry(ctx context.Context) ComponentStatus {
	if c.pinger == nil {
		return ComponentStatus{
			Status:  StatusHealthy,
			Message: "in-memory",
		}
	}

	if err := c.pinger.Ping(ctx); err != nil {
		return ComponentStatus{
			Status:  StatusUnhealthy,
			Message: "registry ping failed: " + err.Error(),
		}
	}

	return ComponentStatus{
		Status:  StatusHealthy,
		Message: "connected",
	}
}

// Handler returns an HTTP handler for health checks.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")

		switch response.Status {
		case StatusHealthy, StatusDegraded:
			w.WriteHeader(http.StatusOK)
		case StatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(response)
	}
}
