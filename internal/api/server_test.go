package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/actions"
	"github.com/narvanalabs/pve-monitor/internal/auth"
	"github.com/narvanalabs/pve-monitor/internal/connection"
	"github.com/narvanalabs/pve-monitor/internal/events"
	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/pve"
	"github.com/narvanalabs/pve-monitor/internal/pve/pvetest"
	"github.com/narvanalabs/pve-monitor/internal/store/memdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *auth.Service, *pvetest.Client) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := memdb.New()
	require.NoError(t, err)

	client := &pvetest.Client{
		Resources: []models.Record{{"node": "pve1", "type": "qemu", "vmid": 100, "name": "web"}},
		Nodes:     []models.Record{{"node": "pve1", "status": "online"}},
	}

	hub := events.NewHub(logger)
	var d *actions.Dispatcher
	reg := connection.NewRegistry(connection.RegistryConfig{
		Deps: connection.Deps{Store: st, Events: hub, Timeout: time.Second, Logger: logger},
		NewClient: func(s connection.Settings) (pve.Client, error) {
			return client, nil
		},
		OnFirst: func() { d.Register() },
		OnLast:  func() { d.Deregister() },
	})
	t.Cleanup(reg.Close)
	d = actions.NewDispatcher(reg, st.Devices(), logger)

	_, err = reg.Add(context.Background(), connection.Settings{
		ID:         "a",
		Name:       "lab",
		Host:       "pve-a",
		TokenName:  "monitor@pve!ro",
		TokenValue: "secret",
		Options:    models.DefaultOptions(),
	})
	require.NoError(t, err)

	authSvc := auth.NewService(&auth.Config{
		JWTSecret:   []byte("0123456789abcdef0123456789abcdef"),
		TokenExpiry: time.Hour,
	}, logger)

	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, Deps{
		Store:       st,
		Connections: reg,
		Dispatcher:  d,
		Events:      hub,
		Auth:        authSvc,
	}, logger)
	return srv, authSvc, client
}

func call(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := call(t, srv, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"a"`)

	rr = call(t, srv, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pve_monitor_")
}

func TestV1RequiresToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rr := call(t, srv, http.MethodGet, "/v1/connections", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = call(t, srv, http.MethodGet, "/v1/connections", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRolesGateRoutes(t *testing.T) {
	srv, authSvc, client := newTestServer(t)

	viewer, err := authSvc.GenerateToken("dashboard", auth.RoleViewer)
	require.NoError(t, err)
	operator, err := authSvc.GenerateToken("automation", auth.RoleOperator)
	require.NoError(t, err)

	rr := call(t, srv, http.MethodGet, "/v1/auth/validate", viewer, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "dashboard")

	rr = call(t, srv, http.MethodGet, "/v1/connections", viewer, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	body := `{"node": "pve1", "vmid": 100}`
	rr = call(t, srv, http.MethodPost, "/v1/services/start", viewer, body)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, client.RecordedActions())

	rr = call(t, srv, http.MethodPatch, "/v1/connections/a/options", viewer, `{"scan_interval": 30}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = call(t, srv, http.MethodPost, "/v1/services/start", operator, body)
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, client.RecordedActions(), 1)
	assert.Equal(t, pve.ActionStart, client.RecordedActions()[0].Action)

	rr = call(t, srv, http.MethodPatch, "/v1/connections/a/options", operator, `{"scan_interval": 30}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}
