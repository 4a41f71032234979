package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/pve-monitor/internal/auth"
	"github.com/stretchr/testify/assert"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newAuth() *auth.Service {
	return auth.NewService(&auth.Config{JWTSecret: testSecret, TokenExpiry: time.Hour}, nil)
}

func genSubject() gopter.Gen {
	return gen.RegexMatch("[a-zA-Z][a-zA-Z0-9]{5,15}")
}

// guarded wraps a handler reporting whether it was reached behind
// Authenticate and RequirePermission.
func guarded(svc *auth.Service, perm auth.Permission, reached *bool) http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*reached = true
		w.WriteHeader(http.StatusOK)
	})
	m := NewAuthMiddleware(svc, slog.Default())
	return m.Authenticate(RequirePermission(perm, slog.Default())(h))
}

// **Feature: pve-monitor, Property 10: Viewer tokens cannot control guests**
// For any subject holding a viewer token, control and configure requests are
// rejected with 403 while view requests pass.
func TestViewerCannotControl(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	svc := newAuth()

	properties.Property("viewer access is limited to view", prop.ForAll(
		func(subject string, perm auth.Permission) bool {
			token, err := svc.GenerateToken(subject, auth.RoleViewer)
			if err != nil {
				return false
			}

			reached := false
			req := httptest.NewRequest(http.MethodPost, "/v1/services/start", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			guarded(svc, perm, &reached).ServeHTTP(rr, req)

			if perm == auth.PermissionView {
				return reached && rr.Code == http.StatusOK
			}
			return !reached && rr.Code == http.StatusForbidden
		},
		genSubject(),
		gen.OneConstOf(auth.PermissionView, auth.PermissionControl, auth.PermissionConfigure),
	))

	properties.Property("operator access is allowed", prop.ForAll(
		func(subject string) bool {
			token, err := svc.GenerateToken(subject, auth.RoleOperator)
			if err != nil {
				return false
			}
			reached := false
			req := httptest.NewRequest(http.MethodPost, "/v1/services/start", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			guarded(svc, auth.PermissionControl, &reached).ServeHTTP(rr, req)
			return reached && rr.Code == http.StatusOK
		},
		genSubject(),
	))

	properties.TestingRun(t)
}

func TestAuthenticate(t *testing.T) {
	svc := newAuth()
	reached := false
	h := guarded(svc, auth.PermissionView, &reached)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/connections", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "Missing authentication")

	req := httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	expired := auth.NewService(&auth.Config{JWTSecret: testSecret, TokenExpiry: -time.Hour}, nil)
	old, err := expired.GenerateToken("ops", auth.RoleViewer)
	assert.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
	req.Header.Set("Authorization", "Bearer "+old)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "expired")
	assert.False(t, reached)

	token, err := svc.GenerateToken("ops", auth.RoleViewer)
	assert.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/events?access_token="+token, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, reached)
}
