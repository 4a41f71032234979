package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

func lister(states []bool) ConnectionLister {
	return func() []ConnectionHealth {
		out := make([]ConnectionHealth, len(states))
		for i, ok := range states {
			out[i] = ConnectionHealth{ID: fmt.Sprintf("c%d", i), Name: "cluster", Healthy: ok}
		}
		return out
	}
}

// **Feature: pve-monitor, Property 11: Health reflects connection polls**
// For any set of connection states, the report lists every connection and
// the overall status is healthy only when all of them poll successfully.
func TestPropertyHealthReflectsConnections(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("overall status follows connection states", prop.ForAll(
		func(states []bool) bool {
			resp := NewChecker(&mockPinger{}, lister(states), "test").Check(context.Background())
			if len(resp.Connections) != len(states) {
				return false
			}

			failing := 0
			for _, ok := range states {
				if !ok {
					failing++
				}
			}
			switch {
			case len(states) == 0:
				return resp.Status == StatusDegraded
			case failing == 0:
				return resp.Status == StatusHealthy
			case failing == len(states):
				return resp.Status == StatusUnhealthy
			default:
				return resp.Status == StatusDegraded
			}
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestRegistryFailureIsUnhealthy(t *testing.T) {
	checker := NewChecker(&mockPinger{err: errors.New("connection refused")}, lister([]bool{true}), "v1")

	rr := httptest.NewRecorder()
	checker.Handler()(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Components["registry"].Message, "connection refused")
	assert.Equal(t, "v1", resp.Version)
}

func TestInMemoryRegistry(t *testing.T) {
	checker := NewChecker(nil, lister([]bool{true, true}), "v1")

	rr := httptest.NewRecorder()
	checker.Handler()(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, StatusHealthy, resp.Connections["c1"].Status)
}
