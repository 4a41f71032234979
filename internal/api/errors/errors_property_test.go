package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/pve-monitor/internal/actions"
	"github.com/narvanalabs/pve-monitor/internal/pve"
	"github.com/stretchr/testify/assert"
)

// **Feature: pve-monitor, Property 9: Structured error response format**
// For any API error response, the body contains string code, message and
// request_id fields and the status matches the code.
func TestPropertyStructuredErrorResponseFormat(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	genErrorCode := gen.OneConstOf(
		CodeValidationError,
		CodeNotFound,
		CodeUnauthorized,
		CodeForbidden,
		CodeInternalError,
		CodeConflict,
		CodeUnavailable,
		CodeUpstreamError,
	)
	genNonEmptyString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0
	})
	genRequestID := gen.RegexMatch("[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}")

	properties.Property("error response contains required fields", prop.ForAll(
		func(code, message, requestID string) bool {
			apiErr := New(code, message).WithRequestID(requestID)

			rr := httptest.NewRecorder()
			WriteError(rr, apiErr)
			if rr.Code != apiErr.HTTPStatusCode() {
				return false
			}

			var response map[string]any
			if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
				return false
			}
			for _, field := range []string{"code", "message", "request_id"} {
				if _, ok := response[field].(string); !ok {
					return false
				}
			}
			return response["code"] == code && response["request_id"] == requestID
		},
		genErrorCode,
		genNonEmptyString,
		genRequestID,
	))

	properties.TestingRun(t)
}

func TestFromDispatch(t *testing.T) {
	cases := []struct {
		reason actions.Reason
		status int
	}{
		{actions.ReasonInvalid, http.StatusBadRequest},
		{actions.ReasonWrongKind, http.StatusBadRequest},
		{actions.ReasonNotFound, http.StatusNotFound},
		{actions.ReasonNotLoaded, http.StatusNotFound},
		{actions.ReasonAmbiguous, http.StatusConflict},
	}
	for _, tc := range cases {
		err := fmt.Errorf("dispatch: %w", &actions.ResolveError{
			Strategy: actions.StrategyHost,
			Reason:   tc.reason,
			Message:  "boom",
		})
		apiErr := FromDispatch(err)
		assert.Equal(t, tc.status, apiErr.HTTPStatusCode(), tc.reason)
		assert.Equal(t, "boom", apiErr.Message)
		assert.Equal(t, string(tc.reason), apiErr.Details["reason"])
		assert.Equal(t, "host", apiErr.Details["strategy"])
	}

	assert.Equal(t, http.StatusServiceUnavailable, FromDispatch(actions.ErrNotRegistered).HTTPStatusCode())

	upstream := FromDispatch(fmt.Errorf("start: %w", &pve.APIError{StatusCode: 500, Path: "/x", Message: "locked"}))
	assert.Equal(t, http.StatusBadGateway, upstream.HTTPStatusCode())
	assert.Equal(t, 500, upstream.Details["status"])

	assert.Equal(t, http.StatusInternalServerError, FromDispatch(fmt.Errorf("other")).HTTPStatusCode())
}

func TestValidationErrors(t *testing.T) {
	var v ValidationErrors
	assert.False(t, v.HasErrors())
	assert.Equal(t, CodeValidationError, v.ToAPIError().Code)

	v.Add("scan_interval", "must be between 5 and 3600 seconds")
	v.Add("ip_mode", "unknown mode")
	apiErr := v.ToAPIError()
	assert.Equal(t, "must be between 5 and 3600 seconds (and 1 more errors)", apiErr.Message)
	assert.Len(t, apiErr.Details["fields"], 2)
}
