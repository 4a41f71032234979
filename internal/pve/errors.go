package pve

import (
	"errors"
	"fmt"
)

// APIError is returned for every failed call to the cluster API, whether the
// server answered with an error status or the request never completed.
type APIError struct {
	// StatusCode is the HTTP status, or 0 for transport failures.
	StatusCode int
	Path       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d calling %s: %s", e.StatusCode, e.Path, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("calling %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("calling %s: %s", e.Path, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsAPIError reports whether err is or wraps an *APIError.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// IsUnauthorized reports whether the cluster rejected the credentials.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
}

// IsTransient reports whether retrying the call may succeed: transport
// failures and 5xx responses.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 0 || apiErr.StatusCode >= 500
}
