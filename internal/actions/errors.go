package actions

import (
	"errors"
	"fmt"
)

// ErrNotRegistered is returned when commands are dispatched while no
// connection is loaded.
var ErrNotRegistered = errors.New("guest services are not registered")

// Strategy names the resolution step that failed.
type Strategy string

const (
	StrategyTarget       Strategy = "target"
	StrategyDevice       Strategy = "device"
	StrategyConnectionID Strategy = "connection_id"
	StrategyHost         Strategy = "host"
	StrategyInventory    Strategy = "inventory"
)

// Reason classifies a resolution failure.
type Reason string

const (
	ReasonInvalid   Reason = "invalid"
	ReasonNotFound  Reason = "not_found"
	ReasonAmbiguous Reason = "ambiguous"
	ReasonWrongKind Reason = "wrong_kind"
	ReasonNotLoaded Reason = "not_loaded"
)

// ResolveError reports which targeting strategy failed and why.
type ResolveError struct {
	Strategy Strategy
	Reason   Reason
	Message  string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("%s resolution failed (%s): %s", e.Strategy, e.Reason, e.Message)
}

func resolveErr(s Strategy, r Reason, format string, args ...any) *ResolveError {
	return &ResolveError{Strategy: s, Reason: r, Message: fmt.Sprintf(format, args...)}
}

// AsResolveError returns the *ResolveError wrapped by err, if any.
func AsResolveError(err error) (*ResolveError, bool) {
	var re *ResolveError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
