package coordinator

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Refresh once the coordinator has been stopped.
var ErrStopped = errors.New("coordinator stopped")

// UpdateFailedError is recorded when a fetch fails. The previous snapshot is
// kept and stays readable through Data.
type UpdateFailedError struct {
	Coordinator string
	Err         error
}

func (e *UpdateFailedError) Error() string {
	return fmt.Sprintf("error updating %s: %v", e.Coordinator, e.Err)
}

func (e *UpdateFailedError) Unwrap() error {
	return e.Err
}

// IsUpdateFailed reports whether err is or wraps an *UpdateFailedError.
func IsUpdateFailed(err error) bool {
	var ufe *UpdateFailedError
	return errors.As(err, &ufe)
}
