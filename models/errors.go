package models

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned by every gateway call made before a
// session exists. It is fatal to the call and never retried.
var ErrNotAuthenticated = errors.New("not authenticated")

// Gateway operation names carried in RemoteOperationError.
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpList    = "list"
	OpSession = "session"
)

// RemoteOperationError reports a transport or server failure for one
// gateway call.
type RemoteOperationError struct {
	Kind      Kind
	Operation string
	Status    int // HTTP status, 0 for transport failures
	Message   string
}

func (e *RemoteOperationError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("remote %s failed: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("remote %s %s failed: %s", e.Operation, e.Kind, e.Message)
}

// IsNotAuthenticated reports whether err is or wraps ErrNotAuthenticated.
func IsNotAuthenticated(err error) bool {
	return errors.Is(err, ErrNotAuthenticated)
}

// AsRemoteFailure extracts a RemoteOperationError from err.
func AsRemoteFailure(err error) (*RemoteOperationError, bool) {
	var re *RemoteOperationError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
