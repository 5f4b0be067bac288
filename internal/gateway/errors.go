package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConnected is returned by Emit when no connection is established.
var ErrNotConnected = errors.New("channel not connected")

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("channel closed")

// Connection failure reasons.
const (
	ReasonRejected    = "rejected"
	ReasonUnreachable = "unreachable"
)

// ConnectionError is a failed handshake. A rejected credential is fatal to the
// session and is never retried.
type ConnectionError struct {
	Reason string
	Status int
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway connection %s (HTTP %d): %v", e.Reason, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway connection %s: %v", e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Rejected reports whether the gateway refused the credential.
func (e *ConnectionError) Rejected() bool {
	return e.Reason == ReasonRejected
}

func rejectedStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// TransportDrop is published when an established connection is lost.
type TransportDrop struct {
	Err error
}

func (e *TransportDrop) Error() string {
	return fmt.Sprintf("gateway transport dropped: %v", e.Err)
}

func (e *TransportDrop) Unwrap() error { return e.Err }

// IsRejected reports whether err is a ConnectionError caused by a refused credential.
func IsRejected(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Rejected()
}
