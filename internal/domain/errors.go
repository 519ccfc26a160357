package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the DataProxy client.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrNotInitialized is returned when the client has not been initialized.
	ErrNotInitialized = errors.New("dataproxy: not initialized")

	// ErrClosed is returned when sending on a closed client.
	ErrClosed = errors.New("dataproxy: client closed")

	// ErrBufferFull is the backpressure signal for a stream at its memory ceiling.
	ErrBufferFull = errors.New("dataproxy: buffer full")

	// ErrMessageTooLarge is returned for payloads above the single message limit.
	ErrMessageTooLarge = errors.New("dataproxy: message too large")

	// ErrInvalidMessage is returned for empty group ids, stream ids or payloads.
	ErrInvalidMessage = errors.New("dataproxy: invalid message")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("dataproxy: invalid configuration")

	// ErrNoEndpoints is returned when no proxy address has ever been resolved.
	ErrNoEndpoints = errors.New("dataproxy: no endpoints")

	// ErrEndpointUnhealthy is returned by fail-fast acquisition on a down endpoint.
	ErrEndpointUnhealthy = errors.New("dataproxy: endpoint unhealthy")

	// ErrEndpointBusy is returned when no connection slot frees up in time.
	ErrEndpointBusy = errors.New("dataproxy: endpoint busy")

	// ErrRejected is returned when a proxy answers with a non-success status.
	ErrRejected = errors.New("dataproxy: rejected by proxy")

	// ErrShutdownTimeout is reported for batches still pending at the close deadline.
	ErrShutdownTimeout = errors.New("dataproxy: shutdown timeout")

	// ErrAlreadyRunning is returned on invalid lifecycle transitions.
	ErrAlreadyRunning = errors.New("dataproxy: already running")

	// ErrNotRunning is returned on invalid lifecycle transitions.
	ErrNotRunning = errors.New("dataproxy: not running")
)

// ConnectError reports a failure to obtain a connection to an endpoint.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ResolveError reports a failed endpoint refresh.
type ResolveError struct {
	Err error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve endpoints: %v", e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// DeliveryError is reported to callbacks when a batch could not be delivered.
type DeliveryError struct {
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// RejectError carries the proxy's status for a rejected send.
type RejectError struct {
	Code    int
	Message string
}

func (e *RejectError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("proxy rejected batch: code %d", e.Code)
	}
	return fmt.Sprintf("proxy rejected batch: code %d: %s", e.Code, e.Message)
}

// Is makes errors.Is(err, ErrRejected) true for any RejectError.
func (e *RejectError) Is(target error) bool {
	return target == ErrRejected
}
