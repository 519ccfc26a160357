package dataproxy

import "github.com/songhahaha66/inlong/internal/domain"

// Errors returned by Send and reported through callbacks.
var (
	ErrNotInitialized    = domain.ErrNotInitialized
	ErrClosed            = domain.ErrClosed
	ErrBufferFull        = domain.ErrBufferFull
	ErrMessageTooLarge   = domain.ErrMessageTooLarge
	ErrInvalidMessage    = domain.ErrInvalidMessage
	ErrInvalidConfig     = domain.ErrInvalidConfig
	ErrNoEndpoints       = domain.ErrNoEndpoints
	ErrEndpointUnhealthy = domain.ErrEndpointUnhealthy
	ErrEndpointBusy      = domain.ErrEndpointBusy
	ErrRejected          = domain.ErrRejected
	ErrShutdownTimeout   = domain.ErrShutdownTimeout
)

// Typed errors. Use errors.As to inspect them.
type (
	// ConnectError reports a failure to obtain a connection.
	ConnectError = domain.ConnectError
	// ResolveError reports a failed endpoint refresh.
	ResolveError = domain.ResolveError
	// DeliveryError is reported when a batch exhausted its attempts.
	DeliveryError = domain.DeliveryError
	// RejectError carries a proxy's non-success answer.
	RejectError = domain.RejectError
)
