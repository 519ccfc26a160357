package dataproxy

import (
	"github.com/songhahaha66/inlong/internal/app"
	"github.com/songhahaha66/inlong/internal/domain"
)

// State is the lifecycle state of a Client.
type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateClosing
	StateClosed
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// StateChangeEvent is emitted on every lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// BatchEvent describes a batch that reached its terminal outcome.
type BatchEvent struct {
	BatchID  string
	GroupID  string
	StreamID string
	Messages int
	Bytes    int
	Endpoint string
	Attempts int
	// Codec is the compression applied on the last attempt.
	Codec string
	// Err is nil for delivered batches.
	Err error
}

// EndpointHealthEvent is emitted when an endpoint changes health.
type EndpointHealthEvent struct {
	Address  string
	Previous HealthState
	Current  HealthState
	Failures int
}

// EventHandler receives client events. Methods are called synchronously
// from internal goroutines and must return quickly.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnBatchDelivered(event BatchEvent)
	OnBatchFailed(event BatchEvent)
	OnEndpointHealth(event EndpointHealthEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to
// handle only some events.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)       {}
func (BaseEventHandler) OnBatchDelivered(BatchEvent)          {}
func (BaseEventHandler) OnBatchFailed(BatchEvent)             {}
func (BaseEventHandler) OnEndpointHealth(EndpointHealthEvent) {}

// eventBridge adapts EventHandler to the internal hooks.
type eventBridge struct {
	handler EventHandler
}

func (e *eventBridge) OnStateChange(previous, current app.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func (e *eventBridge) batch(o app.BatchOutcome) {
	if e.handler == nil {
		return
	}
	b := o.Batch
	ev := BatchEvent{
		BatchID:  b.ID,
		GroupID:  b.GroupID,
		StreamID: b.StreamID,
		Messages: b.Len(),
		Bytes:    b.Bytes,
		Endpoint: o.Endpoint,
		Attempts: o.Attempts,
		Codec:    o.Codec,
		Err:      o.Err,
	}
	if o.Err == nil {
		e.handler.OnBatchDelivered(ev)
		return
	}
	e.handler.OnBatchFailed(ev)
}

func (e *eventBridge) endpointHealth(ep domain.Endpoint, previous domain.HealthState) {
	if e.handler == nil {
		return
	}
	e.handler.OnEndpointHealth(EndpointHealthEvent{
		Address:  ep.Address,
		Previous: previous,
		Current:  ep.Health,
		Failures: ep.ConsecutiveFailures,
	})
}

func convertState(s app.State) State {
	switch s {
	case app.StateNew:
		return StateNew
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateClosing:
		return StateClosing
	case app.StateClosed:
		return StateClosed
	case app.StateFailed:
		return StateFailed
	default:
		return StateNew
	}
}
