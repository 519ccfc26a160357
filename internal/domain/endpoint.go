package domain

import "time"

// HealthState is the observed health of an endpoint.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthUnhealthy
)

// String returns a human-readable representation of the state.
func (h HealthState) String() string {
	switch h {
	case HealthUnknown:
		return "Unknown"
	case HealthHealthy:
		return "Healthy"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Invalid"
	}
}

// Endpoint is a point-in-time view of a DataProxy address.
type Endpoint struct {
	Address string
	Health  HealthState

	LastProbe time.Time
	LastError time.Time

	// ConsecutiveFailures resets on the first success.
	ConsecutiveFailures int
}

// Usable reports whether the endpoint is not known to be down.
func (e Endpoint) Usable() bool {
	return e.Health != HealthUnhealthy
}
