package ports

import "time"

// Send attempt outcomes recorded by Metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
)

// Metrics records delivery engine measurements.
type Metrics interface {
	MessageEnqueued(group string, bytes int)
	MessageRejected(group, reason string)
	BatchFlushed(group, trigger string, messages, bytes int)
	BatchCompressed(codec string, rawBytes, wireBytes int)
	SendAttempt(endpoint, outcome string, latency time.Duration)
	BatchCompleted(group string, delivered bool, messages int)
	InflightBatches(n int)
	EndpointHealth(endpoint string, healthy bool)
	EndpointsKnown(n int)
	ConnectionsOpen(endpoint string, delta int)
	ResolveCompleted(success bool)
}
