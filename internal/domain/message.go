package domain

import "time"

// Completion receives the terminal outcome of a message.
type Completion interface {
	OnComplete(result Result)
}

// CompletionFunc adapts an ordinary function to Completion.
type CompletionFunc func(result Result)

// OnComplete calls f(result).
func (f CompletionFunc) OnComplete(result Result) {
	f(result)
}

// Message is a single record submitted by the application.
// It is immutable once enqueued.
type Message struct {
	GroupID     string
	StreamID    string
	Payload     []byte
	EnqueueTime time.Time

	// Callback is optional. When set it is invoked exactly once.
	Callback Completion
}

// NewMessage builds a message stamped with the given enqueue time.
func NewMessage(groupID, streamID string, payload []byte, cb Completion, now time.Time) *Message {
	return &Message{
		GroupID:     groupID,
		StreamID:    streamID,
		Payload:     payload,
		EnqueueTime: now,
		Callback:    cb,
	}
}

// Size returns the payload length in bytes.
func (m *Message) Size() int {
	return len(m.Payload)
}

// Result is the terminal outcome reported for one message.
type Result struct {
	GroupID  string
	StreamID string
	Payload  []byte

	// BatchID identifies the batch the message travelled in.
	BatchID string

	// Endpoint is the proxy address of the last attempt, if any.
	Endpoint string

	// Attempts is the number of send attempts made for the batch.
	Attempts int

	// ReportTime is when the outcome was decided.
	ReportTime time.Time

	// Err is nil when the message was delivered.
	Err error
}

// Delivered reports whether the message reached the proxy.
func (r Result) Delivered() bool {
	return r.Err == nil
}
