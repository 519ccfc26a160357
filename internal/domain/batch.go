package domain

import (
	"sync/atomic"
	"time"
)

// StreamKey identifies a logical stream.
type StreamKey struct {
	GroupID  string
	StreamID string
}

// String returns "group/stream".
func (k StreamKey) String() string {
	return k.GroupID + "/" + k.StreamID
}

// Batch is an ordered set of messages sharing a group and stream.
type Batch struct {
	// ID is a unique identifier used for logs and wire acknowledgements.
	ID string

	GroupID  string
	StreamID string

	// Seq is the per-stream creation sequence number, starting at 1.
	Seq uint64

	Messages []*Message

	// Bytes is the sum of all payload lengths.
	Bytes int

	CreatedAt time.Time

	done atomic.Bool
}

// NewBatch creates an empty batch for the given stream.
func NewBatch(id string, key StreamKey, seq uint64, now time.Time) *Batch {
	return &Batch{
		ID:        id,
		GroupID:   key.GroupID,
		StreamID:  key.StreamID,
		Seq:       seq,
		CreatedAt: now,
	}
}

// Key returns the stream key of the batch.
func (b *Batch) Key() StreamKey {
	return StreamKey{GroupID: b.GroupID, StreamID: b.StreamID}
}

// Add appends a message to the batch.
func (b *Batch) Add(m *Message) {
	b.Messages = append(b.Messages, m)
	b.Bytes += len(m.Payload)
}

// Len returns the number of messages in the batch.
func (b *Batch) Len() int {
	return len(b.Messages)
}

// Empty returns true if the batch has no messages.
func (b *Batch) Empty() bool {
	return len(b.Messages) == 0
}

// Payloads returns the message payloads in order.
func (b *Batch) Payloads() [][]byte {
	out := make([][]byte, len(b.Messages))
	for i, m := range b.Messages {
		out[i] = m.Payload
	}
	return out
}

// MarkDone flips the batch into its terminal state.
// It returns true only for the first caller.
func (b *Batch) MarkDone() bool {
	return b.done.CompareAndSwap(false, true)
}

// Done reports whether a terminal outcome has been recorded.
func (b *Batch) Done() bool {
	return b.done.Load()
}
