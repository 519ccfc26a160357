package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
	"github.com/songhahaha66/inlong/pkg/log"
)

// BackpressurePolicy decides what Enqueue does when a stream is at its
// memory ceiling.
type BackpressurePolicy string

const (
	// PolicyReject returns ErrBufferFull to the caller.
	PolicyReject BackpressurePolicy = "reject"
	// PolicyBlock waits for space up to BlockTimeout.
	PolicyBlock BackpressurePolicy = "block"
	// PolicyDrop accepts the call and fails the message through its callback.
	PolicyDrop BackpressurePolicy = "drop"
)

// ParseBackpressurePolicy validates a policy name. Empty means reject.
func ParseBackpressurePolicy(s string) (BackpressurePolicy, error) {
	switch p := BackpressurePolicy(s); p {
	case "":
		return PolicyReject, nil
	case PolicyReject, PolicyBlock, PolicyDrop:
		return p, nil
	}
	return "", fmt.Errorf("unknown backpressure policy %q", s)
}

// Flush triggers, used for metrics and logs.
const (
	TriggerSize    = "size"
	TriggerCount   = "count"
	TriggerTimeout = "timeout"
	TriggerClose   = "close"
	TriggerAlone   = "standalone"
)

// DefaultMaxPackCount caps the number of messages in one batch.
const DefaultMaxPackCount = 1000

// BufferConfig holds the packing thresholds.
type BufferConfig struct {
	PackSize     int
	MaxPackCount int
	PackTimeout  time.Duration

	// ExtPackSize is the largest single message accepted.
	ExtPackSize int

	// MaxBufferBytes bounds open plus in-flight bytes per stream.
	// Zero disables the ceiling.
	MaxBufferBytes int

	Policy       BackpressurePolicy
	BlockTimeout time.Duration

	// Standalone, when set, marks payloads that must be sent in a batch
	// of their own. The open batch is flushed before and after them.
	Standalone func(payload []byte) bool
}

// Submitter receives flushed batches. Submit must not block.
type Submitter interface {
	Submit(batch *domain.Batch)
}

type streamBuffer struct {
	mu          sync.Mutex
	open        *domain.Batch
	seq         uint64
	outstanding int
	space       chan struct{} // closed when outstanding shrinks
}

// MessageBuffer accumulates messages per stream until a pack threshold
// is reached and then hands the batch to a Submitter.
type MessageBuffer struct {
	cfg      BufferConfig
	out      Submitter
	notifier *Notifier
	metrics  ports.Metrics
	clock    Clock
	logger   log.Logger

	mu      sync.RWMutex
	streams map[domain.StreamKey]*streamBuffer

	closed   atomic.Bool
	closedCh chan struct{}
}

// NewMessageBuffer creates a buffer flushing into out. Messages dropped by
// backpressure are reported through notifier.
func NewMessageBuffer(cfg BufferConfig, out Submitter, notifier *Notifier, metrics ports.Metrics, clock Clock, logger log.Logger) *MessageBuffer {
	if cfg.MaxPackCount <= 0 {
		cfg.MaxPackCount = DefaultMaxPackCount
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyReject
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &MessageBuffer{
		cfg:      cfg,
		out:      out,
		notifier: notifier,
		metrics:  orNop(metrics),
		clock:    clock,
		logger:   logger.With(log.Component("buffer")),
		streams:  make(map[domain.StreamKey]*streamBuffer),
		closedCh: make(chan struct{}),
	}
}

// Enqueue adds m to its stream's open batch, flushing when a size or
// count threshold is reached.
func (b *MessageBuffer) Enqueue(ctx context.Context, m *domain.Message) error {
	if m.GroupID == "" || m.StreamID == "" || len(m.Payload) == 0 {
		return domain.ErrInvalidMessage
	}
	size := m.Size()
	if b.cfg.ExtPackSize > 0 && size > b.cfg.ExtPackSize {
		b.metrics.MessageRejected(m.GroupID, "too_large")
		return domain.ErrMessageTooLarge
	}
	if b.closed.Load() {
		return domain.ErrClosed
	}

	sb := b.stream(domain.StreamKey{GroupID: m.GroupID, StreamID: m.StreamID})

	var deadline <-chan time.Time
	for {
		sb.mu.Lock()
		if b.closed.Load() {
			sb.mu.Unlock()
			return domain.ErrClosed
		}
		if b.fits(sb, size) {
			break
		}

		switch b.cfg.Policy {
		case PolicyDrop:
			sb.mu.Unlock()
			b.metrics.MessageRejected(m.GroupID, "dropped")
			b.notifier.Notify(m.Callback, domain.Result{
				GroupID:    m.GroupID,
				StreamID:   m.StreamID,
				Payload:    m.Payload,
				ReportTime: b.clock.Now(),
				Err:        domain.ErrBufferFull,
			})
			return nil
		case PolicyBlock:
			space := sb.space
			sb.mu.Unlock()
			if deadline == nil {
				t := time.NewTimer(b.cfg.BlockTimeout)
				defer t.Stop()
				deadline = t.C
			}
			select {
			case <-space:
				continue
			case <-deadline:
			case <-ctx.Done():
			case <-b.closedCh:
				return domain.ErrClosed
			}
			b.metrics.MessageRejected(m.GroupID, "buffer_full")
			return domain.ErrBufferFull
		default:
			sb.mu.Unlock()
			b.metrics.MessageRejected(m.GroupID, "buffer_full")
			return domain.ErrBufferFull
		}
	}
	defer sb.mu.Unlock()

	alone := b.cfg.Standalone != nil && b.cfg.Standalone(m.Payload)
	switch {
	case sb.open == nil:
	case alone:
		b.flushLocked(sb, TriggerAlone)
	case sb.open.Bytes+size > b.cfg.PackSize:
		// Keep batches within PackSize unless a single message exceeds it.
		b.flushLocked(sb, TriggerSize)
	}
	if sb.open == nil {
		sb.seq++
		sb.open = domain.NewBatch(uuid.NewString(), domain.StreamKey{GroupID: m.GroupID, StreamID: m.StreamID}, sb.seq, b.clock.Now())
	}
	sb.open.Add(m)
	sb.outstanding += size
	b.metrics.MessageEnqueued(m.GroupID, size)

	switch {
	case alone:
		b.flushLocked(sb, TriggerAlone)
	case sb.open.Bytes >= b.cfg.PackSize:
		b.flushLocked(sb, TriggerSize)
	case sb.open.Len() >= b.cfg.MaxPackCount:
		b.flushLocked(sb, TriggerCount)
	}
	return nil
}

// fits reports whether size more bytes stay under the ceiling. An empty
// stream always accepts one message so oversize ceilings cannot deadlock.
func (b *MessageBuffer) fits(sb *streamBuffer, size int) bool {
	if b.cfg.MaxBufferBytes <= 0 || sb.outstanding == 0 {
		return true
	}
	return sb.outstanding+size <= b.cfg.MaxBufferBytes
}

// flushLocked hands the open batch to the submitter. Submitting under the
// stream lock keeps per-stream dispatch order equal to creation order.
func (b *MessageBuffer) flushLocked(sb *streamBuffer, trigger string) {
	batch := sb.open
	if batch == nil || batch.Empty() {
		return
	}
	sb.open = nil
	b.metrics.BatchFlushed(batch.GroupID, trigger, batch.Len(), batch.Bytes)
	b.logger.Debug("batch flushed",
		log.String("batch_id", batch.ID),
		log.String("stream", batch.Key().String()),
		log.Uint64("seq", batch.Seq),
		log.String("trigger", trigger),
		log.Int("messages", batch.Len()),
		log.Int("bytes", batch.Bytes),
	)
	b.out.Submit(batch)
}

func (b *MessageBuffer) stream(key domain.StreamKey) *streamBuffer {
	b.mu.RLock()
	sb, ok := b.streams[key]
	b.mu.RUnlock()
	if ok {
		return sb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if sb, ok = b.streams[key]; ok {
		return sb
	}
	sb = &streamBuffer{space: make(chan struct{})}
	b.streams[key] = sb
	return sb
}

func (b *MessageBuffer) snapshot() []*streamBuffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*streamBuffer, 0, len(b.streams))
	for _, sb := range b.streams {
		out = append(out, sb)
	}
	return out
}

// FlushExpired flushes every open batch whose first message is older
// than PackTimeout.
func (b *MessageBuffer) FlushExpired() int {
	now := b.clock.Now()
	flushed := 0
	for _, sb := range b.snapshot() {
		sb.mu.Lock()
		if sb.open != nil && now.Sub(sb.open.CreatedAt) >= b.cfg.PackTimeout {
			b.flushLocked(sb, TriggerTimeout)
			flushed++
		}
		sb.mu.Unlock()
	}
	return flushed
}

// FlushAll flushes every open batch regardless of age.
func (b *MessageBuffer) FlushAll() int {
	flushed := 0
	for _, sb := range b.snapshot() {
		sb.mu.Lock()
		if sb.open != nil {
			b.flushLocked(sb, TriggerClose)
			flushed++
		}
		sb.mu.Unlock()
	}
	return flushed
}

// Close stops accepting messages and flushes what is buffered.
// Blocked producers return ErrClosed.
func (b *MessageBuffer) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.closedCh)
	n := b.FlushAll()
	b.logger.Debug("buffer closed", log.Int("flushed", n))
}

// Release returns a terminal batch's bytes to its stream's ceiling.
func (b *MessageBuffer) Release(batch *domain.Batch) {
	b.mu.RLock()
	sb, ok := b.streams[batch.Key()]
	b.mu.RUnlock()
	if !ok {
		return
	}

	sb.mu.Lock()
	sb.outstanding -= batch.Bytes
	if sb.outstanding < 0 {
		sb.outstanding = 0
	}
	close(sb.space)
	sb.space = make(chan struct{})
	sb.mu.Unlock()
}

// Outstanding returns the buffered plus in-flight bytes of a stream.
func (b *MessageBuffer) Outstanding(key domain.StreamKey) int {
	b.mu.RLock()
	sb, ok := b.streams[key]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.outstanding
}

// Run scans for expired batches every interval until ctx ends.
func (b *MessageBuffer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.FlushExpired()
		}
	}
}
