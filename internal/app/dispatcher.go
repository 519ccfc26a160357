package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
	"github.com/songhahaha66/inlong/pkg/log"
)

// Dispatcher defaults.
const (
	DefaultMaxAttempts = 3
	DefaultMaxInflight = 64
	DefaultSendTimeout = 10 * time.Second
)

// DispatcherConfig configures delivery.
type DispatcherConfig struct {
	// MaxAttempts bounds send attempts per batch, including the first.
	MaxAttempts int
	// MaxInflight bounds concurrent batch sends.
	MaxInflight    int
	SendTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// BatchOutcome describes how a batch ended.
type BatchOutcome struct {
	Batch    *domain.Batch
	Endpoint string
	Attempts int
	Codec    string
	Err      error
}

// Dispatcher delivers flushed batches. Batches are started in submission
// order; up to MaxInflight are in flight at once. Every submitted batch
// reaches exactly one terminal outcome.
type Dispatcher struct {
	cfg        DispatcherConfig
	pool       *EndpointPool
	conns      *ConnectionManager
	encoder    ports.BatchEncoder
	compressor *Compressor
	notifier   *Notifier
	metrics    ports.Metrics
	clock      Clock
	logger     log.Logger

	// OnComplete runs once per batch after its callbacks are queued.
	OnComplete func(outcome BatchOutcome)

	slots *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []*domain.Batch
	inflight map[*domain.Batch]struct{}
	pending  int
	idle     chan struct{}
	wake     chan struct{}
	closed   bool
	abortErr error

	workers sync.WaitGroup
}

// NewDispatcher wires a dispatcher to its collaborators.
func NewDispatcher(
	cfg DispatcherConfig,
	pool *EndpointPool,
	conns *ConnectionManager,
	encoder ports.BatchEncoder,
	compressor *Compressor,
	notifier *Notifier,
	metrics ports.Metrics,
	clock Clock,
	logger log.Logger,
) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultMaxInflight
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if clock == nil {
		clock = SystemClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Dispatcher{
		cfg:        cfg,
		pool:       pool,
		conns:      conns,
		encoder:    encoder,
		compressor: compressor,
		notifier:   notifier,
		metrics:    orNop(metrics),
		clock:      clock,
		logger:     logger.With(log.Component("dispatcher")),
		slots:      semaphore.NewWeighted(int64(cfg.MaxInflight)),
		ctx:        ctx,
		cancel:     cancel,
		inflight:   make(map[*domain.Batch]struct{}),
		idle:       idle,
		wake:       make(chan struct{}, 1),
	}
}

// Submit queues a batch for delivery. It never blocks. A batch submitted
// after CloseInbound or Abort fails on another goroutine, since the caller
// may hold a lock that OnComplete needs.
func (d *Dispatcher) Submit(b *domain.Batch) {
	d.mu.Lock()
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
	if d.closed {
		err := d.abortErr
		d.mu.Unlock()
		if err == nil {
			err = domain.ErrClosed
		}
		go d.finish(b, BatchOutcome{Batch: b, Err: err})
		return
	}
	d.queue = append(d.queue, b)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of batches queued or in flight.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Run starts batches until the inbound queue is closed and empty, or
// until ctx ends. It returns after every started batch has finished.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.workers.Wait()

	for {
		b, ok := d.next(ctx)
		if !ok {
			return
		}
		if err := d.slots.Acquire(ctx, 1); err != nil {
			d.finish(b, BatchOutcome{Batch: b, Err: err})
			continue
		}
		d.metrics.InflightBatches(d.inflightCount())
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			defer d.slots.Release(1)
			d.deliver(b)
		}()
	}
}

func (d *Dispatcher) next(ctx context.Context) (*domain.Batch, bool) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			b := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.inflight[b] = struct{}{}
			d.mu.Unlock()
			return b, true
		}
		if d.closed {
			d.mu.Unlock()
			return nil, false
		}
		d.mu.Unlock()

		select {
		case <-d.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (d *Dispatcher) inflightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// CloseInbound stops accepting batches. Queued batches are still sent.
func (d *Dispatcher) CloseInbound() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until every submitted batch is terminal or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	default:
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort cancels in-flight sends and fails every queued and in-flight
// batch with err. It returns the number of batches failed.
func (d *Dispatcher) Abort(err error) int {
	d.mu.Lock()
	d.closed = true
	if d.abortErr == nil {
		d.abortErr = err
	}
	queued := d.queue
	d.queue = nil
	victims := make([]*domain.Batch, 0, len(queued)+len(d.inflight))
	victims = append(victims, queued...)
	for b := range d.inflight {
		victims = append(victims, b)
	}
	d.mu.Unlock()

	d.cancel()
	select {
	case d.wake <- struct{}{}:
	default:
	}

	failed := 0
	for _, b := range victims {
		if d.complete(BatchOutcome{Batch: b, Err: err}) {
			failed++
		}
	}
	// Queued batches never reach a worker, so settle their accounting here.
	for range queued {
		d.settle(nil)
	}
	if failed > 0 {
		d.logger.Warn("aborted pending batches", log.Int("batches", failed), log.Err(err))
	}
	return failed
}

func (d *Dispatcher) deliver(b *domain.Batch) {
	packet, err := d.pack(b)
	if err != nil {
		d.logger.Error("batch encoding failed",
			log.String("batch_id", b.ID),
			log.String("stream", b.Key().String()),
			log.Err(err),
		)
		d.finish(b, BatchOutcome{Batch: b, Err: err})
		return
	}

	bo := newBackoff(d.cfg.BackoffInitial, d.cfg.BackoffMax)
	var lastErr error
	var lastAddr string
	attempts := 0
	for attempts < d.cfg.MaxAttempts {
		if b.Done() || d.ctx.Err() != nil {
			break
		}
		attempts++
		addr, err := d.attempt(packet)
		lastAddr = addr
		if err == nil {
			d.finish(b, BatchOutcome{Batch: b, Endpoint: addr, Attempts: attempts, Codec: packet.Codec})
			return
		}
		lastErr = err
		d.logger.Warn("send attempt failed",
			log.String("batch_id", b.ID),
			log.String("stream", b.Key().String()),
			log.String("endpoint", addr),
			log.Int("attempt", attempts),
			log.Int("max_attempts", d.cfg.MaxAttempts),
			log.Err(err),
		)
		if attempts < d.cfg.MaxAttempts {
			if sleepCtx(d.ctx, bo.Next()) != nil {
				break
			}
		}
	}

	if lastErr == nil {
		lastErr = d.ctx.Err()
	}
	d.finish(b, BatchOutcome{
		Batch:    b,
		Endpoint: lastAddr,
		Attempts: attempts,
		Codec:    packet.Codec,
		Err:      &domain.DeliveryError{Attempts: attempts, Err: lastErr},
	})
}

// pack encodes and compresses a batch.
func (d *Dispatcher) pack(b *domain.Batch) (*domain.Packet, error) {
	raw, err := d.encoder.Encode(b)
	if err != nil {
		return nil, err
	}
	body, codec := d.compressor.MaybeCompress(raw)
	d.metrics.BatchCompressed(codec, len(raw), len(body))
	return &domain.Packet{
		BatchID:     b.ID,
		GroupID:     b.GroupID,
		StreamID:    b.StreamID,
		Count:       b.Len(),
		Codec:       codec,
		ContentType: d.encoder.ContentType(),
		Body:        body,
		RawBytes:    len(raw),
		CreatedAt:   b.CreatedAt,
	}, nil
}

// attempt performs one send on a freshly selected endpoint.
func (d *Dispatcher) attempt(packet *domain.Packet) (string, error) {
	ep, err := d.pool.Select()
	if err != nil {
		return "", err
	}
	addr := ep.Address

	// A saturated endpoint must not hold this worker past SendTimeout.
	actx, acancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
	conn, err := d.conns.Acquire(actx, addr)
	acancel()
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEndpointBusy):
			d.metrics.SendAttempt(addr, ports.OutcomeTimeout, 0)
			return addr, err
		case d.ctx.Err() == nil:
			d.pool.MarkUnhealthy(addr, err)
		}
		d.metrics.SendAttempt(addr, ports.OutcomeError, 0)
		return addr, err
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
	start := time.Now()
	err = conn.Send(ctx, packet)
	latency := time.Since(start)
	cancel()

	switch {
	case err == nil:
		d.conns.Release(conn)
		d.pool.MarkHealthy(addr)
		d.metrics.SendAttempt(addr, ports.OutcomeSuccess, latency)
	case errors.Is(err, domain.ErrRejected):
		d.conns.Release(conn)
		d.pool.MarkUnhealthy(addr, err)
		d.metrics.SendAttempt(addr, ports.OutcomeRejected, latency)
	default:
		d.conns.Discard(conn)
		outcome := ports.OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = ports.OutcomeTimeout
		}
		if d.ctx.Err() == nil {
			d.pool.MarkUnhealthy(addr, err)
		}
		d.metrics.SendAttempt(addr, outcome, latency)
	}
	return addr, err
}

// finish records a worker's outcome and settles accounting.
func (d *Dispatcher) finish(b *domain.Batch, outcome BatchOutcome) {
	d.complete(outcome)
	d.settle(b)
}

func (d *Dispatcher) settle(b *domain.Batch) {
	d.mu.Lock()
	if b != nil {
		delete(d.inflight, b)
	}
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
	n := len(d.inflight)
	d.mu.Unlock()
	d.metrics.InflightBatches(n)
}

// complete reports the outcome to every message of the batch. Only the
// first caller for a batch has any effect.
func (d *Dispatcher) complete(o BatchOutcome) bool {
	b := o.Batch
	if !b.MarkDone() {
		return false
	}

	now := d.clock.Now()
	for _, m := range b.Messages {
		d.notifier.Notify(m.Callback, domain.Result{
			GroupID:    m.GroupID,
			StreamID:   m.StreamID,
			Payload:    m.Payload,
			BatchID:    b.ID,
			Endpoint:   o.Endpoint,
			Attempts:   o.Attempts,
			ReportTime: now,
			Err:        o.Err,
		})
	}
	d.metrics.BatchCompleted(b.GroupID, o.Err == nil, b.Len())
	if o.Err != nil {
		d.logger.Warn("batch failed",
			log.String("batch_id", b.ID),
			log.String("stream", b.Key().String()),
			log.Int("messages", b.Len()),
			log.Int("attempts", o.Attempts),
			log.Err(o.Err),
		)
	}
	if d.OnComplete != nil {
		d.OnComplete(o)
	}
	return true
}
