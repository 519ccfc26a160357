package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
	"github.com/songhahaha66/inlong/pkg/log"
)

type dispatcherHarness struct {
	d        *Dispatcher
	pool     *EndpointPool
	conns    *ConnectionManager
	tr       *fakeTransport
	notifier *Notifier
	sink     *resultSink
	cancel   context.CancelFunc
	done     chan struct{}
}

func newDispatcherHarness(t *testing.T, cfg DispatcherConfig, enc ports.BatchEncoder, comp CompressorConfig, addrs ...string) *dispatcherHarness {
	t.Helper()
	logger := log.NewNoopLogger()
	clock := newFakeClock()

	pool := NewEndpointPool(PoolConfig{}, staticResolver(addrs...), nil, clock, logger)
	if len(addrs) > 0 {
		require.NoError(t, pool.Refresh(context.Background()))
	}
	tr := newFakeTransport()
	conns := NewConnectionManager(ConnManagerConfig{MaxConnsPerEndpoint: 4}, tr, pool, nil, clock, logger)
	compressor, err := NewCompressor(comp, logger)
	require.NoError(t, err)
	notifier := NewNotifier(2, logger)

	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = time.Millisecond
		cfg.BackoffMax = 2 * time.Millisecond
	}
	d := NewDispatcher(cfg, pool, conns, enc, compressor, notifier, nil, clock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	h := &dispatcherHarness{d: d, pool: pool, conns: conns, tr: tr, notifier: notifier, sink: &resultSink{}, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
		conns.Close()
		notifier.Stop()
	})
	return h
}

func (h *dispatcherHarness) batch(stream string, seq uint64, payloads ...string) *domain.Batch {
	b := domain.NewBatch(fmt.Sprintf("%s-%d", stream, seq), domain.StreamKey{GroupID: "g", StreamID: stream}, seq, time.Now())
	for _, p := range payloads {
		b.Add(domain.NewMessage("g", stream, []byte(p), h.sink, time.Now()))
	}
	return b
}

func (h *dispatcherHarness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.d.Wait(ctx))
	require.NoError(t, h.notifier.Drain(ctx))
}

func TestDispatcher_DeliversEveryMessageOnce(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{MaxInflight: 4}, lineEncoder{}, CompressorConfig{}, "a:1", "b:1")

	for i := 0; i < 50; i++ {
		h.d.Submit(h.batch("s", uint64(i+1), "m1", "m2"))
	}
	h.settle(t)

	results := h.sink.Results()
	require.Len(t, results, 100)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, 1, r.Attempts)
		assert.NotEmpty(t, r.Endpoint)
	}
	assert.Equal(t, 0, h.d.Pending())
}

func TestDispatcher_RetryBound(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{MaxAttempts: 4}, lineEncoder{}, CompressorConfig{}, "a:1")
	h.tr.sendFunc = func(string, *domain.Packet) error { return errors.New("connection reset") }

	h.d.Submit(h.batch("s", 1, "m"))
	h.settle(t)

	results := h.sink.Results()
	require.Len(t, results, 1)
	var de *domain.DeliveryError
	require.ErrorAs(t, results[0].Err, &de)
	assert.Equal(t, 4, de.Attempts)
	assert.Equal(t, 4, results[0].Attempts)
	assert.Equal(t, int32(4), h.tr.sends.Load())
}

func TestDispatcher_RetryReselectsEndpoint(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{MaxAttempts: 3}, lineEncoder{}, CompressorConfig{}, "a:1", "b:1")

	var mu sync.Mutex
	var tried []string
	h.tr.sendFunc = func(addr string, _ *domain.Packet) error {
		mu.Lock()
		defer mu.Unlock()
		tried = append(tried, addr)
		if addr == "a:1" {
			return errors.New("broken pipe")
		}
		return nil
	}

	h.d.Submit(h.batch("s", 1, "m"))
	h.settle(t)

	results := h.sink.Results()
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "b:1", results[0].Endpoint)
	assert.Equal(t, []string{"a:1", "b:1"}, tried)
	assert.Equal(t, domain.HealthUnhealthy, h.pool.Health("a:1"))
	assert.Equal(t, domain.HealthHealthy, h.pool.Health("b:1"))
}

func TestDispatcher_SaturatedEndpointDoesNotStallOthers(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{MaxAttempts: 20, MaxInflight: 8, SendTimeout: 50 * time.Millisecond},
		lineEncoder{}, CompressorConfig{}, "slow:1", "fast:1")

	stuck := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(stuck) }) }
	t.Cleanup(release)
	h.tr.sendFunc = func(addr string, _ *domain.Packet) error {
		if addr == "slow:1" {
			<-stuck
		}
		return nil
	}

	// The first sends to slow:1 occupy all of its connection slots.
	const total = 20
	for i := 0; i < total; i++ {
		h.d.Submit(h.batch("s", uint64(i+1), fmt.Sprintf("m%d", i)))
	}

	require.Eventually(t, func() bool {
		n := 0
		for _, r := range h.sink.Results() {
			if r.Err == nil && r.Endpoint == "fast:1" {
				n++
			}
		}
		return n >= total-4
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.HealthHealthy, h.pool.Health("fast:1"))
	assert.NotEqual(t, domain.HealthUnhealthy, h.pool.Health("slow:1"))

	release()
	h.settle(t)
	results := h.sink.Results()
	require.Len(t, results, total)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestDispatcher_RejectionKeepsConnection(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{MaxAttempts: 2}, lineEncoder{}, CompressorConfig{}, "a:1")
	h.tr.sendFunc = func(string, *domain.Packet) error { return &domain.RejectError{Code: 1, Message: "busy"} }

	h.d.Submit(h.batch("s", 1, "m"))
	h.settle(t)

	results := h.sink.Results()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, domain.ErrRejected)
	assert.Equal(t, 1, h.tr.Dials("a:1"))
	assert.Equal(t, int32(1), h.tr.open.Load())
}

func TestDispatcher_NoEndpoints(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{MaxAttempts: 2}, lineEncoder{}, CompressorConfig{})

	h.d.Submit(h.batch("s", 1, "m"))
	h.settle(t)

	results := h.sink.Results()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, domain.ErrNoEndpoints)
}

func TestDispatcher_EncodeErrorIsTerminal(t *testing.T) {
	encErr := errors.New("unsupported payload")
	h := newDispatcherHarness(t, DispatcherConfig{MaxAttempts: 3}, lineEncoder{err: encErr}, CompressorConfig{}, "a:1")

	h.d.Submit(h.batch("s", 1, "m"))
	h.settle(t)

	results := h.sink.Results()
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, encErr)
	assert.Equal(t, int32(0), h.tr.sends.Load())
}

func TestDispatcher_CompressionThreshold(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{}, lineEncoder{}, CompressorConfig{Enabled: true, MinSize: 512, Codec: CodecSnappy}, "a:1")

	var mu sync.Mutex
	codecs := map[string]string{}
	h.tr.sendFunc = func(_ string, p *domain.Packet) error {
		mu.Lock()
		codecs[p.BatchID] = p.Codec
		mu.Unlock()
		return nil
	}

	small := h.batch("s", 1, "tiny")
	large := h.batch("s", 2, string(bytes.Repeat([]byte("z"), 2048)))
	h.d.Submit(small)
	h.d.Submit(large)
	h.settle(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.CodecNone, codecs[small.ID])
	assert.Equal(t, CodecSnappy, codecs[large.ID])
}

func TestDispatcher_AbortFailsPending(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{MaxInflight: 1}, lineEncoder{}, CompressorConfig{}, "a:1")
	h.tr.sendDelay = time.Minute

	for i := 0; i < 3; i++ {
		h.d.Submit(h.batch("s", uint64(i+1), "m"))
	}
	require.Eventually(t, func() bool { return h.tr.sends.Load() == 1 }, time.Second, 5*time.Millisecond)

	failed := h.d.Abort(domain.ErrShutdownTimeout)
	assert.Equal(t, 3, failed)

	h.settle(t)
	results := h.sink.Results()
	require.Len(t, results, 3)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, domain.ErrShutdownTimeout)
	}

	h.d.Submit(h.batch("s", 9, "late"))
	require.NoError(t, h.notifier.Drain(context.Background()))
	assert.Len(t, h.sink.Results(), 4)
}

func TestDispatcher_SubmitAfterCloseInbound(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{}, lineEncoder{}, CompressorConfig{}, "a:1")

	h.d.Submit(h.batch("s", 1, "before"))
	h.d.CloseInbound()
	h.d.Submit(h.batch("s", 2, "after"))
	h.settle(t)

	var delivered, closed int
	for _, r := range h.sink.Results() {
		switch {
		case r.Err == nil:
			delivered++
		case errors.Is(r.Err, domain.ErrClosed):
			closed++
		}
	}
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, closed)

	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after inbound closed")
	}
}

func TestDispatcher_OnCompleteHook(t *testing.T) {
	h := newDispatcherHarness(t, DispatcherConfig{}, lineEncoder{}, CompressorConfig{}, "a:1")

	var mu sync.Mutex
	var outcomes []BatchOutcome
	h.d.OnComplete = func(o BatchOutcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	h.d.Submit(h.batch("s", 1, "m"))
	h.settle(t)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, "a:1", outcomes[0].Endpoint)
	assert.Equal(t, 1, outcomes[0].Attempts)
}
