package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/pkg/log"
)

func newTestConnManager(t *testing.T, cfg ConnManagerConfig, addrs ...string) (*ConnectionManager, *EndpointPool, *fakeTransport, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	pool := NewEndpointPool(PoolConfig{}, staticResolver(addrs...), nil, clock, log.NewNoopLogger())
	require.NoError(t, pool.Refresh(context.Background()))
	tr := newFakeTransport()
	m := NewConnectionManager(cfg, tr, pool, nil, clock, log.NewNoopLogger())
	t.Cleanup(m.Close)
	return m, pool, tr, clock
}

func TestConnectionManager_ReusesIdleConnection(t *testing.T) {
	m, _, tr, _ := newTestConnManager(t, ConnManagerConfig{MaxConnsPerEndpoint: 2}, "a:1")
	ctx := context.Background()

	c1, err := m.Acquire(ctx, "a:1")
	require.NoError(t, err)
	m.Release(c1)

	c2, err := m.Acquire(ctx, "a:1")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, 1, tr.Dials("a:1"))
	m.Release(c2)
}

func TestConnectionManager_LimitPerEndpoint(t *testing.T) {
	m, _, tr, _ := newTestConnManager(t, ConnManagerConfig{MaxConnsPerEndpoint: 2}, "a:1")
	ctx := context.Background()

	c1, err := m.Acquire(ctx, "a:1")
	require.NoError(t, err)
	c2, err := m.Acquire(ctx, "a:1")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(short, "a:1")
	var ce *domain.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrEndpointBusy)

	got := make(chan *Connection, 1)
	go func() {
		c, err := m.Acquire(ctx, "a:1")
		if err == nil {
			got <- c
		}
	}()
	m.Release(c1)

	select {
	case c := <-got:
		assert.Same(t, c1, c)
		m.Release(c)
	case <-time.After(time.Second):
		t.Fatal("waiting Acquire not served after Release")
	}
	m.Release(c2)
	assert.LessOrEqual(t, int(tr.open.Load()), 2)
}

func TestConnectionManager_ConcurrentLimit(t *testing.T) {
	m, _, tr, _ := newTestConnManager(t, ConnManagerConfig{MaxConnsPerEndpoint: 3}, "a:1")
	ctx := context.Background()

	var mu sync.Mutex
	maxOpen := int32(0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := m.Acquire(ctx, "a:1")
			if err != nil {
				return
			}
			mu.Lock()
			if n := tr.open.Load(); n > maxOpen {
				maxOpen = n
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			m.Release(c)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxOpen, int32(3))
}

func TestConnectionManager_DialFailure(t *testing.T) {
	m, _, tr, _ := newTestConnManager(t, ConnManagerConfig{}, "a:1")
	tr.SetDialErr("a:1", errors.New("connection refused"))

	_, err := m.Acquire(context.Background(), "a:1")
	var ce *domain.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "a:1", ce.Addr)

	// The slot was returned.
	tr.SetDialErr("a:1", nil)
	c, err := m.Acquire(context.Background(), "a:1")
	require.NoError(t, err)
	m.Discard(c)
}

func TestConnectionManager_UnhealthyPolicies(t *testing.T) {
	t.Run("fail-fast", func(t *testing.T) {
		m, pool, tr, _ := newTestConnManager(t, ConnManagerConfig{UnhealthyPolicy: UnhealthyFailFast}, "a:1")
		pool.MarkUnhealthy("a:1", nil)

		_, err := m.Acquire(context.Background(), "a:1")
		assert.ErrorIs(t, err, domain.ErrEndpointUnhealthy)
		assert.Equal(t, 0, tr.Dials("a:1"))
	})

	t.Run("probe success", func(t *testing.T) {
		m, pool, _, _ := newTestConnManager(t, ConnManagerConfig{UnhealthyPolicy: UnhealthyProbe}, "a:1")
		pool.MarkUnhealthy("a:1", nil)

		c, err := m.Acquire(context.Background(), "a:1")
		require.NoError(t, err)
		assert.Equal(t, domain.HealthHealthy, pool.Health("a:1"))
		m.Release(c)
	})

	t.Run("probe failure", func(t *testing.T) {
		m, pool, tr, _ := newTestConnManager(t, ConnManagerConfig{UnhealthyPolicy: UnhealthyProbe}, "a:1")
		pool.MarkUnhealthy("a:1", nil)
		tr.SetProbeErr("a:1", errors.New("no heartbeat"))

		_, err := m.Acquire(context.Background(), "a:1")
		assert.ErrorIs(t, err, domain.ErrEndpointUnhealthy)
		assert.Equal(t, int32(0), tr.open.Load())
	})
}

func TestConnectionManager_SweepReapsIdle(t *testing.T) {
	m, _, tr, clock := newTestConnManager(t, ConnManagerConfig{MaxConnsPerEndpoint: 2, IdleTimeout: time.Minute}, "a:1")
	ctx := context.Background()

	c1, err := m.Acquire(ctx, "a:1")
	require.NoError(t, err)
	c2, err := m.Acquire(ctx, "a:1")
	require.NoError(t, err)
	m.Release(c1)
	clock.Advance(45 * time.Second)
	m.Release(c2)
	clock.Advance(30 * time.Second)

	m.Sweep(ctx)

	assert.Equal(t, 1, m.IdleCount("a:1"))
	assert.Equal(t, int32(1), tr.open.Load())
}

func TestConnectionManager_SweepProbeFailureMarksUnhealthy(t *testing.T) {
	m, pool, tr, _ := newTestConnManager(t, ConnManagerConfig{}, "a:1")
	ctx := context.Background()

	c, err := m.Acquire(ctx, "a:1")
	require.NoError(t, err)
	m.Release(c)

	tr.SetProbeErr("a:1", errors.New("timeout"))
	m.Sweep(ctx)

	assert.Equal(t, domain.HealthUnhealthy, pool.Health("a:1"))
	assert.Equal(t, 0, m.IdleCount("a:1"))
	assert.Equal(t, int32(0), tr.open.Load())
}

func TestConnectionManager_SweepRecoversUnhealthy(t *testing.T) {
	m, pool, tr, _ := newTestConnManager(t, ConnManagerConfig{}, "a:1")
	pool.MarkUnhealthy("a:1", nil)

	m.Sweep(context.Background())

	assert.Equal(t, domain.HealthHealthy, pool.Health("a:1"))
	assert.Equal(t, 1, tr.Dials("a:1"))
	assert.Equal(t, 1, m.IdleCount("a:1"))
}

func TestConnectionManager_Retire(t *testing.T) {
	m, _, tr, _ := newTestConnManager(t, ConnManagerConfig{MaxConnsPerEndpoint: 2}, "a:1")
	ctx := context.Background()

	idle, err := m.Acquire(ctx, "a:1")
	require.NoError(t, err)
	busy, err := m.Acquire(ctx, "a:1")
	require.NoError(t, err)
	m.Release(idle)

	m.Retire("a:1")
	assert.Equal(t, int32(1), tr.open.Load())

	m.Release(busy)
	assert.Equal(t, int32(0), tr.open.Load())
}

func TestConnectionManager_Close(t *testing.T) {
	m, _, tr, _ := newTestConnManager(t, ConnManagerConfig{}, "a:1")
	ctx := context.Background()

	c, err := m.Acquire(ctx, "a:1")
	require.NoError(t, err)
	m.Release(c)

	m.Close()
	assert.Equal(t, int32(0), tr.open.Load())

	_, err = m.Acquire(ctx, "a:1")
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestParseUnhealthyPolicy(t *testing.T) {
	p, err := ParseUnhealthyPolicy("")
	require.NoError(t, err)
	assert.Equal(t, UnhealthyProbe, p)

	p, err = ParseUnhealthyPolicy("fail-fast")
	require.NoError(t, err)
	assert.Equal(t, UnhealthyFailFast, p)

	_, err = ParseUnhealthyPolicy("retry")
	assert.Error(t, err)
}
