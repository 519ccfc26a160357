package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type collectingSubmitter struct {
	mu      sync.Mutex
	batches []*domain.Batch
}

func (s *collectingSubmitter) Submit(b *domain.Batch) {
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
}

func (s *collectingSubmitter) Batches() []*domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.Batch(nil), s.batches...)
}

// fakeTransport dials fakeConns whose behaviour is scripted per address.
type fakeTransport struct {
	mu        sync.Mutex
	dials     map[string]int
	dialErr   map[string]error
	sendFunc  func(addr string, p *domain.Packet) error
	probeErr  map[string]error
	sendDelay time.Duration

	open  atomic.Int32
	sends atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		dials:    make(map[string]int),
		dialErr:  make(map[string]error),
		probeErr: make(map[string]error),
	}
}

func (t *fakeTransport) Dial(ctx context.Context, addr string) (ports.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials[addr]++
	if err := t.dialErr[addr]; err != nil {
		return nil, err
	}
	t.open.Add(1)
	return &fakeConn{t: t, addr: addr}, nil
}

func (t *fakeTransport) Dials(addr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials[addr]
}

func (t *fakeTransport) SetProbeErr(addr string, err error) {
	t.mu.Lock()
	t.probeErr[addr] = err
	t.mu.Unlock()
}

func (t *fakeTransport) SetDialErr(addr string, err error) {
	t.mu.Lock()
	t.dialErr[addr] = err
	t.mu.Unlock()
}

type fakeConn struct {
	t      *fakeTransport
	addr   string
	closed atomic.Bool
}

var errConnClosed = errors.New("fake: connection closed")

func (c *fakeConn) Send(ctx context.Context, p *domain.Packet) error {
	if c.closed.Load() {
		return errConnClosed
	}
	c.t.sends.Add(1)
	if c.t.sendDelay > 0 {
		select {
		case <-time.After(c.t.sendDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.t.sendFunc != nil {
		return c.t.sendFunc(c.addr, p)
	}
	return nil
}

func (c *fakeConn) Probe(ctx context.Context) error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.t.probeErr[c.addr]
}

func (c *fakeConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.t.open.Add(-1)
	}
	return nil
}

func staticResolver(addrs ...string) ports.Resolver {
	return ports.ResolverFunc(func(context.Context, []string) ([]string, error) {
		return addrs, nil
	})
}

// lineEncoder joins payloads with newlines.
type lineEncoder struct {
	err error
}

func (e lineEncoder) Encode(b *domain.Batch) ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	var out []byte
	for i, p := range b.Payloads() {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, p...)
	}
	return out, nil
}

func (lineEncoder) ContentType() string { return "text" }

// resultSink collects callback results.
type resultSink struct {
	mu      sync.Mutex
	results []domain.Result
}

func (s *resultSink) OnComplete(r domain.Result) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
}

func (s *resultSink) Results() []domain.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Result(nil), s.results...)
}
