package dataproxy_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
	"github.com/songhahaha66/inlong/pkg/dataproxy"
)

// memTransport records packets in memory. When hold is set, Send blocks
// until its context ends.
type memTransport struct {
	hold bool

	mu      sync.Mutex
	packets []*domain.Packet
	addrs   []string
}

func (t *memTransport) Dial(ctx context.Context, addr string) (ports.Conn, error) {
	return &memConn{t: t, addr: addr}, nil
}

func (t *memTransport) Packets() []*domain.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*domain.Packet(nil), t.packets...)
}

type memConn struct {
	t    *memTransport
	addr string
}

func (c *memConn) Send(ctx context.Context, p *domain.Packet) error {
	if c.t.hold {
		<-ctx.Done()
		return ctx.Err()
	}
	c.t.mu.Lock()
	c.t.packets = append(c.t.packets, p)
	c.t.addrs = append(c.t.addrs, c.addr)
	c.t.mu.Unlock()
	return nil
}

func (c *memConn) Probe(ctx context.Context) error { return nil }
func (c *memConn) Close() error                    { return nil }

// results collects callback outcomes.
type results struct {
	mu   sync.Mutex
	all  []dataproxy.Result
	done chan struct{}
	want int
}

func newResults(want int) *results {
	return &results{want: want, done: make(chan struct{})}
}

func (r *results) Callback() dataproxy.Callback {
	return dataproxy.CallbackFunc(func(res dataproxy.Result) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.all = append(r.all, res)
		if len(r.all) == r.want {
			close(r.done)
		}
	})
}

func (r *results) Wait(t *testing.T) []dataproxy.Result {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		r.mu.Lock()
		n := len(r.all)
		r.mu.Unlock()
		t.Fatalf("got %d of %d callbacks", n, r.want)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dataproxy.Result(nil), r.all...)
}

func testConfig() dataproxy.Config {
	cfg := dataproxy.DefaultConfig()
	cfg.ProxyAddrs = []string{"10.0.0.1:46801", "10.0.0.2:46801"}
	cfg.PackTimeout = 20 * time.Millisecond
	cfg.DispatchInterval = 5 * time.Millisecond
	cfg.RetryBackoffInitial = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, cfg dataproxy.Config, opts ...dataproxy.Option) *dataproxy.Client {
	t.Helper()
	c, err := dataproxy.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(time.Second) })
	return c
}
