package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
	"github.com/songhahaha66/inlong/pkg/log"
)

// UnhealthyPolicy decides how Acquire treats an unhealthy endpoint that
// has no idle connection.
type UnhealthyPolicy string

const (
	// UnhealthyProbe dials and probes before handing out the connection.
	UnhealthyProbe UnhealthyPolicy = "probe"
	// UnhealthyFailFast returns a ConnectError without dialing.
	UnhealthyFailFast UnhealthyPolicy = "fail-fast"
)

// ParseUnhealthyPolicy validates a policy name. Empty means probe.
func ParseUnhealthyPolicy(s string) (UnhealthyPolicy, error) {
	switch p := UnhealthyPolicy(s); p {
	case "":
		return UnhealthyProbe, nil
	case UnhealthyProbe, UnhealthyFailFast:
		return p, nil
	}
	return "", fmt.Errorf("unknown unhealthy policy %q", s)
}

// ConnManagerConfig configures connection pooling.
type ConnManagerConfig struct {
	MaxConnsPerEndpoint int
	IdleTimeout         time.Duration
	DetectionInterval   time.Duration
	DialTimeout         time.Duration
	ProbeTimeout        time.Duration
	UnhealthyPolicy     UnhealthyPolicy
}

// HealthRecorder is the part of the endpoint pool the connection
// manager reports to.
type HealthRecorder interface {
	Health(addr string) domain.HealthState
	MarkHealthy(addr string)
	MarkUnhealthy(addr string, cause error)
	Endpoints() []domain.Endpoint
}

// Connection is a pooled transport handle. It is held by one sender
// between Acquire and Release or Discard.
type Connection struct {
	ports.Conn

	addr     string
	owner    *endpointConns
	created  time.Time
	lastUsed time.Time
}

// Addr returns the endpoint address the connection is bound to.
func (c *Connection) Addr() string { return c.addr }

type endpointConns struct {
	addr    string
	slots   *semaphore.Weighted
	idle    []*Connection // most recently used last
	retired bool
}

// ConnectionManager pools connections per endpoint. The number of open
// connections to one endpoint never exceeds MaxConnsPerEndpoint.
type ConnectionManager struct {
	cfg       ConnManagerConfig
	transport ports.Transport
	health    HealthRecorder
	metrics   ports.Metrics
	clock     Clock
	logger    log.Logger

	mu        sync.Mutex
	endpoints map[string]*endpointConns
	closed    bool
}

// NewConnectionManager creates a manager dialing through transport.
func NewConnectionManager(cfg ConnManagerConfig, transport ports.Transport, health HealthRecorder, metrics ports.Metrics, clock Clock, logger log.Logger) *ConnectionManager {
	if cfg.MaxConnsPerEndpoint <= 0 {
		cfg.MaxConnsPerEndpoint = 1
	}
	if cfg.UnhealthyPolicy == "" {
		cfg.UnhealthyPolicy = UnhealthyProbe
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ConnectionManager{
		cfg:       cfg,
		transport: transport,
		health:    health,
		metrics:   orNop(metrics),
		clock:     clock,
		logger:    logger.With(log.Component("connections")),
		endpoints: make(map[string]*endpointConns),
	}
}

func (m *ConnectionManager) endpoint(addr string) (*endpointConns, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrClosed
	}
	ec, ok := m.endpoints[addr]
	if !ok {
		ec = &endpointConns{
			addr:  addr,
			slots: semaphore.NewWeighted(int64(m.cfg.MaxConnsPerEndpoint)),
		}
		m.endpoints[addr] = ec
	}
	return ec, nil
}

// Acquire returns a connection to addr, reusing the most recently used
// idle one when available. It blocks while the endpoint is at its
// connection limit; a wait cut short by ctx's deadline reports
// ErrEndpointBusy.
func (m *ConnectionManager) Acquire(ctx context.Context, addr string) (*Connection, error) {
	ec, err := m.endpoint(addr)
	if err != nil {
		return nil, &domain.ConnectError{Addr: addr, Err: err}
	}
	if err := ec.slots.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrEndpointBusy, err)
		}
		return nil, &domain.ConnectError{Addr: addr, Err: err}
	}

	m.mu.Lock()
	if m.closed || ec.retired {
		m.mu.Unlock()
		ec.slots.Release(1)
		return nil, &domain.ConnectError{Addr: addr, Err: domain.ErrClosed}
	}
	if n := len(ec.idle); n > 0 {
		c := ec.idle[n-1]
		ec.idle[n-1] = nil
		ec.idle = ec.idle[:n-1]
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	unhealthy := m.health != nil && m.health.Health(addr) == domain.HealthUnhealthy
	if unhealthy && m.cfg.UnhealthyPolicy == UnhealthyFailFast {
		ec.slots.Release(1)
		return nil, &domain.ConnectError{Addr: addr, Err: domain.ErrEndpointUnhealthy}
	}

	c, err := m.dial(ctx, ec)
	if err != nil {
		ec.slots.Release(1)
		return nil, &domain.ConnectError{Addr: addr, Err: err}
	}

	if unhealthy {
		if state := m.Probe(ctx, c); state != domain.HealthHealthy {
			m.closeConn(c)
			ec.slots.Release(1)
			return nil, &domain.ConnectError{Addr: addr, Err: domain.ErrEndpointUnhealthy}
		}
	}
	return c, nil
}

func (m *ConnectionManager) dial(ctx context.Context, ec *endpointConns) (*Connection, error) {
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}
	conn, err := m.transport.Dial(ctx, ec.addr)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	m.metrics.ConnectionsOpen(ec.addr, 1)
	m.logger.Debug("connection opened", log.String("endpoint", ec.addr))
	return &Connection{Conn: conn, addr: ec.addr, owner: ec, created: now, lastUsed: now}, nil
}

// Release returns a healthy connection to the idle pool. Connections of
// retired endpoints or of a closed manager are closed instead.
func (m *ConnectionManager) Release(c *Connection) {
	c.lastUsed = m.clock.Now()
	m.putIdle(c)
}

// putIdle returns c to the idle list without touching its idle clock.
func (m *ConnectionManager) putIdle(c *Connection) {
	m.mu.Lock()
	keep := !m.closed && !c.owner.retired
	if keep {
		c.owner.idle = append(c.owner.idle, c)
	}
	m.mu.Unlock()

	if !keep {
		m.closeConn(c)
	}
	c.owner.slots.Release(1)
}

// Discard closes a connection that failed mid-use.
func (m *ConnectionManager) Discard(c *Connection) {
	m.closeConn(c)
	c.owner.slots.Release(1)
}

func (m *ConnectionManager) closeConn(c *Connection) {
	if err := c.Close(); err != nil {
		m.logger.Debug("connection close failed",
			log.String("endpoint", c.addr),
			log.Err(err),
		)
	}
	m.metrics.ConnectionsOpen(c.addr, -1)
}

// Probe runs a liveness check on c and records the outcome.
func (m *ConnectionManager) Probe(ctx context.Context, c *Connection) domain.HealthState {
	if m.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		defer cancel()
	}
	if err := c.Probe(ctx); err != nil {
		if m.health != nil {
			m.health.MarkUnhealthy(c.addr, err)
		}
		return domain.HealthUnhealthy
	}
	if m.health != nil {
		m.health.MarkHealthy(c.addr)
	}
	return domain.HealthHealthy
}

// Retire closes idle connections to addr now; in-use ones are closed
// when released.
func (m *ConnectionManager) Retire(addr string) {
	m.mu.Lock()
	ec, ok := m.endpoints[addr]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.endpoints, addr)
	ec.retired = true
	idle := ec.idle
	ec.idle = nil
	m.mu.Unlock()

	for _, c := range idle {
		m.closeConn(c)
	}
	m.logger.Info("endpoint retired",
		log.String("endpoint", addr),
		log.Int("idle_closed", len(idle)),
	)
}

// IdleCount returns the number of idle connections to addr.
func (m *ConnectionManager) IdleCount(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ec, ok := m.endpoints[addr]; ok {
		return len(ec.idle)
	}
	return 0
}

// Sweep closes connections idle past IdleTimeout, probes the rest, and
// tries to recover unhealthy endpoints that have no idle connection.
func (m *ConnectionManager) Sweep(ctx context.Context) {
	now := m.clock.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var expired []*Connection
	type probeTarget struct {
		ec    *endpointConns
		conns []*Connection
	}
	var targets []probeTarget
	withIdle := make(map[string]bool, len(m.endpoints))
	for addr, ec := range m.endpoints {
		kept := ec.idle[:0]
		for _, c := range ec.idle {
			if m.cfg.IdleTimeout > 0 && now.Sub(c.lastUsed) >= m.cfg.IdleTimeout {
				expired = append(expired, c)
				continue
			}
			kept = append(kept, c)
		}
		for i := len(kept); i < len(ec.idle); i++ {
			ec.idle[i] = nil
		}
		ec.idle = kept
		if len(kept) == 0 {
			continue
		}
		withIdle[addr] = true

		// Probed connections leave the idle list and hold a slot so the
		// limit still holds while they are checked.
		var probing []*Connection
		for len(ec.idle) > 0 && ec.slots.TryAcquire(1) {
			n := len(ec.idle)
			probing = append(probing, ec.idle[n-1])
			ec.idle[n-1] = nil
			ec.idle = ec.idle[:n-1]
		}
		if len(probing) > 0 {
			targets = append(targets, probeTarget{ec: ec, conns: probing})
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		m.logger.Debug("closing idle connection", log.String("endpoint", c.addr))
		m.closeConn(c)
	}

	for _, t := range targets {
		for _, c := range t.conns {
			if m.Probe(ctx, c) == domain.HealthHealthy {
				m.putIdle(c)
				continue
			}
			m.logger.Warn("probe failed, closing connection", log.String("endpoint", c.addr))
			m.Discard(c)
		}
	}

	if m.health == nil {
		return
	}
	for _, ep := range m.health.Endpoints() {
		if ep.Health != domain.HealthUnhealthy || withIdle[ep.Address] {
			continue
		}
		m.recover(ctx, ep.Address)
	}
}

// recover dials and probes an unhealthy endpoint, keeping the connection
// idle on success.
func (m *ConnectionManager) recover(ctx context.Context, addr string) {
	ec, err := m.endpoint(addr)
	if err != nil || !ec.slots.TryAcquire(1) {
		return
	}
	c, err := m.dial(ctx, ec)
	if err != nil {
		ec.slots.Release(1)
		m.health.MarkUnhealthy(addr, err)
		return
	}
	if m.Probe(ctx, c) == domain.HealthHealthy {
		m.logger.Info("endpoint recovered", log.String("endpoint", addr))
		m.Release(c)
		return
	}
	m.Discard(c)
}

// Run sweeps every DetectionInterval until ctx ends.
func (m *ConnectionManager) Run(ctx context.Context) {
	interval := m.cfg.DetectionInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Close closes every idle connection. Connections still in use are
// closed when released.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	var idle []*Connection
	for _, ec := range m.endpoints {
		idle = append(idle, ec.idle...)
		ec.idle = nil
	}
	m.endpoints = make(map[string]*endpointConns)
	m.mu.Unlock()

	for _, c := range idle {
		m.closeConn(c)
	}
}
