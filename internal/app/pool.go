package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
	"github.com/songhahaha66/inlong/pkg/log"
)

// PoolConfig configures endpoint discovery.
type PoolConfig struct {
	GroupIDs       []string
	UpdateInterval time.Duration
	ResolveTimeout time.Duration

	// MaxEndpoints truncates the resolved list. Zero keeps all.
	MaxEndpoints int
}

// EndpointPool keeps the known DataProxy endpoints and their health.
//
// The set is replaced on every successful refresh. Endpoints present in
// both the old and new set keep their health. Selection never fails while
// at least one endpoint is known.
type EndpointPool struct {
	cfg      PoolConfig
	resolver ports.Resolver
	metrics  ports.Metrics
	clock    Clock
	logger   log.Logger

	mu        sync.RWMutex
	endpoints []*domain.Endpoint
	index     map[string]*domain.Endpoint

	counter atomic.Uint64

	// OnRetire is called for each address dropped by a refresh.
	OnRetire func(addr string)
	// OnHealthChange is called when an endpoint's health state changes.
	OnHealthChange func(ep domain.Endpoint, previous domain.HealthState)

	cronMu     sync.Mutex
	cron       *cron.Cron
	cronCancel context.CancelFunc
}

// NewEndpointPool creates an empty pool backed by resolver.
func NewEndpointPool(cfg PoolConfig, resolver ports.Resolver, metrics ports.Metrics, clock Clock, logger log.Logger) *EndpointPool {
	if clock == nil {
		clock = SystemClock{}
	}
	return &EndpointPool{
		cfg:      cfg,
		resolver: resolver,
		metrics:  orNop(metrics),
		clock:    clock,
		logger:   logger.With(log.Component("pool")),
		index:    make(map[string]*domain.Endpoint),
	}
}

// Refresh replaces the endpoint set with the resolver's answer. On any
// failure the current set is kept and a *domain.ResolveError is returned.
func (p *EndpointPool) Refresh(ctx context.Context) error {
	if p.cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ResolveTimeout)
		defer cancel()
	}

	addrs, err := p.resolver.Resolve(ctx, p.cfg.GroupIDs)
	if err == nil {
		addrs = dedupe(addrs)
		if len(addrs) == 0 {
			err = errors.New("resolver returned no endpoints")
		}
	}
	if err != nil {
		p.metrics.ResolveCompleted(false)
		p.logger.Warn("endpoint refresh failed, keeping previous set",
			log.Int("known", p.Len()),
			log.Err(err),
		)
		return &domain.ResolveError{Err: err}
	}

	if p.cfg.MaxEndpoints > 0 && len(addrs) > p.cfg.MaxEndpoints {
		addrs = addrs[:p.cfg.MaxEndpoints]
	}

	p.mu.Lock()
	next := make([]*domain.Endpoint, 0, len(addrs))
	index := make(map[string]*domain.Endpoint, len(addrs))
	for _, addr := range addrs {
		ep, ok := p.index[addr]
		if !ok {
			ep = &domain.Endpoint{Address: addr, Health: domain.HealthUnknown}
		}
		next = append(next, ep)
		index[addr] = ep
	}
	var retired []string
	for _, ep := range p.endpoints {
		if _, ok := index[ep.Address]; !ok {
			retired = append(retired, ep.Address)
		}
	}
	p.endpoints = next
	p.index = index
	p.mu.Unlock()

	p.metrics.ResolveCompleted(true)
	p.metrics.EndpointsKnown(len(next))
	p.logger.Info("endpoints refreshed",
		log.Strings("endpoints", addrs),
		log.Int("retired", len(retired)),
	)

	for _, addr := range retired {
		if p.OnRetire != nil {
			p.OnRetire(addr)
		}
	}
	return nil
}

func dedupe(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Select returns the next endpoint round-robin among endpoints not known
// to be unhealthy. When every endpoint is unhealthy it rotates over all
// of them. ErrNoEndpoints is returned only when the set is empty.
func (p *EndpointPool) Select() (domain.Endpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.endpoints) == 0 {
		return domain.Endpoint{}, domain.ErrNoEndpoints
	}

	n := p.counter.Add(1) - 1
	usable := make([]*domain.Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if ep.Usable() {
			usable = append(usable, ep)
		}
	}
	if len(usable) == 0 {
		usable = p.endpoints
	}
	return *usable[n%uint64(len(usable))], nil
}

// MarkHealthy records a successful send or probe.
func (p *EndpointPool) MarkHealthy(addr string) {
	p.update(addr, func(ep *domain.Endpoint, now time.Time) {
		ep.Health = domain.HealthHealthy
		ep.LastProbe = now
		ep.ConsecutiveFailures = 0
	})
}

// MarkUnhealthy records a failed send or probe.
func (p *EndpointPool) MarkUnhealthy(addr string, cause error) {
	p.update(addr, func(ep *domain.Endpoint, now time.Time) {
		ep.Health = domain.HealthUnhealthy
		ep.LastProbe = now
		ep.LastError = now
		ep.ConsecutiveFailures++
	})
	if cause != nil {
		p.logger.Debug("endpoint failure recorded",
			log.String("endpoint", addr),
			log.Err(cause),
		)
	}
}

func (p *EndpointPool) update(addr string, fn func(ep *domain.Endpoint, now time.Time)) {
	p.mu.Lock()
	ep, ok := p.index[addr]
	if !ok {
		p.mu.Unlock()
		return
	}
	prev := ep.Health
	fn(ep, p.clock.Now())
	snapshot := *ep
	p.mu.Unlock()

	if snapshot.Health == prev {
		return
	}
	p.metrics.EndpointHealth(addr, snapshot.Health == domain.HealthHealthy)
	p.logger.Info("endpoint health changed",
		log.String("endpoint", addr),
		log.String("from", prev.String()),
		log.String("to", snapshot.Health.String()),
	)
	if p.OnHealthChange != nil {
		p.OnHealthChange(snapshot, prev)
	}
}

// Health returns the health of addr, HealthUnknown when not in the set.
func (p *EndpointPool) Health(addr string) domain.HealthState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ep, ok := p.index[addr]; ok {
		return ep.Health
	}
	return domain.HealthUnknown
}

// Contains reports whether addr is in the current set.
func (p *EndpointPool) Contains(addr string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.index[addr]
	return ok
}

// Endpoints returns a copy of the current set in resolver order.
func (p *EndpointPool) Endpoints() []domain.Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Endpoint, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = *ep
	}
	return out
}

// Len returns the number of known endpoints.
func (p *EndpointPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.endpoints)
}

// Start schedules Refresh every UpdateInterval. A refresh still running
// when the next tick fires is not overlapped.
func (p *EndpointPool) Start() error {
	p.cronMu.Lock()
	defer p.cronMu.Unlock()

	if p.cron != nil {
		return domain.ErrAlreadyRunning
	}
	if p.cfg.UpdateInterval <= 0 {
		return fmt.Errorf("endpoint update interval must be positive, got %s", p.cfg.UpdateInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := cronLogger{p.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(p.cfg.UpdateInterval), cron.FuncJob(func() {
		_ = p.Refresh(ctx)
	}))
	c.Start()
	p.cron = c
	p.cronCancel = cancel

	p.logger.Info("endpoint refresh scheduled",
		log.Duration("interval", p.cfg.UpdateInterval),
		log.Strings("groups", p.cfg.GroupIDs),
	)
	return nil
}

// Stop cancels the schedule and any refresh in progress, then waits for
// that refresh to return or for ctx to end, whichever comes first.
func (p *EndpointPool) Stop(ctx context.Context) error {
	p.cronMu.Lock()
	c, cancel := p.cron, p.cronCancel
	p.cron, p.cronCancel = nil, nil
	p.cronMu.Unlock()

	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's logging into log.Logger.
type cronLogger struct {
	logger log.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(kvFields(keysAndValues), log.Err(err))...)
}

func kvFields(kv []interface{}) []log.Field {
	fields := make([]log.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, log.Any(key, kv[i+1]))
	}
	return fields
}
