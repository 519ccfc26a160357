package dataproxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/songhahaha66/inlong/internal/adapters/fs"
	"github.com/songhahaha66/inlong/internal/adapters/metrics"
	"github.com/songhahaha66/inlong/internal/app"
	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
	"github.com/songhahaha66/inlong/pkg/log"
)

// Client buffers, batches and delivers messages to DataProxy.
// All methods are safe for concurrent use.
type Client struct {
	cfg    Config
	logger log.Logger
	clock  app.Clock

	lifecycle  *app.Lifecycle
	notifier   *app.Notifier
	buffer     *app.MessageBuffer
	dispatcher *app.Dispatcher
	pool       *app.EndpointPool
	conns      *app.ConnectionManager
	watcher    *fs.Watcher
	gatherer   prometheus.Gatherer
	httpClient ports.HTTPClient

	scanCancel context.CancelFunc
	bgCancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, wires the client and starts its background workers.
// An unreachable manager is not fatal: the first refresh failure is
// logged and the pool keeps retrying on its schedule.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.SetDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	validate := cfg.Validate
	if o.resolver != nil {
		validate = cfg.ValidateTuning
	}
	if err := validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	emitter := &eventBridge{handler: o.eventHandler}
	lifecycle := app.NewLifecycle(logger, emitter)
	if err := lifecycle.TransitionTo(app.StateStarting, "New() called"); err != nil {
		return nil, err
	}

	c, err := build(cfg, o, lifecycle, emitter)
	if err != nil {
		_ = lifecycle.TransitionTo(app.StateFailed, err.Error())
		_ = lifecycle.TransitionTo(app.StateClosed, "startup failed")
		return nil, err
	}
	c.start()
	if err := lifecycle.TransitionTo(app.StateRunning, "started"); err != nil {
		return nil, err
	}
	return c, nil
}

func build(cfg Config, o options, lifecycle *app.Lifecycle, emitter *eventBridge) (*Client, error) {
	logger := o.logger

	reg := o.registerer
	var gatherer prometheus.Gatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	m := metrics.NewPrometheus(reg)

	client := httpClient(cfg, o)
	transport := buildTransport(cfg, o, client)
	encoder, err := buildEncoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	policy, err := app.ParseBackpressurePolicy(cfg.BackpressurePolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	unhealthy, err := app.ParseUnhealthyPolicy(cfg.UnhealthyPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	compressor, err := app.NewCompressor(app.CompressorConfig{
		// The HTTP report endpoint takes plain form bodies.
		Enabled: cfg.EnableZip && !cfg.EnableHTTPReport,
		MinSize: cfg.MinZipLen,
		Codec:   cfg.ZipCodec,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	rs := buildResolver(cfg, o, client, logger)
	pool := app.NewEndpointPool(app.PoolConfig{
		GroupIDs:       cfg.GroupIDs,
		UpdateInterval: cfg.ManagerUpdateInterval,
		ResolveTimeout: cfg.ManagerTimeout,
		MaxEndpoints:   cfg.MaxProxyNum,
	}, rs.resolver, m, o.clock, logger)

	sendTimeout := cfg.SendTimeout
	if cfg.EnableHTTPReport {
		sendTimeout = cfg.HTTPReportTimeout
	}

	conns := app.NewConnectionManager(app.ConnManagerConfig{
		MaxConnsPerEndpoint: cfg.MaxConnsPerProxy,
		IdleTimeout:         cfg.TCPIdleTime,
		DetectionInterval:   cfg.TCPDetectionInterval,
		DialTimeout:         sendTimeout,
		ProbeTimeout:        sendTimeout,
		UnhealthyPolicy:     unhealthy,
	}, transport, pool, m, o.clock, logger)
	pool.OnRetire = conns.Retire
	pool.OnHealthChange = emitter.endpointHealth

	notifier := app.NewNotifier(cfg.NotifyWorkers, logger)
	dispatcher := app.NewDispatcher(app.DispatcherConfig{
		MaxAttempts:    cfg.RetryTimes,
		MaxInflight:    cfg.MaxInflight,
		SendTimeout:    sendTimeout,
		BackoffInitial: cfg.RetryBackoffInitial,
		BackoffMax:     cfg.RetryBackoffMax,
	}, pool, conns, encoder, compressor, notifier, m, o.clock, logger)

	buffer := app.NewMessageBuffer(app.BufferConfig{
		PackSize:       cfg.PackSize,
		MaxPackCount:   cfg.EffectiveMaxPackCount(),
		PackTimeout:    cfg.PackTimeout,
		ExtPackSize:    cfg.ExtPackSize,
		MaxBufferBytes: cfg.MaxBufferBytes,
		Policy:         policy,
		BlockTimeout:   cfg.BlockTimeout,
		Standalone:     standalone(encoder),
	}, dispatcher, notifier, m, o.clock, logger)

	dispatcher.OnComplete = func(outcome app.BatchOutcome) {
		buffer.Release(outcome.Batch)
		emitter.batch(outcome)
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger,
		clock:      o.clock,
		lifecycle:  lifecycle,
		notifier:   notifier,
		buffer:     buffer,
		dispatcher: dispatcher,
		pool:       pool,
		conns:      conns,
		gatherer:   gatherer,
		httpClient: client,
	}
	if rs.watchPath != "" {
		c.watcher = fs.NewWatcher(rs.watchPath, fs.DefaultDebounce, func() {
			if err := pool.Refresh(context.Background()); err == nil {
				logger.Info("endpoint list reloaded", log.String("path", rs.watchPath))
			}
		}, logger)
	}

	logger.Info("dataproxy client configured",
		log.String("source", rs.source),
		log.Strings("groups", cfg.GroupIDs),
		log.Bool("http_report", cfg.EnableHTTPReport),
		log.Int("pack_size", cfg.PackSize),
		log.Duration("pack_timeout", cfg.PackTimeout),
		log.Int("max_attempts", cfg.RetryTimes),
	)
	return c, nil
}

// start runs the initial refresh and launches the background workers.
func (c *Client) start() {
	if err := c.pool.Refresh(context.Background()); err != nil {
		c.logger.Warn("initial endpoint refresh failed, will retry", log.Err(err))
	}
	if err := c.pool.Start(); err != nil {
		c.logger.Error("failed to schedule endpoint refresh", log.Err(err))
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	scanCtx, scanCancel := context.WithCancel(bgCtx)
	c.bgCancel = bgCancel
	c.scanCancel = scanCancel

	c.lifecycle.Go(func() { c.dispatcher.Run(bgCtx) })
	c.lifecycle.Go(func() { c.buffer.Run(scanCtx, c.cfg.DispatchInterval) })
	c.lifecycle.Go(func() { c.conns.Run(bgCtx) })
	if c.watcher != nil {
		c.lifecycle.Go(func() {
			if err := c.watcher.Run(bgCtx); err != nil {
				c.logger.Error("endpoint list watch failed", log.Err(err))
			}
		})
	}
}

// Send buffers payload for (groupID, streamID). It returns once the
// message is accepted; the delivery outcome goes to cb, which may be nil.
//
// Errors: ErrNotInitialized for a nil client, ErrClosed after Close,
// ErrInvalidMessage, ErrMessageTooLarge, and ErrBufferFull when the
// stream is at its memory ceiling under the reject or block policy.
func (c *Client) Send(ctx context.Context, groupID, streamID string, payload []byte, cb Callback) error {
	if c == nil {
		return ErrNotInitialized
	}
	if !c.lifecycle.Accepting() {
		switch c.lifecycle.State() {
		case app.StateClosing, app.StateClosed, app.StateFailed:
			return ErrClosed
		default:
			return ErrNotInitialized
		}
	}
	return c.buffer.Enqueue(ctx, domain.NewMessage(groupID, streamID, payload, cb, c.clock.Now()))
}

// Close stops accepting messages, flushes every buffer and waits up to
// timeout for in-flight batches. Batches still pending at the deadline
// fail with ErrShutdownTimeout, and Close returns an error wrapping it.
// Close is idempotent; concurrent callers wait for the first to finish
// and get the same result.
func (c *Client) Close(timeout time.Duration) error {
	if c == nil {
		return ErrNotInitialized
	}
	c.closeOnce.Do(func() {
		c.closeErr = c.shutdown(timeout)
	})
	return c.closeErr
}

func (c *Client) shutdown(timeout time.Duration) error {
	if err := c.lifecycle.TransitionTo(app.StateClosing, "Close() called"); err != nil {
		return err
	}

	deadline, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c.scanCancel()
	c.buffer.Close()
	c.dispatcher.CloseInbound()

	var result error
	if err := c.dispatcher.Wait(deadline); err != nil {
		if n := c.dispatcher.Abort(domain.ErrShutdownTimeout); n > 0 {
			result = fmt.Errorf("%w: %d batch(es) still pending after %s", domain.ErrShutdownTimeout, n, timeout)
		}
	}

	// Everything after this point is bounded by the same deadline.
	if err := c.pool.Stop(deadline); err != nil {
		c.logger.Warn("endpoint refresh still running at close", log.Err(err))
	}
	c.bgCancel()

	if err := c.lifecycle.Wait(deadline); err != nil {
		c.logger.Warn("background workers did not stop in time", log.Err(err))
	}
	if err := c.notifier.Drain(deadline); err != nil {
		c.logger.Warn("callbacks still running at close",
			log.Int("pending", c.notifier.Pending()),
			log.Err(err),
		)
		go c.notifier.Stop()
	} else {
		c.notifier.Stop()
	}

	c.conns.Close()
	if ic, ok := c.httpClient.(ports.IdleCloser); ok {
		ic.CloseIdleConnections()
	}

	reason := "graceful shutdown"
	if result != nil {
		reason = "shutdown timeout"
	}
	if err := c.lifecycle.TransitionTo(app.StateClosed, reason); err != nil && result == nil {
		result = err
	}
	return result
}

// Status returns the current lifecycle state.
func (c *Client) Status() State {
	if c == nil {
		return StateNew
	}
	return convertState(c.lifecycle.State())
}

// Endpoints returns a snapshot of the known endpoints and their health.
func (c *Client) Endpoints() []Endpoint {
	if c == nil {
		return nil
	}
	return c.pool.Endpoints()
}

// Flush hands every open batch to delivery without waiting for a size or
// time trigger. It returns the number of batches flushed.
func (c *Client) Flush() int {
	if c == nil || !c.lifecycle.Accepting() {
		return 0
	}
	return c.buffer.FlushAll()
}

// Registry returns the gatherer holding the client's metrics, or nil when
// the registerer passed to WithRegisterer cannot be gathered.
func (c *Client) Registry() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}
