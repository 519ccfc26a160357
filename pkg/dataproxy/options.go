package dataproxy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/songhahaha66/inlong/internal/app"
	"github.com/songhahaha66/inlong/internal/config"
	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
	"github.com/songhahaha66/inlong/pkg/log"
)

// Config holds the client configuration.
type Config = config.Config

// DefaultConfig returns a Config with the native SDK's defaults. An
// endpoint source (ManagerURL, ProxyAddrs, ProxyListFile or
// HTTPReportURL) must still be set.
func DefaultConfig() Config {
	return config.DefaultConfig()
}

// LoadConfig reads a .json, .toml or .yaml config file on top of the
// defaults and applies INLONG_* environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := config.DefaultConfig()
	if err := config.Load(&cfg, path, nil); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Re-exported building blocks for callbacks and injection.
type (
	// Callback receives the terminal outcome of one message.
	Callback = domain.Completion
	// CallbackFunc adapts a function to Callback.
	CallbackFunc = domain.CompletionFunc
	// Result is the outcome passed to a Callback.
	Result = domain.Result
	// Endpoint is a snapshot of one DataProxy address and its health.
	Endpoint = domain.Endpoint
	// HealthState is the observed health of an endpoint.
	HealthState = domain.HealthState

	// Resolver supplies DataProxy addresses.
	Resolver = ports.Resolver
	// ResolverFunc adapts a function to Resolver.
	ResolverFunc = ports.ResolverFunc
	// Transport opens connections to DataProxy endpoints.
	Transport = ports.Transport
	// HTTPClient is satisfied by *http.Client.
	HTTPClient = ports.HTTPClient
	// Clock supplies the current time.
	Clock = app.Clock

	// Logger is the structured logger interface.
	Logger = log.Logger
)

// Health states.
const (
	HealthUnknown   = domain.HealthUnknown
	HealthHealthy   = domain.HealthHealthy
	HealthUnhealthy = domain.HealthUnhealthy
)

// Option configures optional behavior of a Client.
type Option func(*options)

type options struct {
	logger       log.Logger
	resolver     ports.Resolver
	transport    ports.Transport
	httpClient   ports.HTTPClient
	eventHandler EventHandler
	registerer   prometheus.Registerer
	clock        app.Clock
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
		clock:  app.SystemClock{},
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithResolver replaces the endpoint source derived from the config.
func WithResolver(r Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithTransport replaces the TCP or HTTP transport derived from the config.
func WithTransport(t Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithHTTPClient sets the client used for manager lookups and HTTP
// reports. If not provided, an *http.Client with the configured timeout
// is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithEventHandler sets a handler for client events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithRegisterer registers the client's metrics with reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithClock overrides the time source used for batching.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
