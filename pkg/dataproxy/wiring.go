package dataproxy

import (
	"net/http"

	"github.com/songhahaha66/inlong/internal/adapters/fs"
	httpAdapter "github.com/songhahaha66/inlong/internal/adapters/http"
	"github.com/songhahaha66/inlong/internal/adapters/manager"
	"github.com/songhahaha66/inlong/internal/adapters/static"
	"github.com/songhahaha66/inlong/internal/adapters/tcp"
	"github.com/songhahaha66/inlong/internal/adapters/wire"
	"github.com/songhahaha66/inlong/internal/ports"
	"github.com/songhahaha66/inlong/pkg/log"
)

// httpClient returns the injected client or one bounded by the larger of
// the manager and report timeouts.
func httpClient(cfg Config, o options) ports.HTTPClient {
	if o.httpClient != nil {
		return o.httpClient
	}
	timeout := cfg.ManagerTimeout
	if cfg.EnableHTTPReport && cfg.HTTPReportTimeout > timeout {
		timeout = cfg.HTTPReportTimeout
	}
	return &http.Client{Timeout: timeout}
}

func buildTransport(cfg Config, o options, client ports.HTTPClient) ports.Transport {
	if o.transport != nil {
		return o.transport
	}
	if cfg.EnableHTTPReport {
		return httpAdapter.NewTransport(client)
	}
	return tcp.NewTransport(tcp.Config{
		RecvBufSize: cfg.RecvBufSize,
		SendBufSize: cfg.SendBufSize,
	})
}

// buildEncoder picks the batch encoding. HTTP report mode always posts
// the native form body.
func buildEncoder(cfg Config) (ports.BatchEncoder, error) {
	if cfg.EnableHTTPReport {
		return wire.NewEncoder(wire.EncodingForm)
	}
	return wire.NewEncoder(cfg.Encoding)
}

// standalone returns the encoder's rule for payloads that cannot share a
// batch, or nil when every payload can.
func standalone(enc ports.BatchEncoder) func([]byte) bool {
	if f, ok := enc.(wire.FormEncoder); ok {
		return f.Standalone
	}
	return nil
}

// resolverSetup is the endpoint source chosen from the config. watchPath
// is set when the source is a file that should trigger refreshes.
type resolverSetup struct {
	resolver  ports.Resolver
	watchPath string
	source    string
}

func buildResolver(cfg Config, o options, client ports.HTTPClient, logger log.Logger) resolverSetup {
	switch {
	case o.resolver != nil:
		return resolverSetup{resolver: o.resolver, source: "custom"}
	case cfg.EnableHTTPReport:
		return resolverSetup{resolver: static.NewResolver(cfg.HTTPReportURL), source: "http_report_url"}
	case len(cfg.ProxyAddrs) > 0:
		return resolverSetup{resolver: static.NewResolver(cfg.ProxyAddrs...), source: "proxy_addrs"}
	case cfg.ProxyListFile != "":
		return resolverSetup{
			resolver:  fs.NewListFileResolver(cfg.ProxyListFile),
			watchPath: cfg.ProxyListFile,
			source:    "proxy_list_file",
		}
	}

	var r ports.Resolver = manager.NewResolver(manager.Config{
		URL:      cfg.ManagerURL,
		Protocol: "tcp",
		NeedAuth: cfg.NeedAuth,
		AuthID:   cfg.AuthID,
		AuthKey:  cfg.AuthKey,
	}, client)
	if cfg.ProxyCacheFile != "" {
		r = fs.NewCachingResolver(r, fs.NewEndpointCache(cfg.ProxyCacheFile), logger)
	}
	return resolverSetup{resolver: r, source: "manager"}
}
