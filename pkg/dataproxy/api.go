package dataproxy

import (
	"context"
	"io"
	"sync"
	"time"

	logAdapter "github.com/songhahaha66/inlong/internal/adapters/log"
	"github.com/songhahaha66/inlong/internal/config"
	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/pkg/log"
)

// SendCallback mirrors the native SDK callback. reportTime is in Unix
// milliseconds and ip is the proxy that took the message; err is nil on
// delivery.
type SendCallback func(groupID, streamID string, msg []byte, msgLen int, reportTime int64, ip string, err error)

// API is the integer-returning surface of the native SDK. Each API value
// owns at most one client; there is no package-level instance.
type API struct {
	opts []Option

	mu     sync.Mutex
	client *Client
	logs   io.Closer
	closed bool
}

// NewAPI creates an uninitialized API. opts are passed to New on InitAPI;
// a WithLogger option replaces the file logger built from log_* keys.
func NewAPI(opts ...Option) *API {
	return &API{opts: opts}
}

// InitAPI loads the config file at configPath and starts the client.
func (a *API) InitAPI(configPath string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil || a.closed {
		return CodeMultiInit
	}

	cfg := config.DefaultConfig()
	if err := config.Load(&cfg, configPath, nil); err != nil {
		return CodeErrorInit
	}

	logger, closer, err := logAdapter.NewFileLogger(logAdapter.FileConfig{
		Dir:      cfg.LogPath,
		Level:    cfg.LogLevel,
		MaxSize:  cfg.LogSize,
		MaxFiles: cfg.LogNum,
	})
	if err != nil {
		return CodeErrorInit
	}

	opts := append([]Option{WithLogger(logger)}, a.opts...)
	client, err := New(cfg, opts...)
	if err != nil {
		logger.Error("init failed", log.String("config", configPath), log.Err(err))
		_ = closer.Close()
		return CodeErrorInit
	}
	a.client = client
	a.logs = closer
	return CodeSuccess
}

// Send queues the first msgLen bytes of msg. cb may be nil.
func (a *API) Send(groupID, streamID string, msg []byte, msgLen int, cb SendCallback) int {
	client, code := a.current()
	if code != CodeSuccess {
		return code
	}
	if msgLen <= 0 || msgLen > len(msg) {
		return CodeInvalidInput
	}
	payload := msg[:msgLen]

	var completion Callback
	if cb != nil {
		completion = domain.CompletionFunc(func(r domain.Result) {
			cb(r.GroupID, r.StreamID, r.Payload, len(r.Payload), r.ReportTime.UnixMilli(), r.Endpoint, r.Err)
		})
	}
	return CodeOf(client.Send(context.Background(), groupID, streamID, payload, completion))
}

// CloseAPI closes the client, waiting up to timeoutMs for in-flight
// messages.
func (a *API) CloseAPI(timeoutMs int) int {
	a.mu.Lock()
	if a.client == nil {
		closed := a.closed
		a.mu.Unlock()
		if closed {
			return CodeMultiExits
		}
		return CodeNotInitialized
	}
	client, logs := a.client, a.logs
	a.client, a.logs = nil, nil
	a.closed = true
	a.mu.Unlock()

	err := client.Close(time.Duration(timeoutMs) * time.Millisecond)
	if logs != nil {
		_ = logs.Close()
	}
	return CodeOf(err)
}

// Client returns the underlying client, nil before InitAPI or after
// CloseAPI.
func (a *API) Client() *Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

func (a *API) current() (*Client, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.client != nil:
		return a.client, CodeSuccess
	case a.closed:
		return nil, CodeSendAfterClose
	default:
		return nil, CodeNotInitialized
	}
}
