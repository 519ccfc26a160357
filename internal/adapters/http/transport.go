// Package http implements the DataProxy HTTP report transport.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
)

// DefaultReportPath is appended to bare host:port endpoints.
const DefaultReportPath = "/dataproxy/message"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Transport posts packets to DataProxy's HTTP report endpoint. Each
// "connection" is a handle on the shared HTTP client.
type Transport struct {
	client ports.HTTPClient
}

var _ ports.Transport = (*Transport)(nil)

// NewTransport creates a new HTTP transport.
func NewTransport(client ports.HTTPClient) *Transport {
	return &Transport{client: client}
}

// Dial resolves addr to a report URL. No I/O happens until Send or Probe.
func (t *Transport) Dial(ctx context.Context, addr string) (ports.Conn, error) {
	if addr == "" {
		return nil, fmt.Errorf("empty endpoint address")
	}
	return &Conn{client: t.client, url: ReportURL(addr)}, nil
}

// ReportURL turns "host:port" into a full report URL and leaves URLs as is.
func ReportURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "http://" + addr + DefaultReportPath
}

// Conn sends to one report URL.
type Conn struct {
	client ports.HTTPClient
	url    string
}

// reportResponse is the JSON answer of the report endpoint.
type reportResponse struct {
	Code    *int   `json:"code"`
	Message string `json:"msg"`
}

// Send posts the packet body. Success is HTTP 200 and, when the response
// is JSON with a code, code 0.
func (c *Conn) Send(ctx context.Context, p *domain.Packet) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(p.Body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", p.ContentType)
	if p.Compressed() {
		req.Header.Set("Content-Encoding", p.Codec)
	}
	req.Header.Set("X-Inlong-Batch-Id", p.BatchID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return &domain.RejectError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var rr reportResponse
	if err := json.Unmarshal(body, &rr); err != nil || rr.Code == nil {
		// Not a JSON status document; HTTP 200 is enough.
		return nil
	}
	if *rr.Code != 0 {
		return &domain.RejectError{Code: *rr.Code, Message: rr.Message}
	}
	return nil
}

// Probe issues a HEAD request. Any answer below 500 means the proxy is up.
func (c *Conn) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe: server returned %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the HTTP client owns the sockets.
func (c *Conn) Close() error {
	return nil
}
