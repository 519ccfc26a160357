// Package tcp implements the framed TCP transport to DataProxy.
//
// Each request is one frame and is answered by one ack frame carrying
// the same id. A connection carries one request at a time.
package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
)

// Config configures the transport.
type Config struct {
	// RecvBufSize and SendBufSize set the socket buffers when positive.
	RecvBufSize int
	SendBufSize int

	KeepAlive    time.Duration
	MaxFrameSize int
}

// Transport dials framed TCP connections.
type Transport struct {
	cfg    Config
	dialer net.Dialer
}

var _ ports.Transport = (*Transport)(nil)

// NewTransport creates a TCP transport.
func NewTransport(cfg Config) *Transport {
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	return &Transport{
		cfg:    cfg,
		dialer: net.Dialer{KeepAlive: cfg.KeepAlive},
	}
}

// Dial connects to addr ("host:port").
func (t *Transport) Dial(ctx context.Context, addr string) (ports.Conn, error) {
	nc, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		if t.cfg.RecvBufSize > 0 {
			_ = tc.SetReadBuffer(t.cfg.RecvBufSize)
		}
		if t.cfg.SendBufSize > 0 {
			_ = tc.SetWriteBuffer(t.cfg.SendBufSize)
		}
	}
	return &Conn{conn: nc, maxFrame: t.cfg.MaxFrameSize}, nil
}

// Conn is one framed TCP connection.
type Conn struct {
	conn     net.Conn
	maxFrame int
	seq      atomic.Uint64
}

// Send writes the packet and waits for its ack.
func (c *Conn) Send(ctx context.Context, p *domain.Packet) error {
	return c.roundTrip(ctx, &Frame{
		Type:        FrameData,
		ID:          p.BatchID,
		GroupID:     p.GroupID,
		StreamID:    p.StreamID,
		Count:       p.Count,
		Codec:       p.Codec,
		ContentType: p.ContentType,
		DT:          p.CreatedAt.UnixMilli(),
		Body:        p.Body,
	})
}

// Probe sends a heartbeat and waits for its ack.
func (c *Conn) Probe(ctx context.Context) error {
	id := "hb-" + strconv.FormatUint(c.seq.Add(1), 10)
	return c.roundTrip(ctx, &Frame{Type: FrameHeartbeat, ID: id})
}

func (c *Conn) roundTrip(ctx context.Context, req *Frame) error {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}
	// Unblock pending I/O when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	err := c.exchange(req)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Conn) exchange(req *Frame) error {
	if err := WriteFrame(c.conn, req); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	resp, err := ReadFrame(c.conn, c.maxFrame)
	if err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	if resp.Type != FrameAck || resp.ID != req.ID {
		return fmt.Errorf("unexpected response type %d id %q for %q", resp.Type, resp.ID, req.ID)
	}
	if resp.Code != 0 {
		return &domain.RejectError{Code: resp.Code, Message: resp.Message}
	}
	return nil
}

// Close closes the socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}
