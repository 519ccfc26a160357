package tcp

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songhahaha66/inlong/internal/domain"
)

// proxyServer acks every frame using reply to choose code and delay.
type proxyServer struct {
	ln    net.Listener
	reply func(f *Frame) (code int, delay time.Duration)

	mu     sync.Mutex
	frames []*Frame
}

func startProxy(t *testing.T, reply func(f *Frame) (int, time.Duration)) *proxyServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &proxyServer{ln: ln, reply: reply}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *proxyServer) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer c.Close()
			for {
				f, err := ReadFrame(c, 0)
				if err != nil {
					return
				}
				s.mu.Lock()
				s.frames = append(s.frames, f)
				s.mu.Unlock()

				code, delay := 0, time.Duration(0)
				if s.reply != nil {
					code, delay = s.reply(f)
				}
				time.Sleep(delay)
				if err := WriteFrame(c, &Frame{Type: FrameAck, ID: f.ID, Code: code, Message: "status"}); err != nil {
					return
				}
			}
		}()
	}
}

func (s *proxyServer) Frames() []*Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Frame(nil), s.frames...)
}

func testPacket() *domain.Packet {
	return &domain.Packet{
		BatchID:     "batch-1",
		GroupID:     "g",
		StreamID:    "s",
		Count:       2,
		Codec:       "snappy",
		ContentType: "application/msgpack",
		Body:        []byte{1, 2, 3},
		CreatedAt:   time.UnixMilli(1714564800000),
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &Frame{Type: FrameData, ID: "x", GroupID: "g", Body: []byte("payload")}
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Body, out.Body)
}

func TestReadFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Frame{Type: FrameData, Body: make([]byte, 1024)}))

	_, err := ReadFrame(&buf, 64)
	assert.Error(t, err)
}

func TestConn_SendAcked(t *testing.T) {
	srv := startProxy(t, nil)
	tr := NewTransport(Config{RecvBufSize: 1 << 16, SendBufSize: 1 << 16})

	conn, err := tr.Dial(context.Background(), srv.ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(context.Background(), testPacket()))
	require.NoError(t, conn.Probe(context.Background()))

	frames := srv.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, FrameData, frames[0].Type)
	assert.Equal(t, "batch-1", frames[0].ID)
	assert.Equal(t, "snappy", frames[0].Codec)
	assert.Equal(t, int64(1714564800000), frames[0].DT)
	assert.Equal(t, FrameHeartbeat, frames[1].Type)
}

func TestConn_Rejected(t *testing.T) {
	srv := startProxy(t, func(*Frame) (int, time.Duration) { return 7, 0 })
	conn, err := NewTransport(Config{}).Dial(context.Background(), srv.ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Send(context.Background(), testPacket())
	var re *domain.RejectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 7, re.Code)

	// The connection stays usable after a rejection.
	assert.Error(t, conn.Send(context.Background(), testPacket()))
	assert.Len(t, srv.Frames(), 2)
}

func TestConn_SendTimeout(t *testing.T) {
	srv := startProxy(t, func(*Frame) (int, time.Duration) { return 0, 500 * time.Millisecond })
	conn, err := NewTransport(Config{}).Dial(context.Background(), srv.ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = conn.Send(ctx, testPacket())
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestConn_Cancel(t *testing.T) {
	srv := startProxy(t, func(*Frame) (int, time.Duration) { return 0, time.Second })
	conn, err := NewTransport(Config{}).Dial(context.Background(), srv.ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err = conn.Send(ctx, testPacket())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestTransport_DialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = NewTransport(Config{}).Dial(context.Background(), addr)
	assert.Error(t, err)
}
