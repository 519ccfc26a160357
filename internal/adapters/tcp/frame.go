package tcp

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack"
)

// Frame types.
const (
	FrameData      uint8 = 1
	FrameHeartbeat uint8 = 2
	FrameAck       uint8 = 3
)

// DefaultMaxFrameSize bounds a single frame read from the wire.
const DefaultMaxFrameSize = 16 << 20

// Frame is the msgpack body of one length-prefixed wire frame.
type Frame struct {
	Type        uint8  `msgpack:"t"`
	ID          string `msgpack:"id"`
	GroupID     string `msgpack:"gid,omitempty"`
	StreamID    string `msgpack:"sid,omitempty"`
	Count       int    `msgpack:"cnt,omitempty"`
	Codec       string `msgpack:"codec,omitempty"`
	ContentType string `msgpack:"ct,omitempty"`
	DT          int64  `msgpack:"dt,omitempty"`
	Body        []byte `msgpack:"body,omitempty"`

	// Ack fields. Code 0 is success.
	Code    int    `msgpack:"code,omitempty"`
	Message string `msgpack:"msg,omitempty"`
}

// WriteFrame writes f as [4 byte big-endian length][msgpack body].
func WriteFrame(w io.Writer, f *Frame) error {
	body, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame, refusing bodies larger than maxSize.
func ReadFrame(r io.Reader, maxSize int) (*Frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && int(n) > maxSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", n, maxSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var f Frame
	if err := msgpack.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}
