package app

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/pkg/log"
)

// Supported compression codecs.
const (
	CodecSnappy = "snappy"
	CodecGzip   = "gzip"
	CodecZstd   = "zstd"
)

// CompressorConfig controls batch compression.
type CompressorConfig struct {
	Enabled bool
	MinSize int
	Codec   string
}

// Compressor compresses encoded batches above a size threshold.
// Compression is an optimization: any failure yields the raw bytes.
type Compressor struct {
	cfg    CompressorConfig
	zstd   *zstd.Encoder
	logger log.Logger
}

// NewCompressor validates the codec and prepares its encoder.
func NewCompressor(cfg CompressorConfig, logger log.Logger) (*Compressor, error) {
	codec, err := ParseCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	cfg.Codec = codec
	c := &Compressor{cfg: cfg, logger: logger}
	if codec == CodecZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		c.zstd = enc
	}
	return c, nil
}

// ParseCodec validates a codec name. Empty means snappy.
func ParseCodec(s string) (string, error) {
	switch s {
	case "":
		return CodecSnappy, nil
	case CodecSnappy, CodecGzip, CodecZstd:
		return s, nil
	}
	return "", fmt.Errorf("unknown compression codec %q", s)
}

// MaybeCompress returns the bytes to transmit and the codec applied.
func (c *Compressor) MaybeCompress(data []byte) ([]byte, string) {
	if !c.cfg.Enabled || len(data) < c.cfg.MinSize {
		return data, domain.CodecNone
	}

	out, err := c.compress(data)
	if err != nil {
		c.logger.Warn("compression failed, sending uncompressed",
			log.String("codec", c.cfg.Codec),
			log.Int("bytes", len(data)),
			log.Err(err),
		)
		return data, domain.CodecNone
	}
	return out, c.cfg.Codec
}

func (c *Compressor) compress(data []byte) ([]byte, error) {
	switch c.cfg.Codec {
	case CodecSnappy:
		return snappy.Encode(nil, data), nil
	case CodecZstd:
		// EncodeAll is safe for concurrent use.
		return c.zstd.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CodecGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression codec %q", c.cfg.Codec)
}

// Decompress reverses MaybeCompress. Used by tests and debugging tools.
func Decompress(codec string, data []byte) ([]byte, error) {
	switch codec {
	case "", domain.CodecNone:
		return data, nil
	case CodecSnappy:
		return snappy.Decode(nil, data)
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case CodecGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(zr); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression codec %q", codec)
}
