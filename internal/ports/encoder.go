package ports

import "github.com/songhahaha66/inlong/internal/domain"

// BatchEncoder serializes a batch into the body handed to the compressor.
type BatchEncoder interface {
	Encode(batch *domain.Batch) ([]byte, error)

	// ContentType names the encoding, e.g. "msgpack".
	ContentType() string
}
