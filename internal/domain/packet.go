package domain

import "time"

// CodecNone marks an uncompressed packet body.
const CodecNone = "none"

// Packet is the transmissible form of a batch.
type Packet struct {
	BatchID  string
	GroupID  string
	StreamID string

	// Count is the number of messages encoded in Body.
	Count int

	// Codec names the compression applied to Body ("none" when raw).
	Codec string

	// ContentType names the batch encoding before compression.
	ContentType string

	Body []byte

	// RawBytes is the encoded size before compression.
	RawBytes int

	CreatedAt time.Time
}

// Compressed reports whether Body is compressed.
func (p *Packet) Compressed() bool {
	return p.Codec != "" && p.Codec != CodecNone
}
