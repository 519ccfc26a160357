// Package wire implements the batch encodings put on the wire before
// compression.
package wire

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack"

	"github.com/songhahaha66/inlong/internal/domain"
	"github.com/songhahaha66/inlong/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encoding names.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
	EncodingForm    = "form"
)

// Content types reported by the encoders.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
	ContentTypeForm    = "application/x-www-form-urlencoded"
)

// Document is the JSON form of a batch. Messages are base64 strings so
// binary payloads survive the trip.
type Document struct {
	BatchID  string   `json:"batchId"`
	GroupID  string   `json:"groupId"`
	StreamID string   `json:"streamId"`
	DT       int64    `json:"dt"`
	Count    int      `json:"cnt"`
	Messages [][]byte `json:"messages"`
}

// Envelope is the msgpack form of a batch.
type Envelope struct {
	BatchID  string   `msgpack:"batchId"`
	GroupID  string   `msgpack:"groupId"`
	StreamID string   `msgpack:"streamId"`
	DT       int64    `msgpack:"dt"`
	Count    int      `msgpack:"cnt"`
	Messages [][]byte `msgpack:"messages"`
}

// NewEncoder returns the encoder registered under name.
// An empty name selects msgpack.
func NewEncoder(name string) (ports.BatchEncoder, error) {
	switch name {
	case EncodingJSON:
		return JSONEncoder{}, nil
	case "", EncodingMsgpack:
		return MsgpackEncoder{}, nil
	case EncodingForm:
		return FormEncoder{Delimiter: '\n'}, nil
	}
	return nil, fmt.Errorf("unknown encoding %q", name)
}

// JSONEncoder encodes a batch as a Document.
type JSONEncoder struct{}

func (JSONEncoder) Encode(b *domain.Batch) ([]byte, error) {
	return json.Marshal(&Document{
		BatchID:  b.ID,
		GroupID:  b.GroupID,
		StreamID: b.StreamID,
		DT:       b.CreatedAt.UnixMilli(),
		Count:    b.Len(),
		Messages: b.Payloads(),
	})
}

func (JSONEncoder) ContentType() string { return ContentTypeJSON }

// MsgpackEncoder encodes a batch as an Envelope.
type MsgpackEncoder struct{}

func (MsgpackEncoder) Encode(b *domain.Batch) ([]byte, error) {
	return msgpack.Marshal(&Envelope{
		BatchID:  b.ID,
		GroupID:  b.GroupID,
		StreamID: b.StreamID,
		DT:       b.CreatedAt.UnixMilli(),
		Count:    b.Len(),
		Messages: b.Payloads(),
	})
}

func (MsgpackEncoder) ContentType() string { return ContentTypeMsgpack }

// FormEncoder produces the DataProxy HTTP report form: groupId, streamId,
// dt, cnt and body, with messages joined by Delimiter. A message holding
// the delimiter can only be posted alone, as cnt=1; see Standalone.
type FormEncoder struct {
	Delimiter byte
}

// Standalone reports whether payload must travel in a batch of its own.
func (e FormEncoder) Standalone(payload []byte) bool {
	return bytes.IndexByte(payload, e.Delimiter) >= 0
}

func (e FormEncoder) Encode(b *domain.Batch) ([]byte, error) {
	var body bytes.Buffer
	for i, m := range b.Messages {
		if b.Len() > 1 && e.Standalone(m.Payload) {
			return nil, fmt.Errorf("message %d of batch %s contains the delimiter", i, b.ID)
		}
		if i > 0 {
			body.WriteByte(e.Delimiter)
		}
		body.Write(m.Payload)
	}

	form := url.Values{}
	form.Set("groupId", b.GroupID)
	form.Set("streamId", b.StreamID)
	form.Set("dt", strconv.FormatInt(b.CreatedAt.UnixMilli(), 10))
	form.Set("cnt", strconv.Itoa(b.Len()))
	form.Set("body", body.String())
	return []byte(form.Encode()), nil
}

func (FormEncoder) ContentType() string { return ContentTypeForm }

// DecodeJSON parses a Document. Used by receivers and tests.
func DecodeJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DecodeMsgpack parses an Envelope.
func DecodeMsgpack(data []byte) (*Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
