package envelope

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MaxWireSize bounds an encoded envelope; larger inputs are rejected before decoding.
const MaxWireSize = 64 * 1024

// ErrPlaintextOnWire is returned when asked to encode a plaintext message for transmission.
var ErrPlaintextOnWire = errors.New("refusing to encode plaintext message for the wire")

var (
	codecEncMode cbor.EncMode
	codecDecMode cbor.DecMode
)

func init() {
	var err error
	codecEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	codecDecMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// wireMessage is the transmitted form. ID and Direction are local bookkeeping
// and never leave the process.
type wireMessage struct {
	From         string `cbor:"1,keyasint,omitempty"`
	To           string `cbor:"2,keyasint,omitempty"`
	Date         string `cbor:"3,keyasint,omitempty"`
	Timestamp    int64  `cbor:"4,keyasint,omitempty"`
	Digest       []byte `cbor:"5,keyasint,omitempty"`
	RecipientTag []byte `cbor:"6,keyasint,omitempty"`
	Ciphertext   []byte `cbor:"7,keyasint,omitempty"`
}

// Marshal encodes an encrypted message or a liveness probe for transmission.
func Marshal(m *Message) ([]byte, error) {
	if !m.IsEncrypted() && !m.IsEmpty() {
		return nil, ErrPlaintextOnWire
	}
	return codecEncMode.Marshal(wireMessage{
		From:         m.From,
		To:           m.To,
		Date:         m.Date,
		Timestamp:    m.Timestamp,
		Digest:       m.Digest,
		RecipientTag: m.RecipientTag,
		Ciphertext:   m.Ciphertext,
	})
}

// Unmarshal decodes a transmitted envelope.
func Unmarshal(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformed)
	}
	if len(data) > MaxWireSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformed, len(data), MaxWireSize)
	}

	var w wireMessage
	if err := codecDecMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &Message{
		From:         w.From,
		To:           w.To,
		Date:         w.Date,
		Timestamp:    w.Timestamp,
		Digest:       w.Digest,
		RecipientTag: w.RecipientTag,
		Ciphertext:   w.Ciphertext,
	}, nil
}

// EncodeRecord serializes any persisted record (conversation logs, registry
// maps, key directory entries) with the same deterministic CBOR mode.
func EncodeRecord(v interface{}) ([]byte, error) {
	return codecEncMode.Marshal(v)
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte, v interface{}) error {
	return codecDecMode.Unmarshal(data, v)
}
