package envelope

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Direction records whether a message was written locally or received.
type Direction uint8

const (
	// DirectionUnknown is the zero value, used for messages still on the wire.
	DirectionUnknown Direction = iota
	// Outgoing marks a message composed by a local address.
	Outgoing
	// Incoming marks a message received for a local address.
	Incoming
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "outgoing"
	case Incoming:
		return "incoming"
	default:
		return "unknown"
	}
}

const (
	// DateLayout is the format of Message.Date (always UTC).
	DateLayout = "2006-01-02 15:04:05"
	// DefaultMaxTextSize bounds Message.Text in bytes; longer text is truncated.
	DefaultMaxTextSize = 1024
	// DefaultTTL is how long a message lives in the conversation log and the
	// undelivered registry.
	DefaultTTL = 24 * time.Hour
	// HashSize is the size of a content hash.
	HashSize = blake2b.Size256
)

var (
	// ErrMalformed indicates a message that is neither empty nor well formed.
	ErrMalformed = errors.New("malformed message")
	// ErrAlreadyEncrypted is returned when a plaintext-only operation runs on ciphertext.
	ErrAlreadyEncrypted = errors.New("message already encrypted")
	// ErrNotEncrypted is returned when decrypting a plaintext message.
	ErrNotEncrypted = errors.New("message not encrypted")
	// ErrNotSigned is returned when encrypting a message that was never signed.
	ErrNotSigned = errors.New("message not signed")
)

// Hash is the content hash of a message's identity fields.
type Hash [HashSize]byte

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is unset.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashSize {
		return h, errors.New("invalid hash length")
	}
	copy(h[:], b)
	return h, nil
}

// Message is one envelope: identity fields, signature and, once encrypted,
// the ciphertext sealed to the recipient.
//
// From, To, Date and Timestamp always travel in the clear. Text, Signature and
// SenderKey live inside Ciphertext while the message is encrypted.
type Message struct {
	ID           uuid.UUID `cbor:"1,keyasint"`
	From         string    `cbor:"2,keyasint,omitempty"`
	To           string    `cbor:"3,keyasint,omitempty"`
	Text         string    `cbor:"4,keyasint,omitempty"`
	Date         string    `cbor:"5,keyasint,omitempty"`
	Timestamp    int64     `cbor:"6,keyasint,omitempty"`
	Signature    []byte    `cbor:"7,keyasint,omitempty"`
	SenderKey    []byte    `cbor:"8,keyasint,omitempty"`
	Direction    Direction `cbor:"9,keyasint,omitempty"`
	Digest       []byte    `cbor:"10,keyasint,omitempty"`
	RecipientTag []byte    `cbor:"11,keyasint,omitempty"`
	Ciphertext   []byte    `cbor:"12,keyasint,omitempty"`
}

// New creates an outgoing plaintext message. Text longer than maxSize bytes is
// truncated at a UTF-8 boundary; maxSize <= 0 selects DefaultMaxTextSize.
func New(from, to, text string, maxSize int, now time.Time) *Message {
	return &Message{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		Text:      TruncateText(text, maxSize),
		Date:      now.UTC().Format(DateLayout),
		Timestamp: now.Unix(),
		Direction: Outgoing,
	}
}

// NewProbe creates a content-free liveness probe. Peers that receive it
// re-send whatever they still hold for from.
func NewProbe(from string, now time.Time) *Message {
	return &Message{
		From:      from,
		Date:      now.UTC().Format(DateLayout),
		Timestamp: now.Unix(),
	}
}

// TruncateText cuts text to at most maxSize bytes without splitting a rune.
func TruncateText(text string, maxSize int) string {
	if maxSize <= 0 {
		maxSize = DefaultMaxTextSize
	}
	if len(text) <= maxSize {
		return text
	}
	cut := maxSize
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// IsEncrypted reports whether the message holds ciphertext.
func (m *Message) IsEncrypted() bool {
	return len(m.Ciphertext) > 0
}

// IsSigned reports whether a plaintext message carries a signature.
func (m *Message) IsSigned() bool {
	return len(m.Signature) > 0 && len(m.SenderKey) > 0
}

// IsEmpty reports whether the message carries no content. Liveness probes are
// empty: they may name a sender but have no recipient, text or ciphertext.
func (m *Message) IsEmpty() bool {
	return m.To == "" && m.Text == "" && len(m.Ciphertext) == 0
}

// Validate checks that a non-empty message is well formed.
func (m *Message) Validate() error {
	if m.From == "" || m.To == "" {
		return ErrMalformed
	}
	if m.IsEncrypted() {
		if len(m.Digest) != HashSize || len(m.RecipientTag) != RecipientTagSize {
			return ErrMalformed
		}
		return nil
	}
	if !m.IsSigned() {
		return ErrMalformed
	}
	return nil
}

// IsExpired reports whether more than ttl has elapsed since Timestamp.
func (m *Message) IsExpired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return now.Sub(time.Unix(m.Timestamp, 0)) > ttl
}

// Refresh moves Timestamp to now. Used on resend; Timestamp is not covered
// by the signature.
func (m *Message) Refresh(now time.Time) {
	m.Timestamp = now.Unix()
}

// SentAt parses Date, the signed send time.
func (m *Message) SentAt() (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, m.Date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date: %v", ErrMalformed, err)
	}
	return t, nil
}

// Time returns Timestamp as a time.Time.
func (m *Message) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}

// Correspondent returns the remote party: To for outgoing messages, From for
// incoming ones.
func (m *Message) Correspondent() string {
	if m.Direction == Incoming {
		return m.From
	}
	return m.To
}

// StaticHash returns the content hash over From, To, Text and Date.
//
// While encrypted the text is unavailable, so the digest computed at
// encryption time is returned instead; the value is the same either way.
func (m *Message) StaticHash() Hash {
	var h Hash
	if m.IsEncrypted() {
		copy(h[:], m.Digest)
		return h
	}
	return computeHash(m.From, m.To, m.Text, m.Date)
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	c := *m
	c.Signature = cloneBytes(m.Signature)
	c.SenderKey = cloneBytes(m.SenderKey)
	c.Digest = cloneBytes(m.Digest)
	c.RecipientTag = cloneBytes(m.RecipientTag)
	c.Ciphertext = cloneBytes(m.Ciphertext)
	return &c
}

func computeHash(from, to, text, date string) Hash {
	buf := appendFields([]byte("xchat-hash-v1"), from, to, text, date)
	return Hash(blake2b.Sum256(buf))
}

// appendFields writes each field length-prefixed so that field boundaries
// cannot be shifted between fields.
func appendFields(buf []byte, fields ...string) []byte {
	for _, f := range fields {
		buf = binary.AppendUvarint(buf, uint64(len(f)))
		buf = append(buf, f...)
	}
	return buf
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
