package session

import (
	"errors"

	"github.com/opd-ai/xchat/envelope"
)

// Validation errors. They are returned before anything is sent or stored.
var (
	ErrEmptyText      = errors.New("message text is empty")
	ErrInvalidAddress = errors.New("invalid address")
	ErrKeyNotFound    = errors.New("no local key for address")
	ErrNoRecipientKey = errors.New("recipient public key unknown")
	ErrSign           = errors.New("signing failed")
	ErrEncrypt        = errors.New("encryption failed")
)

// Inbound errors. ErrIntegrity marks a message that was sealed to a local key
// but did not authenticate.
var (
	ErrMalformed = envelope.ErrMalformed
	ErrIntegrity = envelope.ErrIntegrity
)
