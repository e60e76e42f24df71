package transport

import (
	"errors"

	"github.com/opd-ai/xchat/envelope"
)

// ErrClosed is returned when sending on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transmitter sends an envelope to the network. Transmit does not wait for
// delivery and returns only local errors.
type Transmitter interface {
	Transmit(msg *envelope.Message) error
}

// Handler processes one received envelope. Handlers run on the transport's
// receive goroutine and must not retain msg after returning.
type Handler func(msg *envelope.Message)
