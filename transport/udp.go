package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/envelope"
)

// readTimeout bounds each blocking read so Listen notices cancellation.
const readTimeout = 100 * time.Millisecond

// UDP broadcasts envelopes as datagrams.
type UDP struct {
	conn      net.PacketConn
	broadcast net.Addr

	mu     sync.Mutex
	closed bool
}

// NewUDP listens on listenAddr and sends every envelope to broadcastAddr.
func NewUDP(listenAddr, broadcastAddr string) (*UDP, error) {
	dst, err := net.ResolveUDPAddr("udp", broadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve broadcast address %q: %w", broadcastAddr, err)
	}

	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", listenAddr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewUDP",
		"listen":    conn.LocalAddr().String(),
		"broadcast": dst.String(),
	}).Info("UDP transport started")

	return &UDP{conn: conn, broadcast: dst}, nil
}

// LocalAddr returns the address the transport is listening on.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Transmit encodes msg and writes it to the broadcast address.
func (u *UDP) Transmit(msg *envelope.Message) error {
	u.mu.Lock()
	closed := u.closed
	u.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := envelope.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := u.conn.WriteTo(data, u.broadcast); err != nil {
		return fmt.Errorf("write datagram: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Transmit",
		"size":     len(data),
	}).Debug("Datagram sent")
	return nil
}

// Listen reads datagrams until ctx is cancelled or the transport is closed,
// passing each decoded envelope to handler in arrival order. Undecodable
// datagrams are logged and dropped.
func (u *UDP) Listen(ctx context.Context, handler Handler) error {
	buffer := make([]byte, envelope.MaxWireSize+1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = u.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, addr, err := u.conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read datagram: %w", err)
		}

		msg, err := envelope.Unmarshal(buffer[:n])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Listen",
				"peer":     addr.String(),
				"size":     n,
				"error":    err.Error(),
			}).Debug("Dropping undecodable datagram")
			continue
		}
		handler(msg)
	}
}

// Close shuts down the socket. Listen returns once the socket is closed.
func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil
	}
	u.closed = true
	return u.conn.Close()
}
