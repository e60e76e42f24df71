package transport

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/envelope"
)

// defaultQueueSize is the number of envelopes an endpoint buffers before the
// bus starts dropping for it.
const defaultQueueSize = 256

// Bus is an in-process broadcast medium. Every envelope transmitted on the bus
// is delivered to every subscribed endpoint, including the sender's own.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
}

// Endpoint is one subscription to a Bus. Envelopes are delivered to its
// handler one at a time, in transmission order.
type Endpoint struct {
	bus     *Bus
	queue   chan []byte
	handler Handler
	done    chan struct{}
	once    sync.Once
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{endpoints: make(map[*Endpoint]struct{})}
}

// Subscribe attaches handler to the bus.
func (b *Bus) Subscribe(handler Handler) *Endpoint {
	ep := &Endpoint{
		bus:     b,
		queue:   make(chan []byte, defaultQueueSize),
		handler: handler,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.endpoints[ep] = struct{}{}
	b.mu.Unlock()

	go ep.run()
	return ep
}

// Transmit encodes msg and queues it for every endpoint. A full queue drops
// the envelope for that endpoint only, as a lossy network would.
func (b *Bus) Transmit(msg *envelope.Message) error {
	data, err := envelope.Marshal(msg)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ep := range b.endpoints {
		select {
		case ep.queue <- data:
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Transmit",
				"queue":    len(ep.queue),
			}).Warn("Bus endpoint queue full, dropping envelope")
		}
	}
	return nil
}

// Transmit sends msg on the endpoint's bus.
func (ep *Endpoint) Transmit(msg *envelope.Message) error {
	select {
	case <-ep.done:
		return ErrClosed
	default:
	}
	return ep.bus.Transmit(msg)
}

// Close detaches the endpoint. Queued envelopes are discarded.
func (ep *Endpoint) Close() error {
	ep.once.Do(func() {
		ep.bus.mu.Lock()
		delete(ep.bus.endpoints, ep)
		ep.bus.mu.Unlock()
		close(ep.done)
	})
	return nil
}

func (ep *Endpoint) run() {
	for {
		select {
		case <-ep.done:
			return
		case data := <-ep.queue:
			msg, err := envelope.Unmarshal(data)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"error":    err.Error(),
				}).Warn("Bus delivered undecodable envelope")
				continue
			}
			ep.handler(msg)
		}
	}
}
