// Package session ties the xchat core together for one logical action.
//
// A Controller owns the outbound flow (compose, sign, seal, transmit,
// remember for retry, log) and the inbound flow (retry for the sender,
// open, verify, deduplicate, log, learn the sender key, notify). Both flows
// kick the retry engine first, so any sign of life from a correspondent
// flushes what is still pending for them.
//
// Example:
//
//	ctrl, err := session.New(session.Options{
//	    DB:       db,
//	    Registry: registry,
//	    Engine:   engine,
//	    Wallet:   w,
//	    Keys:     dir,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctrl.OnNewMessage(func(ev session.Event) {
//	    fmt.Printf("%s: %s\n", ev.Label, ev.Text)
//	})
//	if _, err := ctrl.Compose(from, to, "hello"); err != nil {
//	    log.Fatal(err)
//	}
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/chatdb"
	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
	"github.com/opd-ai/xchat/retry"
	"github.com/opd-ai/xchat/transport"
)

// KeyRing gives access to local identities.
type KeyRing interface {
	PrivateKey(address string) (crypto.PrivateKey, bool)
	Addresses() []string
}

// KeyDirectory resolves and records correspondents' public keys.
type KeyDirectory interface {
	PublicKey(address string) (crypto.PublicKey, bool)
	PutPublicKey(address string, pub crypto.PublicKey) error
}

// AddressValidator reports whether a string is a well-formed address.
type AddressValidator func(address string) bool

// Labeler turns an address into a display label.
type Labeler func(address string) string

// Event is emitted for each new incoming message.
type Event struct {
	ID      uuid.UUID // local ID of the stored message
	Label   string    // display label of the sender
	Address string    // sender address
	Text    string
	Message envelope.Message
}

// Options configures a Controller. DB, Registry, Engine, Wallet and Keys are
// required.
type Options struct {
	DB       *chatdb.DB
	Registry *chatdb.Registry
	Engine   *retry.Engine
	Wallet   KeyRing
	Keys     KeyDirectory

	// Transmitter defaults to the engine's transmitter.
	Transmitter transport.Transmitter
	// Validate defaults to crypto.IsValidAddress.
	Validate AddressValidator

	MessageTTL     time.Duration
	MaxMessageSize int
	TimeProvider   crypto.TimeProvider
}

// Controller runs compose and receive flows.
type Controller struct {
	db          *chatdb.DB
	registry    *chatdb.Registry
	engine      *retry.Engine
	wallet      KeyRing
	keys        KeyDirectory
	transmitter transport.Transmitter
	validate    AddressValidator
	ttl         time.Duration
	maxSize     int
	tp          crypto.TimeProvider

	mu        sync.RWMutex
	listeners []func(Event)
	labeler   Labeler
}

// New creates a controller.
func New(opts Options) (*Controller, error) {
	switch {
	case opts.DB == nil:
		return nil, errors.New("session: DB is required")
	case opts.Registry == nil:
		return nil, errors.New("session: Registry is required")
	case opts.Engine == nil:
		return nil, errors.New("session: Engine is required")
	case opts.Wallet == nil:
		return nil, errors.New("session: Wallet is required")
	case opts.Keys == nil:
		return nil, errors.New("session: Keys is required")
	}

	c := &Controller{
		db:          opts.DB,
		registry:    opts.Registry,
		engine:      opts.Engine,
		wallet:      opts.Wallet,
		keys:        opts.Keys,
		transmitter: opts.Transmitter,
		validate:    opts.Validate,
		ttl:         opts.MessageTTL,
		maxSize:     opts.MaxMessageSize,
		tp:          crypto.OrDefault(opts.TimeProvider),
		labeler:     func(address string) string { return address },
	}
	if c.transmitter == nil {
		c.transmitter = opts.Engine.Transmitter()
	}
	if c.validate == nil {
		c.validate = crypto.IsValidAddress
	}
	if c.ttl <= 0 {
		c.ttl = envelope.DefaultTTL
	}
	if c.maxSize <= 0 {
		c.maxSize = envelope.DefaultMaxTextSize
	}
	return c, nil
}

// OnNewMessage registers fn to be called for every new incoming message.
// Listeners run on the receiving goroutine.
func (c *Controller) OnNewMessage(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// SetLabeler sets how sender addresses are rendered in events. A nil
// labeler restores the address itself.
func (c *Controller) SetLabeler(fn Labeler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		fn = func(address string) string { return address }
	}
	c.labeler = fn
}

func (c *Controller) notify(msg *envelope.Message) {
	c.mu.RLock()
	listeners := make([]func(Event), len(c.listeners))
	copy(listeners, c.listeners)
	label := c.labeler(msg.From)
	c.mu.RUnlock()

	ev := Event{ID: msg.ID, Label: label, Address: msg.From, Text: msg.Text, Message: *msg.Clone()}
	for _, fn := range listeners {
		fn(ev)
	}
}

// resendTo runs the retry engine for targets. Failures only affect retries
// and are logged.
func (c *Controller) resendTo(targets ...string) {
	if err := c.engine.ResendUndelivered(targets); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "resendTo",
			"targets":  len(targets),
			"error":    err.Error(),
		}).Warn("Retry sweep failed")
	}
}

// LoadConversation returns the history with address. Expired messages are
// dropped and, if any were, the pruned history is written back.
func (c *Controller) LoadConversation(address string) ([]envelope.Message, error) {
	now := c.tp.Now()

	var (
		kept    []envelope.Message
		removed int
	)
	err := c.db.Update(address, func(messages []envelope.Message) ([]envelope.Message, bool) {
		kept = make([]envelope.Message, 0, len(messages))
		for _, m := range messages {
			if m.IsExpired(c.ttl, now) {
				continue
			}
			kept = append(kept, m)
		}
		removed = len(messages) - len(kept)
		return kept, removed > 0
	})
	if err != nil {
		return nil, err
	}

	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "LoadConversation",
			"address":  crypto.ShortAddress(address),
			"pruned":   removed,
		}).Debug("Pruned expired messages")
	}
	return kept, nil
}

// ClearConversation empties the history with address but keeps the
// correspondent.
func (c *Controller) ClearConversation(address string) error {
	return c.db.Save(address, nil)
}

// DeleteCorrespondent removes the correspondent and its history.
func (c *Controller) DeleteCorrespondent(address string) error {
	return c.db.Erase(address)
}

// Correspondents lists every address with a stored conversation.
func (c *Controller) Correspondents() ([]string, error) {
	return c.db.LoadAddresses()
}

// DeleteMessage removes one message, by local ID, from the history with
// address. It reports whether the message was found.
func (c *Controller) DeleteMessage(address string, id uuid.UUID) (bool, error) {
	found := false
	err := c.db.Update(address, func(messages []envelope.Message) ([]envelope.Message, bool) {
		for i := range messages {
			if messages[i].ID == id {
				found = true
				return append(messages[:i], messages[i+1:]...), true
			}
		}
		return messages, false
	})
	return found, err
}

// Pending drops expired retry entries and returns the number of sent
// messages still eligible for retry.
func (c *Controller) Pending() (int, error) {
	if _, err := c.registry.Sweep(); err != nil {
		return 0, err
	}
	return c.registry.Len()
}

func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}
