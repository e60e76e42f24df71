package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
)

// Receive processes one envelope from the network.
//
// The sender's pending messages are resent first. Probes stop there.
// Envelopes sealed to somebody else are dropped silently and return nil;
// envelopes sealed to a local key that fail to authenticate return an error
// wrapping ErrIntegrity. Messages signed more than one TTL ago, or already in
// the log, are dropped without notification.
//
// Timestamp travels outside the signature, so the stored copy is stamped
// with the local arrival time and expires one TTL after it was received.
func (c *Controller) Receive(raw *envelope.Message) error {
	if raw == nil {
		return ErrMalformed
	}

	logger := crypto.NewLogger("session", "Receive").WithFields(logrus.Fields{
		"from": crypto.ShortAddress(raw.From),
		"to":   crypto.ShortAddress(raw.To),
	})

	if raw.From != "" {
		c.resendTo(raw.From)
	}
	if raw.IsEmpty() {
		logger.Debug("Liveness probe")
		return nil
	}

	if err := raw.Validate(); err != nil {
		return err
	}
	if !raw.IsEncrypted() {
		return fmt.Errorf("%w: unencrypted message", ErrMalformed)
	}

	key, ok := c.wallet.PrivateKey(raw.To)
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, crypto.ShortAddress(raw.To))
	}

	msg := raw.Clone()
	sender, err := msg.Decrypt(key)
	switch {
	case errors.Is(err, envelope.ErrNotForMe):
		logger.Debug("Envelope not addressed to this key")
		return nil
	case errors.Is(err, envelope.ErrIntegrity):
		logger.WithError(err, "security", "decrypt").Warn("Message failed authentication")
		return err
	case err != nil:
		return wrap(ErrMalformed, err)
	}

	sentAt, err := msg.SentAt()
	if err != nil {
		return err
	}
	now := c.tp.Now()
	if now.Sub(sentAt) > c.ttl {
		logger.WithField("date", msg.Date).Debug("Dropping expired message")
		return nil
	}

	msg.Timestamp = now.Unix()
	msg.ID = uuid.New()
	msg.Direction = envelope.Incoming
	hash := msg.StaticHash()

	appended := false
	err = c.db.Update(msg.From, func(messages []envelope.Message) ([]envelope.Message, bool) {
		for i := range messages {
			if messages[i].StaticHash() == hash {
				return messages, false
			}
		}
		appended = true
		return append(messages, *msg), true
	})
	if err != nil {
		logger.WithError(err, "storage", "append").Error("Failed to store incoming message")
		return err
	}

	if err := c.keys.PutPublicKey(msg.From, sender); err != nil {
		logger.WithError(err, "storage", "put_public_key").Warn("Failed to record sender key")
	}

	if !appended {
		logger.WithField("hash", hash.String()[:16]).Debug("Duplicate message")
		return nil
	}

	logger.WithField("hash", hash.String()[:16]).Info("Message received")
	c.notify(msg)
	return nil
}

// HandleIncoming adapts Receive to transport.Handler. Outcomes are logged;
// envelopes for addresses this node does not hold are routine on a broadcast
// medium and are logged at debug level.
func (c *Controller) HandleIncoming(msg *envelope.Message) {
	err := c.Receive(msg)
	if err == nil {
		return
	}

	fields := logrus.Fields{
		"function": "HandleIncoming",
		"error":    err.Error(),
	}
	switch {
	case errors.Is(err, ErrKeyNotFound):
		logrus.WithFields(fields).Debug("Envelope for a foreign address")
	case errors.Is(err, ErrIntegrity):
		logrus.WithFields(fields).Warn("Rejected forged or corrupted message")
	default:
		logrus.WithFields(fields).Warn("Failed to process incoming envelope")
	}
}
