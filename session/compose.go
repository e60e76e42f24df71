package session

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
)

// ComposeOption modifies a single Compose call.
type ComposeOption func(*composeOptions)

type composeOptions struct {
	recipientKey *crypto.PublicKey
}

// WithRecipientKey seals the message to pub instead of the key held in the
// directory. pub must belong to the recipient address; on success it is
// recorded in the directory.
func WithRecipientKey(pub crypto.PublicKey) ComposeOption {
	return func(o *composeOptions) {
		o.recipientKey = &pub
	}
}

// Compose writes, signs and sends a message from a local address.
//
// Every check (text, addresses, signing key, recipient key, sealing) happens
// before anything is transmitted or stored. After a successful seal the
// engine first resends whatever is pending for to, then the new message is
// transmitted, recorded for retry and appended to the conversation. A failure
// to record the message for retry is returned after it has been appended, so
// the log shows every message that went out. The returned message is the
// signed plaintext as stored in the log.
func (c *Controller) Compose(from, to, text string, opts ...ComposeOption) (*envelope.Message, error) {
	logger := crypto.NewLogger("session", "Compose").WithFields(logrus.Fields{
		"from": crypto.ShortAddress(from),
		"to":   crypto.ShortAddress(to),
	})

	var o composeOptions
	for _, opt := range opts {
		opt(&o)
	}

	if text == "" {
		return nil, ErrEmptyText
	}
	if !c.validate(from) {
		return nil, fmt.Errorf("%w: sender %q", ErrInvalidAddress, from)
	}
	if !c.validate(to) {
		return nil, fmt.Errorf("%w: recipient %q", ErrInvalidAddress, to)
	}

	key, ok := c.wallet.PrivateKey(from)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, crypto.ShortAddress(from))
	}

	msg := envelope.New(from, to, text, c.maxSize, c.tp.Now())
	if len(msg.Text) < len(text) {
		logger.WithField("kept", len(msg.Text)).Debug("Message text truncated")
	}
	if err := msg.Sign(key); err != nil {
		logger.WithError(err, "crypto", "sign").Error("Failed to sign message")
		return nil, wrap(ErrSign, err)
	}

	recipient, pinned, err := c.recipientKey(to, o)
	if err != nil {
		return nil, err
	}

	sealed := msg.Clone()
	if err := sealed.Encrypt(recipient); err != nil {
		logger.WithError(err, "crypto", "encrypt").Error("Failed to seal message")
		return nil, wrap(ErrEncrypt, err)
	}

	if pinned {
		if err := c.keys.PutPublicKey(to, recipient); err != nil {
			logger.WithError(err, "storage", "put_public_key").Warn("Failed to record pinned key")
		}
	}

	c.resendTo(to)

	if err := c.transmitter.Transmit(sealed); err != nil {
		// The registry entry below keeps the message eligible for retry.
		logger.WithError(err, "transport", "transmit").Warn("Transmit failed")
	}

	insertErr := c.registry.Insert(sealed)
	if insertErr != nil {
		logger.WithError(insertErr, "storage", "registry_insert").Error("Failed to record undelivered message")
	}
	if err := c.db.Append(to, *msg); err != nil {
		logger.WithError(err, "storage", "append").Error("Failed to append to conversation")
		return msg, err
	}
	if insertErr != nil {
		return msg, insertErr
	}

	logger.WithField("hash", msg.StaticHash().String()[:16]).Info("Message sent")
	return msg, nil
}

// recipientKey picks the key to seal to: a pinned key if one was given and it
// belongs to to, otherwise the directory entry.
func (c *Controller) recipientKey(to string, o composeOptions) (crypto.PublicKey, bool, error) {
	if o.recipientKey != nil {
		if !crypto.AddressMatchesKey(to, *o.recipientKey) {
			return crypto.PublicKey{}, false, fmt.Errorf("%w: pinned key does not match %s", ErrNoRecipientKey, crypto.ShortAddress(to))
		}
		return *o.recipientKey, true, nil
	}

	pub, ok := c.keys.PublicKey(to)
	if !ok {
		return crypto.PublicKey{}, false, fmt.Errorf("%w: %s", ErrNoRecipientKey, crypto.ShortAddress(to))
	}
	return pub, false, nil
}
