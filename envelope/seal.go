package envelope

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/xchat/crypto"
)

// RecipientTagSize is the size of the recipient tag carried next to the ciphertext.
const RecipientTagSize = 8

var (
	// ErrNotForMe means the message was sealed to somebody else. It is routine
	// broadcast traffic and must not be reported to the user.
	ErrNotForMe = errors.New("message not addressed to this key")
	// ErrIntegrity means the message was sealed to this key but failed to open
	// or to authenticate: tampering, forgery or corruption.
	ErrIntegrity = errors.New("message integrity check failed")
	// ErrInvalidRecipientKey indicates a missing or malformed recipient key.
	ErrInvalidRecipientKey = errors.New("invalid recipient public key")
)

// Noise N: one-way message to a known static key (-> e, es).
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)

// sealedPayload is the part of a message that only the recipient can read.
type sealedPayload struct {
	Text      string `cbor:"1,keyasint"`
	Signature []byte `cbor:"2,keyasint"`
	SenderKey []byte `cbor:"3,keyasint"`
}

// Sign signs the canonical plaintext fields with the sender's key and records
// the sender's public key so that recipients can verify it.
func (m *Message) Sign(key crypto.PrivateKey) error {
	logger := crypto.NewLogger("envelope", "Sign").WithField("from", crypto.ShortAddress(m.From))

	if m.IsEncrypted() {
		return ErrAlreadyEncrypted
	}
	if m.From == "" || m.To == "" {
		return ErrMalformed
	}

	pub, err := key.Public()
	if err != nil {
		logger.WithError(err, "key", "derive_public").Debug("Signing key rejected")
		return fmt.Errorf("signing key: %w", err)
	}

	sig, err := crypto.Sign(m.signedBytes(), key)
	if err != nil {
		logger.WithError(err, "primitive", "sign").Debug("Signature failed")
		return fmt.Errorf("sign: %w", err)
	}

	m.Signature = sig[:]
	m.SenderKey = pub.Bytes()
	logger.Debug("Message signed")
	return nil
}

// Verify checks the signature of a plaintext message against its recorded
// sender key, and that the key belongs to From.
func (m *Message) Verify() error {
	if m.IsEncrypted() {
		return ErrAlreadyEncrypted
	}
	pub, err := crypto.PublicKeyFromBytes(m.SenderKey)
	if err != nil {
		return fmt.Errorf("%w: sender key: %v", ErrIntegrity, err)
	}
	return verifyFields(m.From, m.To, m.Date, m.Text, m.Signature, pub)
}

// Encrypt seals Text, Signature and SenderKey to the recipient's key. The
// message is left untouched on failure.
func (m *Message) Encrypt(recipient crypto.PublicKey) error {
	logger := crypto.NewLogger("envelope", "Encrypt").WithField("to", crypto.ShortAddress(m.To))

	if m.IsEncrypted() {
		return ErrAlreadyEncrypted
	}
	if !recipient.IsValid() {
		return ErrInvalidRecipientKey
	}
	if !m.IsSigned() {
		return ErrNotSigned
	}

	plaintext, err := codecEncMode.Marshal(sealedPayload{
		Text:      m.Text,
		Signature: m.Signature,
		SenderKey: m.SenderKey,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeN,
		Initiator:   true,
		Prologue:    m.prologue(),
		PeerStatic:  recipient.Box[:],
	})
	if err != nil {
		logger.WithError(err, "noise", "handshake_state").Debug("Cannot create handshake state")
		return fmt.Errorf("create handshake state: %w", err)
	}

	ciphertext, _, _, err := hs.WriteMessage(nil, plaintext)
	crypto.ZeroBytes(plaintext)
	if err != nil {
		logger.WithError(err, "noise", "write_message").Debug("Seal failed")
		return fmt.Errorf("seal message: %w", err)
	}

	digest := m.StaticHash()
	tag := recipientTag(recipient)

	m.Digest = digest[:]
	m.RecipientTag = tag[:]
	m.Ciphertext = ciphertext
	m.Text = ""
	m.Signature = nil
	m.SenderKey = nil

	logger.WithFields(crypto.SecureFieldHash(ciphertext, "ciphertext")).Debug("Message encrypted")
	return nil
}

// Decrypt opens a message with a local key and returns the sender's public key.
//
// ErrNotForMe is returned when the message was sealed to a different key;
// errors wrapping ErrIntegrity mean it was sealed to this key but failed
// authentication. On any error the message is left untouched.
func (m *Message) Decrypt(key crypto.PrivateKey) (crypto.PublicKey, error) {
	logger := crypto.NewLogger("envelope", "Decrypt").WithField("from", crypto.ShortAddress(m.From))

	if !m.IsEncrypted() {
		return crypto.PublicKey{}, ErrNotEncrypted
	}

	localPub, err := key.Public()
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("local key: %w", err)
	}

	tag := recipientTag(localPub)
	if !bytes.Equal(tag[:], m.RecipientTag) {
		return crypto.PublicKey{}, ErrNotForMe
	}

	boxPriv, err := key.BoxKey()
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("local key: %w", err)
	}
	defer crypto.ZeroBytes(boxPriv[:])

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeN,
		Initiator:   false,
		Prologue:    m.prologue(),
		StaticKeypair: noise.DHKey{
			Private: boxPriv[:],
			Public:  localPub.Box[:],
		},
	})
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("create handshake state: %w", err)
	}

	plaintext, _, _, err := hs.ReadMessage(nil, m.Ciphertext)
	if err != nil {
		logger.WithError(err, "noise", "read_message").Debug("Open failed for intended recipient")
		return crypto.PublicKey{}, fmt.Errorf("%w: open: %v", ErrIntegrity, err)
	}
	defer crypto.ZeroBytes(plaintext)

	var payload sealedPayload
	if err := codecDecMode.Unmarshal(plaintext, &payload); err != nil {
		return crypto.PublicKey{}, fmt.Errorf("%w: payload: %v", ErrIntegrity, err)
	}

	sender, err := crypto.PublicKeyFromBytes(payload.SenderKey)
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("%w: sender key: %v", ErrIntegrity, err)
	}

	if err := verifyFields(m.From, m.To, m.Date, payload.Text, payload.Signature, sender); err != nil {
		logger.WithError(err, "auth", "verify").Debug("Sender authentication failed")
		return crypto.PublicKey{}, err
	}

	if computeHash(m.From, m.To, payload.Text, m.Date) != m.StaticHash() {
		return crypto.PublicKey{}, fmt.Errorf("%w: digest mismatch", ErrIntegrity)
	}

	m.Text = payload.Text
	m.Signature = payload.Signature
	m.SenderKey = payload.SenderKey
	m.Ciphertext = nil
	m.Digest = nil
	m.RecipientTag = nil

	logger.Debug("Message decrypted")
	return sender, nil
}

// verifyFields checks that sender owns from and signed the given fields.
func verifyFields(from, to, date, text string, signature []byte, sender crypto.PublicKey) error {
	if !crypto.AddressMatchesKey(from, sender) {
		return fmt.Errorf("%w: sender key does not match address", ErrIntegrity)
	}
	sig, err := crypto.SignatureFromBytes(signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	ok, err := crypto.Verify(signedBytes(from, to, date, text), sig, sender)
	if err != nil || !ok {
		return fmt.Errorf("%w: bad signature", ErrIntegrity)
	}
	return nil
}

func (m *Message) signedBytes() []byte {
	return signedBytes(m.From, m.To, m.Date, m.Text)
}

func signedBytes(from, to, date, text string) []byte {
	return appendFields([]byte("xchat-sig-v1"), from, to, date, text)
}

// prologue binds the clear header fields into the handshake transcript, so a
// relabelled From, To or Date fails to open.
func (m *Message) prologue() []byte {
	return appendFields([]byte("xchat-env-v1"), m.From, m.To, m.Date)
}

func recipientTag(pub crypto.PublicKey) [RecipientTagSize]byte {
	var tag [RecipientTagSize]byte
	digest := blake2b.Sum256(append([]byte("xchat-tag-v1"), pub.Box[:]...))
	copy(tag[:], digest[:RecipientTagSize])
	return tag
}
