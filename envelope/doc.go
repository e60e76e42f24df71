// Package envelope implements the encrypted message envelope.
//
// # Lifecycle
//
// A Message is created by New, signed once with the sender's identity key and
// then encrypted per send attempt on a fresh Clone:
//
//	msg := envelope.New(from, to, "hello", envelope.DefaultMaxTextSize, time.Now())
//	if err := msg.Sign(senderKey); err != nil {
//	    return err
//	}
//	sealed := msg.Clone()
//	if err := sealed.Encrypt(recipientPub); err != nil {
//	    return err
//	}
//
// The recipient opens it with Decrypt, which also returns the sender's public
// key for the key directory:
//
//	senderPub, err := sealed.Decrypt(recipientKey)
//	switch {
//	case errors.Is(err, envelope.ErrNotForMe):
//	    // someone else's traffic, ignore
//	case errors.Is(err, envelope.ErrIntegrity):
//	    // addressed to us but forged or corrupted
//	}
//
// # Sealing
//
// Text, signature and sender key are sealed with the Noise N pattern
// (X25519, ChaCha20-Poly1305, BLAKE2b) to the recipient's box key. The clear
// header (From, To, Date) is bound as the handshake prologue. An 8-byte
// recipient tag lets a receiver tell "not for me" apart from "for me but
// broken" without trial decryption.
//
// # Content hash
//
// StaticHash covers From, To, Text and Date. It is carried as Digest while the
// message is encrypted, so the hash of a sealed copy equals the hash of the
// plaintext original; Decrypt checks the two agree.
package envelope
