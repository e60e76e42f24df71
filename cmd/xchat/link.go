package main

import (
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/opd-ai/xchat/crypto"
)

const linkScheme = "xchat"

// contactLink encodes an address and its public key for sharing.
func contactLink(pub crypto.PublicKey) string {
	u := url.URL{
		Scheme:   linkScheme,
		Opaque:   crypto.AddressFromPublicKey(pub),
		RawQuery: url.Values{"key": {hex.EncodeToString(pub.Bytes())}}.Encode(),
	}
	return u.String()
}

// parseContactLink decodes a link made by contactLink and checks that the key
// belongs to the address.
func parseContactLink(link string) (string, crypto.PublicKey, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", crypto.PublicKey{}, fmt.Errorf("parse link: %w", err)
	}
	if u.Scheme != linkScheme || u.Opaque == "" {
		return "", crypto.PublicKey{}, fmt.Errorf("not an %s: link", linkScheme)
	}

	pub, err := parsePublicKey(u.Query().Get("key"))
	if err != nil {
		return "", crypto.PublicKey{}, err
	}
	if err := crypto.ValidateAddress(u.Opaque); err != nil {
		return "", crypto.PublicKey{}, err
	}
	if !crypto.AddressMatchesKey(u.Opaque, pub) {
		return "", crypto.PublicKey{}, fmt.Errorf("key in link does not match address %s", u.Opaque)
	}
	return u.Opaque, pub, nil
}

func parsePublicKey(s string) (crypto.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("decode key: %w", err)
	}
	return crypto.PublicKeyFromBytes(raw)
}
