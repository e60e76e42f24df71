package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/xchat/crypto"
)

func newPublicKey(t *testing.T) crypto.PublicKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub, err := key.Public()
	require.NoError(t, err)
	return pub
}

func TestContactLinkRoundTrip(t *testing.T) {
	pub := newPublicKey(t)

	link := contactLink(pub)
	assert.True(t, strings.HasPrefix(link, "xchat:"+crypto.AddressFromPublicKey(pub)+"?key="))

	address, got, err := parseContactLink(link)
	require.NoError(t, err)
	assert.Equal(t, crypto.AddressFromPublicKey(pub), address)
	assert.True(t, got.Equal(pub))
}

func TestParseContactLinkRejectsMismatchedKey(t *testing.T) {
	pub, other := newPublicKey(t), newPublicKey(t)

	forged := "xchat:" + crypto.AddressFromPublicKey(pub) + strings.TrimPrefix(contactLink(other), "xchat:"+crypto.AddressFromPublicKey(other))
	_, _, err := parseContactLink(forged)
	assert.Error(t, err)
}

func TestParseContactLinkRejectsGarbage(t *testing.T) {
	for _, link := range []string{
		"",
		"https://example.com",
		"xchat:",
		"xchat:abcd?key=zz",
	} {
		_, _, err := parseContactLink(link)
		assert.Error(t, err, link)
	}
}
