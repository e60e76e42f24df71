// Package crypto implements the identity primitives used by xchat.
//
// A local identity is a single 32-byte seed. The seed expands into an Ed25519
// signing key and an X25519 key agreement key; the pair of public halves forms
// a PublicKey, and the BLAKE2b hash of that key forms the user-visible Address.
//
// Example:
//
//	key, err := crypto.GenerateKey()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pub, err := key.Public()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Address:", crypto.AddressFromPublicKey(pub))
package crypto
