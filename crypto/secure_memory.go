package crypto

import (
	"crypto/subtle"
	"runtime"
)

// ZeroBytes erases the contents of a byte slice containing sensitive data.
func ZeroBytes(data []byte) {
	if data == nil {
		return
	}

	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)

	// Keep the overwrite from being optimized away.
	runtime.KeepAlive(data)
}

// WipeKey erases a private key in place.
func WipeKey(k *PrivateKey) {
	if k == nil {
		return
	}
	ZeroBytes(k[:])
}
