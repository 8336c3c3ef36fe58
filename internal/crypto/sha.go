package crypto

import "crypto/sha1"

// SHA1 digests the concatenation of parts.
func SHA1(parts ...[]byte) []byte {
	h := sha1.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Wipe zeroes a secret buffer before it is released. Clearing is explicit:
// freed memory is not guaranteed to be zeroed by the runtime.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
