package crypto

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/udmitri/mtgo/internal/protocol"
)

// ErrPaddingRetries is returned when the padded plaintext cannot be brought
// below the modulus within the retry budget.
var ErrPaddingRetries = errors.New("rsa padding retries exhausted")

// maxPaddingRetries bounds the pad-and-compare loop. A fresh random tail
// lands below a 2048-bit modulus virtually always; hitting the bound means
// the modulus itself is bogus.
const maxPaddingRetries = 16

// rsaBlockSize is the modulus size for the server keys (2048 bit).
const rsaBlockSize = 256

// ServerKey is a server RSA public key with its precomputed fingerprint.
type ServerKey struct {
	N           *big.Int
	E           int64
	Fingerprint int64
}

// NewServerKey builds a ServerKey and computes its fingerprint: the low
// 8 bytes of SHA-1 over the serialized (n, e) pair, little-endian.
func NewServerKey(n *big.Int, e int64) *ServerKey {
	w := protocol.NewWriter(rsaBlockSize + 16)
	w.WriteBigInt(n)
	w.WriteBigInt(big.NewInt(e))
	digest := SHA1(w.Bytes())

	var fp int64
	for i := 0; i < 8; i++ {
		fp |= int64(digest[12+i]) << (8 * i)
	}
	return &ServerKey{N: n, E: e, Fingerprint: fp}
}

// RSAEncryptPadded pads data to one RSA block (SHA-1 of the payload, the
// payload itself, then random fill) and encrypts it with raw modular
// exponentiation. If the padded integer is not below the modulus, the pad
// is redrawn with fresh randomness, at most maxPaddingRetries times.
func RSAEncryptPadded(data []byte, key *ServerKey, rnd io.Reader) ([]byte, error) {
	if len(data) > rsaBlockSize-1-20 {
		return nil, fmt.Errorf("rsa encrypt: payload %d too large for block", len(data))
	}

	block := make([]byte, rsaBlockSize-1)
	defer Wipe(block)

	digest := SHA1(data)
	copy(block, digest)
	copy(block[20:], data)

	for attempt := 0; attempt < maxPaddingRetries; attempt++ {
		if _, err := io.ReadFull(rnd, block[20+len(data):]); err != nil {
			return nil, fmt.Errorf("rsa encrypt: reading pad randomness: %w", err)
		}

		m := new(big.Int).SetBytes(block)
		if m.Cmp(key.N) >= 0 {
			continue
		}

		c := m.Exp(m, big.NewInt(key.E), key.N)
		out := make([]byte, rsaBlockSize)
		c.FillBytes(out)
		return out, nil
	}
	return nil, ErrPaddingRetries
}
