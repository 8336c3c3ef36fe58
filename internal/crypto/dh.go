package crypto

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrInvalidDHParams is returned for any Diffie-Hellman parameter that
// fails validation. Treated as an attempted downgrade: the handshake must
// abort, never degrade.
var ErrInvalidDHParams = errors.New("invalid dh parameters")

// dhCertainty is the Miller-Rabin round count for primality checks.
const dhCertainty = 30

var (
	bigOne = big.NewInt(1)
	bigTwo = big.NewInt(2)
)

// ValidateDHParams checks that g is an accepted generator for prime, that
// the residue constraints mod 4g hold, and that both prime and (prime-1)/2
// are probabilistically prime.
func ValidateDHParams(prime *big.Int, g int32) error {
	if prime.Sign() <= 0 {
		return fmt.Errorf("nonpositive prime: %w", ErrInvalidDHParams)
	}

	var ok bool
	switch g {
	case 2:
		ok = residue(prime, 8) == 7
	case 3:
		ok = residue(prime, 3) == 2
	case 4:
		ok = true
	case 5:
		r := residue(prime, 5)
		ok = r == 1 || r == 4
	case 6:
		r := residue(prime, 24)
		ok = r == 19 || r == 23
	case 7:
		r := residue(prime, 7)
		ok = r == 3 || r == 5 || r == 6
	default:
		return fmt.Errorf("unsupported generator %d: %w", g, ErrInvalidDHParams)
	}
	if !ok {
		return fmt.Errorf("generator %d residue check failed: %w", g, ErrInvalidDHParams)
	}

	if !prime.ProbablyPrime(dhCertainty) {
		return fmt.Errorf("modulus is not prime: %w", ErrInvalidDHParams)
	}
	half := new(big.Int).Sub(prime, bigOne)
	half.Rsh(half, 1)
	if !half.ProbablyPrime(dhCertainty) {
		return fmt.Errorf("(prime-1)/2 is not prime: %w", ErrInvalidDHParams)
	}
	return nil
}

// ValidateDHValue checks that a peer's public DH value lies strictly inside
// (1, prime-1). 0, 1 and prime-1 would confine the shared secret to a tiny
// subgroup; for full-size (2048-bit) primes the value must additionally
// keep a 2^64 margin from both ends.
func ValidateDHValue(prime, v *big.Int) error {
	if v.Cmp(bigTwo) < 0 {
		return fmt.Errorf("dh value too small: %w", ErrInvalidDHParams)
	}
	upper := new(big.Int).Sub(prime, bigOne)
	if v.Cmp(upper) >= 0 {
		return fmt.Errorf("dh value too large: %w", ErrInvalidDHParams)
	}

	if prime.BitLen() == 2048 {
		margin := new(big.Int).Lsh(bigOne, 2048-64)
		if v.Cmp(margin) < 0 {
			return fmt.Errorf("dh value below safety margin: %w", ErrInvalidDHParams)
		}
		upper.Sub(prime, margin)
		if v.Cmp(upper) > 0 {
			return fmt.Errorf("dh value above safety margin: %w", ErrInvalidDHParams)
		}
	}
	return nil
}

func residue(n *big.Int, mod int64) int64 {
	return new(big.Int).Mod(n, big.NewInt(mod)).Int64()
}
