package crypto

import (
	"errors"
	"math/bits"
	"math/rand"
)

// ErrNotComposite is returned when pq cannot be split into two factors.
var ErrNotComposite = errors.New("pq has no nontrivial factorization")

// Pollard's rho budget: rounds of fresh random starting points, each with a
// bounded walk. The bound is generous for a 64-bit pq; on exhaustion we fall
// back to deterministic trial division, which always terminates.
const (
	rhoRounds     = 64
	rhoIterations = 1 << 16
)

// FactorizePQ splits the server-supplied 64-bit composite pq into its two
// prime factors, p < q. rnd seeds the probabilistic phase; tests pass a
// fixed-seed source for determinism.
func FactorizePQ(pq uint64, rnd *rand.Rand) (p, q uint64, err error) {
	if pq < 4 {
		return 0, 0, ErrNotComposite
	}
	if pq%2 == 0 {
		return ordered(2, pq/2)
	}

	for round := 0; round < rhoRounds; round++ {
		if f := pollardRho(pq, rnd.Uint64()%(pq-3)+1, uint64(round)+1); f != 0 {
			return ordered(f, pq/f)
		}
	}

	// Deterministic fallback.
	for d := uint64(3); d*d <= pq; d += 2 {
		if pq%d == 0 {
			return ordered(d, pq/d)
		}
	}
	return 0, 0, ErrNotComposite
}

func ordered(a, b uint64) (uint64, uint64, error) {
	if a == 1 || b == 1 {
		return 0, 0, ErrNotComposite
	}
	if a > b {
		a, b = b, a
	}
	return a, b, nil
}

// pollardRho runs one bounded rho walk x -> x^2 + c (mod n) from x0.
// Returns a nontrivial factor or 0 when the budget runs out.
func pollardRho(n, x0, c uint64) uint64 {
	x, y, d := x0, x0, uint64(1)
	for i := 0; i < rhoIterations && d == 1; i++ {
		x = rhoStep(x, c, n)
		y = rhoStep(rhoStep(y, c, n), c, n)
		diff := x - y
		if x < y {
			diff = y - x
		}
		if diff == 0 {
			return 0
		}
		d = gcd(diff, n)
	}
	if d != 1 && d != n {
		return d
	}
	return 0
}

func rhoStep(x, c, n uint64) uint64 {
	return (mulmod(x, x, n) + c) % n
}

// mulmod computes a*b mod n in 128-bit intermediate precision.
func mulmod(a, b, n uint64) uint64 {
	hi, lo := bits.Mul64(a%n, b%n)
	_, rem := bits.Div64(hi, lo, n)
	return rem
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
