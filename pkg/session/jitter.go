package session

import "math/rand"

// RandomSource provides random values for rekey jitter.
// Allows injection of deterministic sources for testing.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

// defaultRandomSource uses math/rand for production. Jitter only spreads
// rekeys over time and carries no secret.
type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource is the default random source using math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// rekeyDeadline returns the time at which a generation that started at start
// must be ratcheted: start + RekeyAfterTimeMs + a jitter in [0, maxJitter).
func rekeyDeadline(start int64, p Params, random RandomSource) int64 {
	deadline := start + p.RekeyAfterTimeMs
	if p.RekeyAfterTimeMaxJitterMs > 0 {
		deadline += int64(random.Float64() * float64(p.RekeyAfterTimeMaxJitterMs))
	}
	return deadline
}
