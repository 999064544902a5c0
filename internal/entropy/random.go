// Package entropy provides seeded random streams for stochastic events.
// Every agent draws from its own stream so a run is reproducible from its
// seed regardless of how agents are scheduled across goroutines.
package entropy

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Stream is a deterministic random source. It is not safe for concurrent
// use; give each goroutine or agent its own stream.
type Stream struct {
	src *rand.PCG
	rng *rand.Rand
}

// New returns a stream seeded with seed and a stream identifier.
func New(seed, stream uint64) *Stream {
	src := rand.NewPCG(seed, mix(stream))
	return &Stream{src: src, rng: rand.New(src)}
}

// ForAgent derives the stream for one agent from the run seed.
func ForAgent(seed, agentID uint64) *Stream {
	return New(seed^mix(agentID+1), agentID)
}

// mix is the splitmix64 finalizer; it spreads consecutive ids apart.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Float64 returns a uniform value in [0, 1).
func (s *Stream) Float64() float64 {
	return s.rng.Float64()
}

// IntN returns a uniform value in [0, n). It panics if n <= 0.
func (s *Stream) IntN(n int) int {
	return s.rng.IntN(n)
}

// Bernoulli reports true with probability p.
func (s *Stream) Bernoulli(p float64) bool {
	return s.rng.Float64() < p
}

// Gamma draws from a gamma distribution with the given shape and scale.
func (s *Stream) Gamma(shape, scale float64) float64 {
	if shape <= 0 || scale <= 0 {
		return 0
	}
	return distuv.Gamma{Alpha: shape, Beta: 1 / scale, Src: s.src}.Rand()
}

// Categorical returns an index drawn proportionally to weights.
func (s *Stream) Categorical(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	return int(distuv.NewCategorical(weights, s.src).Rand())
}

// Perm returns a random permutation of [0, n).
func (s *Stream) Perm(n int) []int {
	return s.rng.Perm(n)
}

// Shuffle shuffles n elements with swap.
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	s.rng.Shuffle(n, swap)
}

// CryptoSeed returns a seed from crypto/rand, used when the configuration
// asks for a fresh run with seed 0.
func CryptoSeed() uint64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 1
	}
	return binary.LittleEndian.Uint64(buf[:])
}
