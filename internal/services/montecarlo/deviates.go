package montecarlo

import (
	"math"

	"golang.org/x/exp/rand"
)

// DeviateSource produces uniform and standard normal deviates from a seed.
//
// Normal draws use Box-Muller and cache the second value of each pair for
// the following call. The sequence of uniform draws and the spare-cache
// transitions are part of the contract: two sources built from the same
// seed and called in the same order return bit-identical values.
//
// A DeviateSource is not safe for concurrent use. Use Substream to give
// independent workers their own stream.
type DeviateSource struct {
	seed     uint64
	rng      *rand.Rand
	hasSpare bool
	spare    float64
}

// NewDeviateSource returns a source seeded with seed. Every seed is valid.
func NewDeviateSource(seed uint64) *DeviateSource {
	return &DeviateSource{
		seed: seed,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Seed returns the seed the source was built with.
func (s *DeviateSource) Seed() uint64 { return s.seed }

// Uniform returns a value in [0, 1).
func (s *DeviateSource) Uniform() float64 {
	return s.rng.Float64()
}

// Normal returns a standard normal deviate.
func (s *DeviateSource) Normal() float64 {
	if s.hasSpare {
		s.hasSpare = false
		return s.spare
	}
	s.hasSpare = true

	u1 := s.Uniform()
	for u1 == 0 {
		u1 = s.Uniform()
	}
	u2 := s.Uniform()

	r := math.Sqrt(-2 * math.Log(u1))
	theta := 2 * math.Pi * u2
	s.spare = r * math.Sin(theta)
	return r * math.Cos(theta)
}

// CorrelatedPair returns two standard normals with correlation rho. z1 is
// drawn first and an independent z3 second; z2 = rho*z1 + sqrt(1-rho^2)*z3.
func (s *DeviateSource) CorrelatedPair(rho float64) (z1, z2 float64) {
	z1 = s.Normal()
	z3 := s.Normal()
	z2 = rho*z1 + math.Sqrt(1-rho*rho)*z3
	return z1, z2
}

// Substream returns an independent source for stream id. The derived seed
// depends only on the parent's seed and id, never on how far the parent
// has advanced, so substreams are reproducible in any scheduling order.
func (s *DeviateSource) Substream(id uint64) *DeviateSource {
	return NewDeviateSource(mixSeed(s.seed, id))
}

// mixSeed runs splitmix64 over seed and id.
func mixSeed(seed, id uint64) uint64 {
	z := seed + (id+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
