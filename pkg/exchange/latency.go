package exchange

import "math/rand"

// LatencyModel draws one simulated delay in nanoseconds.
type LatencyModel interface {
	Simulate() int64
}

// FixedLatency always returns the same delay.
type FixedLatency struct {
	Nanos int64
}

func (l FixedLatency) Simulate() int64 { return l.Nanos }

// GaussianLatency draws normally distributed delays, floored at zero.
// The generator is owned by the model so a seeded run replays the same
// delay sequence.
type GaussianLatency struct {
	mean   float64
	stddev float64
	rng    *rand.Rand
}

// NewGaussianLatency builds a Gaussian latency model with its own
// seeded generator.
func NewGaussianLatency(mean, stddev float64, seed int64) *GaussianLatency {
	return &GaussianLatency{mean: mean, stddev: stddev, rng: rand.New(rand.NewSource(seed))}
}

func (l *GaussianLatency) Simulate() int64 {
	d := int64(l.rng.NormFloat64()*l.stddev + l.mean)
	if d < 0 {
		return 0
	}
	return d
}
