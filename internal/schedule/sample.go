package schedule

import (
	"math"
	"time"

	"github.com/talgya/daysim/internal/config"
)

// Rand is the per-agent random stream every sampler draws from.
type Rand interface {
	Float64() float64
	IntN(n int) int
	Gamma(shape, scale float64) float64
	Categorical(weights []float64) int
}

// SampleDuration draws a gamma-distributed duration with the given mean
// and scale, floored to whole seconds and capped at its maximum.
func SampleDuration(r Rand, ds config.DurationSpec) time.Duration {
	hours := r.Gamma(ds.Mean/ds.Scale, ds.Scale)
	secs := math.Floor(hours * 3600)
	if limit := ds.Max * 3600; secs > limit {
		secs = limit
	}
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second
}

// DurationSpec returns the distribution used for activities of kind k.
// Idle blocks are never sampled and get the awake distribution.
func DurationSpec(d config.Durations, k Kind) config.DurationSpec {
	switch k {
	case KindSleep:
		return d.Sleep
	case KindWork:
		return d.Work
	case KindSocialize:
		return d.Socialize
	case KindGrocery:
		return d.Grocery
	case KindExercise:
		return d.Exercise
	case KindIdle:
		return d.Awake
	}
	return d.Awake
}

// Presample returns, for each of n days, the duration of an optional
// activity of kind k or zero when it does not happen that day. Day gaps are
// drawn from weights until the horizon is passed.
func Presample(r Rand, d config.Durations, weights []config.DayWeight, k Kind, n int) []time.Duration {
	out := make([]time.Duration, n)
	if len(weights) == 0 {
		return out
	}
	w := make([]float64, len(weights))
	for i, dw := range weights {
		w[i] = dw.Weight
	}

	day := 0
	for {
		day += max(weights[r.Categorical(w)].Days, 1)
		if day >= n {
			return out
		}
		out[day] = SampleDuration(r, DurationSpec(d, k))
	}
}
