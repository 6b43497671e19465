package stats

import (
	"math"
	"math/rand"
	"sort"
)

// Bootstrap estimates 95% confidence intervals by resampling question-level
// pairs with replacement and taking the 2.5th/97.5th percentiles of the
// resampled metric distribution. The source is seeded so a run's intervals
// are reproducible.
type Bootstrap struct {
	samples    int
	confidence float64
	rng        *rand.Rand
}

const DefaultSamples = 2000

func NewBootstrap(samples int, seed int64) *Bootstrap {
	if samples <= 0 {
		samples = DefaultSamples
	}
	return &Bootstrap{
		samples:    samples,
		confidence: 0.95,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Interval is a closed [Low, High] range.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

func (iv Interval) Width() float64 {
	return iv.High - iv.Low
}

// Interval resamples (yTrue, yPred) pairs and returns the percentile bounds
// of metric over the resampled distribution. Empty input yields nil.
// Degenerate input (every resample produces the same value) naturally yields
// a zero-width interval at the point estimate.
func (b *Bootstrap) Interval(yTrue, yPred []bool, metric func(t, p []bool) float64) *Interval {
	n := len(yTrue)
	if n == 0 || b == nil {
		return nil
	}

	values := make([]float64, b.samples)
	sampleTrue := make([]bool, n)
	samplePred := make([]bool, n)

	for i := 0; i < b.samples; i++ {
		for j := 0; j < n; j++ {
			k := b.rng.Intn(n)
			sampleTrue[j] = yTrue[k]
			samplePred[j] = yPred[k]
		}
		values[i] = metric(sampleTrue, samplePred)
	}

	sort.Float64s(values)

	lowQ := (1 - b.confidence) / 2
	highQ := 1 - lowQ

	return &Interval{
		Low:  percentile(values, lowQ),
		High: percentile(values, highQ),
	}
}

// percentile with linear interpolation over a sorted slice.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}

	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Overlap reports whether two intervals intersect or touch. Overlapping
// intervals mean the difference between two experiments is inconclusive.
func Overlap(a, b Interval) bool {
	return math.Max(a.Low, b.Low) <= math.Min(a.High, b.High)
}

// Comparison is the outcome of comparing the same metric across two
// experiments by CI overlap. This is a heuristic, not a hypothesis test.
type Comparison struct {
	Conclusive bool `json:"conclusive"`
	// Better is 0 when inconclusive, 1 when A is better, 2 when B is better.
	Better int `json:"better"`
}

func Compare(a, b Metric) Comparison {
	if a.CI == nil || b.CI == nil || Overlap(*a.CI, *b.CI) {
		return Comparison{}
	}

	c := Comparison{Conclusive: true, Better: 1}
	if b.Value > a.Value {
		c.Better = 2
	}
	return c
}
