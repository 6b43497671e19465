package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalDegenerateConstantVectors(t *testing.T) {
	// Every resample of a constant vector pair produces the same metric
	// value: the interval collapses to zero width at the point estimate.
	allTrue := []bool{true, true, true, true, true}

	b := NewBootstrap(500, 42)
	iv := b.Interval(allTrue, allTrue, Accuracy)

	require.NotNil(t, iv)
	assert.Equal(t, 0.0, iv.Width())
	assert.InDelta(t, 1.0, iv.Low, 1e-9)

	allFalse := []bool{false, false, false}
	iv = b.Interval(allFalse, allFalse, Accuracy)
	require.NotNil(t, iv)
	assert.Equal(t, 0.0, iv.Width())
	assert.InDelta(t, 1.0, iv.Low, 1e-9)
}

func TestIntervalEmptyInput(t *testing.T) {
	b := NewBootstrap(100, 1)
	assert.Nil(t, b.Interval(nil, nil, Accuracy))
}

func TestIntervalBoundsOrderedAndContained(t *testing.T) {
	golden := []bool{true, true, true, false, false, true, false, true, true, false}
	pred := []bool{true, false, true, false, true, true, false, true, false, false}

	b := NewBootstrap(2000, 13)
	iv := b.Interval(golden, pred, Accuracy)

	require.NotNil(t, iv)
	assert.LessOrEqual(t, iv.Low, iv.High)
	assert.GreaterOrEqual(t, iv.Low, 0.0)
	assert.LessOrEqual(t, iv.High, 1.0)
}

func TestIntervalReproducibleForSeed(t *testing.T) {
	golden := []bool{true, false, true, true, false, true}
	pred := []bool{true, true, false, true, false, true}

	a := NewBootstrap(300, 99).Interval(golden, pred, Accuracy)
	b := NewBootstrap(300, 99).Interval(golden, pred, Accuracy)

	assert.Equal(t, a, b)
}

func TestOverlapSymmetricAndDeterministic(t *testing.T) {
	a := Interval{Low: 0.68, High: 0.72}
	b := Interval{Low: 0.73, High: 0.77}

	assert.False(t, Overlap(a, b))
	assert.Equal(t, Overlap(a, b), Overlap(b, a))

	c := Interval{Low: 0.65, High: 0.75}
	d := Interval{Low: 0.67, High: 0.77}

	assert.True(t, Overlap(c, d))
	assert.Equal(t, Overlap(c, d), Overlap(d, c))

	// Touching endpoints count as overlapping.
	e := Interval{Low: 0.5, High: 0.6}
	f := Interval{Low: 0.6, High: 0.7}
	assert.True(t, Overlap(e, f))
}

func TestCompare(t *testing.T) {
	lower := Metric{Value: 0.70, CI: &Interval{Low: 0.68, High: 0.72}}
	higher := Metric{Value: 0.75, CI: &Interval{Low: 0.73, High: 0.77}}

	c := Compare(lower, higher)
	assert.True(t, c.Conclusive)
	assert.Equal(t, 2, c.Better)

	c = Compare(higher, lower)
	assert.True(t, c.Conclusive)
	assert.Equal(t, 1, c.Better)

	overlapping := Metric{Value: 0.70, CI: &Interval{Low: 0.65, High: 0.75}}
	other := Metric{Value: 0.72, CI: &Interval{Low: 0.67, High: 0.77}}
	c = Compare(overlapping, other)
	assert.False(t, c.Conclusive)
	assert.Equal(t, 0, c.Better)

	// Missing interval on either side is inconclusive.
	c = Compare(Metric{Value: 0.7}, higher)
	assert.False(t, c.Conclusive)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1.0, percentile(sorted, 0), 1e-9)
	assert.InDelta(t, 5.0, percentile(sorted, 1), 1e-9)
	assert.InDelta(t, 3.0, percentile(sorted, 0.5), 1e-9)
	assert.InDelta(t, 1.1, percentile(sorted, 0.025), 1e-9)
}
