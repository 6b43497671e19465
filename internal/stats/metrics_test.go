package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComprehensiveTruthTable(t *testing.T) {
	// comprehensive = answered && !requiresMore && !speculative && confident
	for i := 0; i < 16; i++ {
		l := Labels{
			Answered:     i&1 != 0,
			RequiresMore: i&2 != 0,
			Speculative:  i&4 != 0,
			Confident:    i&8 != 0,
		}
		want := l.Answered && !l.RequiresMore && !l.Speculative && l.Confident
		assert.Equal(t, want, l.Comprehensive(), "labels %+v", l)
	}

	assert.True(t, Labels{Answered: true, Confident: true}.Comprehensive())
	assert.False(t, Labels{Answered: true, RequiresMore: true, Confident: true}.Comprehensive())
}

func TestConfusionWorkedExample(t *testing.T) {
	golden := []bool{true, true, false, false}
	pred := []bool{true, false, false, true}

	m := Confusion(golden, pred)
	assert.Equal(t, 1, m.TP)
	assert.Equal(t, 1, m.FP)
	assert.Equal(t, 1, m.FN)
	assert.Equal(t, 1, m.TN)

	assert.InDelta(t, 0.5, Accuracy(golden, pred), 1e-9)

	precision, ok := Precision(golden, pred)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, precision, 1e-9)

	recall, ok := Recall(golden, pred)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, recall, 1e-9)

	f1, ok := F1(golden, pred)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, f1, 1e-9)

	// Marginals are 0.5/0.5 so chance agreement is 0.5, matching the
	// observed agreement: kappa must be exactly 0.
	assert.InDelta(t, 0.0, Kappa(golden, pred), 1e-9)
}

func TestPrecisionUndefinedDenominator(t *testing.T) {
	golden := []bool{true, false}
	pred := []bool{false, false}

	precision, ok := Precision(golden, pred)
	assert.False(t, ok)
	assert.Equal(t, 0.0, precision)
}

func TestRecallUndefinedDenominator(t *testing.T) {
	golden := []bool{false, false}
	pred := []bool{true, false}

	recall, ok := Recall(golden, pred)
	assert.False(t, ok)
	assert.Equal(t, 0.0, recall)
}

func TestKappaPerfectAgreement(t *testing.T) {
	v := []bool{true, true, false, true}
	assert.InDelta(t, 1.0, Kappa(v, v), 1e-9)

	// Constant vectors: expected agreement is 1, kappa defined as 1.
	constant := []bool{true, true, true}
	assert.InDelta(t, 1.0, Kappa(constant, constant), 1e-9)
}

func TestCalculatePointEstimates(t *testing.T) {
	golden := []bool{true, true, false, false}
	pred := []bool{true, false, false, true}

	b := NewBootstrap(200, 7)
	m := Calculate(golden, pred, b)

	assert.InDelta(t, 0.5, m.Accuracy.Value, 1e-9)
	assert.InDelta(t, 0.5, m.Precision.Value, 1e-9)
	assert.InDelta(t, 0.5, m.Recall.Value, 1e-9)
	assert.InDelta(t, 0.5, m.F1.Value, 1e-9)
	assert.InDelta(t, 0.0, m.Kappa.Value, 1e-9)
	assert.Equal(t, 4, m.NSamples)
	assert.NotNil(t, m.Accuracy.CI)
}

func TestEmptyVectors(t *testing.T) {
	m := Calculate(nil, nil, NewBootstrap(100, 1))
	assert.False(t, m.Accuracy.Defined)
	assert.Nil(t, m.Accuracy.CI)
	assert.Equal(t, 0, m.NSamples)
}
