package stats

// Binary classification metrics over two aligned boolean vectors. The golden
// vector is treated as ground truth and the predicted vector as the
// classifier output.

// ConfusionMatrix is the 2x2 contingency table for one vector pair.
type ConfusionMatrix struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	TN int `json:"tn"`
	FN int `json:"fn"`
}

func Confusion(yTrue, yPred []bool) ConfusionMatrix {
	var m ConfusionMatrix
	for i := range yTrue {
		switch {
		case yTrue[i] && yPred[i]:
			m.TP++
		case !yTrue[i] && yPred[i]:
			m.FP++
		case yTrue[i] && !yPred[i]:
			m.FN++
		default:
			m.TN++
		}
	}
	return m
}

func (m ConfusionMatrix) Total() int {
	return m.TP + m.FP + m.TN + m.FN
}

// Accuracy = (TP + TN) / N.
func Accuracy(yTrue, yPred []bool) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	agree := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			agree++
		}
	}
	return float64(agree) / float64(len(yTrue))
}

// Precision = TP / (TP + FP). The second return reports whether the
// denominator was non-zero; an undefined value is 0 by policy, not an error.
func Precision(yTrue, yPred []bool) (float64, bool) {
	m := Confusion(yTrue, yPred)
	if m.TP+m.FP == 0 {
		return 0, false
	}
	return float64(m.TP) / float64(m.TP+m.FP), true
}

// Recall = TP / (TP + FN), same undefined-denominator policy as Precision.
func Recall(yTrue, yPred []bool) (float64, bool) {
	m := Confusion(yTrue, yPred)
	if m.TP+m.FN == 0 {
		return 0, false
	}
	return float64(m.TP) / float64(m.TP+m.FN), true
}

// F1 is the harmonic mean of precision and recall.
func F1(yTrue, yPred []bool) (float64, bool) {
	precision, _ := Precision(yTrue, yPred)
	recall, _ := Recall(yTrue, yPred)
	if precision+recall == 0 {
		return 0, false
	}
	return 2 * precision * recall / (precision + recall), true
}

// Kappa is Cohen's kappa: chance-corrected agreement between the two
// labelings, computed from the marginal positive rates.
func Kappa(yTrue, yPred []bool) float64 {
	n := len(yTrue)
	if n == 0 {
		return 0
	}

	observed := Accuracy(yTrue, yPred)

	truePos := 0
	predPos := 0
	for i := range yTrue {
		if yTrue[i] {
			truePos++
		}
		if yPred[i] {
			predPos++
		}
	}

	truePosRate := float64(truePos) / float64(n)
	predPosRate := float64(predPos) / float64(n)
	expected := truePosRate*predPosRate + (1-truePosRate)*(1-predPosRate)

	if expected == 1 {
		return 1
	}
	return (observed - expected) / (1 - expected)
}

// Metric is one point estimate with an optional bootstrap interval.
// Defined is false when the denominator was zero and the value is 0 by the
// zero-division policy.
type Metric struct {
	Value   float64   `json:"value"`
	Defined bool      `json:"defined"`
	CI      *Interval `json:"ci,omitempty"`
}

// BinaryMetrics bundles the five metrics for one vector pair.
type BinaryMetrics struct {
	Accuracy  Metric `json:"accuracy"`
	Precision Metric `json:"precision"`
	Recall    Metric `json:"recall"`
	F1        Metric `json:"f1"`
	Kappa     Metric `json:"kappa"`
	NSamples  int    `json:"n_samples"`
}

// Calculate computes the five point estimates plus bootstrap intervals for
// one (golden, predicted) vector pair. Vectors must be equal length.
func Calculate(yTrue, yPred []bool, b *Bootstrap) BinaryMetrics {
	accuracy := Accuracy(yTrue, yPred)
	precision, precisionOK := Precision(yTrue, yPred)
	recall, recallOK := Recall(yTrue, yPred)
	f1, f1OK := F1(yTrue, yPred)
	kappa := Kappa(yTrue, yPred)

	return BinaryMetrics{
		Accuracy: Metric{
			Value:   accuracy,
			Defined: len(yTrue) > 0,
			CI:      b.Interval(yTrue, yPred, Accuracy),
		},
		Precision: Metric{
			Value:   precision,
			Defined: precisionOK,
			CI:      b.Interval(yTrue, yPred, defined(Precision)),
		},
		Recall: Metric{
			Value:   recall,
			Defined: recallOK,
			CI:      b.Interval(yTrue, yPred, defined(Recall)),
		},
		F1: Metric{
			Value:   f1,
			Defined: f1OK,
			CI:      b.Interval(yTrue, yPred, defined(F1)),
		},
		Kappa: Metric{
			Value:   kappa,
			Defined: len(yTrue) > 0,
			CI:      b.Interval(yTrue, yPred, Kappa),
		},
		NSamples: len(yTrue),
	}
}

func defined(fn func(t, p []bool) (float64, bool)) func(t, p []bool) float64 {
	return func(t, p []bool) float64 {
		v, _ := fn(t, p)
		return v
	}
}
