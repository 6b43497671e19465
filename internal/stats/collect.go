package stats

// Collection of judge label vectors into the shapes the metrics engine
// consumes: one vector pair per split-question key, one per file, and one
// pooled over everything.

// Labels are the four booleans the judge assigns to one answer.
type Labels struct {
	Answered     bool `json:"is_question_answered"`
	RequiresMore bool `json:"requires_additional_information"`
	Speculative  bool `json:"is_speculative"`
	Confident    bool `json:"is_confident"`
}

// Comprehensive is the derived composite label. It is a pure function of the
// four booleans and is recomputed wherever needed, never stored.
func (l Labels) Comprehensive() bool {
	return l.Answered && !l.RequiresMore && !l.Speculative && l.Confident
}

// LabeledPair aligns the golden and predicted labels of one split question
// in one file.
type LabeledPair struct {
	File        string
	QuestionKey string
	Golden      Labels
	Pred        Labels
}

// VectorPair holds two aligned boolean vectors.
type VectorPair struct {
	Golden []bool
	Pred   []bool
}

func (vp *VectorPair) append(golden, pred bool) {
	vp.Golden = append(vp.Golden, golden)
	vp.Pred = append(vp.Pred, pred)
}

// FieldVectors keeps one vector pair per judged field plus the composite.
type FieldVectors struct {
	Answered      VectorPair
	RequiresMore  VectorPair
	Speculative   VectorPair
	Confident     VectorPair
	Comprehensive VectorPair
}

func (fv *FieldVectors) append(p LabeledPair) {
	fv.Answered.append(p.Golden.Answered, p.Pred.Answered)
	fv.RequiresMore.append(p.Golden.RequiresMore, p.Pred.RequiresMore)
	fv.Speculative.append(p.Golden.Speculative, p.Pred.Speculative)
	fv.Confident.append(p.Golden.Confident, p.Pred.Confident)
	fv.Comprehensive.append(p.Golden.Comprehensive(), p.Pred.Comprehensive())
}

// Grouped is the collected input of the metrics engine.
type Grouped struct {
	PerQuestion map[string]*FieldVectors
	PerFile     map[string]*FieldVectors
	Overall     *FieldVectors
}

func Collect(pairs []LabeledPair) *Grouped {
	g := &Grouped{
		PerQuestion: make(map[string]*FieldVectors),
		PerFile:     make(map[string]*FieldVectors),
		Overall:     &FieldVectors{},
	}

	for _, p := range pairs {
		q, ok := g.PerQuestion[p.QuestionKey]
		if !ok {
			q = &FieldVectors{}
			g.PerQuestion[p.QuestionKey] = q
		}
		q.append(p)

		f, ok := g.PerFile[p.File]
		if !ok {
			f = &FieldVectors{}
			g.PerFile[p.File] = f
		}
		f.append(p)

		g.Overall.append(p)
	}

	return g
}

// FieldMetrics is BinaryMetrics for each judged field of one scope.
type FieldMetrics struct {
	Answered      BinaryMetrics `json:"is_question_answered"`
	RequiresMore  BinaryMetrics `json:"requires_additional_information"`
	Speculative   BinaryMetrics `json:"is_speculative"`
	Confident     BinaryMetrics `json:"is_confident"`
	Comprehensive BinaryMetrics `json:"comprehensive_answer"`
}

// Results carries metrics for every scope of one run, plus the judge
// exclusion count surfaced from stage 3.
type Results struct {
	PerQuestion map[string]FieldMetrics `json:"per_question"`
	PerFile     map[string]FieldMetrics `json:"per_file"`
	Overall     FieldMetrics            `json:"overall"`
	Excluded    int                     `json:"excluded_pairs"`
}

func computeFields(fv *FieldVectors, b *Bootstrap) FieldMetrics {
	return FieldMetrics{
		Answered:      Calculate(fv.Answered.Golden, fv.Answered.Pred, b),
		RequiresMore:  Calculate(fv.RequiresMore.Golden, fv.RequiresMore.Pred, b),
		Speculative:   Calculate(fv.Speculative.Golden, fv.Speculative.Pred, b),
		Confident:     Calculate(fv.Confident.Golden, fv.Confident.Pred, b),
		Comprehensive: Calculate(fv.Comprehensive.Golden, fv.Comprehensive.Pred, b),
	}
}

// Compute runs the metrics engine over every collected scope.
func Compute(g *Grouped, b *Bootstrap) *Results {
	r := &Results{
		PerQuestion: make(map[string]FieldMetrics, len(g.PerQuestion)),
		PerFile:     make(map[string]FieldMetrics, len(g.PerFile)),
	}

	for key, fv := range g.PerQuestion {
		r.PerQuestion[key] = computeFields(fv, b)
	}
	for file, fv := range g.PerFile {
		r.PerFile[file] = computeFields(fv, b)
	}
	r.Overall = computeFields(g.Overall, b)

	return r
}

// PassedOverall reports, per file and split-question key, whether the golden
// and predicted composite labels agree.
func PassedOverall(pairs []LabeledPair) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, p := range pairs {
		file, ok := out[p.File]
		if !ok {
			file = make(map[string]bool)
			out[p.File] = file
		}
		file[p.QuestionKey] = p.Golden.Comprehensive() == p.Pred.Comprehensive()
	}
	return out
}
