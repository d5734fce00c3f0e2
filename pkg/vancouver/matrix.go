package vancouver

import "sort"

// Scale is the closed score range evaluators are allowed to use.
type Scale struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (s Scale) Contains(v float64) bool {
	return v >= s.Min && v <= s.Max
}

// Evaluation is one immutable peer score: an evaluator grading a
// target's answer to a single question.
type Evaluation struct {
	Evaluator string  `json:"evaluator" yaml:"evaluator"`
	Target    string  `json:"target" yaml:"target"`
	Question  string  `json:"question" yaml:"question"`
	Score     float64 `json:"score" yaml:"score"`
	Comment   string  `json:"comment,omitempty" yaml:"comment,omitempty"`
}

type pairKey struct {
	target   string
	question string
}

// Matrix is the validated in-memory collection of evaluations handed
// to Compute. The engine never mutates it.
type Matrix struct {
	Scale       Scale
	Evaluations []Evaluation
}

// NewMatrix returns an empty matrix for the given scale.
func NewMatrix(scale Scale) *Matrix {
	return &Matrix{Scale: scale}
}

func (m *Matrix) Add(e Evaluation) {
	m.Evaluations = append(m.Evaluations, e)
}

func (m *Matrix) Len() int {
	return len(m.Evaluations)
}

// validate checks structural integrity: the matrix must be non-empty,
// every score must lie on the scale, and each (evaluator, target,
// question) key must appear at most once. Deduplication is the
// collector's job; a duplicate here is a data-integrity error, not
// something to silently overwrite.
func (m *Matrix) validate() error {
	if m.Scale.Min >= m.Scale.Max {
		return validationErrorf("scale min %v must be below max %v", m.Scale.Min, m.Scale.Max)
	}
	if len(m.Evaluations) == 0 {
		return validationErrorf("no evaluations")
	}

	type evalKey struct {
		evaluator string
		target    string
		question  string
	}
	seen := make(map[evalKey]bool, len(m.Evaluations))

	for _, e := range m.Evaluations {
		if e.Evaluator == "" || e.Target == "" || e.Question == "" {
			return validationErrorf("evaluation with empty key: %+v", e)
		}
		if !m.Scale.Contains(e.Score) {
			return validationErrorf("score %v from %s for %s/%s outside scale [%v, %v]",
				e.Score, e.Evaluator, e.Target, e.Question, m.Scale.Min, m.Scale.Max)
		}
		k := evalKey{e.Evaluator, e.Target, e.Question}
		if seen[k] {
			return validationErrorf("duplicate evaluation: %s scored %s/%s more than once",
				e.Evaluator, e.Target, e.Question)
		}
		seen[k] = true
	}
	return nil
}

// index holds the derived lookups the engine iterates over. Key order
// is sorted so repeated runs accumulate floating point sums in the
// same order and produce bit-identical results.
type index struct {
	targets     []string
	questions   []string
	evaluators  []string
	byPair      map[pairKey][]Evaluation
	byEvaluator map[string][]Evaluation
}

func (m *Matrix) buildIndex() *index {
	ix := &index{
		byPair:      make(map[pairKey][]Evaluation),
		byEvaluator: make(map[string][]Evaluation),
	}

	targets := make(map[string]bool)
	questions := make(map[string]bool)
	evaluators := make(map[string]bool)

	for _, e := range m.Evaluations {
		targets[e.Target] = true
		questions[e.Question] = true
		evaluators[e.Evaluator] = true
		pk := pairKey{e.Target, e.Question}
		ix.byPair[pk] = append(ix.byPair[pk], e)
		ix.byEvaluator[e.Evaluator] = append(ix.byEvaluator[e.Evaluator], e)
	}

	ix.targets = sortedKeys(targets)
	ix.questions = sortedKeys(questions)
	ix.evaluators = sortedKeys(evaluators)

	return ix
}

func sortedKeys(m map[string]bool) []string {
	list := make([]string, 0, len(m))
	for k := range m {
		list = append(list, k)
	}
	sort.Strings(list)
	return list
}
