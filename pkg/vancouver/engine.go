package vancouver

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ConsensusRecord is the per (target, question) outcome: the agreed
// score, how many evaluators contributed, the residual spread of their
// raw scores, and whether the protection policy replaced the weighted
// mean.
type ConsensusRecord struct {
	Target     string  `json:"target" yaml:"target"`
	Question   string  `json:"question" yaml:"question"`
	Score      float64 `json:"score" yaml:"score"`
	Evaluators int     `json:"evaluators" yaml:"evaluators"`
	Variance   float64 `json:"variance" yaml:"variance"`
	Protected  bool    `json:"protected" yaml:"protected"`
	NoData     bool    `json:"no_data" yaml:"noData"`
}

// Grade is the aggregate result for one target: the sum of its
// per-question consensus scores, the incentive-blended value, and the
// final grade after the grade floor.
type Grade struct {
	Target             string  `json:"target" yaml:"target"`
	Consensus          float64 `json:"consensus" yaml:"consensus"`
	Blended            float64 `json:"blended" yaml:"blended"`
	Final              float64 `json:"final" yaml:"final"`
	Floored            bool    `json:"floored" yaml:"floored"`
	Reputation         float64 `json:"reputation" yaml:"reputation"`
	IncentiveWeight    float64 `json:"incentive_weight" yaml:"incentiveWeight"`
	ProtectedQuestions int     `json:"protected_questions" yaml:"protectedQuestions"`
	NoDataQuestions    int     `json:"no_data_questions" yaml:"noDataQuestions"`
}

// Result is the frozen output of a grading run.
type Result struct {
	// Records is keyed by target, then question. Every observed target
	// gets a record for every observed question; pairs nobody scored
	// carry NoData instead of a numeric average.
	Records     map[string]map[string]*ConsensusRecord `json:"records" yaml:"records"`
	Reputations map[string]float64                     `json:"reputations" yaml:"reputations"`
	Grades      map[string]*Grade                      `json:"grades" yaml:"grades"`
	Converged   bool                                   `json:"converged" yaml:"converged"`
	Iterations  int                                    `json:"iterations" yaml:"iterations"`

	scale Scale
	// max reputation delta per iteration, kept for diagnostics
	deltas []float64
}

// Compute runs the iterative fixed point over the evaluation matrix:
// reputation-weighted consensus per (target, question), reputation per
// evaluator as an inverse function of residual magnitude, repeated
// until the reputation vector stabilizes within tolerance or the
// iteration cap is reached. Structural problems abort before the loop
// with a ValidationError or ConfigError; non-convergence is reported
// on the result, not returned as an error.
func Compute(m *Matrix, p Parameters) (*Result, error) {
	if m == nil {
		return nil, validationErrorf("nil matrix")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, err
	}

	ix := m.buildIndex()

	reps := make(map[string]float64, len(ix.evaluators))
	for _, e := range ix.evaluators {
		reps[e] = p.RMax
	}

	mon := newMonitor(p.Tolerance, p.Iterations)

	var records map[pairKey]*ConsensusRecord
	var deltas []float64
	converged := false
	iterations := 0

	for iter := 1; iter <= p.Iterations; iter++ {
		records = consensusPass(ix, reps, p)
		next := reputationPass(ix, records, reps, p)

		delta := maxDelta(reps, next)
		deltas = append(deltas, delta)
		reps = next
		iterations = iter

		if d := mon.assess(iter, delta); d != keepGoing {
			converged = d == stopConverged
			break
		}
	}

	res := &Result{
		Records:     make(map[string]map[string]*ConsensusRecord, len(ix.targets)),
		Reputations: reps,
		Converged:   converged,
		Iterations:  iterations,
		scale:       m.Scale,
		deltas:      deltas,
	}
	for _, t := range ix.targets {
		res.Records[t] = make(map[string]*ConsensusRecord, len(ix.questions))
		for _, q := range ix.questions {
			res.Records[t][q] = records[pairKey{t, q}]
		}
	}
	res.Grades = buildGrades(ix, records, reps, p, m.Scale)

	return res, nil
}

// consensusPass computes one round of consensus records. Targets are
// independent within a round, so the work fans out across them; the
// returned map is assembled only after every worker finishes, which is
// the synchronization barrier between iterations.
func consensusPass(ix *index, reps map[string]float64, p Parameters) map[pairKey]*ConsensusRecord {
	perTarget := make([][]*ConsensusRecord, len(ix.targets))

	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())
	for i, t := range ix.targets {
		i, t := i, t
		g.Go(func() error {
			perTarget[i] = targetRecords(ix, t, reps, p)
			return nil
		})
	}
	_ = g.Wait() // workers never fail

	out := make(map[pairKey]*ConsensusRecord, len(ix.targets)*len(ix.questions))
	for _, recs := range perTarget {
		for _, r := range recs {
			out[pairKey{r.Target, r.Question}] = r
		}
	}
	return out
}

func targetRecords(ix *index, target string, reps map[string]float64, p Parameters) []*ConsensusRecord {
	recs := make([]*ConsensusRecord, 0, len(ix.questions))

	for _, q := range ix.questions {
		evals := ix.byPair[pairKey{target, q}]
		rec := &ConsensusRecord{Target: target, Question: q, Evaluators: len(evals)}

		if len(evals) == 0 {
			rec.NoData = true
			recs = append(recs, rec)
			continue
		}

		var totalWeight float64
		for _, e := range evals {
			totalWeight += reps[e.Evaluator]
		}

		// The weighted mean is only statistically meaningful with
		// enough independent samples, and degenerates when every
		// contributor has lost all reputation.
		if len(evals) < p.MinEvaluators || totalWeight <= 0 {
			rec.Score = plainMean(evals)
			rec.Protected = true
		} else {
			var sum float64
			for _, e := range evals {
				sum += reps[e.Evaluator] * e.Score
			}
			rec.Score = sum / totalWeight
		}

		var residuals float64
		for _, e := range evals {
			d := e.Score - rec.Score
			residuals += d * d
		}
		rec.Variance = residuals / float64(len(evals))

		recs = append(recs, rec)
	}
	return recs
}

func plainMean(evals []Evaluation) float64 {
	var sum float64
	for _, e := range evals {
		sum += e.Score
	}
	return sum / float64(len(evals))
}

// reputationPass estimates each evaluator's reliability from the mean
// squared residual between their scores and the current consensus:
// raw = max(0, RMax - (RMax/VG)*sqrt(msr)), so zero residual maps to
// RMax and the estimate is non-increasing in residual magnitude. The
// new value is damped against the previous one and clamped to
// [0, RMax].
func reputationPass(ix *index, records map[pairKey]*ConsensusRecord, prev map[string]float64, p Parameters) map[string]float64 {
	slope := p.RMax / p.VG
	next := make(map[string]float64, len(ix.evaluators))

	for _, ev := range ix.evaluators {
		evals := ix.byEvaluator[ev]

		var residuals float64
		n := 0
		for _, e := range evals {
			rec := records[pairKey{e.Target, e.Question}]
			if rec == nil || rec.NoData {
				continue
			}
			d := e.Score - rec.Score
			residuals += d * d
			n++
		}

		raw := p.RMax
		if n > 0 {
			msr := residuals / float64(n)
			raw = p.RMax - slope*math.Sqrt(msr)
			if raw < 0 {
				raw = 0
			}
		}

		r := p.DampingFactor*prev[ev] + (1-p.DampingFactor)*raw
		next[ev] = clamp(r, 0, p.RMax)
	}
	return next
}

// buildGrades combines per-question consensus into one final grade per
// target: the consensus total, an incentive component rewarding
// completed reviews (theta = min(m, N)/N * reputation), and a floor
// guaranteeing the blend never drops a grade below its consensus.
func buildGrades(ix *index, records map[pairKey]*ConsensusRecord, reps map[string]float64, p Parameters, scale Scale) map[string]*Grade {
	grades := make(map[string]*Grade, len(ix.targets))

	for _, t := range ix.targets {
		g := &Grade{Target: t, Reputation: reps[t]}

		answered := 0
		for _, q := range ix.questions {
			rec := records[pairKey{t, q}]
			if rec == nil || rec.NoData {
				g.NoDataQuestions++
				continue
			}
			if rec.Protected {
				g.ProtectedQuestions++
			}
			g.Consensus += rec.Score
			answered++
		}

		done := len(ix.byEvaluator[t])
		quota := p.MinEvaluators
		if done > quota {
			done = quota
		}
		g.IncentiveWeight = float64(done) / float64(quota) * g.Reputation

		gradeMax := scale.Max * float64(answered)
		g.Blended = (1-p.Alpha)*g.Consensus + p.Alpha*g.IncentiveWeight*gradeMax
		g.Final = math.Max(g.Consensus, g.Blended)
		g.Floored = g.Blended < g.Consensus

		grades[t] = g
	}
	return grades
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
