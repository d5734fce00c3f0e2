package vancouver

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testScale = Scale{Min: 1, Max: 10}

func testParams() Parameters {
	return Parameters{
		RMax:          1.0,
		VG:            8.0,
		Tolerance:     0.1,
		Iterations:    25,
		MinEvaluators: 4,
		DampingFactor: 0.0,
		Alpha:         0.0,
	}
}

func matrixOf(evals ...Evaluation) *Matrix {
	m := NewMatrix(testScale)
	for _, e := range evals {
		m.Add(e)
	}
	return m
}

func TestCompute_NilMatrix(t *testing.T) {
	_, err := Compute(nil, testParams())
	assert.Error(t, err)
}

func TestCompute_EmptyMatrix(t *testing.T) {
	_, err := Compute(NewMatrix(testScale), testParams())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCompute_RejectsOutOfScaleScore(t *testing.T) {
	m := matrixOf(Evaluation{Evaluator: "a", Target: "b", Question: "Q1", Score: 11})
	_, err := Compute(m, testParams())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "outside scale")
}

func TestCompute_RejectsDuplicateKey(t *testing.T) {
	m := matrixOf(
		Evaluation{Evaluator: "a", Target: "b", Question: "Q1", Score: 7},
		Evaluation{Evaluator: "a", Target: "b", Question: "Q1", Score: 8},
	)
	_, err := Compute(m, testParams())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "duplicate")
}

func TestCompute_RejectsBadParameters(t *testing.T) {
	m := matrixOf(Evaluation{Evaluator: "a", Target: "b", Question: "Q1", Score: 7})

	cases := []struct {
		name   string
		mutate func(*Parameters)
	}{
		{"zero r_max", func(p *Parameters) { p.RMax = 0 }},
		{"negative v_g", func(p *Parameters) { p.VG = -1 }},
		{"zero tolerance", func(p *Parameters) { p.Tolerance = 0 }},
		{"zero iterations", func(p *Parameters) { p.Iterations = 0 }},
		{"zero min_evaluators", func(p *Parameters) { p.MinEvaluators = 0 }},
		{"damping of one", func(p *Parameters) { p.DampingFactor = 1 }},
		{"alpha above one", func(p *Parameters) { p.Alpha = 1.5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := testParams()
			tc.mutate(&p)
			_, err := Compute(m, p)
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
		})
	}
}

func TestCompute_Unanimity(t *testing.T) {
	m := matrixOf(
		Evaluation{Evaluator: "a", Target: "t", Question: "Q1", Score: 7},
		Evaluation{Evaluator: "b", Target: "t", Question: "Q1", Score: 7},
		Evaluation{Evaluator: "c", Target: "t", Question: "Q1", Score: 7},
		Evaluation{Evaluator: "d", Target: "t", Question: "Q1", Score: 7},
		Evaluation{Evaluator: "e", Target: "t", Question: "Q1", Score: 7},
	)

	res, err := Compute(m, testParams())
	require.NoError(t, err)

	rec := res.Records["t"]["Q1"]
	require.NotNil(t, rec)
	assert.InDelta(t, 7.0, rec.Score, 1e-12)
	assert.False(t, rec.Protected)
	// zero residual maps to full reputation
	for _, ev := range []string{"a", "b", "c", "d", "e"} {
		assert.InDelta(t, 1.0, res.Reputations[ev], 1e-12)
	}
}

func TestCompute_ProtectionTrigger(t *testing.T) {
	// min_evaluators is 4 and only 3 evaluations exist: the record must
	// fall back to the unweighted mean and carry the protection flag.
	m := matrixOf(
		Evaluation{Evaluator: "a", Target: "t", Question: "Q1", Score: 6},
		Evaluation{Evaluator: "b", Target: "t", Question: "Q1", Score: 7},
		Evaluation{Evaluator: "c", Target: "t", Question: "Q1", Score: 9},
	)

	res, err := Compute(m, testParams())
	require.NoError(t, err)

	rec := res.Records["t"]["Q1"]
	require.NotNil(t, rec)
	assert.True(t, rec.Protected)
	assert.InDelta(t, (6.0+7.0+9.0)/3.0, rec.Score, 1e-12)
	assert.Equal(t, 3, rec.Evaluators)
}

func TestCompute_NoDataRecord(t *testing.T) {
	// t2 was scored on Q1 but nobody scored t2/Q2: that record must
	// report no-data rather than defaulting to zero, and the rest of
	// the run still completes.
	m := matrixOf(
		Evaluation{Evaluator: "a", Target: "t1", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "a", Target: "t1", Question: "Q2", Score: 6},
		Evaluation{Evaluator: "b", Target: "t2", Question: "Q1", Score: 5},
	)

	res, err := Compute(m, testParams())
	require.NoError(t, err)

	rec := res.Records["t2"]["Q2"]
	require.NotNil(t, rec)
	assert.True(t, rec.NoData)
	assert.Equal(t, 0, rec.Evaluators)

	assert.False(t, res.Records["t1"]["Q1"].NoData)
	assert.Equal(t, 1, res.Grades["t2"].NoDataQuestions)
}

func TestCompute_OutlierAttenuation(t *testing.T) {
	m := matrixOf(
		Evaluation{Evaluator: "a", Target: "t", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "b", Target: "t", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "c", Target: "t", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "d", Target: "t", Question: "Q1", Score: 2},
	)

	res, err := Compute(m, testParams())
	require.NoError(t, err)

	rec := res.Records["t"]["Q1"]
	require.NotNil(t, rec)
	assert.False(t, rec.Protected)

	// The dissenter ends with strictly lower reputation and the
	// consensus moves from the plain mean 6.5 toward the majority 8.
	assert.Less(t, res.Reputations["d"], res.Reputations["a"])
	assert.Less(t, res.Reputations["d"], res.Reputations["b"])
	assert.Less(t, res.Reputations["d"], res.Reputations["c"])
	assert.Greater(t, rec.Score, 6.5)
	assert.LessOrEqual(t, rec.Score, 8.0)
}

func TestCompute_ReputationBounds(t *testing.T) {
	m := syntheticMatrix(rand.New(rand.NewSource(7)), 12, 3, 5)
	p := testParams()
	p.DampingFactor = 0.3

	res, err := Compute(m, p)
	require.NoError(t, err)

	for ev, r := range res.Reputations {
		assert.GreaterOrEqual(t, r, 0.0, "evaluator %s", ev)
		assert.LessOrEqual(t, r, p.RMax, "evaluator %s", ev)
	}
}

func TestCompute_ScaleContainment(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		m := syntheticMatrix(rand.New(rand.NewSource(seed)), 10, 4, 5)
		res, err := Compute(m, testParams())
		require.NoError(t, err)

		for target, byQuestion := range res.Records {
			for q, rec := range byQuestion {
				if rec.NoData {
					continue
				}
				assert.GreaterOrEqual(t, rec.Score, testScale.Min, "%s/%s", target, q)
				assert.LessOrEqual(t, rec.Score, testScale.Max, "%s/%s", target, q)
			}
		}
	}
}

func TestCompute_Idempotent(t *testing.T) {
	m := syntheticMatrix(rand.New(rand.NewSource(42)), 15, 5, 6)
	p := testParams()
	p.Alpha = 0.1

	first, err := Compute(m, p)
	require.NoError(t, err)
	second, err := Compute(m, p)
	require.NoError(t, err)

	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, first.Reputations, second.Reputations)
	assert.Equal(t, first.Grades, second.Grades)
	assert.Equal(t, first.Iterations, second.Iterations)
	assert.Equal(t, first.Converged, second.Converged)
}

func TestCompute_ConvergenceTrend(t *testing.T) {
	// Not a strict per-step guarantee: verified statistically over a
	// batch of synthetic matrices, the average reputation delta of the
	// closing iterations must not exceed the opening ones.
	var early, late float64
	runs := 0

	for seed := int64(1); seed <= 8; seed++ {
		m := syntheticMatrix(rand.New(rand.NewSource(seed)), 14, 4, 5)
		p := testParams()
		p.Tolerance = 1e-9
		p.Iterations = 30

		res, err := Compute(m, p)
		require.NoError(t, err)
		if len(res.deltas) < 6 {
			continue
		}

		third := len(res.deltas) / 3
		early += mean(res.deltas[:third])
		late += mean(res.deltas[len(res.deltas)-third:])
		runs++
	}

	require.Greater(t, runs, 0)
	assert.LessOrEqual(t, late, early)
}

func TestCompute_NonConvergenceReported(t *testing.T) {
	m := matrixOf(
		Evaluation{Evaluator: "a", Target: "t", Question: "Q1", Score: 10},
		Evaluation{Evaluator: "b", Target: "t", Question: "Q1", Score: 1},
		Evaluation{Evaluator: "c", Target: "t", Question: "Q1", Score: 10},
		Evaluation{Evaluator: "d", Target: "t", Question: "Q1", Score: 1},
	)
	p := testParams()
	p.Tolerance = 1e-12
	p.Iterations = 2

	res, err := Compute(m, p)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 2, res.Iterations)
	assert.NotNil(t, res.Records["t"]["Q1"])
}

func TestCompute_GradeFloor(t *testing.T) {
	// A target that never reviewed anyone has zero incentive weight;
	// with alpha > 0 the blend would drop below consensus, so the
	// final grade must be floored at the consensus total.
	m := matrixOf(
		Evaluation{Evaluator: "a", Target: "t", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "b", Target: "t", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "c", Target: "t", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "d", Target: "t", Question: "Q1", Score: 8},
	)
	p := testParams()
	p.Alpha = 0.1

	res, err := Compute(m, p)
	require.NoError(t, err)

	g := res.Grades["t"]
	require.NotNil(t, g)
	assert.InDelta(t, 8.0, g.Consensus, 1e-12)
	assert.Zero(t, g.IncentiveWeight)
	assert.True(t, g.Floored)
	assert.InDelta(t, g.Consensus, g.Final, 1e-12)
}

func TestCompute_IncentiveWeight(t *testing.T) {
	// Four reliable reviewers score each other; everyone meets the
	// quota of 4 reviews except nobody does (each does 3), so theta is
	// 3/4 of reputation.
	m := NewMatrix(testScale)
	students := []string{"s1", "s2", "s3", "s4"}
	for _, ev := range students {
		for _, tg := range students {
			if ev == tg {
				continue
			}
			m.Add(Evaluation{Evaluator: ev, Target: tg, Question: "Q1", Score: 7})
		}
	}
	p := testParams()
	p.MinEvaluators = 3
	p.Alpha = 0.1

	res, err := Compute(m, p)
	require.NoError(t, err)

	for _, s := range students {
		g := res.Grades[s]
		require.NotNil(t, g)
		assert.InDelta(t, 1.0, g.IncentiveWeight, 1e-12, "student %s", s)
		assert.GreaterOrEqual(t, g.Final, g.Consensus)
	}
}

// syntheticMatrix builds a classroom-scale matrix: n students, each
// reviewing k peers on every question. Targets have a latent quality
// and evaluators add individual noise.
func syntheticMatrix(rng *rand.Rand, n, k, questions int) *Matrix {
	m := NewMatrix(testScale)

	students := make([]string, n)
	quality := make(map[string]float64, n)
	noise := make(map[string]float64, n)
	for i := range students {
		id := fmt.Sprintf("s%02d", i+1)
		students[i] = id
		quality[id] = 3 + rng.Float64()*6
		noise[id] = rng.Float64() * 2
	}

	for i, ev := range students {
		for j := 1; j <= k; j++ {
			tg := students[(i+j)%n]
			for q := 1; q <= questions; q++ {
				score := quality[tg] + (rng.Float64()*2-1)*noise[ev]
				score = clamp(score, testScale.Min, testScale.Max)
				m.Add(Evaluation{
					Evaluator: ev,
					Target:    tg,
					Question:  fmt.Sprintf("Q%d", q),
					Score:     score,
				})
			}
		}
	}
	return m
}

func TestValidationErrorKind(t *testing.T) {
	err := validationErrorf("boom %d", 1)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, "invalid evaluation matrix: boom 1", err.Error())
}
