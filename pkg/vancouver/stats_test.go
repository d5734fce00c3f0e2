package vancouver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	m := matrixOf(
		Evaluation{Evaluator: "a", Target: "t1", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "b", Target: "t1", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "c", Target: "t1", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "d", Target: "t1", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "a", Target: "t2", Question: "Q1", Score: 6},
		Evaluation{Evaluator: "b", Target: "t2", Question: "Q1", Score: 6},
	)

	res, err := Compute(m, testParams())
	require.NoError(t, err)

	s := Summarize(res)
	assert.Equal(t, 2, s.Targets)
	assert.Equal(t, 4, s.Evaluators)
	assert.InDelta(t, 7.0, s.MeanFinalGrade, 1e-9)
	assert.InDelta(t, 1.0, s.StdDevFinalGrade, 1e-9)
	assert.InDelta(t, 7.0, s.MeanConsensus, 1e-9)
	assert.InDelta(t, 1.0, s.MeanReputation, 1e-9)
	// t2 had only two evaluations, below the quota of four
	assert.Equal(t, 1, s.ProtectedRecords)
	assert.Equal(t, 0, s.NoDataRecords)
	assert.True(t, s.Converged)
	assert.Equal(t, s.Iterations, res.Iterations)
}

func TestSummarize_CountsNoData(t *testing.T) {
	m := matrixOf(
		Evaluation{Evaluator: "a", Target: "t1", Question: "Q1", Score: 8},
		Evaluation{Evaluator: "a", Target: "t2", Question: "Q2", Score: 5},
	)

	res, err := Compute(m, testParams())
	require.NoError(t, err)

	s := Summarize(res)
	// grid is targets x questions: t1/Q2 and t2/Q1 have no evaluations
	assert.Equal(t, 2, s.NoDataRecords)
}

func TestMeanAndStdDev(t *testing.T) {
	assert.Zero(t, mean(nil))
	assert.Zero(t, stdDev(nil, 0))
	assert.InDelta(t, 2.0, mean([]float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 2.0, stdDev([]float64{2, 6}, 4), 1e-12)
}
