package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peergrade/peergrade/pkg/vancouver"
)

func testResult() *vancouver.Result {
	return &vancouver.Result{
		Records: map[string]map[string]*vancouver.ConsensusRecord{
			"s1": {
				"Q1": {Target: "s1", Question: "Q1", Score: 7.25, Evaluators: 4, Variance: 0.19},
				"Q2": {Target: "s1", Question: "Q2", Score: 6.0, Evaluators: 2, Protected: true},
			},
			"s2": {
				"Q1": {Target: "s2", Question: "Q1", Score: 8.1, Evaluators: 4, Variance: 0.4},
				"Q2": {Target: "s2", Question: "Q2", NoData: true},
			},
		},
		Reputations: map[string]float64{"s1": 0.9, "s2": 0.8},
		Grades: map[string]*vancouver.Grade{
			"s1": {Target: "s1", Consensus: 13.25, Blended: 12.0, Final: 13.25,
				Reputation: 0.9, IncentiveWeight: 0.9, ProtectedQuestions: 1},
			"s2": {Target: "s2", Consensus: 8.1, Blended: 9.0, Final: 9.0, Floored: true,
				Reputation: 0.8, IncentiveWeight: 0.8, NoDataQuestions: 1},
		},
		Converged:  true,
		Iterations: 5,
	}
}

func TestSaveResult_RoundTrip(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, SaveResult(db, testResult()))

	grades, err := GetGrades(db)
	require.NoError(t, err)
	require.Len(t, grades, 2)

	// ordered by final grade descending
	assert.Equal(t, "s1", grades[0].Target)
	assert.InDelta(t, 13.25, grades[0].Final, 1e-9)
	assert.False(t, grades[0].Floored)
	assert.Equal(t, 1, grades[0].ProtectedQuestions)

	assert.Equal(t, "s2", grades[1].Target)
	assert.True(t, grades[1].Floored)
	assert.Equal(t, 1, grades[1].NoDataQuestions)
	assert.False(t, grades[1].RunAt.IsZero())

	cells, err := GetConsensus(db)
	require.NoError(t, err)
	require.Len(t, cells, 4)
	assert.Equal(t, "s1", cells[0].Target)
	assert.Equal(t, "Q1", cells[0].Question)
	assert.True(t, cells[1].Protected)
	assert.True(t, cells[3].NoData)
}

func TestSaveResult_ReplacesPreviousRun(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, SaveResult(db, testResult()))

	second := &vancouver.Result{
		Records: map[string]map[string]*vancouver.ConsensusRecord{
			"s9": {"Q1": {Target: "s9", Question: "Q1", Score: 5, Evaluators: 4}},
		},
		Grades: map[string]*vancouver.Grade{
			"s9": {Target: "s9", Consensus: 5, Final: 5, Reputation: 1},
		},
		Converged:  true,
		Iterations: 3,
	}
	require.NoError(t, SaveResult(db, second))

	grades, err := GetGrades(db)
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, "s9", grades[0].Target)

	cells, err := GetConsensus(db)
	require.NoError(t, err)
	assert.Len(t, cells, 1)
}

func TestSaveResult_NilResult(t *testing.T) {
	db := setupTestDB(t)
	assert.Error(t, SaveResult(db, nil))
}

func TestSendLog(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, LogSend(db, "s1", "ada@school.edu", SendStatusSent, ""))
	require.NoError(t, LogSend(db, "s2", "grace@school.edu", SendStatusFailed, "connection refused"))

	log, err := GetSendLog(db)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, SendStatusSent, log[0].Status)
	assert.Empty(t, log[0].Error)
	assert.Equal(t, "connection refused", log[1].Error)
	assert.False(t, log[1].SentAt.IsZero())
}
