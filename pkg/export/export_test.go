package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/peergrade/peergrade/pkg/data"
	"github.com/peergrade/peergrade/pkg/vancouver"
)

func testResults() *Results {
	return &Results{
		GeneratedAt: time.Date(2026, 9, 20, 12, 0, 0, 0, time.UTC),
		Course:      "CS-101",
		Exam:        "Midterm",
		Parameters:  vancouver.DefaultParameters(),
		Summary: &vancouver.Summary{
			Targets:          2,
			Evaluators:       2,
			MeanFinalGrade:   11.125,
			MeanConsensus:    10.675,
			MeanReputation:   0.85,
			ProtectedRecords: 1,
			FlooredGrades:    1,
			Converged:        true,
			Iterations:       5,
		},
		Grades: []*data.GradeRow{
			{Target: "s1", Consensus: 13.25, Blended: 12, Final: 13.25, Reputation: 0.9, IncentiveWeight: 0.9, ProtectedQuestions: 1},
			{Target: "s2", Consensus: 8.1, Blended: 9, Final: 9, Floored: true, Reputation: 0.8, IncentiveWeight: 0.8},
		},
		Consensus: []*data.ConsensusRow{
			{Target: "s1", Question: "Q1", Score: 7.25, Evaluators: 4, Variance: 0.19},
			{Target: "s1", Question: "Q2", Score: 6, Evaluators: 2, Protected: true},
			{Target: "s2", Question: "Q1", Score: 8.1, Evaluators: 4, Variance: 0.4},
		},
	}
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, WriteJSON(path, testResults()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Results
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "CS-101", got.Course)
	assert.Len(t, got.Grades, 2)
	assert.Len(t, got.Consensus, 3)
	assert.True(t, got.Summary.Converged)
	assert.InDelta(t, vancouver.DefaultParameters().VG, got.Parameters.VG, 1e-9)
}

func TestWriteJSON_NilResults(t *testing.T) {
	assert.Error(t, WriteJSON(filepath.Join(t.TempDir(), "x.json"), nil))
}

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.xlsx")
	require.NoError(t, WriteWorkbook(path, testResults()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{gradesSheet, consensusSheet, summarySheet}, f.GetSheetList())

	v, err := f.GetCellValue(gradesSheet, "A2")
	require.NoError(t, err)
	assert.Equal(t, "s1", v)

	v, err = f.GetCellValue(gradesSheet, "B3")
	require.NoError(t, err)
	assert.Equal(t, "9", v)

	v, err = f.GetCellValue(consensusSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Q1", v)

	rows, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(rows), 10)
	assert.Equal(t, "Course", rows[1][0])
	assert.Equal(t, "CS-101", rows[1][1])
}

func TestWriteWorkbook_EmptyRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	res := testResults()
	res.Grades = nil
	res.Consensus = nil
	require.NoError(t, WriteWorkbook(path, res))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
