// Package export writes grading results to instructor-facing files:
// an XLSX workbook and a JSON dump of the full run.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/peergrade/peergrade/pkg/data"
	"github.com/peergrade/peergrade/pkg/vancouver"
)

const (
	gradesSheet    = "Final_Grades"
	consensusSheet = "Consensus"
	summarySheet   = "Summary"
)

// Results is the JSON export payload: everything needed to audit a
// grading run.
type Results struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Course      string               `json:"course,omitempty"`
	Exam        string               `json:"exam,omitempty"`
	Parameters  vancouver.Parameters `json:"parameters"`
	Summary     *vancouver.Summary   `json:"summary"`
	Grades      []*data.GradeRow     `json:"grades"`
	Consensus   []*data.ConsensusRow `json:"consensus"`
}

// WriteJSON writes the run results as indented JSON.
func WriteJSON(path string, res *Results) error {
	if res == nil {
		return errors.New("nil results")
	}

	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling results: %w", err)
	}
	if err := os.WriteFile(path, b, 0600); err != nil {
		return fmt.Errorf("writing results file %s: %w", path, err)
	}

	slog.Info("results exported", "path", path, "grades", len(res.Grades))
	return nil
}

// WriteWorkbook writes the XLSX workbook: one row per student on the
// grades sheet, one row per (target, question) cell on the consensus
// sheet, and the run summary.
func WriteWorkbook(path string, res *Results) error {
	if res == nil {
		return errors.New("nil results")
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("closing workbook", "error", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", gradesSheet); err != nil {
		return fmt.Errorf("renaming grades sheet: %w", err)
	}
	if _, err := f.NewSheet(consensusSheet); err != nil {
		return fmt.Errorf("creating consensus sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("creating summary sheet: %w", err)
	}

	if err := writeGradesSheet(f, res.Grades); err != nil {
		return err
	}
	if err := writeConsensusSheet(f, res.Consensus); err != nil {
		return err
	}
	if err := writeSummarySheet(f, res); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook %s: %w", path, err)
	}

	slog.Info("workbook exported", "path", path, "grades", len(res.Grades))
	return nil
}

func writeGradesSheet(f *excelize.File, grades []*data.GradeRow) error {
	header := []any{"Student", "Final Grade", "Consensus", "Blended", "Floored",
		"Reputation", "Incentive Weight", "Protected Questions", "No-Data Questions"}
	if err := writeRow(f, gradesSheet, 1, header); err != nil {
		return err
	}
	for i, g := range grades {
		row := []any{g.Target, g.Final, g.Consensus, g.Blended, g.Floored,
			g.Reputation, g.IncentiveWeight, g.ProtectedQuestions, g.NoDataQuestions}
		if err := writeRow(f, gradesSheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeConsensusSheet(f *excelize.File, cells []*data.ConsensusRow) error {
	header := []any{"Student", "Question", "Score", "Evaluators", "Variance", "Protected", "No Data"}
	if err := writeRow(f, consensusSheet, 1, header); err != nil {
		return err
	}
	for i, c := range cells {
		row := []any{c.Target, c.Question, c.Score, c.Evaluators, c.Variance, c.Protected, c.NoData}
		if err := writeRow(f, consensusSheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func writeSummarySheet(f *excelize.File, res *Results) error {
	rows := [][]any{
		{"Generated", res.GeneratedAt.Format(time.RFC3339)},
		{"Course", res.Course},
		{"Exam", res.Exam},
		{},
		{"Converged", res.Summary.Converged},
		{"Iterations", res.Summary.Iterations},
		{"Students graded", res.Summary.Targets},
		{"Evaluators", res.Summary.Evaluators},
		{"Mean final grade", res.Summary.MeanFinalGrade},
		{"Std dev final grade", res.Summary.StdDevFinalGrade},
		{"Mean consensus", res.Summary.MeanConsensus},
		{"Mean reputation", res.Summary.MeanReputation},
		{"Protected records", res.Summary.ProtectedRecords},
		{"No-data records", res.Summary.NoDataRecords},
		{"Floored grades", res.Summary.FlooredGrades},
	}
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		if err := writeRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("resolving cell for row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("writing %s row %d: %w", sheet, row, err)
	}
	return nil
}
