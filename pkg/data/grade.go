package data

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/peergrade/peergrade/pkg/vancouver"
)

const (
	deleteConsensusSQL = `DELETE FROM consensus`

	insertConsensusSQL = `INSERT INTO consensus (target, question, score, evaluators, variance, protected, no_data, run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectConsensusSQL = `SELECT target, question, score, evaluators, variance, protected, no_data
		FROM consensus
		ORDER BY target, question
	`

	deleteGradesSQL = `DELETE FROM grade`

	insertGradeSQL = `INSERT INTO grade (target, consensus, blended, final, floored, reputation,
			incentive_weight, protected_questions, no_data_questions, run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectGradesSQL = `SELECT target, consensus, blended, final, floored, reputation,
			incentive_weight, protected_questions, no_data_questions, run_at
		FROM grade
		ORDER BY final DESC, target
	`
)

// GradeRow is the persisted per-student outcome of a grading run.
type GradeRow struct {
	Target             string    `json:"target" yaml:"target"`
	Consensus          float64   `json:"consensus" yaml:"consensus"`
	Blended            float64   `json:"blended" yaml:"blended"`
	Final              float64   `json:"final" yaml:"final"`
	Floored            bool      `json:"floored" yaml:"floored"`
	Reputation         float64   `json:"reputation" yaml:"reputation"`
	IncentiveWeight    float64   `json:"incentive_weight" yaml:"incentiveWeight"`
	ProtectedQuestions int       `json:"protected_questions" yaml:"protectedQuestions"`
	NoDataQuestions    int       `json:"no_data_questions" yaml:"noDataQuestions"`
	RunAt              time.Time `json:"run_at" yaml:"runAt"`
}

// ConsensusRow is one persisted (target, question) consensus cell.
type ConsensusRow struct {
	Target     string  `json:"target" yaml:"target"`
	Question   string  `json:"question" yaml:"question"`
	Score      float64 `json:"score" yaml:"score"`
	Evaluators int     `json:"evaluators" yaml:"evaluators"`
	Variance   float64 `json:"variance" yaml:"variance"`
	Protected  bool    `json:"protected" yaml:"protected"`
	NoData     bool    `json:"no_data" yaml:"noData"`
}

// SaveResult replaces the previous grading run with the engine's
// output. Consensus cells and grades go in one transaction so a failed
// run never leaves the two tables out of step.
func SaveResult(db *sql.DB, res *vancouver.Result) error {
	if db == nil {
		return errDBNotInitialized
	}
	if res == nil {
		return fmt.Errorf("nil result")
	}

	now := time.Now().UTC().Format(timeFormat)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting result tx: %w", err)
	}

	if _, err := tx.Exec(deleteConsensusSQL); err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("clearing consensus: %w", err)
	}
	if _, err := tx.Exec(deleteGradesSQL); err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("clearing grades: %w", err)
	}

	cStmt, err := tx.Prepare(insertConsensusSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("preparing consensus insert: %w", err)
	}

	targets := make([]string, 0, len(res.Records))
	for t := range res.Records {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	cells := 0
	for _, t := range targets {
		questions := make([]string, 0, len(res.Records[t]))
		for q := range res.Records[t] {
			questions = append(questions, q)
		}
		sort.Strings(questions)
		for _, q := range questions {
			rec := res.Records[t][q]
			_, err := cStmt.Exec(rec.Target, rec.Question, rec.Score, rec.Evaluators,
				rec.Variance, rec.Protected, rec.NoData, now)
			if err != nil {
				rollbackTransaction(tx)
				return fmt.Errorf("saving consensus %s/%s: %w", rec.Target, rec.Question, err)
			}
			cells++
		}
	}

	gStmt, err := tx.Prepare(insertGradeSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("preparing grade insert: %w", err)
	}
	for _, t := range targets {
		g, ok := res.Grades[t]
		if !ok {
			continue
		}
		_, err := gStmt.Exec(g.Target, g.Consensus, g.Blended, g.Final, g.Floored,
			g.Reputation, g.IncentiveWeight, g.ProtectedQuestions, g.NoDataQuestions, now)
		if err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("saving grade for %s: %w", g.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing result tx: %w", err)
	}

	slog.Info("grading run saved",
		"targets", len(targets),
		"consensus_cells", cells,
		"converged", res.Converged,
		"iterations", res.Iterations)
	return nil
}

// GetGrades returns the stored grading run ordered by final grade.
func GetGrades(db *sql.DB) ([]*GradeRow, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectGradesSQL)
	if err != nil {
		return nil, fmt.Errorf("querying grades: %w", err)
	}
	defer rows.Close()

	list := make([]*GradeRow, 0)
	for rows.Next() {
		var g GradeRow
		var runAt string
		err := rows.Scan(&g.Target, &g.Consensus, &g.Blended, &g.Final, &g.Floored,
			&g.Reputation, &g.IncentiveWeight, &g.ProtectedQuestions, &g.NoDataQuestions, &runAt)
		if err != nil {
			return nil, fmt.Errorf("scanning grade: %w", err)
		}
		if g.RunAt, err = time.Parse(timeFormat, runAt); err != nil {
			return nil, fmt.Errorf("parsing grade run_at: %w", err)
		}
		list = append(list, &g)
	}
	return list, rows.Err()
}

// GetConsensus returns the stored consensus cells ordered by target
// then question.
func GetConsensus(db *sql.DB) ([]*ConsensusRow, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectConsensusSQL)
	if err != nil {
		return nil, fmt.Errorf("querying consensus: %w", err)
	}
	defer rows.Close()

	list := make([]*ConsensusRow, 0)
	for rows.Next() {
		var c ConsensusRow
		if err := rows.Scan(&c.Target, &c.Question, &c.Score, &c.Evaluators,
			&c.Variance, &c.Protected, &c.NoData); err != nil {
			return nil, fmt.Errorf("scanning consensus: %w", err)
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
