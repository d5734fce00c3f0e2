package data

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/peergrade/peergrade/pkg/vancouver"
)

const (
	insertEvaluationSQL = `INSERT INTO evaluation (evaluator, target, question, score, comment, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	selectEvaluationsSQL = `SELECT evaluator, target, question, score, comment
		FROM evaluation
		ORDER BY evaluator, target, question
	`

	countEvaluationsSQL = `SELECT COUNT(*) FROM evaluation`

	countDistinctSubmittersSQL = `SELECT COUNT(DISTINCT evaluator) FROM evaluation`
)

var (
	// ErrTokenUnknown is returned for review links with no backing row.
	ErrTokenUnknown = errors.New("unknown token")
	// ErrTokenUsed is returned when a review link is replayed.
	ErrTokenUsed = errors.New("token already used")
	// ErrTokenExpired is returned past the evaluation deadline.
	ErrTokenExpired = errors.New("token expired")
	// ErrDuplicateEvaluation is returned when an (evaluator, target,
	// question) key is submitted twice.
	ErrDuplicateEvaluation = errors.New("duplicate evaluation")
)

// Progress summarizes collection state for the status endpoint.
type Progress struct {
	Evaluations int `json:"evaluations" yaml:"evaluations"`
	Submitters  int `json:"submitters" yaml:"submitters"`
	Expected    int `json:"expected" yaml:"expected"`
}

// SaveSubmission persists one evaluator's scores in a single
// transaction, enforcing one-time token use: the token row must exist,
// be unexpired and unused, and is marked used together with the
// evaluation inserts.
func SaveSubmission(db *sql.DB, tokenID string, evals []vancouver.Evaluation) error {
	if db == nil {
		return errDBNotInitialized
	}
	if len(evals) == 0 {
		return errors.New("no evaluations in submission")
	}

	now := time.Now().UTC()
	nowStr := now.Format(timeFormat)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting submission tx: %w", err)
	}

	var expires string
	var used sql.NullString
	err = tx.QueryRow(`SELECT expires_at, used_at FROM token WHERE id = ?`, tokenID).Scan(&expires, &used)
	if errors.Is(err, sql.ErrNoRows) {
		rollbackTransaction(tx)
		return ErrTokenUnknown
	}
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("querying token %s: %w", tokenID, err)
	}
	if used.Valid {
		rollbackTransaction(tx)
		return ErrTokenUsed
	}
	if exp, parseErr := time.Parse(timeFormat, expires); parseErr == nil && now.After(exp) {
		rollbackTransaction(tx)
		return ErrTokenExpired
	}

	stmt, err := tx.Prepare(insertEvaluationSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("preparing evaluation insert: %w", err)
	}
	for _, e := range evals {
		if _, execErr := stmt.Exec(e.Evaluator, e.Target, e.Question, e.Score, e.Comment, nowStr); execErr != nil {
			rollbackTransaction(tx)
			if strings.Contains(execErr.Error(), "UNIQUE constraint") {
				return fmt.Errorf("%w: %s scored %s/%s", ErrDuplicateEvaluation, e.Evaluator, e.Target, e.Question)
			}
			return fmt.Errorf("saving evaluation %s -> %s/%s: %w", e.Evaluator, e.Target, e.Question, execErr)
		}
	}

	if _, err := tx.Exec(markTokenUsedSQL, nowStr, tokenID); err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("marking token used: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing submission tx: %w", err)
	}

	slog.Info("submission recorded", "token", tokenID, "evaluations", len(evals))
	return nil
}

// LoadMatrix builds the validated in-memory evaluation matrix the
// consensus engine consumes. Deduplication is enforced here at the
// storage layer (primary key), so the engine's own validation is a
// final integrity check, not a cleanup pass.
func LoadMatrix(db *sql.DB, scale vancouver.Scale) (*vancouver.Matrix, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectEvaluationsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying evaluations: %w", err)
	}
	defer rows.Close()

	m := vancouver.NewMatrix(scale)
	for rows.Next() {
		var e vancouver.Evaluation
		if err := rows.Scan(&e.Evaluator, &e.Target, &e.Question, &e.Score, &e.Comment); err != nil {
			return nil, fmt.Errorf("scanning evaluation: %w", err)
		}
		m.Add(e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading evaluations: %w", err)
	}
	return m, nil
}

// GetProgress reports how much of the expected collection has arrived.
func GetProgress(db *sql.DB) (*Progress, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	p := &Progress{}
	if err := db.QueryRow(countEvaluationsSQL).Scan(&p.Evaluations); err != nil {
		return nil, fmt.Errorf("counting evaluations: %w", err)
	}
	if err := db.QueryRow(countDistinctSubmittersSQL).Scan(&p.Submitters); err != nil {
		return nil, fmt.Errorf("counting submitters: %w", err)
	}

	var assignments, questions int
	if err := db.QueryRow(`SELECT COUNT(*) FROM assignment`).Scan(&assignments); err != nil {
		return nil, fmt.Errorf("counting assignments: %w", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM question`).Scan(&questions); err != nil {
		return nil, fmt.Errorf("counting questions: %w", err)
	}
	p.Expected = assignments * questions

	return p, nil
}
