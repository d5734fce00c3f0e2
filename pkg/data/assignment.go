package data

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	insertAssignmentSQL = `INSERT INTO assignment (evaluator, target, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(evaluator, target) DO NOTHING
	`

	deleteAssignmentsSQL = `DELETE FROM assignment`

	selectAssignmentsSQL = `SELECT evaluator, target
		FROM assignment
		ORDER BY evaluator, target
	`

	selectAssignmentsForSQL = `SELECT evaluator, target
		FROM assignment
		WHERE evaluator = ?
		ORDER BY target
	`
)

// Assignment is one review task: evaluator grades target's paper.
type Assignment struct {
	Evaluator string `json:"evaluator" yaml:"evaluator"`
	Target    string `json:"target" yaml:"target"`
}

// ReplaceAssignments clears the previous assignment round and stores
// the new one in a single transaction.
func ReplaceAssignments(db *sql.DB, assignments []*Assignment) error {
	if db == nil {
		return errDBNotInitialized
	}

	now := time.Now().UTC().Format(timeFormat)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting assignment tx: %w", err)
	}

	if _, err := tx.Exec(deleteAssignmentsSQL); err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("clearing assignments: %w", err)
	}

	stmt, err := tx.Prepare(insertAssignmentSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("preparing assignment insert: %w", err)
	}
	for _, a := range assignments {
		if _, err := stmt.Exec(a.Evaluator, a.Target, now); err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("saving assignment %s -> %s: %w", a.Evaluator, a.Target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing assignment tx: %w", err)
	}
	return nil
}

// GetAssignments returns all review tasks.
func GetAssignments(db *sql.DB) ([]*Assignment, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	return queryAssignments(db, selectAssignmentsSQL)
}

// GetAssignmentsFor returns the papers one evaluator must review.
func GetAssignmentsFor(db *sql.DB, evaluator string) ([]*Assignment, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	return queryAssignments(db, selectAssignmentsForSQL, evaluator)
}

func queryAssignments(db *sql.DB, query string, args ...any) ([]*Assignment, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying assignments: %w", err)
	}
	defer rows.Close()

	list := make([]*Assignment, 0)
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.Evaluator, &a.Target); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}
