package data

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	upsertQuestionSQL = `INSERT INTO question (id, ord, prompt)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ord = excluded.ord,
			prompt = excluded.prompt
	`

	selectQuestionsSQL = `SELECT id, ord, prompt FROM question ORDER BY ord`
)

// Question is one exam sub-criterion (Q1..Qn); consensus is computed
// independently per question.
type Question struct {
	ID     string `json:"id" yaml:"id"`
	Ord    int    `json:"ord" yaml:"ord"`
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// ImportQuestions ingests the question CSV. The header must contain an
// id column; prompt is optional. Exam order follows row order.
func ImportQuestions(db *sql.DB, csvPath string) ([]*Question, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("opening questions file %s: %w", csvPath, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading questions header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["id"]; !ok {
		return nil, errors.New(`questions header missing required column "id"`)
	}

	list := make([]*Question, 0)
	line := 1
	for {
		row, readErr := r.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		line++
		if readErr != nil {
			return nil, fmt.Errorf("reading questions line %d: %w", line, readErr)
		}

		q := &Question{
			ID:  strings.TrimSpace(row[cols["id"]]),
			Ord: len(list) + 1,
		}
		if q.ID == "" {
			return nil, fmt.Errorf("questions line %d: missing id", line)
		}
		if i, ok := cols["prompt"]; ok && i < len(row) {
			q.Prompt = strings.TrimSpace(row[i])
		}
		list = append(list, q)
	}
	if len(list) == 0 {
		return nil, errors.New("questions file has no rows")
	}

	if err := SaveQuestions(db, list); err != nil {
		return nil, err
	}
	return list, nil
}

// SaveQuestions upserts the question list.
func SaveQuestions(db *sql.DB, questions []*Question) error {
	if db == nil {
		return errDBNotInitialized
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting question tx: %w", err)
	}
	stmt, err := tx.Prepare(upsertQuestionSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("preparing question upsert: %w", err)
	}
	for _, q := range questions {
		if _, err := stmt.Exec(q.ID, q.Ord, q.Prompt); err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("saving question %s: %w", q.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing question tx: %w", err)
	}
	return nil
}

// GetQuestions returns questions in exam order.
func GetQuestions(db *sql.DB) ([]*Question, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectQuestionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	list := make([]*Question, 0)
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Ord, &q.Prompt); err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		list = append(list, &q)
	}
	return list, rows.Err()
}
