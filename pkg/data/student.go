package data

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	upsertStudentSQL = `INSERT INTO student (id, name, email, class, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			class = excluded.class
	`

	selectStudentSQL = `SELECT id, name, email, class
		FROM student
		WHERE id = ?
	`

	selectStudentsSQL = `SELECT id, name, email, class
		FROM student
		ORDER BY id
	`

	countStudentsSQL = `SELECT COUNT(*) FROM student`
)

// Student is one roster entry: the exam author and (usually) also a
// peer evaluator.
type Student struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
	Class string `json:"class,omitempty" yaml:"class,omitempty"`
}

// RosterImportResult is returned by the CSV roster import.
type RosterImportResult struct {
	Imported int      `json:"imported" yaml:"imported"`
	Skipped  int      `json:"skipped" yaml:"skipped"`
	Errors   []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// ImportRoster ingests the roster CSV. The header must contain id,
// name and email columns (any order, case-insensitive); class is
// optional. Rows missing an id or email are skipped and reported, not
// fatal. Re-importing the same file is an idempotent upsert.
func ImportRoster(db *sql.DB, csvPath string) (*RosterImportResult, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("opening roster file %s: %w", csvPath, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading roster header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"id", "name", "email"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("roster header missing required column %q", required)
		}
	}

	now := time.Now().UTC().Format(timeFormat)
	res := &RosterImportResult{}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting roster tx: %w", err)
	}

	stmt, err := tx.Prepare(upsertStudentSQL)
	if err != nil {
		rollbackTransaction(tx)
		return nil, fmt.Errorf("preparing roster upsert: %w", err)
	}

	line := 1
	for {
		row, readErr := r.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		line++
		if readErr != nil {
			rollbackTransaction(tx)
			return nil, fmt.Errorf("reading roster line %d: %w", line, readErr)
		}

		s := Student{
			ID:    strings.TrimSpace(row[cols["id"]]),
			Name:  strings.TrimSpace(row[cols["name"]]),
			Email: strings.TrimSpace(row[cols["email"]]),
		}
		if i, ok := cols["class"]; ok && i < len(row) {
			s.Class = strings.TrimSpace(row[i])
		}

		if s.ID == "" || s.Email == "" {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: missing id or email", line))
			continue
		}

		if _, execErr := stmt.Exec(s.ID, s.Name, s.Email, s.Class, now); execErr != nil {
			rollbackTransaction(tx)
			return nil, fmt.Errorf("saving student %s: %w", s.ID, execErr)
		}
		res.Imported++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing roster tx: %w", err)
	}

	slog.Info("roster imported", "students", res.Imported, "skipped", res.Skipped)
	return res, nil
}

// SaveStudents upserts roster entries directly, bypassing CSV.
func SaveStudents(db *sql.DB, students []*Student) error {
	if db == nil {
		return errDBNotInitialized
	}

	now := time.Now().UTC().Format(timeFormat)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting student tx: %w", err)
	}
	stmt, err := tx.Prepare(upsertStudentSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("preparing student upsert: %w", err)
	}
	for _, s := range students {
		if _, err := stmt.Exec(s.ID, s.Name, s.Email, s.Class, now); err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("saving student %s: %w", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing student tx: %w", err)
	}
	return nil
}

// GetStudent returns one roster entry or nil when not found.
func GetStudent(db *sql.DB, id string) (*Student, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	var s Student
	err := db.QueryRow(selectStudentSQL, id).Scan(&s.ID, &s.Name, &s.Email, &s.Class)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying student %s: %w", id, err)
	}
	return &s, nil
}

// GetStudents returns the full roster ordered by id.
func GetStudents(db *sql.DB) ([]*Student, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectStudentsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying students: %w", err)
	}
	defer rows.Close()

	list := make([]*Student, 0)
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Email, &s.Class); err != nil {
			return nil, fmt.Errorf("scanning student: %w", err)
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}

// CountStudents returns the roster size.
func CountStudents(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errDBNotInitialized
	}
	var n int
	if err := db.QueryRow(countStudentsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting students: %w", err)
	}
	return n, nil
}
