package data

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	insertSendLogSQL = `INSERT INTO send_log (evaluator, email, status, error, sent_at)
		VALUES (?, ?, ?, ?, ?)
	`

	selectSendLogSQL = `SELECT id, evaluator, email, status, error, sent_at
		FROM send_log
		ORDER BY id
	`
)

const (
	SendStatusSent   = "sent"
	SendStatusFailed = "failed"
	SendStatusDryRun = "dry-run"
)

// SendLogEntry records one notification attempt.
type SendLogEntry struct {
	ID        int64     `json:"id" yaml:"id"`
	Evaluator string    `json:"evaluator" yaml:"evaluator"`
	Email     string    `json:"email" yaml:"email"`
	Status    string    `json:"status" yaml:"status"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	SentAt    time.Time `json:"sent_at" yaml:"sentAt"`
}

// LogSend appends one notification attempt to the send log.
func LogSend(db *sql.DB, evaluator, email, status, errMsg string) error {
	if db == nil {
		return errDBNotInitialized
	}
	now := time.Now().UTC().Format(timeFormat)
	if _, err := db.Exec(insertSendLogSQL, evaluator, email, status, errMsg, now); err != nil {
		return fmt.Errorf("saving send log for %s: %w", evaluator, err)
	}
	return nil
}

// GetSendLog returns all notification attempts in send order.
func GetSendLog(db *sql.DB) ([]*SendLogEntry, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectSendLogSQL)
	if err != nil {
		return nil, fmt.Errorf("querying send log: %w", err)
	}
	defer rows.Close()

	list := make([]*SendLogEntry, 0)
	for rows.Next() {
		var e SendLogEntry
		var sentAt string
		if err := rows.Scan(&e.ID, &e.Evaluator, &e.Email, &e.Status, &e.Error, &sentAt); err != nil {
			return nil, fmt.Errorf("scanning send log: %w", err)
		}
		if e.SentAt, err = time.Parse(timeFormat, sentAt); err != nil {
			return nil, fmt.Errorf("parsing send log sent_at: %w", err)
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
