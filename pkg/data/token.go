package data

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	insertTokenSQL = `INSERT INTO token (id, evaluator, signed, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`

	deleteTokensSQL = `DELETE FROM token`

	selectTokenSQL = `SELECT id, evaluator, signed, issued_at, expires_at, used_at
		FROM token
		WHERE id = ?
	`

	selectTokensSQL = `SELECT id, evaluator, signed, issued_at, expires_at, used_at
		FROM token
		ORDER BY evaluator
	`

	markTokenUsedSQL = `UPDATE token SET used_at = ? WHERE id = ? AND used_at IS NULL`
)

// TokenRecord is the persisted side of a review link: the signed JWT
// carries the same id, the row tracks expiry and one-time use.
type TokenRecord struct {
	ID        string     `json:"id" yaml:"id"`
	Evaluator string     `json:"evaluator" yaml:"evaluator"`
	Signed    string     `json:"-" yaml:"-"`
	IssuedAt  time.Time  `json:"issued_at" yaml:"issuedAt"`
	ExpiresAt time.Time  `json:"expires_at" yaml:"expiresAt"`
	UsedAt    *time.Time `json:"used_at,omitempty" yaml:"usedAt,omitempty"`
}

func (t *TokenRecord) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t *TokenRecord) Used() bool {
	return t.UsedAt != nil
}

// ReplaceTokens clears the previous token round and stores the new one.
func ReplaceTokens(db *sql.DB, tokens []*TokenRecord) error {
	if db == nil {
		return errDBNotInitialized
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting token tx: %w", err)
	}

	if _, err := tx.Exec(deleteTokensSQL); err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("clearing tokens: %w", err)
	}

	stmt, err := tx.Prepare(insertTokenSQL)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("preparing token insert: %w", err)
	}
	for _, t := range tokens {
		_, err := stmt.Exec(t.ID, t.Evaluator, t.Signed,
			t.IssuedAt.UTC().Format(timeFormat),
			t.ExpiresAt.UTC().Format(timeFormat))
		if err != nil {
			rollbackTransaction(tx)
			return fmt.Errorf("saving token for %s: %w", t.Evaluator, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing token tx: %w", err)
	}
	return nil
}

// GetToken returns a token row or nil when unknown.
func GetToken(db *sql.DB, id string) (*TokenRecord, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	var t TokenRecord
	var issued, expires string
	var used sql.NullString
	err := db.QueryRow(selectTokenSQL, id).Scan(&t.ID, &t.Evaluator, &t.Signed, &issued, &expires, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying token %s: %w", id, err)
	}

	if t.IssuedAt, err = time.Parse(timeFormat, issued); err != nil {
		return nil, fmt.Errorf("parsing token issued_at: %w", err)
	}
	if t.ExpiresAt, err = time.Parse(timeFormat, expires); err != nil {
		return nil, fmt.Errorf("parsing token expires_at: %w", err)
	}
	if used.Valid {
		u, err := time.Parse(timeFormat, used.String)
		if err != nil {
			return nil, fmt.Errorf("parsing token used_at: %w", err)
		}
		t.UsedAt = &u
	}
	return &t, nil
}

// GetTokens returns all token rows ordered by evaluator.
func GetTokens(db *sql.DB) ([]*TokenRecord, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectTokensSQL)
	if err != nil {
		return nil, fmt.Errorf("querying tokens: %w", err)
	}
	defer rows.Close()

	list := make([]*TokenRecord, 0)
	for rows.Next() {
		var t TokenRecord
		var issued, expires string
		var used sql.NullString
		if err := rows.Scan(&t.ID, &t.Evaluator, &t.Signed, &issued, &expires, &used); err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		if t.IssuedAt, err = time.Parse(timeFormat, issued); err != nil {
			return nil, fmt.Errorf("parsing token issued_at: %w", err)
		}
		if t.ExpiresAt, err = time.Parse(timeFormat, expires); err != nil {
			return nil, fmt.Errorf("parsing token expires_at: %w", err)
		}
		if used.Valid {
			u, err := time.Parse(timeFormat, used.String)
			if err != nil {
				return nil, fmt.Errorf("parsing token used_at: %w", err)
			}
			t.UsedAt = &u
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
