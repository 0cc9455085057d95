package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists verification codes in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore constructs a SQLite-backed code store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert stores a freshly issued code.
func (s *SQLiteStore) Insert(ctx context.Context, code Code) (Code, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO verification_codes (phone, code, purpose, created_at, expires_at)
        VALUES (?, ?, ?, ?, ?)`, code.Phone, code.Value, string(code.Purpose), code.CreatedAt.UTC().UnixMilli(), code.ExpiresAt.UTC().UnixMilli())
	if err != nil {
		return Code{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Code{}, err
	}
	code.ID = id
	code.Consumed = false
	code.ConsumedAt = nil
	code.Attempts = 0
	return code, nil
}

// Latest returns the newest live code for phone and purpose.
func (s *SQLiteStore) Latest(ctx context.Context, phone string, purpose Purpose, now time.Time) (Code, error) {
	const query = `
        SELECT id, phone, code, purpose, created_at, expires_at, attempts
        FROM verification_codes
        WHERE phone = ? AND purpose = ? AND consumed = 0 AND expires_at > ?
        ORDER BY created_at DESC, id DESC
        LIMIT 1`
	var (
		c                    Code
		purpStr              string
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, query, phone, string(purpose), now.UTC().UnixMilli()).
		Scan(&c.ID, &c.Phone, &c.Value, &purpStr, &createdAt, &expiresAt, &c.Attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Code{}, ErrNoActiveCode
		}
		return Code{}, fmt.Errorf("query verification code: %w", err)
	}
	c.Purpose = Purpose(purpStr)
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	c.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return c, nil
}

// MarkConsumed flips the consumed flag with a conditional UPDATE.
func (s *SQLiteStore) MarkConsumed(ctx context.Context, id int64, now time.Time) (bool, error) {
	ms := now.UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx, `UPDATE verification_codes
        SET consumed = 1, consumed_at = ?
        WHERE id = ? AND consumed = 0 AND expires_at > ?`, ms, id, ms)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// RecordFailure counts a wrong guess and burns the code at maxAttempts.
func (s *SQLiteStore) RecordFailure(ctx context.Context, id int64, maxAttempts int) (bool, error) {
	var burned bool
	err := s.db.QueryRowContext(ctx, `UPDATE verification_codes
        SET attempts = attempts + 1, consumed = (attempts + 1 >= ?)
        WHERE id = ? AND consumed = 0
        RETURNING consumed`, maxAttempts, id).Scan(&burned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return burned, nil
}
