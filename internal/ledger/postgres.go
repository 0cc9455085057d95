package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists verification codes in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed code store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert stores a freshly issued code.
func (s *PostgresStore) Insert(ctx context.Context, code Code) (Code, error) {
	const query = `INSERT INTO verification_codes (phone, code, purpose, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING id`
	if err := s.db.QueryRow(ctx, query, code.Phone, code.Value, string(code.Purpose), code.CreatedAt.UTC(), code.ExpiresAt.UTC()).Scan(&code.ID); err != nil {
		return Code{}, err
	}
	code.Consumed = false
	code.ConsumedAt = nil
	code.Attempts = 0
	return code, nil
}

// Latest returns the newest live code for phone and purpose.
func (s *PostgresStore) Latest(ctx context.Context, phone string, purpose Purpose, now time.Time) (Code, error) {
	const query = `
        SELECT id, phone, code, purpose, created_at, expires_at, consumed, consumed_at, attempts
        FROM verification_codes
        WHERE phone = $1 AND purpose = $2 AND consumed = FALSE AND expires_at > $3
        ORDER BY created_at DESC, id DESC
        LIMIT 1`
	var (
		c       Code
		purpStr string
	)
	err := s.db.QueryRow(ctx, query, phone, string(purpose), now.UTC()).
		Scan(&c.ID, &c.Phone, &c.Value, &purpStr, &c.CreatedAt, &c.ExpiresAt, &c.Consumed, &c.ConsumedAt, &c.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Code{}, ErrNoActiveCode
		}
		return Code{}, fmt.Errorf("query verification code: %w", err)
	}
	c.Purpose = Purpose(purpStr)
	c.CreatedAt = c.CreatedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	return c, nil
}

// MarkConsumed relies on the row lock taken by UPDATE: a concurrent updater
// blocks, then re-evaluates the predicate against the committed row and
// matches nothing.
func (s *PostgresStore) MarkConsumed(ctx context.Context, id int64, now time.Time) (bool, error) {
	cmd, err := s.db.Exec(ctx, `UPDATE verification_codes
        SET consumed = TRUE, consumed_at = $2
        WHERE id = $1 AND consumed = FALSE AND expires_at > $2`, id, now.UTC())
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// RecordFailure increments attempts in the same statement that decides
// whether the code is burned, so concurrent wrong guesses are all counted.
func (s *PostgresStore) RecordFailure(ctx context.Context, id int64, maxAttempts int) (bool, error) {
	var burned bool
	err := s.db.QueryRow(ctx, `UPDATE verification_codes
        SET attempts = attempts + 1, consumed = (attempts + 1 >= $2)
        WHERE id = $1 AND consumed = FALSE
        RETURNING consumed`, id, maxAttempts).Scan(&burned)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return burned, nil
}
