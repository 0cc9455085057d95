package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteRepository implements Repository over an embedded SQLite database.
// Timestamps are stored as UTC unix milliseconds.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository builds a SQLite-backed identity repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new user.
func (r *SQLiteRepository) Create(ctx context.Context, user User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Phone, user.PasswordHash, string(user.Status), toMillis(user.RegisteredAt), nullMillis(user.LastLoginAt), user.Version)
	if isConstraintError(err) {
		return ErrPhoneTaken
	}
	return err
}

// FindByID fetches a user by identifier.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (User, error) {
	return scanSQLiteUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// FindByPhone fetches a user by phone number.
func (r *SQLiteRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return scanSQLiteUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone))
}

// Update applies a compare-and-set on the version column.
func (r *SQLiteRepository) Update(ctx context.Context, user User) (User, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE users
        SET phone = ?, password_hash = ?, status = ?, last_login_at = ?, version = version + 1
        WHERE id = ? AND version = ?`,
		user.Phone, user.PasswordHash, string(user.Status), nullMillis(user.LastLoginAt), user.ID, user.Version)
	if err != nil {
		if isConstraintError(err) {
			return User{}, ErrPhoneTaken
		}
		return User{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return User{}, err
	}
	if affected == 0 {
		if _, err := r.FindByID(ctx, user.ID); err != nil {
			return User{}, err
		}
		return User{}, ErrVersionConflict
	}
	user.Version++
	return user, nil
}

func scanSQLiteUser(row *sql.Row) (User, error) {
	var (
		user         User
		status       string
		registeredAt int64
		lastLoginAt  sql.NullInt64
	)
	if err := row.Scan(&user.ID, &user.Phone, &user.PasswordHash, &status, &registeredAt, &lastLoginAt, &user.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	user.Status = Status(status)
	user.RegisteredAt = fromMillis(registeredAt)
	if lastLoginAt.Valid {
		t := fromMillis(lastLoginAt.Int64)
		user.LastLoginAt = &t
	}
	return user, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}
