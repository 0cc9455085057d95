package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no user matches the lookup key.
	ErrNotFound = errors.New("user not found")
	// ErrPhoneTaken is returned when a write would give two users the same phone.
	ErrPhoneTaken = errors.New("phone already registered")
	// ErrVersionConflict is returned by Update when the stored record moved on
	// since it was read.
	ErrVersionConflict = errors.New("user changed concurrently")
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	// Update writes user if the stored version still equals user.Version and
	// returns the record with its new version.
	Update(ctx context.Context, user User) (User, error)
}

const userColumns = `id, phone, password_hash, status, registered_at, last_login_at, version`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, user.Phone, user.PasswordHash, string(user.Status), user.RegisteredAt.UTC(), utcPtr(user.LastLoginAt), user.Version)
	if isUniqueViolation(err) {
		return ErrPhoneTaken
	}
	return err
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrNotFound
	}
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// FindByPhone fetches a user by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
}

// Update applies a compare-and-set on the version column.
func (r *PostgresRepository) Update(ctx context.Context, user User) (User, error) {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return User{}, ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users
        SET phone = $1, password_hash = $2, status = $3, last_login_at = $4, version = version + 1
        WHERE id = $5 AND version = $6`,
		user.Phone, user.PasswordHash, string(user.Status), utcPtr(user.LastLoginAt), userID, user.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrPhoneTaken
		}
		return User{}, err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, user.ID); err != nil {
			return User{}, err
		}
		return User{}, ErrVersionConflict
	}
	user.Version++
	return user, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		id          uuid.UUID
		status      string
		lastLoginAt *time.Time
		user        User
	)
	if err := row.Scan(&id, &user.Phone, &user.PasswordHash, &status, &user.RegisteredAt, &lastLoginAt, &user.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	user.ID = id.String()
	user.Status = Status(status)
	user.RegisteredAt = user.RegisteredAt.UTC()
	user.LastLoginAt = utcPtr(lastLoginAt)
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
