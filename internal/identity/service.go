package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const maxUpdateAttempts = 3

// Service wraps a Repository with id assignment and optimistic retries.
type Service struct {
	repo Repository
	now  func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for registration timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new identity service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers an active user for phone. ErrPhoneTaken is returned when
// the phone already belongs to someone.
func (s *Service) Create(ctx context.Context, phone string, passwordHash []byte) (User, error) {
	user := User{
		ID:           uuid.New().String(),
		Phone:        phone,
		PasswordHash: passwordHash,
		Status:       StatusActive,
		RegisteredAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// FindByID returns the user with id.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByPhone returns the user owning phone.
func (s *Service) FindByPhone(ctx context.Context, phone string) (User, error) {
	return s.repo.FindByPhone(ctx, phone)
}

// Mutate loads the user, lets apply change it and writes it back with a
// version check. On a lost race the whole read-apply-write cycle is repeated,
// so apply must re-check its preconditions against the fresh record.
func (s *Service) Mutate(ctx context.Context, id string, apply func(*User) error) (User, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		user, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return User{}, err
		}
		if err := apply(&user); err != nil {
			return User{}, err
		}
		updated, err := s.repo.Update(ctx, user)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return updated, err
	}
	return User{}, fmt.Errorf("update user %s: %w", id, ErrVersionConflict)
}

// SetStatus enables or disables the account registered to phone.
func (s *Service) SetStatus(ctx context.Context, phone string, status Status) (User, error) {
	if !status.Valid() {
		return User{}, fmt.Errorf("unknown status %q", status)
	}
	user, err := s.repo.FindByPhone(ctx, phone)
	if err != nil {
		return User{}, err
	}
	return s.Mutate(ctx, user.ID, func(u *User) error {
		u.Status = status
		return nil
	})
}
