package identity

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	users   map[string]User
	byPhone map[string]string
}

// NewMemoryRepository builds an in-memory user store for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		users:   make(map[string]User),
		byPhone: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPhone[user.Phone]; exists {
		return ErrPhoneTaken
	}
	r.users[user.ID] = clone(user)
	r.byPhone[user.Phone] = user.ID
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return clone(user), nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPhone[phone]
	if !ok {
		return User{}, ErrNotFound
	}
	return clone(r.users[id]), nil
}

func (r *memoryRepository) Update(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.users[user.ID]
	if !ok {
		return User{}, ErrNotFound
	}
	if current.Version != user.Version {
		return User{}, ErrVersionConflict
	}
	if user.Phone != current.Phone {
		if owner, taken := r.byPhone[user.Phone]; taken && owner != user.ID {
			return User{}, ErrPhoneTaken
		}
		delete(r.byPhone, current.Phone)
		r.byPhone[user.Phone] = user.ID
	}
	user.Version++
	r.users[user.ID] = clone(user)
	return clone(user), nil
}

// clone keeps callers from aliasing the stored hash or timestamp.
func clone(u User) User {
	if u.PasswordHash != nil {
		u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		u.LastLoginAt = &t
	}
	return u
}
