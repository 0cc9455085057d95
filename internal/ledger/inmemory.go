package ledger

import (
	"context"
	"sync"
	"time"
)

type inMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	codes  []Code
}

// NewInMemory creates a concurrency-safe in-memory code store useful for unit tests.
func NewInMemory() Store {
	return &inMemoryStore{}
}

func (s *inMemoryStore) Insert(_ context.Context, code Code) (Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	code.ID = s.nextID
	code.Consumed = false
	code.ConsumedAt = nil
	code.Attempts = 0
	s.codes = append(s.codes, code)
	return code, nil
}

func (s *inMemoryStore) Latest(_ context.Context, phone string, purpose Purpose, now time.Time) (Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  Code
		found bool
	)
	for _, c := range s.codes {
		if c.Phone != phone || c.Purpose != purpose || c.Consumed || !c.ExpiresAt.After(now) {
			continue
		}
		if !found || c.CreatedAt.After(best.CreatedAt) || (c.CreatedAt.Equal(best.CreatedAt) && c.ID > best.ID) {
			best, found = c, true
		}
	}
	if !found {
		return Code{}, ErrNoActiveCode
	}
	return best, nil
}

func (s *inMemoryStore) MarkConsumed(_ context.Context, id int64, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.codes {
		c := &s.codes[i]
		if c.ID != id {
			continue
		}
		if c.Consumed || !c.ExpiresAt.After(now) {
			return false, nil
		}
		c.Consumed = true
		consumedAt := now
		c.ConsumedAt = &consumedAt
		return true, nil
	}
	return false, nil
}

func (s *inMemoryStore) RecordFailure(_ context.Context, id int64, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.codes {
		c := &s.codes[i]
		if c.ID != id {
			continue
		}
		if c.Consumed {
			return false, nil
		}
		c.Attempts++
		if c.Attempts >= maxAttempts {
			c.Consumed = true
		}
		return c.Consumed, nil
	}
	return false, nil
}
