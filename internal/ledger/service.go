package ledger

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/health777/health777/internal/identity"
	"github.com/health777/health777/internal/logging"
)

const codeSpace = 1_000_000

// Service issues and consumes one-time verification codes.
type Service struct {
	store       Store
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand makes code generation deterministic. The generator is guarded by
// the service, callers must not share it.
func WithRand(rng *rand.Rand) Option {
	return func(s *Service) { s.rng = rng }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService builds a ledger service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		ttl:         DefaultTTL,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns how long issued codes remain consumable.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue generates and stores a new code for phone and purpose and returns it
// for delivery. Earlier outstanding codes are left untouched; only the most
// recent one is accepted by Consume.
func (s *Service) Issue(ctx context.Context, phone string, purpose Purpose) (string, error) {
	if !identity.ValidPhone(phone) {
		return "", ErrInvalidPhone
	}
	if !purpose.Valid() {
		return "", ErrInvalidPurpose
	}

	now := s.now().UTC()
	stored, err := s.store.Insert(ctx, Code{
		Phone:     phone,
		Value:     s.generate(),
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("store verification code: %w", err)
	}

	s.logger.Debug("verification code issued",
		slog.Int64("code_id", stored.ID),
		slog.String("purpose", string(purpose)),
		slog.Time("expires_at", stored.ExpiresAt),
	)
	return stored.Value, nil
}

// Consume accepts code if it equals the most recent live code for phone and
// purpose, marking it consumed. A wrong guess counts against that code and
// the code is burned after the configured number of misses. Concurrent calls for the same code have
// exactly one winner. A false result carries no error; errors are reserved for
// storage failures.
func (s *Service) Consume(ctx context.Context, phone, code string, purpose Purpose) (bool, error) {
	if !identity.ValidPhone(phone) || !ValidCode(code) || !purpose.Valid() {
		return false, nil
	}

	now := s.now().UTC()
	latest, err := s.store.Latest(ctx, phone, purpose, now)
	if errors.Is(err, ErrNoActiveCode) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load verification code: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(latest.Value), []byte(code)) != 1 {
		burned, err := s.store.RecordFailure(ctx, latest.ID, s.maxAttempts)
		if err != nil {
			return false, fmt.Errorf("record failed attempt: %w", err)
		}
		if burned {
			s.logger.Warn("verification code burned after repeated wrong guesses",
				slog.Int64("code_id", latest.ID),
				slog.String("purpose", string(purpose)),
			)
		}
		return false, nil
	}

	won, err := s.store.MarkConsumed(ctx, latest.ID, now)
	if err != nil {
		return false, fmt.Errorf("consume verification code: %w", err)
	}
	if !won {
		s.logger.Info("verification code already consumed", slog.Int64("code_id", latest.ID), slog.String("purpose", string(purpose)))
	}
	return won, nil
}

func (s *Service) generate() string {
	var n int
	if s.rng == nil {
		n = rand.IntN(codeSpace)
	} else {
		s.mu.Lock()
		n = s.rng.IntN(codeSpace)
		s.mu.Unlock()
	}
	return fmt.Sprintf("%0*d", CodeLength, n)
}
