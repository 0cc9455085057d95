package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/health777/health777/internal/identity"
	"github.com/health777/health777/internal/ledger"
	"github.com/health777/health777/internal/logging"
	"github.com/health777/health777/internal/notification"
)

// CodeIssuer is a CodeLedger that also reports how long its codes live.
type CodeIssuer interface {
	CodeLedger
	TTL() time.Duration
}

// Service implements the account flows: registration, logins and the
// credential mutations that are gated by verification codes.
type Service struct {
	users    *identity.Service
	codes    CodeIssuer
	verifier *Verifier
	tokens   *TokenService
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for last-login stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
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

// WithNotifier sets where issued codes are delivered.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService wires the auth flows.
func NewService(users *identity.Service, codes CodeIssuer, hasher *PasswordHasher, tokens *TokenService, opts ...Option) *Service {
	s := &Service{
		users:    users,
		codes:    codes,
		verifier: NewVerifier(users, codes, hasher),
		tokens:   tokens,
		logger:   logging.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens exposes the token service used by the flows.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// Register creates an account for phone after consuming a register code and
// returns a token for it.
func (s *Service) Register(ctx context.Context, phone, code, password string) (Token, error) {
	if err := validate(phone, code); err != nil {
		return Token{}, err
	}
	if !ValidPassword(password) {
		return Token{}, ErrInvalidPassword
	}

	if err := s.ensurePhoneFree(ctx, phone); err != nil {
		return Token{}, err
	}
	hash, err := s.verifier.HashPassword(password)
	if err != nil {
		return Token{}, fmt.Errorf("hash password: %w", err)
	}
	if err := s.consume(ctx, phone, code, ledger.PurposeRegister); err != nil {
		return Token{}, err
	}

	user, err := s.users.Create(ctx, phone, hash)
	if errors.Is(err, identity.ErrPhoneTaken) {
		return Token{}, ErrAlreadyExists
	}
	if err != nil {
		return Token{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered", slog.String("user_id", user.ID), slog.String("phone", notification.Mask(phone)))
	return s.tokens.Mint(user.ID)
}

// LoginPassword authenticates with phone and password.
func (s *Service) LoginPassword(ctx context.Context, phone, password string) (Token, error) {
	if !identity.ValidPhone(phone) {
		return Token{}, ErrInvalidPhone
	}
	if password == "" {
		return Token{}, ErrInvalidCredential
	}

	user, err := s.verifier.CheckPassword(ctx, phone, password)
	if err != nil {
		return Token{}, err
	}
	return s.completeLogin(ctx, user, "password")
}

// LoginCode authenticates with phone and a login verification code.
func (s *Service) LoginCode(ctx context.Context, phone, code string) (Token, error) {
	if err := validate(phone, code); err != nil {
		return Token{}, err
	}

	user, ok, err := s.verifier.VerifyCodeLogin(ctx, phone, code)
	if err != nil {
		return Token{}, fmt.Errorf("verify login code: %w", err)
	}
	if !ok {
		return Token{}, ErrInvalidCredential
	}
	return s.completeLogin(ctx, user, "code")
}

func (s *Service) completeLogin(ctx context.Context, user identity.User, method string) (Token, error) {
	if !user.Active() {
		return Token{}, ErrAccountDisabled
	}
	_, err := s.users.Mutate(ctx, user.ID, func(u *identity.User) error {
		if !u.Active() {
			return ErrAccountDisabled
		}
		now := s.now().UTC()
		u.LastLoginAt = &now
		return nil
	})
	if err != nil {
		return Token{}, mapUserErr(err, "record login")
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID), slog.String("method", method))
	return s.tokens.Mint(user.ID)
}

// ChangePassword replaces the password of userID after checking oldPassword.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if !ValidPassword(newPassword) {
		return ErrInvalidPassword
	}
	hash, err := s.verifier.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = s.users.Mutate(ctx, userID, func(u *identity.User) error {
		if !s.verifier.VerifyPassword(u.PasswordHash, oldPassword) {
			return ErrInvalidCredential
		}
		u.PasswordHash = hash
		return nil
	})
	if err != nil {
		return mapUserErr(err, "change password")
	}
	s.logger.Info("password changed", slog.String("user_id", userID))
	return nil
}

// ResetPassword sets a new password for phone after consuming a reset code.
func (s *Service) ResetPassword(ctx context.Context, phone, code, newPassword string) error {
	if err := validate(phone, code); err != nil {
		return err
	}
	if !ValidPassword(newPassword) {
		return ErrInvalidPassword
	}

	user, err := s.users.FindByPhone(ctx, phone)
	if err != nil {
		return mapUserErr(err, "find user")
	}
	hash, err := s.verifier.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.consume(ctx, phone, code, ledger.PurposeResetPassword); err != nil {
		return err
	}

	_, err = s.users.Mutate(ctx, user.ID, func(u *identity.User) error {
		u.PasswordHash = hash
		return nil
	})
	if err != nil {
		return mapUserErr(err, "reset password")
	}
	s.logger.Info("password reset", slog.String("user_id", user.ID))
	return nil
}

// ChangePhone moves userID to newPhone after consuming a change_phone code
// sent to newPhone.
func (s *Service) ChangePhone(ctx context.Context, userID, newPhone, code string) error {
	if err := validate(newPhone, code); err != nil {
		return err
	}

	if err := s.ensurePhoneFree(ctx, newPhone); err != nil {
		return err
	}
	if err := s.consume(ctx, newPhone, code, ledger.PurposeChangePhone); err != nil {
		return err
	}

	_, err := s.users.Mutate(ctx, userID, func(u *identity.User) error {
		u.Phone = newPhone
		return nil
	})
	if errors.Is(err, identity.ErrPhoneTaken) {
		return ErrAlreadyExists
	}
	if err != nil {
		return mapUserErr(err, "change phone")
	}
	s.logger.Info("phone changed", slog.String("user_id", userID), slog.String("phone", notification.Mask(newPhone)))
	return nil
}

// SendCode issues a code for phone and purpose and hands it to the notifier.
// Delivery failures are logged and do not fail the call.
func (s *Service) SendCode(ctx context.Context, phone string, purpose ledger.Purpose) error {
	if !identity.ValidPhone(phone) {
		return ErrInvalidPhone
	}
	if !purpose.Valid() {
		return ErrInvalidPurpose
	}

	code, err := s.codes.Issue(ctx, phone, purpose)
	if err != nil {
		return fmt.Errorf("issue verification code: %w", err)
	}

	minutes := int(s.codes.TTL() / time.Minute)
	notification.Deliver(ctx, s.notifier, s.logger, notification.Message{
		Kind:        notification.KindVerificationCode,
		Destination: phone,
		Body:        fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes),
		Params: map[string]string{
			"code":    code,
			"purpose": string(purpose),
			"minutes": fmt.Sprint(minutes),
		},
	})
	return nil
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (identity.User, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		return identity.User{}, err
	}
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.User{}, ErrInvalidToken
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("find user: %w", err)
	}
	if !user.Active() {
		return identity.User{}, ErrAccountDisabled
	}
	return user, nil
}

// Me returns the account for userID.
func (s *Service) Me(ctx context.Context, userID string) (identity.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return identity.User{}, mapUserErr(err, "find user")
	}
	return user, nil
}

func (s *Service) ensurePhoneFree(ctx context.Context, phone string) error {
	_, err := s.users.FindByPhone(ctx, phone)
	switch {
	case err == nil:
		return ErrAlreadyExists
	case errors.Is(err, identity.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("find user: %w", err)
	}
}

func (s *Service) consume(ctx context.Context, phone, code string, purpose ledger.Purpose) error {
	ok, err := s.codes.Consume(ctx, phone, code, purpose)
	if err != nil {
		return fmt.Errorf("consume verification code: %w", err)
	}
	if !ok {
		return ErrInvalidCredential
	}
	return nil
}

func validate(phone, code string) error {
	if !identity.ValidPhone(phone) {
		return ErrInvalidPhone
	}
	if !ledger.ValidCode(code) {
		return ErrInvalidCode
	}
	return nil
}

// mapUserErr translates store sentinels and wraps everything else. Errors
// already in this package's taxonomy pass through.
func mapUserErr(err error, op string) error {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrAccountDisabled):
		return err
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
