package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/health777/health777/internal/identity"
	"github.com/health777/health777/internal/ledger"
)

// CodeLedger is the slice of the verification code ledger the auth flows use.
type CodeLedger interface {
	Issue(ctx context.Context, phone string, purpose ledger.Purpose) (string, error)
	Consume(ctx context.Context, phone, code string, purpose ledger.Purpose) (bool, error)
}

// Verifier checks password and one-time code credentials.
type Verifier struct {
	users  *identity.Service
	codes  CodeLedger
	hasher *PasswordHasher
}

// NewVerifier wires a Verifier.
func NewVerifier(users *identity.Service, codes CodeLedger, hasher *PasswordHasher) *Verifier {
	return &Verifier{users: users, codes: codes, hasher: hasher}
}

// HashPassword returns a freshly salted hash of plain.
func (v *Verifier) HashPassword(plain string) ([]byte, error) {
	return v.hasher.Hash(plain)
}

// VerifyPassword compares plain with storedHash in constant time.
func (v *Verifier) VerifyPassword(storedHash []byte, plain string) bool {
	return v.hasher.Verify(storedHash, plain)
}

// CheckPassword looks up phone and verifies plain against its hash. Unknown
// phones cost the same as a mismatch and both return ErrInvalidCredential.
// Account status is not checked here.
func (v *Verifier) CheckPassword(ctx context.Context, phone, plain string) (identity.User, error) {
	user, err := v.users.FindByPhone(ctx, phone)
	if errors.Is(err, identity.ErrNotFound) {
		v.hasher.Burn(plain)
		return identity.User{}, ErrInvalidCredential
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("find user: %w", err)
	}
	if !v.hasher.Verify(user.PasswordHash, plain) {
		return identity.User{}, ErrInvalidCredential
	}
	return user, nil
}

// VerifyCodeLogin consumes a login code for phone and returns the account it
// belongs to. ok is false when the code is not accepted or no account exists.
func (v *Verifier) VerifyCodeLogin(ctx context.Context, phone, code string) (identity.User, bool, error) {
	accepted, err := v.codes.Consume(ctx, phone, code, ledger.PurposeLogin)
	if err != nil {
		return identity.User{}, false, err
	}
	if !accepted {
		return identity.User{}, false, nil
	}
	user, err := v.users.FindByPhone(ctx, phone)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.User{}, false, nil
	}
	if err != nil {
		return identity.User{}, false, fmt.Errorf("find user: %w", err)
	}
	return user, true, nil
}
