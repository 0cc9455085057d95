package ledger

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Purpose limits which flow may consume a verification code.
type Purpose string

const (
	PurposeRegister      Purpose = "register"
	PurposeLogin         Purpose = "login"
	PurposeResetPassword Purpose = "reset_password"
	PurposeChangePhone   Purpose = "change_phone"
)

// legacyTypes maps the numeric sms "type" field used by older clients.
var legacyTypes = map[int]Purpose{
	1: PurposeRegister,
	2: PurposeLogin,
	3: PurposeResetPassword,
	4: PurposeChangePhone,
}

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeRegister, PurposeLogin, PurposeResetPassword, PurposeChangePhone:
		return true
	default:
		return false
	}
}

// PurposeFromType resolves the legacy numeric code (1-4).
func PurposeFromType(t int) (Purpose, bool) {
	p, ok := legacyTypes[t]
	return p, ok
}

const (
	// CodeLength is the number of digits in an issued code.
	CodeLength = 6
	// DefaultTTL is how long an issued code stays consumable.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxAttempts is how many wrong guesses burn a code.
	DefaultMaxAttempts = 5
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// ValidCode reports whether code has the issued shape: six ASCII digits.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

var (
	// ErrNoActiveCode is returned by Store.Latest when nothing consumable exists.
	ErrNoActiveCode = errors.New("no active verification code")
	// ErrInvalidPhone rejects issuance for a malformed phone number.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidPurpose rejects issuance for an unknown purpose.
	ErrInvalidPurpose = errors.New("invalid verification purpose")
)

// Code is one issued verification code. After insertion only Attempts grows;
// Consumed flips once, either on acceptance (ConsumedAt set) or when Attempts
// reaches the limit (ConsumedAt left nil).
type Code struct {
	ID         int64
	Phone      string
	Value      string
	Purpose    Purpose
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Consumed   bool
	ConsumedAt *time.Time
	Attempts   int
}

// Store defines the contract implemented by verification code backends.
type Store interface {
	// Insert persists code and returns it with its assigned ID.
	Insert(ctx context.Context, code Code) (Code, error)
	// Latest returns the most recently issued code for phone and purpose that
	// is unconsumed and expires after now, or ErrNoActiveCode.
	Latest(ctx context.Context, phone string, purpose Purpose, now time.Time) (Code, error)
	// MarkConsumed flips the code to consumed if it is still unconsumed and
	// unexpired at now. It reports whether this call performed the flip.
	MarkConsumed(ctx context.Context, id int64, now time.Time) (bool, error)
	// RecordFailure counts a wrong guess against an unconsumed code and burns
	// it once maxAttempts is reached. It reports whether the code is burned.
	RecordFailure(ctx context.Context, id int64, maxAttempts int) (bool, error)
}
