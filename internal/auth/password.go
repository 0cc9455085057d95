package auth

import (
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 6
	MaxPasswordLength = 20

	// bcrypt rejects longer input.
	maxPasswordBytes = 72
)

// ValidPassword reports whether plain satisfies the length policy.
func ValidPassword(plain string) bool {
	n := utf8.RuneCountInString(plain)
	return n >= MinPasswordLength && n <= MaxPasswordLength && len(plain) <= maxPasswordBytes && utf8.ValidString(plain)
}

// PasswordHasher produces and checks salted bcrypt hashes.
type PasswordHasher struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewPasswordHasher returns a hasher using cost, or bcrypt.DefaultCost when
// cost is out of range.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns a new hash of plain with a fresh random salt.
func (h *PasswordHasher) Hash(plain string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plain), h.cost)
}

// Verify reports whether plain matches hash. An empty hash never matches.
func (h *PasswordHasher) Verify(hash []byte, plain string) bool {
	if len(hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(plain)) == nil
}

// Burn spends the same work as a real comparison so unknown accounts cannot
// be told apart by response time.
func (h *PasswordHasher) Burn(plain string) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("health777-timing-equaliser"), h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plain))
}
