package identity

import (
	"regexp"
	"time"
)

// Status captures whether a user may authenticate.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Valid reports whether s is a known account status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusDisabled
}

// User represents a registered account holder.
type User struct {
	ID           string
	Phone        string
	PasswordHash []byte
	Status       Status
	RegisteredAt time.Time
	LastLoginAt  *time.Time
	// Version is bumped on every successful Update and guards concurrent writers.
	Version int
}

// Active reports whether the account may authenticate.
func (u User) Active() bool {
	return u.Status == StatusActive
}

// HasPassword reports whether a password credential was ever set.
func (u User) HasPassword() bool {
	return len(u.PasswordHash) > 0
}

var phonePattern = regexp.MustCompile(`^1[3-9][0-9]{9}$`)

// ValidPhone reports whether phone is an 11 digit mainland mobile number.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phone)
}
