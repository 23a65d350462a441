// Package auth manages accounts, password login and signed access tokens.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Role is an account's permission level.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid access token")
	ErrNotFound           = errors.New("account not found")
	ErrDuplicate          = errors.New("account already exists")
	ErrInvalidInput       = errors.New("invalid account input")
)

// Account is a user who can sign in.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is the authenticated caller of a request.
type Session struct {
	AccountID string
	Email     string
	Role      Role
}

// IsStaff reports whether the caller may act on other students.
func (s Session) IsStaff() bool {
	return s.Role == RoleTeacher || s.Role == RoleAdmin
}

// CanAccessStudent reports whether the caller may read or change a student's data.
// Students only reach their own records.
func (s Session) CanAccessStudent(studentID string) bool {
	return s.IsStaff() || s.AccountID == studentID
}

type sessionKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored by WithSession.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
