package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// Service registers accounts and exchanges credentials for access tokens.
type Service struct {
	store  Store
	tokens *TokenIssuer
	cost   int
}

// NewService creates an auth service.
func NewService(store Store, tokens *TokenIssuer) *Service {
	return &Service{store: store, tokens: tokens, cost: bcrypt.DefaultCost}
}

// Tokens returns the issuer used to verify access tokens.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// Register creates an account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, email, name string, role Role, password string) (*Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a, err := s.store.Create(ctx, Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	slog.Info("account registered", "account_id", a.ID, "role", a.Role)
	return a, nil
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, time.Time, *Account, error) {
	a, err := s.store.ByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", time.Time{}, nil, fmt.Errorf("load account: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	token, expires, err := s.tokens.Issue(*a)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return token, expires, a, nil
}

// Authenticate verifies an access token.
func (s *Service) Authenticate(token string) (Session, error) {
	return s.tokens.Parse(token)
}
