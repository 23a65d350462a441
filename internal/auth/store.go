package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/p-n-ai/pai-esl/internal/platform/database"
)

const dbTimeout = 5 * time.Second

// Store persists accounts.
type Store interface {
	ByEmail(ctx context.Context, email string) (*Account, error)
	ByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, a Account) (*Account, error)
}

// MemoryStore is an in-memory account store.
type MemoryStore struct {
	byID map[string]Account
	mu   sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Account)}
}

func (s *MemoryStore) ByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = normalizeEmail(email)
	for _, a := range s.byID {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ByID(_ context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) Create(_ context.Context, a Account) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[a.ID]; ok {
		return nil, ErrDuplicate
	}
	for _, existing := range s.byID {
		if existing.Email == a.Email {
			return nil, ErrDuplicate
		}
	}
	a.CreatedAt = time.Now()
	s.byID[a.ID] = a
	return &a, nil
}

// PostgresStore is a PostgreSQL-backed account store.
type PostgresStore struct {
	q database.Querier
}

func NewPostgresStore(q database.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

func (s *PostgresStore) ByEmail(ctx context.Context, email string) (*Account, error) {
	return s.one(ctx, `WHERE email = $1`, normalizeEmail(email))
}

func (s *PostgresStore) ByID(ctx context.Context, id string) (*Account, error) {
	return s.one(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) one(ctx context.Context, where string, arg string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var a Account
	var role string
	err := s.q.QueryRow(ctx,
		`SELECT id, email, name, role, password_hash, created_at FROM accounts `+where,
		arg,
	).Scan(&a.ID, &a.Email, &a.Name, &role, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.Role = Role(role)
	return &a, nil
}

func (s *PostgresStore) Create(ctx context.Context, a Account) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	err := s.q.QueryRow(ctx,
		`INSERT INTO accounts (id, email, name, role, password_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		a.ID, a.Email, a.Name, string(a.Role), a.PasswordHash,
	).Scan(&a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return &a, nil
}
