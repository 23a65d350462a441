package learning

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/p-n-ai/pai-esl/internal/assignment"
	"github.com/p-n-ai/pai-esl/internal/curriculum"
	"github.com/p-n-ai/pai-esl/internal/platform/database"
	"github.com/p-n-ai/pai-esl/internal/progress"
)

// Stores groups the stores one unit of work touches.
type Stores struct {
	Progress    progress.Store
	Assignments assignment.Store
	Curriculum  curriculum.AssignmentStore
}

// TxRunner hands out stores, either bound to a transaction or for plain reads.
type TxRunner interface {
	// InTx runs fn with stores bound to a single transaction. Every write made
	// through them is committed together or not at all.
	InTx(ctx context.Context, fn func(Stores) error) error
	// Stores returns stores for reads outside a transaction.
	Stores() Stores
}

// PostgresTxRunner runs units of work in PostgreSQL transactions.
type PostgresTxRunner struct {
	db *database.DB
}

func NewPostgresTxRunner(db *database.DB) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

func (r *PostgresTxRunner) InTx(ctx context.Context, fn func(Stores) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(postgresStores(tx))
	})
}

func (r *PostgresTxRunner) Stores() Stores {
	return postgresStores(r.db.Pool)
}

func postgresStores(q database.Querier) Stores {
	return Stores{
		Progress:    progress.NewPostgresStore(q),
		Assignments: assignment.NewPostgresStore(q),
		Curriculum:  curriculum.NewPostgresAssignmentStore(q),
	}
}

// MemoryTxRunner serializes units of work over in-memory stores. It does not
// roll back partial writes.
type MemoryTxRunner struct {
	mu     sync.Mutex
	stores Stores
}

// NewMemoryTxRunner creates a runner over fresh in-memory stores.
func NewMemoryTxRunner() *MemoryTxRunner {
	return &MemoryTxRunner{stores: Stores{
		Progress:    progress.NewMemoryStore(),
		Assignments: assignment.NewMemoryStore(),
		Curriculum:  curriculum.NewMemoryAssignmentStore(),
	}}
}

func (r *MemoryTxRunner) InTx(_ context.Context, fn func(Stores) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.stores)
}

func (r *MemoryTxRunner) Stores() Stores {
	return r.stores
}
