package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/p-n-ai/pai-esl/internal/platform/cache"
)

// Budget limits how many tokens each teacher may spend per UTC day.
type Budget interface {
	// Check returns ErrBudgetExceeded once the teacher's usage reaches the limit.
	Check(ctx context.Context, teacherID string) error
	// Record adds tokens to the teacher's usage for today.
	Record(ctx context.Context, teacherID string, tokens int) error
	// Usage returns today's usage and the daily limit (0 means unlimited).
	Usage(ctx context.Context, teacherID string) (used, limit int64, err error)
}

func day(now time.Time) string {
	return now.UTC().Format(time.DateOnly)
}

// InMemoryBudget tracks usage in process memory.
type InMemoryBudget struct {
	limit int64
	now   func() time.Time
	mu    sync.Mutex
	usage map[string]int64 // teacher:day -> tokens used
}

// NewInMemoryBudget creates a budget with a per-teacher daily limit.
func NewInMemoryBudget(limit int64) *InMemoryBudget {
	return &InMemoryBudget{limit: limit, now: time.Now, usage: make(map[string]int64)}
}

func (b *InMemoryBudget) Check(ctx context.Context, teacherID string) error {
	used, limit, _ := b.Usage(ctx, teacherID)
	if limit > 0 && used >= limit {
		return ErrBudgetExceeded
	}
	return nil
}

func (b *InMemoryBudget) Record(_ context.Context, teacherID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage[teacherID+":"+day(b.now())] += int64(tokens)
	return nil
}

func (b *InMemoryBudget) Usage(_ context.Context, teacherID string) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.usage[teacherID+":"+day(b.now())], b.limit, nil
}

// RedisBudget keeps daily counters in Redis so every replica shares them.
type RedisBudget struct {
	cache *cache.Cache
	limit int64
	now   func() time.Time
}

// NewRedisBudget creates a Redis-backed budget with a per-teacher daily limit.
func NewRedisBudget(c *cache.Cache, limit int64) *RedisBudget {
	return &RedisBudget{cache: c, limit: limit, now: time.Now}
}

func (b *RedisBudget) key(teacherID string) string {
	return "pai-esl:ai-tokens:" + teacherID + ":" + day(b.now())
}

func (b *RedisBudget) Check(ctx context.Context, teacherID string) error {
	if b.limit == 0 {
		return nil
	}
	used, err := b.cache.Int(ctx, b.key(teacherID))
	if err != nil {
		return fmt.Errorf("read token usage: %w", err)
	}
	if used >= b.limit {
		return ErrBudgetExceeded
	}
	return nil
}

func (b *RedisBudget) Record(ctx context.Context, teacherID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}
	// Counters outlive their day briefly so late readers still see them.
	if _, err := b.cache.IncrBy(ctx, b.key(teacherID), int64(tokens), 48*time.Hour); err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	return nil
}

func (b *RedisBudget) Usage(ctx context.Context, teacherID string) (int64, int64, error) {
	used, err := b.cache.Int(ctx, b.key(teacherID))
	if err != nil {
		return 0, 0, fmt.Errorf("read token usage: %w", err)
	}
	return used, b.limit, nil
}
