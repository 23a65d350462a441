// Package events records learning events and fans them out to live subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-esl/internal/platform/database"
)

const dbTimeout = 5 * time.Second

// Type names a learning event.
type Type string

const (
	LessonStarted      Type = "lesson_started"
	SlideAdvanced      Type = "slide_advanced"
	LessonCompleted    Type = "lesson_completed"
	LessonRedoRequired Type = "lesson_redo_required"
	LessonReset        Type = "lesson_reset"
	LessonUnlocked     Type = "lesson_unlocked"
	LessonsAssigned    Type = "lessons_assigned"
	UnitCompleted      Type = "unit_completed"
	StageCompleted     Type = "stage_completed"
	TeacherOverride    Type = "teacher_override"
)

// Event is a single learning event.
type Event struct {
	Type      Type           `json:"type"`
	StudentID string         `json:"student_id"`
	LessonID  string         `json:"lesson_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func (e Event) validate() error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.StudentID == "" {
		return fmt.Errorf("student_id is required")
	}
	return nil
}

// Logger persists events.
type Logger interface {
	LogEvent(ctx context.Context, event Event) error
}

// NopLogger ignores all events.
type NopLogger struct{}

func (NopLogger) LogEvent(context.Context, Event) error {
	return nil
}

// MemoryLogger stores events in memory for tests.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{events: []Event{}}
}

func (l *MemoryLogger) LogEvent(_ context.Context, event Event) error {
	if err := event.validate(); err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// PostgresLogger inserts events into the learning_events table.
type PostgresLogger struct {
	q database.Querier
}

func NewPostgresLogger(q database.Querier) *PostgresLogger {
	return &PostgresLogger{q: q}
}

func (l *PostgresLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.q == nil {
		return fmt.Errorf("event logger querier is nil")
	}
	if err := event.validate(); err != nil {
		return err
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := l.q.Exec(ctx,
		`INSERT INTO learning_events (student_id, lesson_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		event.StudentID,
		event.LessonID,
		string(event.Type),
		string(data),
		createdAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.Type,
		"student_id", event.StudentID,
		"lesson_id", event.LessonID,
	)
	return nil
}

// Publisher persists events and then broadcasts them. Failures are logged and
// never returned: events describe state that is already committed.
type Publisher struct {
	logger Logger
	bus    Bus
}

// NewPublisher creates a publisher. Either argument may be nil.
func NewPublisher(logger Logger, bus Bus) *Publisher {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Publisher{logger: logger, bus: bus}
}

// Publish records and broadcasts each event in order.
func (p *Publisher) Publish(ctx context.Context, evts ...Event) {
	if p == nil {
		return
	}
	for _, e := range evts {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		if err := p.logger.LogEvent(ctx, e); err != nil {
			slog.Warn("failed to log event", "type", e.Type, "student_id", e.StudentID, "error", err)
		}
		if p.bus == nil {
			continue
		}
		if err := p.bus.Publish(ctx, e); err != nil {
			slog.Warn("failed to broadcast event", "type", e.Type, "student_id", e.StudentID, "error", err)
		}
	}
}
