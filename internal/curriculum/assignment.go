package curriculum

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AssignmentStatus is the state of a curriculum assignment row.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
)

var (
	// ErrNotFound is returned when a student has no active curriculum assignment.
	ErrNotFound = errors.New("curriculum assignment not found")
	// ErrInvalidInput is returned for out-of-range lesson numbers.
	ErrInvalidInput = errors.New("invalid curriculum input")
)

// Assignment records where a student is within one unit.
type Assignment struct {
	ID                  string           `json:"id"`
	StudentID           string           `json:"student_id"`
	StageID             string           `json:"stage_id"`
	UnitID              string           `json:"unit_id"`
	CurrentLessonNumber int              `json:"current_lesson_number"`
	LessonsCompleted    []int            `json:"lessons_completed"`
	TotalLessonsInUnit  int              `json:"total_lessons_in_unit"`
	Status              AssignmentStatus `json:"status"`
	CreatedAt           time.Time        `json:"created_at"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
}

// AssignmentStore persists curriculum assignments. A student has at most one
// active row.
type AssignmentStore interface {
	// Active returns the student's active row or ErrNotFound.
	Active(ctx context.Context, studentID string) (*Assignment, error)
	// ActiveForUpdate is Active with a row lock held until the transaction ends.
	ActiveForUpdate(ctx context.Context, studentID string) (*Assignment, error)
	// Insert stores a and returns it with ID and CreatedAt populated.
	Insert(ctx context.Context, a Assignment) (*Assignment, error)
	// Update writes progress and status fields of an existing row.
	Update(ctx context.Context, a Assignment) error
	// History returns all of a student's rows, oldest first.
	History(ctx context.Context, studentID string) ([]Assignment, error)
}

// MemoryAssignmentStore is an in-memory implementation of AssignmentStore.
type MemoryAssignmentStore struct {
	rows []*Assignment
	mu   sync.RWMutex
}

// NewMemoryAssignmentStore creates a new in-memory curriculum assignment store.
func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	return &MemoryAssignmentStore{}
}

func (s *MemoryAssignmentStore) Active(_ context.Context, studentID string) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.rows {
		if a.StudentID == studentID && a.Status == AssignmentActive {
			return cloneAssignment(a), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryAssignmentStore) ActiveForUpdate(ctx context.Context, studentID string) (*Assignment, error) {
	return s.Active(ctx, studentID)
}

func (s *MemoryAssignmentStore) Insert(_ context.Context, a Assignment) (*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Status == AssignmentActive {
		for _, r := range s.rows {
			if r.StudentID == a.StudentID && r.Status == AssignmentActive {
				return nil, fmt.Errorf("student %s already has an active curriculum assignment", a.StudentID)
			}
		}
	}
	a.ID = uuid.NewString()
	a.CreatedAt = time.Now()
	if a.LessonsCompleted == nil {
		a.LessonsCompleted = []int{}
	}
	s.rows = append(s.rows, cloneAssignment(&a))
	return &a, nil
}

func (s *MemoryAssignmentStore) Update(_ context.Context, a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rows {
		if r.ID == a.ID {
			updated := cloneAssignment(&a)
			updated.CreatedAt = r.CreatedAt
			s.rows[i] = updated
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryAssignmentStore) History(_ context.Context, studentID string) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Assignment{}
	for _, a := range s.rows {
		if a.StudentID == studentID {
			out = append(out, *cloneAssignment(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func cloneAssignment(a *Assignment) *Assignment {
	cp := *a
	cp.LessonsCompleted = append([]int{}, a.LessonsCompleted...)
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
