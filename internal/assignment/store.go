package assignment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists lesson assignments.
type Store interface {
	// Get returns the assignment for a student/lesson pair or ErrNotFound.
	Get(ctx context.Context, studentID, lessonID string) (*LessonAssignment, error)
	// GetByOrder returns the student's assignment at a sequence position or ErrNotFound.
	GetByOrder(ctx context.Context, studentID string, order int) (*LessonAssignment, error)
	// List returns a student's assignments ordered by sequence position.
	List(ctx context.Context, studentID string) ([]LessonAssignment, error)
	// LockSequence holds a per-student lock on the sequence until the
	// surrounding transaction ends.
	LockSequence(ctx context.Context, studentID string) error
	// Create inserts new assignments. It fails with ErrDuplicate if any lesson
	// is already assigned to the student and ErrSequenceConflict if a position
	// is taken.
	Create(ctx context.Context, as []LessonAssignment) error
	// SetState updates the lock flag and status of an assignment.
	SetState(ctx context.Context, studentID, lessonID string, unlocked bool, status Status) (*LessonAssignment, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	assignments map[string]map[string]*LessonAssignment // student -> lesson -> assignment
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory assignment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assignments: make(map[string]map[string]*LessonAssignment),
	}
}

func (s *MemoryStore) Get(_ context.Context, studentID, lessonID string) (*LessonAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[studentID][lessonID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetByOrder(_ context.Context, studentID string, order int) (*LessonAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.assignments[studentID] {
		if a.Order == order {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) List(_ context.Context, studentID string) ([]LessonAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LessonAssignment, 0, len(s.assignments[studentID]))
	for _, a := range s.assignments[studentID] {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// LockSequence is a no-op; callers serialize through the memory tx runner.
func (s *MemoryStore) LockSequence(context.Context, string) error {
	return nil
}

func (s *MemoryStore) Create(_ context.Context, as []LessonAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range as {
		if _, ok := s.assignments[a.StudentID][a.LessonID]; ok {
			return ErrDuplicate
		}
		for _, other := range s.assignments[a.StudentID] {
			if other.Order == a.Order {
				return ErrSequenceConflict
			}
		}
	}

	now := time.Now()
	for _, a := range as {
		if s.assignments[a.StudentID] == nil {
			s.assignments[a.StudentID] = make(map[string]*LessonAssignment)
		}
		a.CreatedAt = now
		a.UpdatedAt = now
		s.assignments[a.StudentID][a.LessonID] = &a
	}
	return nil
}

func (s *MemoryStore) SetState(_ context.Context, studentID, lessonID string, unlocked bool, status Status) (*LessonAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[studentID][lessonID]
	if !ok {
		return nil, ErrNotFound
	}
	a.IsUnlocked = unlocked
	a.Status = status
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}
