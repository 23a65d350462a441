package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Sequencer opens lessons in order_in_sequence order.
type Sequencer struct {
	store Store
}

// NewSequencer creates a sequencer over store.
func NewSequencer(store Store) *Sequencer {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Sequencer{store: store}
}

// UnlockNextLesson marks the completed lesson's assignment as completed and
// unlocks the assignment at the following position. It returns the unlocked
// lesson id, or "" when there is no following lesson, the following lesson is
// already completed, or the completed lesson was never assigned.
func (s *Sequencer) UnlockNextLesson(ctx context.Context, studentID, completedLessonID string) (string, error) {
	current, err := s.store.Get(ctx, studentID, completedLessonID)
	if errors.Is(err, ErrNotFound) {
		slog.Debug("completed lesson has no assignment, nothing to unlock",
			"student_id", studentID,
			"lesson_id", completedLessonID,
		)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load completed assignment: %w", err)
	}

	if current.Status != StatusCompleted {
		if _, err := s.store.SetState(ctx, studentID, completedLessonID, true, StatusCompleted); err != nil {
			return "", fmt.Errorf("mark assignment completed: %w", err)
		}
	}

	next, err := s.store.GetByOrder(ctx, studentID, current.Order+1)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load next assignment: %w", err)
	}

	if next.Status == StatusCompleted {
		return "", nil
	}
	if _, err := s.store.SetState(ctx, studentID, next.LessonID, true, StatusUnlocked); err != nil {
		return "", fmt.Errorf("unlock next assignment: %w", err)
	}

	slog.Info("lesson unlocked",
		"student_id", studentID,
		"lesson_id", next.LessonID,
		"order", next.Order,
	)
	return next.LessonID, nil
}

// AssignLessons appends lessons to the end of a student's sequence. The first
// new lesson starts unlocked only when every earlier assignment is completed.
func (s *Sequencer) AssignLessons(ctx context.Context, studentID, assignedBy string, lessons []NewLesson) ([]LessonAssignment, error) {
	if studentID == "" {
		return nil, fmt.Errorf("%w: student_id is required", ErrInvalidInput)
	}
	if len(lessons) == 0 {
		return nil, fmt.Errorf("%w: at least one lesson is required", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(lessons))
	for _, l := range lessons {
		if l.LessonID == "" {
			return nil, fmt.Errorf("%w: lesson_id is required", ErrInvalidInput)
		}
		if seen[l.LessonID] {
			return nil, fmt.Errorf("%w: %s listed twice", ErrDuplicate, l.LessonID)
		}
		seen[l.LessonID] = true
	}

	if err := s.store.LockSequence(ctx, studentID); err != nil {
		return nil, err
	}
	existing, err := s.store.List(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	lastOrder := 0
	pending := false
	for _, a := range existing {
		lastOrder = max(lastOrder, a.Order)
		if a.Status != StatusCompleted {
			pending = true
		}
	}

	created := make([]LessonAssignment, 0, len(lessons))
	for i, l := range lessons {
		a := LessonAssignment{
			StudentID:              studentID,
			LessonID:               l.LessonID,
			Order:                  lastOrder + i + 1,
			Status:                 StatusLocked,
			CurriculumLessonNumber: l.CurriculumLessonNumber,
			AssignedBy:             assignedBy,
		}
		if i == 0 && !pending {
			a.IsUnlocked = true
			a.Status = StatusUnlocked
		}
		created = append(created, a)
	}

	if err := s.store.Create(ctx, created); err != nil {
		return nil, fmt.Errorf("create assignments: %w", err)
	}
	return created, nil
}

// SetLessonLock is a teacher override that locks or unlocks a single lesson.
// Completed assignments keep their status.
func (s *Sequencer) SetLessonLock(ctx context.Context, studentID, lessonID string, unlocked bool) (*LessonAssignment, error) {
	a, err := s.store.Get(ctx, studentID, lessonID)
	if err != nil {
		return nil, err
	}

	status := StatusLocked
	if unlocked {
		status = StatusUnlocked
	}
	if a.Status == StatusCompleted {
		status = StatusCompleted
	}
	return s.store.SetState(ctx, studentID, lessonID, unlocked, status)
}

// Get returns a student's assignment for a lesson.
func (s *Sequencer) Get(ctx context.Context, studentID, lessonID string) (*LessonAssignment, error) {
	return s.store.Get(ctx, studentID, lessonID)
}

// ListAssignments returns a student's sequence in order.
func (s *Sequencer) ListAssignments(ctx context.Context, studentID string) ([]LessonAssignment, error) {
	return s.store.List(ctx, studentID)
}
