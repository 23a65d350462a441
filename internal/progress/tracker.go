package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Unlocker opens the lesson that follows a completed one. It returns the id of
// the unlocked lesson, or "" when the completed lesson ends the sequence.
type Unlocker interface {
	UnlockNextLesson(ctx context.Context, studentID, completedLessonID string) (string, error)
}

// TrackerConfig holds dependencies for the progress tracker.
type TrackerConfig struct {
	Store    Store
	Unlocker Unlocker         // optional; nil disables unlocking
	Now      func() time.Time // defaults to time.Now
}

// Tracker applies the lesson progress rules on top of a Store.
type Tracker struct {
	store    Store
	unlocker Unlocker
	now      func() time.Time
}

// NewTracker creates a new progress tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:    store,
		unlocker: cfg.Unlocker,
		now:      now,
	}
}

// InitializeLessonProgress creates a record at slide 0 the first time a student
// opens a lesson. Later calls return the existing record unchanged.
func (t *Tracker) InitializeLessonProgress(ctx context.Context, studentID, lessonID string, totalSlides int) (*LessonProgress, error) {
	if err := validateIDs(studentID, lessonID); err != nil {
		return nil, err
	}
	if totalSlides <= 0 {
		return nil, fmt.Errorf("%w: total_slides must be positive, got %d", ErrInvalidInput, totalSlides)
	}

	p, created, err := t.store.Insert(ctx, LessonProgress{
		StudentID:   studentID,
		LessonID:    lessonID,
		TotalSlides: totalSlides,
		Status:      StatusInProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize lesson progress: %w", err)
	}
	if created {
		slog.Debug("lesson progress initialized", "student_id", studentID, "lesson_id", lessonID, "total_slides", totalSlides)
	}
	return p, nil
}

// UpdateSlideProgress moves the student to newSlideIndex and adds the rewards.
// The slide index never moves backwards.
func (t *Tracker) UpdateSlideProgress(ctx context.Context, studentID, lessonID string, newSlideIndex, xpDelta, starsDelta int) (*LessonProgress, error) {
	if err := validateIDs(studentID, lessonID); err != nil {
		return nil, err
	}
	if newSlideIndex < 0 {
		return nil, fmt.Errorf("%w: slide index must not be negative", ErrInvalidInput)
	}
	if xpDelta < 0 || starsDelta < 0 {
		return nil, fmt.Errorf("%w: xp and stars deltas must not be negative", ErrInvalidInput)
	}

	p, err := t.store.GetForUpdate(ctx, studentID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("update slide progress: %w", err)
	}
	if p.TotalSlides > 0 && newSlideIndex >= p.TotalSlides {
		return nil, fmt.Errorf("%w: slide index %d out of range for %d slides", ErrInvalidInput, newSlideIndex, p.TotalSlides)
	}

	if newSlideIndex > p.CurrentSlideIndex {
		p.CurrentSlideIndex = newSlideIndex
	}
	if newSlideIndex > p.CompletedSlides {
		p.CompletedSlides = min(newSlideIndex, p.TotalSlides)
	}
	p.XPEarned += xpDelta
	p.StarsEarned += starsDelta
	p.CompletionPercentage = Percentage(p.CompletedSlides, p.TotalSlides)
	if p.Status != StatusCompleted {
		p.Status = StatusInProgress
	}

	saved, err := t.store.Save(ctx, *p)
	if err != nil {
		return nil, fmt.Errorf("update slide progress: %w", err)
	}
	return saved, nil
}

// CompleteLessonSession commits the final state of a session. A session that
// covered at least half of the slides is completed and unlocks the next
// lesson; anything less must be redone.
func (t *Tracker) CompleteLessonSession(ctx context.Context, studentID, lessonID string, result SessionResult) (*Outcome, error) {
	if err := validateIDs(studentID, lessonID); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}

	p, err := t.loadOrNew(ctx, studentID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("complete lesson session: %w", err)
	}

	p.TotalSlides = result.TotalSlides
	p.CompletedSlides = result.CompletedSlides
	p.CompletionPercentage = Percentage(result.CompletedSlides, result.TotalSlides)
	p.XPEarned = result.XPEarned
	p.StarsEarned = result.StarsEarned
	if p.CurrentSlideIndex >= p.TotalSlides {
		p.CurrentSlideIndex = p.TotalSlides - 1
	}

	if Passed(result.CompletedSlides, result.TotalSlides) {
		completedAt := t.now().UTC()
		p.Status = StatusCompleted
		p.CompletedAt = &completedAt
	} else {
		p.Status = StatusRedoRequired
		p.CompletedAt = nil
	}

	saved, err := t.store.Save(ctx, *p)
	if err != nil {
		return nil, fmt.Errorf("complete lesson session: %w", err)
	}

	slog.Info("lesson session completed",
		"student_id", studentID,
		"lesson_id", lessonID,
		"status", saved.Status,
		"percentage", saved.CompletionPercentage,
	)

	out := &Outcome{Progress: *saved}
	if saved.Status != StatusCompleted {
		return out, nil
	}
	out.UnlockedLessonID, err = t.unlockNext(ctx, studentID, lessonID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResetLessonProgress returns a lesson to its untouched state so it can be redone.
func (t *Tracker) ResetLessonProgress(ctx context.Context, studentID, lessonID string) (*LessonProgress, error) {
	if err := validateIDs(studentID, lessonID); err != nil {
		return nil, err
	}

	p, err := t.loadOrNew(ctx, studentID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("reset lesson progress: %w", err)
	}

	p.CurrentSlideIndex = 0
	p.CompletedSlides = 0
	p.CompletionPercentage = 0
	p.XPEarned = 0
	p.StarsEarned = 0
	p.Status = StatusNotStarted
	p.CompletedAt = nil

	saved, err := t.store.Save(ctx, *p)
	if err != nil {
		return nil, fmt.Errorf("reset lesson progress: %w", err)
	}
	return saved, nil
}

// MarkLessonCompleted is a teacher override that completes the lesson
// regardless of the slides covered, then unlocks the next lesson.
func (t *Tracker) MarkLessonCompleted(ctx context.Context, studentID, lessonID string) (*Outcome, error) {
	if err := validateIDs(studentID, lessonID); err != nil {
		return nil, err
	}

	p, err := t.loadOrNew(ctx, studentID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("mark lesson completed: %w", err)
	}
	if p.Status != StatusCompleted || p.CompletedAt == nil {
		completedAt := t.now().UTC()
		p.CompletedAt = &completedAt
	}
	p.Status = StatusCompleted

	saved, err := t.store.Save(ctx, *p)
	if err != nil {
		return nil, fmt.Errorf("mark lesson completed: %w", err)
	}

	out := &Outcome{Progress: *saved}
	out.UnlockedLessonID, err = t.unlockNext(ctx, studentID, lessonID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkLessonRedo is a teacher override that sends the lesson back for a redo.
func (t *Tracker) MarkLessonRedo(ctx context.Context, studentID, lessonID string) (*LessonProgress, error) {
	if err := validateIDs(studentID, lessonID); err != nil {
		return nil, err
	}

	p, err := t.loadOrNew(ctx, studentID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("mark lesson redo: %w", err)
	}
	p.Status = StatusRedoRequired
	p.CompletedAt = nil

	saved, err := t.store.Save(ctx, *p)
	if err != nil {
		return nil, fmt.Errorf("mark lesson redo: %w", err)
	}
	return saved, nil
}

// GetLessonProgress returns the record for a student/lesson pair.
func (t *Tracker) GetLessonProgress(ctx context.Context, studentID, lessonID string) (*LessonProgress, error) {
	if err := validateIDs(studentID, lessonID); err != nil {
		return nil, err
	}
	return t.store.Get(ctx, studentID, lessonID)
}

// ListStudentProgress returns every lesson record for a student.
func (t *Tracker) ListStudentProgress(ctx context.Context, studentID string) ([]LessonProgress, error) {
	if studentID == "" {
		return nil, fmt.Errorf("%w: student_id is required", ErrInvalidInput)
	}
	return t.store.ListByStudent(ctx, studentID)
}

func (t *Tracker) unlockNext(ctx context.Context, studentID, lessonID string) (string, error) {
	if t.unlocker == nil {
		return "", nil
	}
	next, err := t.unlocker.UnlockNextLesson(ctx, studentID, lessonID)
	if err != nil {
		return "", fmt.Errorf("unlock next lesson: %w", err)
	}
	return next, nil
}

func (t *Tracker) loadOrNew(ctx context.Context, studentID, lessonID string) (*LessonProgress, error) {
	p, err := t.store.GetForUpdate(ctx, studentID, lessonID)
	if errors.Is(err, ErrNotFound) {
		return &LessonProgress{
			StudentID: studentID,
			LessonID:  lessonID,
			Status:    StatusNotStarted,
		}, nil
	}
	return p, err
}

func validateIDs(studentID, lessonID string) error {
	if studentID == "" || lessonID == "" {
		return fmt.Errorf("%w: student_id and lesson_id are required", ErrInvalidInput)
	}
	return nil
}
