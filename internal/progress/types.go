// Package progress tracks a student's position within a multi-slide lesson and
// decides whether a finished session passes or must be redone.
package progress

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a student's lesson progress.
type Status string

const (
	StatusNotStarted   Status = "not_started"
	StatusInProgress   Status = "in_progress"
	StatusCompleted    Status = "completed"
	StatusRedoRequired Status = "redo_required"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusRedoRequired:
		return true
	}
	return false
}

// Terminal reports whether s ends a session.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRedoRequired
}

// PassPercentage is the inclusive completion threshold for a passing session.
const PassPercentage = 50

var (
	// ErrNotFound is returned when no progress exists for a student/lesson pair.
	ErrNotFound = errors.New("lesson progress not found")
	// ErrInvalidInput is returned for out-of-range slide counts or deltas.
	ErrInvalidInput = errors.New("invalid lesson progress input")
)

// LessonProgress is a student's state within one lesson.
type LessonProgress struct {
	StudentID            string     `json:"student_id"`
	LessonID             string     `json:"lesson_id"`
	CurrentSlideIndex    int        `json:"current_slide_index"`
	TotalSlides          int        `json:"total_slides"`
	CompletedSlides      int        `json:"completed_slides"`
	// CompletionPercentage is CompletedSlides*100/TotalSlides rounded down,
	// so 2 of 3 slides reports 66.
	CompletionPercentage int        `json:"completion_percentage"`
	XPEarned             int        `json:"xp_earned"`
	StarsEarned          int        `json:"stars_earned"`
	Status               Status     `json:"lesson_status"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// SessionResult is what a learner submits when leaving a lesson.
type SessionResult struct {
	TotalSlides     int `json:"total_slides"`
	CompletedSlides int `json:"completed_slides"`
	XPEarned        int `json:"xp_earned"`
	StarsEarned     int `json:"stars_earned"`
}

// Validate checks slide counts and rewards are in range.
func (r SessionResult) Validate() error {
	switch {
	case r.TotalSlides <= 0:
		return errors.Join(ErrInvalidInput, errors.New("total_slides must be positive"))
	case r.CompletedSlides < 0 || r.CompletedSlides > r.TotalSlides:
		return errors.Join(ErrInvalidInput, errors.New("completed_slides must be between 0 and total_slides"))
	case r.XPEarned < 0 || r.StarsEarned < 0:
		return errors.Join(ErrInvalidInput, errors.New("xp_earned and stars_earned must not be negative"))
	}
	return nil
}

// Outcome is the result of committing a session.
type Outcome struct {
	Progress LessonProgress `json:"progress"`
	// UnlockedLessonID is the lesson opened by this completion, or "" when
	// nothing was unlocked.
	UnlockedLessonID string `json:"unlocked_lesson_id,omitempty"`
}

// Percentage returns completed/total as a whole percentage rounded down.
// Rounding down keeps the stored value consistent with Passed.
func Percentage(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return completed * 100 / total
}

// Passed reports whether completed/total reaches the pass threshold.
func Passed(completed, total int) bool {
	if total <= 0 {
		return false
	}
	return completed*100 >= PassPercentage*total
}
