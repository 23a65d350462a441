// Package assignment holds each student's ordered lesson sequence and opens
// lessons one at a time as earlier ones are completed.
package assignment

import (
	"errors"
	"time"
)

// Status is the state of a lesson within a student's sequence.
type Status string

const (
	StatusLocked    Status = "locked"
	StatusUnlocked  Status = "unlocked"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
)

var (
	// ErrNotFound is returned when a student has no assignment for a lesson.
	ErrNotFound = errors.New("lesson assignment not found")
	// ErrInvalidInput is returned for malformed assignment requests.
	ErrInvalidInput = errors.New("invalid lesson assignment input")
	// ErrDuplicate is returned when a lesson is already in the student's sequence.
	ErrDuplicate = errors.New("lesson already assigned")
	// ErrSequenceConflict is returned when another write took the same
	// sequence position. The request can be retried.
	ErrSequenceConflict = errors.New("lesson sequence changed concurrently")
)

// LessonAssignment places one lesson in a student's sequence.
type LessonAssignment struct {
	StudentID   string `json:"student_id"`
	LessonID    string `json:"lesson_id"`
	Order       int    `json:"order_in_sequence"`
	IsUnlocked  bool   `json:"is_unlocked"`
	Status      Status `json:"status"`
	// CurriculumLessonNumber is the lesson's number within its curriculum
	// unit, or 0 when a teacher assigned it outside the curriculum.
	CurriculumLessonNumber int       `json:"curriculum_lesson_number,omitempty"`
	AssignedBy             string    `json:"assigned_by,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// NewLesson describes a lesson to append to a sequence.
type NewLesson struct {
	LessonID               string `json:"lesson_id"`
	CurriculumLessonNumber int    `json:"curriculum_lesson_number,omitempty"`
}
