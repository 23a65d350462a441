// Package learning orchestrates lesson progress, lesson unlocking and
// curriculum advancement as single units of work.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-esl/internal/assignment"
	"github.com/p-n-ai/pai-esl/internal/curriculum"
	"github.com/p-n-ai/pai-esl/internal/events"
	"github.com/p-n-ai/pai-esl/internal/progress"
)

// CurriculumAssigner is the assigned_by value for lessons the service adds
// when a student moves into a new unit.
const CurriculumAssigner = "curriculum"

// Catalog is the curriculum content the service needs.
type Catalog interface {
	curriculum.Catalog
	Lesson(lessonID string) (curriculum.LessonRef, bool)
}

// Config holds service dependencies.
type Config struct {
	Tx        TxRunner
	Catalog   Catalog
	Publisher *events.Publisher // optional
	Now       func() time.Time  // defaults to time.Now
}

// Service is the entry point for every learning state change.
type Service struct {
	tx        TxRunner
	catalog   Catalog
	publisher *events.Publisher
	now       func() time.Time
}

// NewService creates a learning service.
func NewService(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:        cfg.Tx,
		catalog:   cfg.Catalog,
		publisher: cfg.Publisher,
		now:       now,
	}
}

// CompletionResult is everything a finished lesson changed.
type CompletionResult struct {
	Progress         progress.LessonProgress       `json:"progress"`
	UnlockedLessonID string                        `json:"unlocked_lesson_id,omitempty"`
	Curriculum       *curriculum.AdvanceResult     `json:"curriculum,omitempty"`
	AssignedLessons  []assignment.LessonAssignment `json:"assigned_lessons,omitempty"`
}

// Placement is a student's new curriculum position and the lessons it assigned.
type Placement struct {
	Assignment curriculum.Assignment         `json:"assignment"`
	Lessons    []assignment.LessonAssignment `json:"lessons"`
}

// unit is the per-transaction set of domain components.
type unit struct {
	stores    Stores
	tracker   *progress.Tracker
	sequencer *assignment.Sequencer
	advancer  *curriculum.Advancer
}

func (s *Service) bind(st Stores) unit {
	seq := assignment.NewSequencer(st.Assignments)
	return unit{
		stores:    st,
		sequencer: seq,
		tracker: progress.NewTracker(progress.TrackerConfig{
			Store:    st.Progress,
			Unlocker: seq,
			Now:      s.now,
		}),
		advancer: curriculum.NewAdvancer(st.Curriculum, s.catalog),
	}
}

func (s *Service) inTx(ctx context.Context, fn func(unit) error) error {
	return s.tx.InTx(ctx, func(st Stores) error {
		return fn(s.bind(st))
	})
}

func (s *Service) reads() unit {
	return s.bind(s.tx.Stores())
}

// StartLesson opens a lesson for a student, creating progress at slide 0 on
// first access.
func (s *Service) StartLesson(ctx context.Context, studentID, lessonID string, totalSlides int) (*progress.LessonProgress, error) {
	var (
		p       *progress.LessonProgress
		created bool
	)
	err := s.inTx(ctx, func(u unit) error {
		_, err := u.stores.Progress.Get(ctx, studentID, lessonID)
		created = errors.Is(err, progress.ErrNotFound)
		p, err = u.tracker.InitializeLessonProgress(ctx, studentID, lessonID, totalSlides)
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.publish(ctx, events.Event{
			Type:      events.LessonStarted,
			StudentID: studentID,
			LessonID:  lessonID,
			Data:      map[string]any{"total_slides": totalSlides},
		})
	}
	return p, nil
}

// AdvanceSlide records the student's move to slideIndex.
func (s *Service) AdvanceSlide(ctx context.Context, studentID, lessonID string, slideIndex, xpDelta, starsDelta int) (*progress.LessonProgress, error) {
	var p *progress.LessonProgress
	err := s.inTx(ctx, func(u unit) error {
		var err error
		p, err = u.tracker.UpdateSlideProgress(ctx, studentID, lessonID, slideIndex, xpDelta, starsDelta)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:      events.SlideAdvanced,
		StudentID: studentID,
		LessonID:  lessonID,
		Data: map[string]any{
			"current_slide_index":   p.CurrentSlideIndex,
			"completion_percentage": p.CompletionPercentage,
		},
	})
	return p, nil
}

// CompleteSession commits a finished session. A passing session also unlocks
// the next lesson and advances the curriculum in the same transaction.
func (s *Service) CompleteSession(ctx context.Context, studentID, lessonID string, result progress.SessionResult) (*CompletionResult, error) {
	var res *CompletionResult
	err := s.inTx(ctx, func(u unit) error {
		out, err := u.tracker.CompleteLessonSession(ctx, studentID, lessonID, result)
		if err != nil {
			return err
		}
		res = &CompletionResult{Progress: out.Progress, UnlockedLessonID: out.UnlockedLessonID}
		if out.Progress.Status != progress.StatusCompleted {
			return nil
		}
		return s.advanceCurriculum(ctx, u, studentID, lessonID, res)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, completionEvents(studentID, lessonID, res, nil)...)
	return res, nil
}

// ResetLesson clears a student's progress so the lesson can be redone.
func (s *Service) ResetLesson(ctx context.Context, studentID, lessonID string) (*progress.LessonProgress, error) {
	var p *progress.LessonProgress
	err := s.inTx(ctx, func(u unit) error {
		var err error
		p, err = u.tracker.ResetLessonProgress(ctx, studentID, lessonID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{Type: events.LessonReset, StudentID: studentID, LessonID: lessonID})
	return p, nil
}

// MarkCompleted is a teacher override that passes a lesson regardless of the
// slides covered. It unlocks and advances like a passing session.
func (s *Service) MarkCompleted(ctx context.Context, teacherID, studentID, lessonID string) (*CompletionResult, error) {
	var res *CompletionResult
	err := s.inTx(ctx, func(u unit) error {
		out, err := u.tracker.MarkLessonCompleted(ctx, studentID, lessonID)
		if err != nil {
			return err
		}
		res = &CompletionResult{Progress: out.Progress, UnlockedLessonID: out.UnlockedLessonID}
		return s.advanceCurriculum(ctx, u, studentID, lessonID, res)
	})
	if err != nil {
		return nil, err
	}

	override := overrideEvent(teacherID, studentID, lessonID, "mark_completed")
	s.publish(ctx, completionEvents(studentID, lessonID, res, &override)...)
	return res, nil
}

// MarkRedo is a teacher override that sends a lesson back for a redo.
func (s *Service) MarkRedo(ctx context.Context, teacherID, studentID, lessonID string) (*progress.LessonProgress, error) {
	var p *progress.LessonProgress
	err := s.inTx(ctx, func(u unit) error {
		var err error
		p, err = u.tracker.MarkLessonRedo(ctx, studentID, lessonID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, overrideEvent(teacherID, studentID, lessonID, "mark_redo"))
	return p, nil
}

// AssignLessons appends lessons to a student's sequence.
func (s *Service) AssignLessons(ctx context.Context, teacherID, studentID string, lessonIDs []string) ([]assignment.LessonAssignment, error) {
	lessons := make([]assignment.NewLesson, 0, len(lessonIDs))
	for _, id := range lessonIDs {
		nl := assignment.NewLesson{LessonID: id}
		if ref, ok := s.catalog.Lesson(id); ok {
			nl.CurriculumLessonNumber = ref.Lesson.Number
		}
		lessons = append(lessons, nl)
	}

	var created []assignment.LessonAssignment
	err := s.inTx(ctx, func(u unit) error {
		var err error
		created, err = u.sequencer.AssignLessons(ctx, studentID, teacherID, lessons)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, assignedEvent(studentID, teacherID, created))
	return created, nil
}

// SetLessonLock is a teacher override that locks or unlocks one lesson.
func (s *Service) SetLessonLock(ctx context.Context, teacherID, studentID, lessonID string, unlocked bool) (*assignment.LessonAssignment, error) {
	var a *assignment.LessonAssignment
	err := s.inTx(ctx, func(u unit) error {
		var err error
		a, err = u.sequencer.SetLessonLock(ctx, studentID, lessonID, unlocked)
		return err
	})
	if err != nil {
		return nil, err
	}

	action := "lock"
	if unlocked {
		action = "unlock"
	}
	s.publish(ctx, overrideEvent(teacherID, studentID, lessonID, action))
	return a, nil
}

// AssignCurriculum places a student at the start of a unit and assigns the
// unit's lessons that the student does not already have.
func (s *Service) AssignCurriculum(ctx context.Context, teacherID, studentID, stageID, unitID string) (*Placement, error) {
	var pl *Placement
	err := s.inTx(ctx, func(u unit) error {
		a, err := u.advancer.AssignCurriculum(ctx, studentID, stageID, unitID)
		if err != nil {
			return err
		}
		cu, _ := s.catalog.Unit(stageID, unitID)
		lessons, err := assignUnit(ctx, u, studentID, teacherID, cu)
		if err != nil {
			return err
		}
		pl = &Placement{Assignment: *a, Lessons: lessons}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(pl.Lessons) > 0 {
		s.publish(ctx, assignedEvent(studentID, teacherID, pl.Lessons))
	}
	return pl, nil
}

// LessonProgress returns one lesson's progress.
func (s *Service) LessonProgress(ctx context.Context, studentID, lessonID string) (*progress.LessonProgress, error) {
	return s.reads().tracker.GetLessonProgress(ctx, studentID, lessonID)
}

// StudentProgress returns every lesson progress record of a student.
func (s *Service) StudentProgress(ctx context.Context, studentID string) ([]progress.LessonProgress, error) {
	return s.reads().tracker.ListStudentProgress(ctx, studentID)
}

// Assignments returns a student's lesson sequence.
func (s *Service) Assignments(ctx context.Context, studentID string) ([]assignment.LessonAssignment, error) {
	return s.reads().sequencer.ListAssignments(ctx, studentID)
}

// Assignment returns a student's assignment for one lesson.
func (s *Service) Assignment(ctx context.Context, studentID, lessonID string) (*assignment.LessonAssignment, error) {
	return s.reads().sequencer.Get(ctx, studentID, lessonID)
}

// ActiveCurriculum returns the student's active curriculum assignment.
func (s *Service) ActiveCurriculum(ctx context.Context, studentID string) (*curriculum.Assignment, error) {
	return s.reads().advancer.ActiveAssignment(ctx, studentID)
}

// CurriculumHistory returns every curriculum assignment of a student.
func (s *Service) CurriculumHistory(ctx context.Context, studentID string) ([]curriculum.Assignment, error) {
	return s.reads().advancer.History(ctx, studentID)
}

// advanceCurriculum records a completed lesson against the student's active
// unit and assigns the next unit's lessons when the unit rolls over. Lessons
// outside the active unit leave the curriculum untouched.
func (s *Service) advanceCurriculum(ctx context.Context, u unit, studentID, lessonID string, res *CompletionResult) error {
	ref, ok := s.catalog.Lesson(lessonID)
	if !ok {
		return nil
	}
	active, err := u.stores.Curriculum.Active(ctx, studentID)
	if errors.Is(err, curriculum.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load curriculum assignment: %w", err)
	}
	if active.StageID != ref.StageID || active.UnitID != ref.UnitID {
		slog.Debug("completed lesson is outside the active unit",
			"student_id", studentID,
			"lesson_id", lessonID,
			"unit_id", active.UnitID,
		)
		return nil
	}

	adv, err := u.advancer.UpdateLessonProgress(ctx, studentID, ref.Lesson.Number)
	if err != nil {
		return err
	}
	res.Curriculum = adv

	if adv.NextUnit == nil {
		return nil
	}
	res.AssignedLessons, err = assignUnit(ctx, u, studentID, CurriculumAssigner, *adv.NextUnit)
	if err != nil {
		return err
	}
	if res.UnlockedLessonID == "" && len(res.AssignedLessons) > 0 && res.AssignedLessons[0].IsUnlocked {
		res.UnlockedLessonID = res.AssignedLessons[0].LessonID
	}
	return nil
}

// assignUnit appends the unit's lessons the student is not yet assigned.
func assignUnit(ctx context.Context, u unit, studentID, assignedBy string, cu curriculum.Unit) ([]assignment.LessonAssignment, error) {
	var lessons []assignment.NewLesson
	for _, l := range cu.Lessons {
		_, err := u.sequencer.Get(ctx, studentID, l.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, assignment.ErrNotFound) {
			return nil, fmt.Errorf("check assignment %s: %w", l.ID, err)
		}
		lessons = append(lessons, assignment.NewLesson{LessonID: l.ID, CurriculumLessonNumber: l.Number})
	}
	if len(lessons) == 0 {
		return []assignment.LessonAssignment{}, nil
	}
	return u.sequencer.AssignLessons(ctx, studentID, assignedBy, lessons)
}

func (s *Service) publish(ctx context.Context, evts ...events.Event) {
	// Delivery outlives the request that triggered it.
	s.publisher.Publish(context.WithoutCancel(ctx), evts...)
}

func completionEvents(studentID, lessonID string, res *CompletionResult, override *events.Event) []events.Event {
	var out []events.Event
	if override != nil {
		out = append(out, *override)
	}

	typ := events.LessonRedoRequired
	if res.Progress.Status == progress.StatusCompleted {
		typ = events.LessonCompleted
	}
	out = append(out, events.Event{
		Type:      typ,
		StudentID: studentID,
		LessonID:  lessonID,
		Data: map[string]any{
			"completion_percentage": res.Progress.CompletionPercentage,
			"xp_earned":             res.Progress.XPEarned,
			"stars_earned":          res.Progress.StarsEarned,
		},
	})

	if res.UnlockedLessonID != "" {
		out = append(out, events.Event{
			Type:      events.LessonUnlocked,
			StudentID: studentID,
			LessonID:  res.UnlockedLessonID,
			Data:      map[string]any{"after_lesson_id": lessonID},
		})
	}

	if c := res.Curriculum; c != nil && c.UnitCompleted {
		out = append(out, events.Event{
			Type:      events.UnitCompleted,
			StudentID: studentID,
			Data:      map[string]any{"stage_id": c.Assignment.StageID, "unit_id": c.Assignment.UnitID},
		})
		if c.StageCompleted {
			out = append(out, events.Event{
				Type:      events.StageCompleted,
				StudentID: studentID,
				Data:      map[string]any{"stage_id": c.Assignment.StageID},
			})
		}
	}

	if len(res.AssignedLessons) > 0 {
		out = append(out, assignedEvent(studentID, CurriculumAssigner, res.AssignedLessons))
	}
	return out
}

func overrideEvent(teacherID, studentID, lessonID, action string) events.Event {
	return events.Event{
		Type:      events.TeacherOverride,
		StudentID: studentID,
		LessonID:  lessonID,
		Data:      map[string]any{"action": action, "teacher_id": teacherID},
	}
}

func assignedEvent(studentID, assignedBy string, as []assignment.LessonAssignment) events.Event {
	ids := make([]string, len(as))
	for i, a := range as {
		ids[i] = a.LessonID
	}
	return events.Event{
		Type:      events.LessonsAssigned,
		StudentID: studentID,
		Data:      map[string]any{"lesson_ids": ids, "assigned_by": assignedBy},
	}
}
