package curriculum

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Catalog is the part of the curriculum the advancer navigates.
type Catalog interface {
	Unit(stageID, unitID string) (Unit, bool)
	NextUnit(stageID, unitID string) (Unit, bool)
}

// AdvanceResult describes what a lesson completion did to the student's
// curriculum position.
type AdvanceResult struct {
	Assignment     *Assignment `json:"assignment"`
	UnitCompleted  bool        `json:"unit_completed"`
	NextAssignment *Assignment `json:"next_assignment,omitempty"`
	// NextUnit is the unit NextAssignment points at.
	NextUnit       *Unit `json:"-"`
	StageCompleted bool  `json:"stage_completed"`
}

// Advancer moves students through the units of a stage.
type Advancer struct {
	store   AssignmentStore
	catalog Catalog
	now     func() time.Time
}

// NewAdvancer creates an advancer over store and catalog.
func NewAdvancer(store AssignmentStore, catalog Catalog) *Advancer {
	return &Advancer{store: store, catalog: catalog, now: time.Now}
}

// UpdateLessonProgress records lessonNumber as completed in the student's
// active unit. When every lesson of the unit is done the row is completed and
// the next unit of the stage becomes active. At the end of a stage no new row
// is created and StageCompleted is reported.
func (a *Advancer) UpdateLessonProgress(ctx context.Context, studentID string, lessonNumber int) (*AdvanceResult, error) {
	if studentID == "" {
		return nil, fmt.Errorf("%w: student id is required", ErrInvalidInput)
	}

	cur, err := a.store.ActiveForUpdate(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load curriculum assignment: %w", err)
	}
	if lessonNumber < 1 || lessonNumber > cur.TotalLessonsInUnit {
		return nil, fmt.Errorf("%w: lesson number %d outside unit of %d lessons", ErrInvalidInput, lessonNumber, cur.TotalLessonsInUnit)
	}

	if !slices.Contains(cur.LessonsCompleted, lessonNumber) {
		cur.LessonsCompleted = append(cur.LessonsCompleted, lessonNumber)
		slices.Sort(cur.LessonsCompleted)
	}
	cur.CurrentLessonNumber = min(max(cur.CurrentLessonNumber, lessonNumber+1), cur.TotalLessonsInUnit)

	res := &AdvanceResult{Assignment: cur}
	if len(cur.LessonsCompleted) < cur.TotalLessonsInUnit {
		if err := a.store.Update(ctx, *cur); err != nil {
			return nil, fmt.Errorf("update curriculum assignment: %w", err)
		}
		return res, nil
	}

	completedAt := a.now()
	cur.Status = AssignmentCompleted
	cur.CompletedAt = &completedAt
	if err := a.store.Update(ctx, *cur); err != nil {
		return nil, fmt.Errorf("complete curriculum assignment: %w", err)
	}
	res.UnitCompleted = true

	next, ok := a.catalog.NextUnit(cur.StageID, cur.UnitID)
	if !ok {
		res.StageCompleted = true
		return res, nil
	}

	created, err := a.store.Insert(ctx, Assignment{
		StudentID:           studentID,
		StageID:             cur.StageID,
		UnitID:              next.ID,
		CurrentLessonNumber: 1,
		TotalLessonsInUnit:  len(next.Lessons),
		Status:              AssignmentActive,
	})
	if err != nil {
		return nil, fmt.Errorf("assign next unit: %w", err)
	}
	res.NextAssignment = created
	res.NextUnit = &next
	return res, nil
}

// AssignCurriculum places the student at the start of a unit. Any active
// assignment is closed first.
func (a *Advancer) AssignCurriculum(ctx context.Context, studentID, stageID, unitID string) (*Assignment, error) {
	if studentID == "" {
		return nil, fmt.Errorf("%w: student id is required", ErrInvalidInput)
	}
	unit, ok := a.catalog.Unit(stageID, unitID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownUnit, stageID, unitID)
	}

	active, err := a.store.ActiveForUpdate(ctx, studentID)
	switch {
	case err == nil:
		closedAt := a.now()
		active.Status = AssignmentCompleted
		active.CompletedAt = &closedAt
		if err := a.store.Update(ctx, *active); err != nil {
			return nil, fmt.Errorf("close curriculum assignment: %w", err)
		}
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("load curriculum assignment: %w", err)
	}

	created, err := a.store.Insert(ctx, Assignment{
		StudentID:           studentID,
		StageID:             stageID,
		UnitID:              unit.ID,
		CurrentLessonNumber: 1,
		TotalLessonsInUnit:  len(unit.Lessons),
		Status:              AssignmentActive,
	})
	if err != nil {
		return nil, fmt.Errorf("insert curriculum assignment: %w", err)
	}
	return created, nil
}

// ActiveAssignment returns the student's active assignment or ErrNotFound.
func (a *Advancer) ActiveAssignment(ctx context.Context, studentID string) (*Assignment, error) {
	return a.store.Active(ctx, studentID)
}

// History returns every assignment the student has had, oldest first.
func (a *Advancer) History(ctx context.Context, studentID string) ([]Assignment, error) {
	return a.store.History(ctx, studentID)
}
