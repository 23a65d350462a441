package curriculum_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/p-n-ai/pai-esl/internal/curriculum"
)

func testCatalog(t *testing.T) *curriculum.Loader {
	t.Helper()
	cat, err := curriculum.NewCatalog(curriculum.Curriculum{
		ID: "esl-core",
		Stages: []curriculum.Stage{{
			ID:   "starter",
			CEFR: curriculum.LevelA1,
			Units: []curriculum.Unit{
				{ID: "u1", Lessons: []curriculum.Lesson{{ID: "u1-l1"}, {ID: "u1-l2"}, {ID: "u1-l3"}}},
				{ID: "u2", Lessons: []curriculum.Lesson{{ID: "u2-l1"}, {ID: "u2-l2"}}},
			},
		}},
	})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return cat
}

func newAdvancer(t *testing.T) (*curriculum.Advancer, *curriculum.MemoryAssignmentStore) {
	t.Helper()
	store := curriculum.NewMemoryAssignmentStore()
	return curriculum.NewAdvancer(store, testCatalog(t)), store
}

func TestAdvancer_AssignCurriculum(t *testing.T) {
	adv, _ := newAdvancer(t)
	ctx := t.Context()

	a, err := adv.AssignCurriculum(ctx, "s1", "starter", "u1")
	if err != nil {
		t.Fatalf("AssignCurriculum() error = %v", err)
	}
	if a.ID == "" || a.Status != curriculum.AssignmentActive {
		t.Errorf("assignment = %+v, want active with id", a)
	}
	if a.CurrentLessonNumber != 1 || a.TotalLessonsInUnit != 3 {
		t.Errorf("current = %d total = %d, want 1 and 3", a.CurrentLessonNumber, a.TotalLessonsInUnit)
	}

	if _, err := adv.AssignCurriculum(ctx, "s1", "starter", "nope"); !errors.Is(err, curriculum.ErrUnknownUnit) {
		t.Errorf("unknown unit error = %v, want ErrUnknownUnit", err)
	}
}

func TestAdvancer_AssignCurriculum_SupersedesActive(t *testing.T) {
	adv, _ := newAdvancer(t)
	ctx := t.Context()

	first, _ := adv.AssignCurriculum(ctx, "s1", "starter", "u1")
	second, err := adv.AssignCurriculum(ctx, "s1", "starter", "u2")
	if err != nil {
		t.Fatalf("AssignCurriculum() error = %v", err)
	}

	active, err := adv.ActiveAssignment(ctx, "s1")
	if err != nil {
		t.Fatalf("ActiveAssignment() error = %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active = %s, want %s", active.ID, second.ID)
	}

	history, _ := adv.History(ctx, "s1")
	if len(history) != 2 {
		t.Fatalf("History() = %d rows, want 2", len(history))
	}
	for _, h := range history {
		if h.ID == first.ID && (h.Status != curriculum.AssignmentCompleted || h.CompletedAt == nil) {
			t.Errorf("superseded row = %+v, want completed", h)
		}
	}
}

func TestAdvancer_UpdateLessonProgress_Advances(t *testing.T) {
	adv, _ := newAdvancer(t)
	ctx := t.Context()
	adv.AssignCurriculum(ctx, "s1", "starter", "u1")

	res, err := adv.UpdateLessonProgress(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("UpdateLessonProgress() error = %v", err)
	}
	if res.UnitCompleted {
		t.Error("unit should not be completed after one lesson")
	}
	if res.Assignment.CurrentLessonNumber != 2 {
		t.Errorf("CurrentLessonNumber = %d, want 2", res.Assignment.CurrentLessonNumber)
	}

	// Repeating a lesson is deduplicated.
	res, err = adv.UpdateLessonProgress(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("UpdateLessonProgress() error = %v", err)
	}
	if !slices.Equal(res.Assignment.LessonsCompleted, []int{1}) {
		t.Errorf("LessonsCompleted = %v, want [1]", res.Assignment.LessonsCompleted)
	}

	// Out of order completion does not move the pointer backwards.
	res, _ = adv.UpdateLessonProgress(ctx, "s1", 3)
	if res.Assignment.CurrentLessonNumber != 3 {
		t.Errorf("CurrentLessonNumber = %d, want 3 (capped at unit size)", res.Assignment.CurrentLessonNumber)
	}

	stored, _ := adv.ActiveAssignment(ctx, "s1")
	if !slices.Equal(stored.LessonsCompleted, []int{1, 3}) {
		t.Errorf("stored LessonsCompleted = %v, want [1 3]", stored.LessonsCompleted)
	}
}

func TestAdvancer_UpdateLessonProgress_RollsOverToNextUnit(t *testing.T) {
	adv, _ := newAdvancer(t)
	ctx := t.Context()
	first, _ := adv.AssignCurriculum(ctx, "s1", "starter", "u1")

	var res *curriculum.AdvanceResult
	for n := 1; n <= 3; n++ {
		var err error
		if res, err = adv.UpdateLessonProgress(ctx, "s1", n); err != nil {
			t.Fatalf("UpdateLessonProgress(%d) error = %v", n, err)
		}
	}

	if !res.UnitCompleted || res.StageCompleted {
		t.Fatalf("result = %+v, want unit completed, stage not completed", res)
	}
	if res.Assignment.ID != first.ID || res.Assignment.Status != curriculum.AssignmentCompleted {
		t.Errorf("finished row = %+v, want first row completed", res.Assignment)
	}
	if res.NextAssignment == nil || res.NextAssignment.UnitID != "u2" || res.NextAssignment.TotalLessonsInUnit != 2 {
		t.Fatalf("NextAssignment = %+v, want u2 with 2 lessons", res.NextAssignment)
	}
	if res.NextUnit == nil || res.NextUnit.Lessons[0].ID != "u2-l1" {
		t.Errorf("NextUnit = %+v, want u2", res.NextUnit)
	}

	active, err := adv.ActiveAssignment(ctx, "s1")
	if err != nil || active.UnitID != "u2" {
		t.Errorf("ActiveAssignment() = %+v, %v; want u2", active, err)
	}
}

func TestAdvancer_UpdateLessonProgress_StageExhausted(t *testing.T) {
	adv, _ := newAdvancer(t)
	ctx := t.Context()
	adv.AssignCurriculum(ctx, "s1", "starter", "u2")

	adv.UpdateLessonProgress(ctx, "s1", 1)
	res, err := adv.UpdateLessonProgress(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("UpdateLessonProgress() error = %v", err)
	}
	if !res.UnitCompleted || !res.StageCompleted || res.NextAssignment != nil {
		t.Errorf("result = %+v, want stage completed without next assignment", res)
	}

	if _, err := adv.ActiveAssignment(ctx, "s1"); !errors.Is(err, curriculum.ErrNotFound) {
		t.Errorf("ActiveAssignment() error = %v, want ErrNotFound", err)
	}
}

func TestAdvancer_UpdateLessonProgress_Errors(t *testing.T) {
	adv, _ := newAdvancer(t)
	ctx := t.Context()

	if _, err := adv.UpdateLessonProgress(ctx, "s1", 1); !errors.Is(err, curriculum.ErrNotFound) {
		t.Errorf("no assignment error = %v, want ErrNotFound", err)
	}

	adv.AssignCurriculum(ctx, "s1", "starter", "u1")
	for _, n := range []int{0, -1, 4} {
		if _, err := adv.UpdateLessonProgress(ctx, "s1", n); !errors.Is(err, curriculum.ErrInvalidInput) {
			t.Errorf("lesson %d error = %v, want ErrInvalidInput", n, err)
		}
	}
	if _, err := adv.UpdateLessonProgress(ctx, "", 1); !errors.Is(err, curriculum.ErrInvalidInput) {
		t.Errorf("empty student error = %v, want ErrInvalidInput", err)
	}
}

func TestMemoryAssignmentStore_OneActivePerStudent(t *testing.T) {
	store := curriculum.NewMemoryAssignmentStore()
	ctx := t.Context()

	a := curriculum.Assignment{StudentID: "s1", StageID: "st", UnitID: "u1", TotalLessonsInUnit: 2, Status: curriculum.AssignmentActive}
	if _, err := store.Insert(ctx, a); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if _, err := store.Insert(ctx, a); err == nil {
		t.Error("second active Insert() should fail")
	}

	a.StudentID = "s2"
	if _, err := store.Insert(ctx, a); err != nil {
		t.Errorf("Insert() for another student error = %v", err)
	}
}
