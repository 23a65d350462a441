// Package report renders student progress as spreadsheets for teachers.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-esl/internal/assignment"
	"github.com/p-n-ai/pai-esl/internal/curriculum"
	"github.com/p-n-ai/pai-esl/internal/progress"
)

const (
	progressSheet    = "Progress"
	assignmentsSheet = "Assignments"
	curriculumSheet  = "Curriculum"
)

// Source is the learning data a report reads. *learning.Service satisfies it.
type Source interface {
	StudentProgress(ctx context.Context, studentID string) ([]progress.LessonProgress, error)
	Assignments(ctx context.Context, studentID string) ([]assignment.LessonAssignment, error)
	CurriculumHistory(ctx context.Context, studentID string) ([]curriculum.Assignment, error)
}

var (
	progressHeader    = []any{"Lesson", "Status", "Slide", "Completed Slides", "Total Slides", "Completion %", "XP", "Stars", "Completed At"}
	assignmentsHeader = []any{"Order", "Lesson", "Status", "Unlocked", "Curriculum Lesson", "Assigned By", "Assigned At"}
	curriculumHeader  = []any{"Stage", "Unit", "Status", "Current Lesson", "Lessons Completed", "Total Lessons", "Started", "Completed At"}
)

// StudentProgressWorkbook builds a workbook with one sheet per record type.
func StudentProgressWorkbook(ctx context.Context, src Source, studentID string) (*excelize.File, error) {
	prog, err := src.StudentProgress(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	assigned, err := src.Assignments(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	history, err := src.CurriculumHistory(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load curriculum history: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", progressSheet); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{assignmentsSheet, curriculumSheet} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	rows := make([][]any, 0, len(prog))
	for _, p := range prog {
		rows = append(rows, []any{
			p.LessonID, string(p.Status), p.CurrentSlideIndex, p.CompletedSlides, p.TotalSlides,
			p.CompletionPercentage, p.XPEarned, p.StarsEarned, formatTime(p.CompletedAt),
		})
	}
	err = writeSheet(f, progressSheet, progressHeader, rows)

	rows = rows[:0]
	for _, a := range assigned {
		rows = append(rows, []any{
			a.Order, a.LessonID, string(a.Status), a.IsUnlocked, a.CurriculumLessonNumber,
			a.AssignedBy, a.CreatedAt.UTC().Format(time.DateTime),
		})
	}
	err = errors.Join(err, writeSheet(f, assignmentsSheet, assignmentsHeader, rows))

	rows = rows[:0]
	for _, c := range history {
		rows = append(rows, []any{
			c.StageID, c.UnitID, string(c.Status), c.CurrentLessonNumber, len(c.LessonsCompleted),
			c.TotalLessonsInUnit, c.CreatedAt.UTC().Format(time.DateTime), formatTime(c.CompletedAt),
		})
	}
	err = errors.Join(err, writeSheet(f, curriculumSheet, curriculumHeader, rows))

	if err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	f.SetActiveSheet(0)
	return f, nil
}

// WriteStudentProgress renders the workbook straight to w.
func WriteStudentProgress(ctx context.Context, w io.Writer, src Source, studentID string) error {
	f, err := StudentProgressWorkbook(ctx, src, studentID)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.DateTime)
}
