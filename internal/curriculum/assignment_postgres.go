package curriculum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/p-n-ai/pai-esl/internal/platform/database"
)

const dbTimeout = 5 * time.Second

const assignmentColumns = `id::text, student_id, stage_id, unit_id, current_lesson_number,
	lessons_completed, total_lessons_in_unit, status, created_at, completed_at`

// PostgresAssignmentStore is a PostgreSQL-backed AssignmentStore over the
// curriculum_assignments table.
type PostgresAssignmentStore struct {
	q database.Querier
}

// NewPostgresAssignmentStore creates a store that issues queries through q.
func NewPostgresAssignmentStore(q database.Querier) *PostgresAssignmentStore {
	return &PostgresAssignmentStore{q: q}
}

func (s *PostgresAssignmentStore) Active(ctx context.Context, studentID string) (*Assignment, error) {
	return s.active(ctx, "", studentID)
}

func (s *PostgresAssignmentStore) ActiveForUpdate(ctx context.Context, studentID string) (*Assignment, error) {
	return s.active(ctx, " FOR UPDATE", studentID)
}

func (s *PostgresAssignmentStore) active(ctx context.Context, lock, studentID string) (*Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := scanAssignment(s.q.QueryRow(ctx,
		`SELECT `+assignmentColumns+`
		 FROM curriculum_assignments
		 WHERE student_id = $1 AND status = 'active'
		 LIMIT 1`+lock,
		studentID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active curriculum assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresAssignmentStore) Insert(ctx context.Context, a Assignment) (*Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	completed := a.LessonsCompleted
	if completed == nil {
		completed = []int{}
	}

	stored, err := scanAssignment(s.q.QueryRow(ctx,
		`INSERT INTO curriculum_assignments
		   (student_id, stage_id, unit_id, current_lesson_number, lessons_completed,
		    total_lessons_in_unit, status, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+assignmentColumns,
		a.StudentID, a.StageID, a.UnitID, a.CurrentLessonNumber, completed,
		a.TotalLessonsInUnit, string(a.Status), a.CompletedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("insert curriculum assignment: %w", err)
	}
	return stored, nil
}

func (s *PostgresAssignmentStore) Update(ctx context.Context, a Assignment) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.q.Exec(ctx,
		`UPDATE curriculum_assignments
		 SET current_lesson_number = $2,
		     lessons_completed = $3,
		     status = $4,
		     completed_at = $5
		 WHERE id = $1::uuid`,
		a.ID, a.CurrentLessonNumber, a.LessonsCompleted, string(a.Status), a.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update curriculum assignment: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresAssignmentStore) History(ctx context.Context, studentID string) ([]Assignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.q.Query(ctx,
		`SELECT `+assignmentColumns+`
		 FROM curriculum_assignments
		 WHERE student_id = $1
		 ORDER BY created_at ASC`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query curriculum assignments: %w", err)
	}
	defer rows.Close()

	out := []Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan curriculum assignment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate curriculum assignments: %w", err)
	}
	return out, nil
}

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	var status string
	var completed []int32
	if err := row.Scan(
		&a.ID,
		&a.StudentID,
		&a.StageID,
		&a.UnitID,
		&a.CurrentLessonNumber,
		&completed,
		&a.TotalLessonsInUnit,
		&status,
		&a.CreatedAt,
		&a.CompletedAt,
	); err != nil {
		return nil, err
	}
	a.Status = AssignmentStatus(status)
	a.LessonsCompleted = make([]int, len(completed))
	for i, n := range completed {
		a.LessonsCompleted[i] = int(n)
	}
	return &a, nil
}
