package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/p-n-ai/pai-esl/internal/platform/database"
)

const (
	dbTimeout = 5 * time.Second

	// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
	uniqueViolation = "23505"
	// orderConstraint is the generated name of UNIQUE (student_id, order_in_sequence).
	orderConstraint = "lesson_assignments_student_id_order_in_sequence_key"
)

const assignmentColumns = `student_id, lesson_id, order_in_sequence, is_unlocked, status,
	curriculum_lesson_number, assigned_by, created_at, updated_at`

// PostgresStore is a PostgreSQL-backed Store over the lesson_assignments table.
type PostgresStore struct {
	q database.Querier
}

// NewPostgresStore creates a store that issues queries through q.
func NewPostgresStore(q database.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

func (s *PostgresStore) Get(ctx context.Context, studentID, lessonID string) (*LessonAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := scanAssignment(s.q.QueryRow(ctx,
		`SELECT `+assignmentColumns+`
		 FROM lesson_assignments
		 WHERE student_id = $1 AND lesson_id = $2`,
		studentID, lessonID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lesson assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetByOrder(ctx context.Context, studentID string, order int) (*LessonAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := scanAssignment(s.q.QueryRow(ctx,
		`SELECT `+assignmentColumns+`
		 FROM lesson_assignments
		 WHERE student_id = $1 AND order_in_sequence = $2
		 LIMIT 1`,
		studentID, order,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lesson assignment by order: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context, studentID string) ([]LessonAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.q.Query(ctx,
		`SELECT `+assignmentColumns+`
		 FROM lesson_assignments
		 WHERE student_id = $1
		 ORDER BY order_in_sequence ASC`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query lesson assignments: %w", err)
	}
	defer rows.Close()

	out := []LessonAssignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson assignment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lesson assignments: %w", err)
	}
	return out, nil
}

// LockSequence takes a transaction-scoped advisory lock keyed by the student.
// Outside a transaction the lock is released as soon as the statement ends.
func (s *PostgresStore) LockSequence(ctx context.Context, studentID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := s.q.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended('lesson_assignments:' || $1, 0))`,
		studentID,
	); err != nil {
		return fmt.Errorf("lock lesson sequence: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, as []LessonAssignment) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	for _, a := range as {
		_, err := s.q.Exec(ctx,
			`INSERT INTO lesson_assignments
			   (student_id, lesson_id, order_in_sequence, is_unlocked, status, curriculum_lesson_number, assigned_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.StudentID, a.LessonID, a.Order, a.IsUnlocked, string(a.Status), a.CurriculumLessonNumber, a.AssignedBy,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				if pgErr.ConstraintName == orderConstraint {
					return ErrSequenceConflict
				}
				return ErrDuplicate
			}
			return fmt.Errorf("insert lesson assignment: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) SetState(ctx context.Context, studentID, lessonID string, unlocked bool, status Status) (*LessonAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	a, err := scanAssignment(s.q.QueryRow(ctx,
		`UPDATE lesson_assignments
		 SET is_unlocked = $3, status = $4, updated_at = NOW()
		 WHERE student_id = $1 AND lesson_id = $2
		 RETURNING `+assignmentColumns,
		studentID, lessonID, unlocked, string(status),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update lesson assignment: %w", err)
	}
	return a, nil
}

func scanAssignment(row pgx.Row) (*LessonAssignment, error) {
	var a LessonAssignment
	var status string
	if err := row.Scan(
		&a.StudentID,
		&a.LessonID,
		&a.Order,
		&a.IsUnlocked,
		&status,
		&a.CurriculumLessonNumber,
		&a.AssignedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	return &a, nil
}
