package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/p-n-ai/pai-esl/internal/platform/database"
)

const dbTimeout = 5 * time.Second

const progressColumns = `student_id, lesson_id, current_slide_index, total_slides, completed_slides,
	completion_percentage, xp_earned, stars_earned, lesson_status, completed_at, created_at, updated_at`

// PostgresStore is a PostgreSQL-backed Store over the lesson_progress_tracking table.
type PostgresStore struct {
	q database.Querier
}

// NewPostgresStore creates a store that issues queries through q, which may be
// a pool or a transaction.
func NewPostgresStore(q database.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

func (s *PostgresStore) Get(ctx context.Context, studentID, lessonID string) (*LessonProgress, error) {
	return s.get(ctx, "", studentID, lessonID)
}

func (s *PostgresStore) GetForUpdate(ctx context.Context, studentID, lessonID string) (*LessonProgress, error) {
	return s.get(ctx, " FOR UPDATE", studentID, lessonID)
}

func (s *PostgresStore) get(ctx context.Context, lock, studentID, lessonID string) (*LessonProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p, err := scanProgress(s.q.QueryRow(ctx,
		`SELECT `+progressColumns+`
		 FROM lesson_progress_tracking
		 WHERE student_id = $1 AND lesson_id = $2`+lock,
		studentID, lessonID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lesson progress: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Insert(ctx context.Context, p LessonProgress) (*LessonProgress, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	stored, err := scanProgress(s.q.QueryRow(ctx,
		`INSERT INTO lesson_progress_tracking
		   (student_id, lesson_id, current_slide_index, total_slides, completed_slides,
		    completion_percentage, xp_earned, stars_earned, lesson_status, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (student_id, lesson_id) DO NOTHING
		 RETURNING `+progressColumns,
		p.StudentID, p.LessonID, p.CurrentSlideIndex, p.TotalSlides, p.CompletedSlides,
		p.CompletionPercentage, p.XPEarned, p.StarsEarned, string(p.Status), p.CompletedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert lesson progress: %w", err)
	}

	existing, err := s.Get(ctx, p.StudentID, p.LessonID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) Save(ctx context.Context, p LessonProgress) (*LessonProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	stored, err := scanProgress(s.q.QueryRow(ctx,
		`INSERT INTO lesson_progress_tracking
		   (student_id, lesson_id, current_slide_index, total_slides, completed_slides,
		    completion_percentage, xp_earned, stars_earned, lesson_status, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (student_id, lesson_id) DO UPDATE SET
		   current_slide_index   = EXCLUDED.current_slide_index,
		   total_slides          = EXCLUDED.total_slides,
		   completed_slides      = EXCLUDED.completed_slides,
		   completion_percentage = EXCLUDED.completion_percentage,
		   xp_earned             = EXCLUDED.xp_earned,
		   stars_earned          = EXCLUDED.stars_earned,
		   lesson_status         = EXCLUDED.lesson_status,
		   completed_at          = EXCLUDED.completed_at,
		   updated_at            = NOW()
		 RETURNING `+progressColumns,
		p.StudentID, p.LessonID, p.CurrentSlideIndex, p.TotalSlides, p.CompletedSlides,
		p.CompletionPercentage, p.XPEarned, p.StarsEarned, string(p.Status), p.CompletedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("save lesson progress: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) ListByStudent(ctx context.Context, studentID string) ([]LessonProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := s.q.Query(ctx,
		`SELECT `+progressColumns+`
		 FROM lesson_progress_tracking
		 WHERE student_id = $1
		 ORDER BY lesson_id ASC`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query lesson progress: %w", err)
	}
	defer rows.Close()

	out := []LessonProgress{}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson progress: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lesson progress: %w", err)
	}
	return out, nil
}

func scanProgress(row pgx.Row) (*LessonProgress, error) {
	var p LessonProgress
	var status string
	if err := row.Scan(
		&p.StudentID,
		&p.LessonID,
		&p.CurrentSlideIndex,
		&p.TotalSlides,
		&p.CompletedSlides,
		&p.CompletionPercentage,
		&p.XPEarned,
		&p.StarsEarned,
		&status,
		&p.CompletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}
