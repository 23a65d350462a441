package progress

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists lesson progress records.
type Store interface {
	// Get returns the record for the pair or ErrNotFound.
	Get(ctx context.Context, studentID, lessonID string) (*LessonProgress, error)
	// GetForUpdate is Get with a row lock held until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, studentID, lessonID string) (*LessonProgress, error)
	// Insert creates p unless a record already exists. It returns the stored
	// record and whether it was created.
	Insert(ctx context.Context, p LessonProgress) (*LessonProgress, bool, error)
	// Save writes p, creating it if needed.
	Save(ctx context.Context, p LessonProgress) (*LessonProgress, error)
	// ListByStudent returns a student's records ordered by lesson id.
	ListByStudent(ctx context.Context, studentID string) ([]LessonProgress, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	records map[key]*LessonProgress
	mu      sync.RWMutex
}

type key struct{ student, lesson string }

// NewMemoryStore creates a new in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[key]*LessonProgress),
	}
}

func (s *MemoryStore) Get(_ context.Context, studentID, lessonID string) (*LessonProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.records[key{studentID, lessonID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetForUpdate(ctx context.Context, studentID, lessonID string) (*LessonProgress, error) {
	return s.Get(ctx, studentID, lessonID)
}

func (s *MemoryStore) Insert(_ context.Context, p LessonProgress) (*LessonProgress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{p.StudentID, p.LessonID}
	if existing, ok := s.records[k]; ok {
		cp := *existing
		return &cp, false, nil
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.records[k] = &p
	cp := p
	return &cp, true, nil
}

func (s *MemoryStore) Save(_ context.Context, p LessonProgress) (*LessonProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{p.StudentID, p.LessonID}
	now := time.Now()
	if existing, ok := s.records[k]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.records[k] = &p
	cp := p
	return &cp, nil
}

func (s *MemoryStore) ListByStudent(_ context.Context, studentID string) ([]LessonProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []LessonProgress{}
	for k, p := range s.records {
		if k.student == studentID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessonID < out[j].LessonID })
	return out, nil
}
