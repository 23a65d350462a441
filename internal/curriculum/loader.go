package curriculum

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

type unitKey struct{ stage, unit string }

// Loader loads and caches curriculum content from the filesystem.
type Loader struct {
	rootDir    string
	curricula  map[string]Curriculum
	stages     map[string]Stage
	stageOrder map[string][]string // stage id -> unit ids in order
	units      map[unitKey]Unit
	lessons    map[string]LessonRef
	mu         sync.RWMutex
}

// NewLoader creates a new curriculum loader and loads all content.
func NewLoader(rootDir string) (*Loader, error) {
	l := newEmptyLoader(rootDir)

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded", "curricula", len(l.curricula), "lessons", len(l.lessons))
	return l, nil
}

// NewCatalog builds a loader from in-memory curricula, validating each one.
func NewCatalog(curricula ...Curriculum) (*Loader, error) {
	l := newEmptyLoader("")
	for _, c := range curricula {
		if err := l.add(c); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func newEmptyLoader(rootDir string) *Loader {
	return &Loader{
		rootDir:    rootDir,
		curricula:  make(map[string]Curriculum),
		stages:     make(map[string]Stage),
		stageOrder: make(map[string][]string),
		units:      make(map[unitKey]Unit),
		lessons:    make(map[string]LessonRef),
	}
}

// Curricula returns all loaded curricula.
func (l *Loader) Curricula() []Curriculum {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Curriculum, 0, len(l.curricula))
	for _, c := range l.curricula {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stage returns a stage by id.
func (l *Loader) Stage(id string) (Stage, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.stages[id]
	return s, ok
}

// Unit returns a unit of a stage.
func (l *Loader) Unit(stageID, unitID string) (Unit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.units[unitKey{stageID, unitID}]
	return u, ok
}

// NextUnit returns the unit after unitID in the same stage.
func (l *Loader) NextUnit(stageID, unitID string) (Unit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	order := l.stageOrder[stageID]
	for i, id := range order {
		if id == unitID && i+1 < len(order) {
			return l.units[unitKey{stageID, order[i+1]}], true
		}
	}
	return Unit{}, false
}

// Lesson returns where a lesson sits in the catalog.
func (l *Loader) Lesson(lessonID string) (LessonRef, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.lessons[lessonID]
	return r, ok
}

func (l *Loader) loadAll() error {
	info, err := os.Stat(l.rootDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", l.rootDir)
	}
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadCurriculum(path)
		}
		return nil
	})
}

func (l *Loader) loadCurriculum(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var c Curriculum
	if err := yaml.Unmarshal(data, &c); err != nil {
		slog.Warn("skipping invalid curriculum YAML", "path", path, "error", err)
		return nil
	}

	if c.ID == "" || len(c.Stages) == 0 {
		return nil // Not a curriculum file
	}

	if err := l.add(c); err != nil {
		slog.Warn("skipping curriculum", "path", path, "error", err)
	}
	return nil
}

// add validates c and indexes it. Nothing is indexed when validation fails.
func (l *Loader) add(c Curriculum) error {
	if err := normalize(&c); err != nil {
		return fmt.Errorf("curriculum %s: %w", c.ID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.curricula[c.ID]; dup {
		return fmt.Errorf("%w: duplicate curriculum id %s", ErrInvalidCatalog, c.ID)
	}
	for _, s := range c.Stages {
		if _, dup := l.stages[s.ID]; dup {
			return fmt.Errorf("%w: duplicate stage id %s", ErrInvalidCatalog, s.ID)
		}
		for _, u := range s.Units {
			for _, les := range u.Lessons {
				if _, dup := l.lessons[les.ID]; dup {
					return fmt.Errorf("%w: duplicate lesson id %s", ErrInvalidCatalog, les.ID)
				}
			}
		}
	}

	l.curricula[c.ID] = c
	for _, s := range c.Stages {
		l.stages[s.ID] = s
		for _, u := range s.Units {
			l.stageOrder[s.ID] = append(l.stageOrder[s.ID], u.ID)
			l.units[unitKey{s.ID, u.ID}] = u
			for _, les := range u.Lessons {
				l.lessons[les.ID] = LessonRef{CurriculumID: c.ID, StageID: s.ID, UnitID: u.ID, Lesson: les}
			}
		}
	}
	return nil
}

// normalize checks structure, canonicalizes the locale and CEFR levels, and
// numbers lessons that omit a number.
func normalize(c *Curriculum) error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCatalog)
	}
	if c.Locale == "" {
		c.Locale = "en"
	}
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return fmt.Errorf("%w: locale %q: %v", ErrInvalidCatalog, c.Locale, err)
	}
	c.Locale = tag.String()

	if len(c.Stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidCatalog)
	}
	// Lesson ids resolve to a single unit, so they must be unique curriculum-wide.
	stageIDs := make(map[string]bool)
	lessonIDs := make(map[string]string)
	for si := range c.Stages {
		s := &c.Stages[si]
		if s.ID == "" {
			return fmt.Errorf("%w: stage %d has no id", ErrInvalidCatalog, si+1)
		}
		if stageIDs[s.ID] {
			return fmt.Errorf("%w: duplicate stage id %s", ErrInvalidCatalog, s.ID)
		}
		stageIDs[s.ID] = true
		level, err := ParseLevel(string(s.CEFR))
		if err != nil {
			return fmt.Errorf("stage %s: %w", s.ID, err)
		}
		s.CEFR = level
		if len(s.Units) == 0 {
			return fmt.Errorf("%w: stage %s has no units", ErrInvalidCatalog, s.ID)
		}

		unitIDs := make(map[string]bool)
		for ui := range s.Units {
			u := &s.Units[ui]
			if u.ID == "" || unitIDs[u.ID] {
				return fmt.Errorf("%w: stage %s unit %d has a missing or duplicate id", ErrInvalidCatalog, s.ID, ui+1)
			}
			unitIDs[u.ID] = true
			if len(u.Lessons) == 0 {
				return fmt.Errorf("%w: unit %s has no lessons", ErrInvalidCatalog, u.ID)
			}

			numbers := make(map[int]bool)
			for li := range u.Lessons {
				les := &u.Lessons[li]
				if les.ID == "" {
					return fmt.Errorf("%w: unit %s lesson %d has no id", ErrInvalidCatalog, u.ID, li+1)
				}
				if prev, dup := lessonIDs[les.ID]; dup {
					return fmt.Errorf("%w: lesson id %s appears in units %s and %s", ErrInvalidCatalog, les.ID, prev, u.ID)
				}
				lessonIDs[les.ID] = u.ID
				if les.Number == 0 {
					les.Number = li + 1
				}
				if les.Number < 1 || les.Number > len(u.Lessons) || numbers[les.Number] {
					return fmt.Errorf("%w: unit %s lesson %s has number %d", ErrInvalidCatalog, u.ID, les.ID, les.Number)
				}
				numbers[les.Number] = true
			}
			sort.Slice(u.Lessons, func(i, j int) bool { return u.Lessons[i].Number < u.Lessons[j].Number })
		}
	}
	return nil
}
