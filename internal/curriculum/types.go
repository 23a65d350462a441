// Package curriculum loads the stage → unit → lesson catalog and tracks each
// student's position within it.
package curriculum

import (
	"errors"
	"strings"
)

// Level is a CEFR proficiency level.
type Level string

const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
	LevelC2 Level = "C2"
)

// ParseLevel normalizes s ("b1", " B1 ") to a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	switch l {
	case LevelA1, LevelA2, LevelB1, LevelB2, LevelC1, LevelC2:
		return l, nil
	}
	return "", errors.Join(ErrInvalidCatalog, errors.New("unknown CEFR level "+s))
}

var (
	// ErrInvalidCatalog is returned for malformed curriculum files.
	ErrInvalidCatalog = errors.New("invalid curriculum")
	// ErrUnknownUnit is returned when a stage/unit pair is not in the catalog.
	ErrUnknownUnit = errors.New("unknown curriculum unit")
)

// Curriculum is a complete course loaded from one YAML file.
type Curriculum struct {
	ID     string  `yaml:"id" json:"id"`
	Name   string  `yaml:"name" json:"name"`
	Locale string  `yaml:"locale" json:"locale"`
	Stages []Stage `yaml:"stages" json:"stages"`
}

// Stage groups units at one proficiency level.
type Stage struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	CEFR  Level  `yaml:"cefr" json:"cefr"`
	Units []Unit `yaml:"units" json:"units"`
}

// Unit is an ordered group of lessons.
type Unit struct {
	ID      string   `yaml:"id" json:"id"`
	Name    string   `yaml:"name" json:"name"`
	Lessons []Lesson `yaml:"lessons" json:"lessons"`
}

// Lesson is a single interactive lesson. Number is its 1-based position in the unit.
type Lesson struct {
	ID         string   `yaml:"id" json:"id"`
	Number     int      `yaml:"number" json:"number"`
	Title      string   `yaml:"title" json:"title"`
	Slides     int      `yaml:"slides" json:"slides,omitempty"`
	Objectives []string `yaml:"objectives" json:"objectives,omitempty"`
}

// LessonRef locates a lesson within the catalog.
type LessonRef struct {
	CurriculumID string
	StageID      string
	UnitID       string
	Lesson       Lesson
}
