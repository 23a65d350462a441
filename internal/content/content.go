// Package content generates lesson material through the AI router and
// validates what comes back before it reaches a learner.
package content

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/pai-esl/internal/ai"
	"github.com/p-n-ai/pai-esl/internal/curriculum"
)

//go:embed slide_deck.schema.json
var slideDeckSchema []byte

const (
	minSlides = 3
	maxSlides = 30
)

var (
	// ErrInvalidRequest is returned for out-of-range generation requests.
	ErrInvalidRequest = errors.New("invalid content request")
	// ErrInvalidDeck is returned when the model's output fails validation.
	ErrInvalidDeck = errors.New("generated slide deck is invalid")
)

// Completer is satisfied by *ai.Router.
type Completer interface {
	Complete(ctx context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error)
}

// Slide is one screen of a generated lesson.
type Slide struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Body        string   `json:"body,omitempty"`
	ImagePrompt string   `json:"image_prompt,omitempty"`
	Question    string   `json:"question,omitempty"`
	Options     []string `json:"options,omitempty"`
	Answer      string   `json:"answer,omitempty"`
	XP          int      `json:"xp,omitempty"`
}

// SlideDeck is a generated lesson.
type SlideDeck struct {
	Title  string           `json:"title"`
	Slides []Slide          `json:"slides"`
	CEFR   curriculum.Level `json:"cefr"`
	Tokens int              `json:"tokens"`
}

// DeckRequest describes the lesson to generate.
type DeckRequest struct {
	Topic  string `json:"topic"`
	CEFR   string `json:"cefr"`
	Slides int    `json:"slides"`
}

// Generator produces lesson content within each teacher's token budget.
type Generator struct {
	llm    Completer
	budget ai.Budget
	schema *gojsonschema.Schema
}

// NewGenerator creates a generator. budget may be nil for no limit.
func NewGenerator(llm Completer, budget ai.Budget) (*Generator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(slideDeckSchema))
	if err != nil {
		return nil, fmt.Errorf("compile slide deck schema: %w", err)
	}
	return &Generator{llm: llm, budget: budget, schema: schema}, nil
}

// SlideDeck generates and validates a slide deck for teacherID.
func (g *Generator) SlideDeck(ctx context.Context, teacherID string, req DeckRequest) (*SlideDeck, error) {
	level, err := curriculum.ParseLevel(req.CEFR)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.Topic) == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}
	if req.Slides < minSlides || req.Slides > maxSlides {
		return nil, fmt.Errorf("%w: slides must be between %d and %d", ErrInvalidRequest, minSlides, maxSlides)
	}

	resp, err := g.complete(ctx, teacherID, ai.CompletionRequest{
		Task: ai.TaskSlideDeck,
		JSON: true,
		Messages: []ai.Message{
			{Role: "system", Content: "You write interactive ESL lessons as JSON slide decks. " +
				"Slide types: intro, vocabulary, grammar, dialogue, quiz, summary. " +
				"Quiz slides need question, options and answer."},
			{Role: "user", Content: fmt.Sprintf("Topic: %s\nCEFR level: %s\nNumber of slides: %d",
				req.Topic, level, req.Slides)},
		},
	})
	if err != nil {
		return nil, err
	}

	deck, err := g.parseDeck(resp.Content)
	if err != nil {
		slog.Warn("rejected generated slide deck",
			"teacher_id", teacherID,
			"provider", resp.Provider,
			"error", err,
		)
		return nil, err
	}
	deck.CEFR = level
	deck.Tokens = resp.TotalTokens()
	return deck, nil
}

// LessonText generates a short reading passage for a topic.
func (g *Generator) LessonText(ctx context.Context, teacherID, topic, cefr string) (string, error) {
	level, err := curriculum.ParseLevel(cefr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(topic) == "" {
		return "", fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}

	resp, err := g.complete(ctx, teacherID, ai.CompletionRequest{
		Task: ai.TaskLessonText,
		Messages: []ai.Message{
			{Role: "system", Content: "You write short reading passages for ESL learners."},
			{Role: "user", Content: fmt.Sprintf("Topic: %s\nCEFR level: %s", topic, level)},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// complete charges the teacher's budget around a single completion.
func (g *Generator) complete(ctx context.Context, teacherID string, req ai.CompletionRequest) (ai.CompletionResponse, error) {
	if g.budget != nil {
		if err := g.budget.Check(ctx, teacherID); err != nil {
			return ai.CompletionResponse{}, err
		}
	}

	resp, err := g.llm.Complete(ctx, req)
	if err != nil {
		return ai.CompletionResponse{}, fmt.Errorf("generate %s: %w", req.Task, err)
	}

	if g.budget != nil {
		if err := g.budget.Record(ctx, teacherID, resp.TotalTokens()); err != nil {
			slog.Warn("failed to record token usage", "teacher_id", teacherID, "error", err)
		}
	}
	return resp, nil
}

func (g *Generator) parseDeck(raw string) (*SlideDeck, error) {
	raw = stripCodeFence(raw)

	result, err := g.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeck, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidDeck, strings.Join(msgs, "; "))
	}

	var deck SlideDeck
	if err := json.Unmarshal([]byte(raw), &deck); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeck, err)
	}
	for i, s := range deck.Slides {
		if s.Type == "quiz" && !slices.Contains(s.Options, s.Answer) {
			return nil, fmt.Errorf("%w: slide %d answer is not one of its options", ErrInvalidDeck, i+1)
		}
	}
	return &deck, nil
}

// stripCodeFence removes a markdown code fence some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
