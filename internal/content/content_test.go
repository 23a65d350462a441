package content_test

import (
	"errors"
	"testing"

	"github.com/p-n-ai/pai-esl/internal/ai"
	"github.com/p-n-ai/pai-esl/internal/content"
	"github.com/p-n-ai/pai-esl/internal/curriculum"
)

const validDeck = `{
  "title": "Saying hello",
  "slides": [
    {"type": "intro", "title": "Welcome", "body": "Today we learn greetings."},
    {"type": "vocabulary", "title": "Words", "body": "hello, hi, good morning"},
    {"type": "quiz", "title": "Check", "question": "Which is a greeting?", "options": ["hello", "table"], "answer": "hello", "xp": 10}
  ]
}`

func newGenerator(t *testing.T, response string, budget ai.Budget) (*content.Generator, *ai.MockProvider) {
	t.Helper()
	mock := ai.NewMockProvider(response)
	g, err := content.NewGenerator(ai.NewRouter(mock), budget)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	return g, mock
}

func TestSlideDeck_Valid(t *testing.T) {
	g, mock := newGenerator(t, validDeck, nil)

	deck, err := g.SlideDeck(t.Context(), "teacher-1", content.DeckRequest{Topic: "greetings", CEFR: "a1", Slides: 3})
	if err != nil {
		t.Fatalf("SlideDeck() error = %v", err)
	}
	if deck.Title != "Saying hello" || len(deck.Slides) != 3 {
		t.Errorf("deck = %+v", deck)
	}
	if deck.CEFR != curriculum.LevelA1 {
		t.Errorf("CEFR = %q, want A1", deck.CEFR)
	}
	if deck.Tokens == 0 {
		t.Error("Tokens should be reported")
	}

	req := mock.LastRequest()
	if req.Task != ai.TaskSlideDeck || !req.JSON {
		t.Errorf("request = %+v, want JSON slide deck task", req)
	}
}

func TestSlideDeck_StripsCodeFence(t *testing.T) {
	g, _ := newGenerator(t, "```json\n"+validDeck+"\n```", nil)

	if _, err := g.SlideDeck(t.Context(), "teacher-1", content.DeckRequest{Topic: "greetings", CEFR: "A1", Slides: 3}); err != nil {
		t.Fatalf("SlideDeck() error = %v", err)
	}
}

func TestSlideDeck_RejectsInvalidOutput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "Here is your lesson!"},
		{"missing slides", `{"title": "x"}`},
		{"unknown slide type", `{"title": "x", "slides": [{"type": "video", "title": "y"}]}`},
		{"quiz without options", `{"title": "x", "slides": [{"type": "quiz", "title": "q", "question": "?", "answer": "a"}]}`},
		{"answer not an option", `{"title": "x", "slides": [{"type": "quiz", "title": "q", "question": "?", "options": ["a", "b"], "answer": "c"}]}`},
		{"extra field", `{"title": "x", "slides": [{"type": "intro", "title": "y"}], "html": "<b>"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newGenerator(t, tt.raw, nil)
			_, err := g.SlideDeck(t.Context(), "teacher-1", content.DeckRequest{Topic: "greetings", CEFR: "A1", Slides: 3})
			if !errors.Is(err, content.ErrInvalidDeck) {
				t.Errorf("SlideDeck() error = %v, want ErrInvalidDeck", err)
			}
		})
	}
}

func TestSlideDeck_InvalidRequest(t *testing.T) {
	g, mock := newGenerator(t, validDeck, nil)

	tests := []struct {
		name string
		req  content.DeckRequest
	}{
		{"bad cefr", content.DeckRequest{Topic: "greetings", CEFR: "Z1", Slides: 5}},
		{"empty topic", content.DeckRequest{Topic: "  ", CEFR: "A1", Slides: 5}},
		{"too few slides", content.DeckRequest{Topic: "greetings", CEFR: "A1", Slides: 1}},
		{"too many slides", content.DeckRequest{Topic: "greetings", CEFR: "A1", Slides: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := g.SlideDeck(t.Context(), "teacher-1", tt.req); !errors.Is(err, content.ErrInvalidRequest) {
				t.Errorf("SlideDeck() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
	if mock.Calls() != 0 {
		t.Errorf("provider called %d times for invalid requests, want 0", mock.Calls())
	}
}

func TestGenerator_ChargesBudget(t *testing.T) {
	budget := ai.NewInMemoryBudget(50)
	g, mock := newGenerator(t, "A short story about a family.", budget)
	ctx := t.Context()

	text, err := g.LessonText(ctx, "teacher-1", "family", "A2")
	if err != nil {
		t.Fatalf("LessonText() error = %v", err)
	}
	if text == "" {
		t.Error("LessonText() returned empty text")
	}

	used, _, _ := budget.Usage(ctx, "teacher-1")
	if used == 0 {
		t.Fatal("usage should be recorded")
	}

	budget.Record(ctx, "teacher-1", 50)
	if _, err := g.LessonText(ctx, "teacher-1", "family", "A2"); !errors.Is(err, ai.ErrBudgetExceeded) {
		t.Errorf("LessonText() error = %v, want ErrBudgetExceeded", err)
	}
	if mock.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", mock.Calls())
	}

	if _, err := g.LessonText(ctx, "teacher-2", "family", "A2"); err != nil {
		t.Errorf("other teacher LessonText() error = %v", err)
	}
}

func TestGenerator_ProviderFailure(t *testing.T) {
	mock := &ai.MockProvider{Err: errors.New("unavailable")}
	g, err := content.NewGenerator(ai.NewRouter(mock), nil)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}

	if _, err := g.LessonText(t.Context(), "teacher-1", "family", "A2"); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}
