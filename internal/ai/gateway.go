// Package ai is the boundary to hosted language models used for lesson
// content generation.
package ai

import (
	"context"
	"errors"
)

// TaskType is the kind of content a request generates.
type TaskType int

const (
	TaskSlideDeck TaskType = iota
	TaskLessonText
	TaskImagePrompt
)

func (t TaskType) String() string {
	switch t {
	case TaskSlideDeck:
		return "slide_deck"
	case TaskLessonText:
		return "lesson_text"
	case TaskImagePrompt:
		return "image_prompt"
	default:
		return "unknown"
	}
}

var (
	// ErrNoProvider is returned by a router with nothing registered.
	ErrNoProvider = errors.New("no AI provider configured")
	// ErrBudgetExceeded is returned when a teacher has used up today's tokens.
	ErrBudgetExceeded = errors.New("daily AI token budget exceeded")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Task        TaskType  `json:"task"`
	// JSON asks the provider for a single JSON object as output.
	JSON bool `json:"json,omitempty"`
}

// CompletionResponse is the output of a completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is a hosted model API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
