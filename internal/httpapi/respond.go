package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-esl/internal/ai"
	"github.com/p-n-ai/pai-esl/internal/assignment"
	"github.com/p-n-ai/pai-esl/internal/auth"
	"github.com/p-n-ai/pai-esl/internal/content"
	"github.com/p-n-ai/pai-esl/internal/curriculum"
	"github.com/p-n-ai/pai-esl/internal/progress"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

// respondErr maps domain errors to HTTP statuses. Unknown errors are logged
// and hidden behind a 500.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, progress.ErrInvalidInput),
		errors.Is(err, assignment.ErrInvalidInput),
		errors.Is(err, curriculum.ErrInvalidInput),
		errors.Is(err, curriculum.ErrUnknownUnit),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, content.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, progress.ErrNotFound),
		errors.Is(err, assignment.ErrNotFound),
		errors.Is(err, curriculum.ErrNotFound),
		errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, assignment.ErrDuplicate),
		errors.Is(err, assignment.ErrSequenceConflict),
		errors.Is(err, auth.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ai.ErrBudgetExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, content.ErrInvalidDeck):
		return http.StatusBadGateway
	case errors.Is(err, ai.ErrNoProvider):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a single JSON object into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		return fmt.Errorf("invalid request body: trailing data")
	}
	return nil
}
