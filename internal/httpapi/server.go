// Package httpapi exposes the learning service over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-esl/internal/auth"
	"github.com/p-n-ai/pai-esl/internal/content"
	"github.com/p-n-ai/pai-esl/internal/curriculum"
	"github.com/p-n-ai/pai-esl/internal/events"
	"github.com/p-n-ai/pai-esl/internal/learning"
)

const readyTimeout = 2 * time.Second

// Checker reports whether a dependency is reachable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// Catalog lists the loaded curricula.
type Catalog interface {
	Curricula() []curriculum.Curriculum
}

// Config holds the server's dependencies. Content, Bus and Checks are optional.
type Config struct {
	Learning *learning.Service
	Auth     *auth.Service
	Catalog  Catalog
	Content  *content.Generator
	Bus      events.Bus
	Checks   map[string]Checker
}

// Server routes HTTP requests to the services.
type Server struct {
	learning *learning.Service
	auth     *auth.Service
	catalog  Catalog
	content  *content.Generator
	bus      events.Bus
	checks   map[string]Checker
}

// New creates a server.
func New(cfg Config) *Server {
	return &Server{
		learning: cfg.Learning,
		auth:     cfg.Auth,
		catalog:  cfg.Catalog,
		content:  cfg.Content,
		bus:      cfg.Bus,
		checks:   cfg.Checks,
	}
}

// Handler returns the root handler with logging and panic recovery applied.
func (s *Server) Handler() http.Handler {
	return logRequests(recoverPanics(s.routes()))
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)

	authed := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.authenticate(h))
	}
	staff := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.authenticate(requireStaff(h)))
	}

	authed("GET /v1/me", s.handleMe)
	staff("POST /v1/accounts", s.handleCreateAccount)
	authed("GET /v1/curricula", s.handleCurricula)

	authed("GET /v1/students/{studentID}/progress", s.handleListProgress)
	authed("GET /v1/students/{studentID}/lessons/{lessonID}/progress", s.handleGetProgress)
	authed("POST /v1/students/{studentID}/lessons/{lessonID}/start", s.handleStartLesson)
	authed("POST /v1/students/{studentID}/lessons/{lessonID}/slides", s.handleAdvanceSlide)
	authed("POST /v1/students/{studentID}/lessons/{lessonID}/complete", s.handleCompleteSession)
	authed("POST /v1/students/{studentID}/lessons/{lessonID}/reset", s.handleResetLesson)
	authed("GET /v1/students/{studentID}/assignments", s.handleListAssignments)
	authed("GET /v1/students/{studentID}/curriculum", s.handleGetCurriculum)

	staff("POST /v1/students/{studentID}/assignments", s.handleAssignLessons)
	staff("PUT /v1/students/{studentID}/lessons/{lessonID}/lock", s.handleSetLock)
	staff("POST /v1/students/{studentID}/lessons/{lessonID}/override", s.handleOverride)
	staff("PUT /v1/students/{studentID}/curriculum", s.handleAssignCurriculum)
	staff("GET /v1/students/{studentID}/report.xlsx", s.handleReport)

	staff("POST /v1/content/slide-decks", s.handleSlideDeck)
	staff("POST /v1/content/lesson-text", s.handleLessonText)

	staff("GET /v1/events/stream", s.handleEventStream)
	return mux
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failed := map[string]string{}
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
