package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-esl/internal/ai"
	"github.com/p-n-ai/pai-esl/internal/assignment"
	"github.com/p-n-ai/pai-esl/internal/auth"
	"github.com/p-n-ai/pai-esl/internal/content"
	"github.com/p-n-ai/pai-esl/internal/curriculum"
	"github.com/p-n-ai/pai-esl/internal/events"
	"github.com/p-n-ai/pai-esl/internal/httpapi"
	"github.com/p-n-ai/pai-esl/internal/learning"
	"github.com/p-n-ai/pai-esl/internal/progress"
)

const deckJSON = `{
  "title": "Saying hello",
  "slides": [
    {"type": "intro", "title": "Welcome", "body": "Today we learn greetings."},
    {"type": "vocabulary", "title": "Words", "body": "hello, hi, good morning"},
    {"type": "quiz", "title": "Check", "question": "Which is a greeting?", "options": ["hello", "table"], "answer": "hello"}
  ]
}`

type testEnv struct {
	srv     *httptest.Server
	bus     *events.MemoryBus
	student string
	tokens  map[auth.Role]string
}

type envOption func(*httpapi.Config)

func withContent(t *testing.T) envOption {
	return func(cfg *httpapi.Config) {
		g, err := content.NewGenerator(ai.NewRouter(ai.NewMockProvider(deckJSON)), ai.NewInMemoryBudget(0))
		if err != nil {
			t.Fatalf("NewGenerator() error = %v", err)
		}
		cfg.Content = g
	}
}

func withChecks(checks map[string]httpapi.Checker) envOption {
	return func(cfg *httpapi.Config) { cfg.Checks = checks }
}

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cat, err := curriculum.NewCatalog(curriculum.Curriculum{
		ID: "esl-core",
		Stages: []curriculum.Stage{{
			ID:   "starter",
			CEFR: curriculum.LevelA1,
			Units: []curriculum.Unit{
				{ID: "greetings", Lessons: []curriculum.Lesson{{ID: "hello"}, {ID: "names"}}},
				{ID: "family", Lessons: []curriculum.Lesson{{ID: "my-family"}}},
			},
		}},
	})
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	bus := events.NewMemoryBus()
	svc := learning.NewService(learning.Config{
		Tx:        learning.NewMemoryTxRunner(),
		Catalog:   cat,
		Publisher: events.NewPublisher(events.NopLogger{}, bus),
	})
	authSvc := auth.NewService(auth.NewMemoryStore(), auth.NewTokenIssuer("test-secret", time.Hour))

	cfg := httpapi.Config{Learning: svc, Auth: authSvc, Catalog: cat, Bus: bus}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv := httptest.NewServer(httpapi.New(cfg).Handler())
	t.Cleanup(srv.Close)

	env := &testEnv{srv: srv, bus: bus, tokens: map[auth.Role]string{}}
	for _, role := range []auth.Role{auth.RoleStudent, auth.RoleTeacher, auth.RoleAdmin} {
		email := string(role) + "@example.com"
		acct, err := authSvc.Register(t.Context(), email, string(role), role, "password123")
		if err != nil {
			t.Fatalf("Register(%s) error = %v", role, err)
		}
		if role == auth.RoleStudent {
			env.student = acct.ID
		}

		var login struct {
			AccessToken string `json:"access_token"`
		}
		env.do(t, "", http.MethodPost, "/v1/auth/login",
			map[string]string{"email": email, "password": "password123"}, http.StatusOK, &login)
		env.tokens[role] = login.AccessToken
	}
	return env
}

// do sends a JSON request and decodes the response into out when non-nil.
func (e *testEnv) do(t *testing.T, token, method, path string, body any, wantStatus int, out any) {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, e.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s status = %d, want %d (body %s)", method, path, resp.StatusCode, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
}

func (e *testEnv) studentPath(suffix string) string {
	return "/v1/students/" + e.student + suffix
}

func TestHealthz(t *testing.T) {
	env := newEnv(t)
	var body map[string]string
	env.do(t, "", http.MethodGet, "/healthz", nil, http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]httpapi.Checker
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"all healthy", map[string]httpapi.Checker{
			"database": httpapi.CheckFunc(func(context.Context) error { return nil }),
		}, http.StatusOK},
		{"cache down", map[string]httpapi.Checker{
			"database": httpapi.CheckFunc(func(context.Context) error { return nil }),
			"cache":    httpapi.CheckFunc(func(context.Context) error { return errors.New("connection refused") }),
		}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, withChecks(tt.checks))
			env.do(t, "", http.MethodGet, "/readyz", nil, tt.want, nil)
		})
	}
}

func TestLogin_BadPassword(t *testing.T) {
	env := newEnv(t)
	env.do(t, "", http.MethodPost, "/v1/auth/login",
		map[string]string{"email": "student@example.com", "password": "wrong-password"}, http.StatusUnauthorized, nil)
}

func TestAccessControl(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name   string
		role   auth.Role
		method string
		path   string
		body   any
		want   int
	}{
		{"no token", "", http.MethodGet, env.studentPath("/progress"), nil, http.StatusUnauthorized},
		{"own progress", auth.RoleStudent, http.MethodGet, env.studentPath("/progress"), nil, http.StatusOK},
		{"other student", auth.RoleStudent, http.MethodGet, "/v1/students/someone-else/progress", nil, http.StatusForbidden},
		{"teacher reads student", auth.RoleTeacher, http.MethodGet, "/v1/students/someone-else/progress", nil, http.StatusOK},
		{"student cannot assign", auth.RoleStudent, http.MethodPost, env.studentPath("/assignments"),
			map[string]any{"lesson_ids": []string{"hello"}}, http.StatusForbidden},
		{"student cannot override", auth.RoleStudent, http.MethodPost, env.studentPath("/lessons/hello/override"),
			map[string]string{"action": "complete"}, http.StatusForbidden},
		{"teacher cannot create teacher", auth.RoleTeacher, http.MethodPost, "/v1/accounts",
			map[string]any{"email": "t2@example.com", "name": "T2", "role": "teacher", "password": "password123"}, http.StatusForbidden},
		{"teacher creates student", auth.RoleTeacher, http.MethodPost, "/v1/accounts",
			map[string]any{"email": "s2@example.com", "name": "S2", "password": "password123"}, http.StatusCreated},
		{"admin creates teacher", auth.RoleAdmin, http.MethodPost, "/v1/accounts",
			map[string]any{"email": "t3@example.com", "name": "T3", "role": "teacher", "password": "password123"}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.do(t, env.tokens[tt.role], tt.method, tt.path, tt.body, tt.want, nil)
		})
	}
}

func TestMe(t *testing.T) {
	env := newEnv(t)
	var me struct {
		AccountID string    `json:"account_id"`
		Role      auth.Role `json:"role"`
	}
	env.do(t, env.tokens[auth.RoleStudent], http.MethodGet, "/v1/me", nil, http.StatusOK, &me)
	if me.AccountID != env.student || me.Role != auth.RoleStudent {
		t.Errorf("me = %+v", me)
	}
}

func TestCompleteLesson_UnlocksNext(t *testing.T) {
	env := newEnv(t)
	teacher, student := env.tokens[auth.RoleTeacher], env.tokens[auth.RoleStudent]

	env.do(t, teacher, http.MethodPost, env.studentPath("/assignments"),
		map[string]any{"lesson_ids": []string{"lesson-1", "lesson-2", "lesson-3"}}, http.StatusCreated, nil)
	env.do(t, student, http.MethodPost, env.studentPath("/lessons/lesson-1/start"),
		map[string]int{"total_slides": 10}, http.StatusOK, nil)

	var slide progress.LessonProgress
	env.do(t, student, http.MethodPost, env.studentPath("/lessons/lesson-1/slides"),
		map[string]int{"slide_index": 4, "xp_delta": 5}, http.StatusOK, &slide)
	if slide.CurrentSlideIndex != 4 || slide.Status != progress.StatusInProgress {
		t.Errorf("after slide: %+v", slide)
	}

	var res learning.CompletionResult
	env.do(t, student, http.MethodPost, env.studentPath("/lessons/lesson-1/complete"),
		progress.SessionResult{TotalSlides: 10, CompletedSlides: 6, XPEarned: 30}, http.StatusOK, &res)
	if res.Progress.Status != progress.StatusCompleted || res.Progress.CompletionPercentage != 60 {
		t.Errorf("progress = %+v", res.Progress)
	}
	if res.UnlockedLessonID != "lesson-2" {
		t.Errorf("UnlockedLessonID = %q, want lesson-2", res.UnlockedLessonID)
	}

	var list []assignment.LessonAssignment
	env.do(t, student, http.MethodGet, env.studentPath("/assignments"), nil, http.StatusOK, &list)
	unlocked := map[string]bool{}
	for _, a := range list {
		unlocked[a.LessonID] = a.IsUnlocked
	}
	if !unlocked["lesson-2"] || unlocked["lesson-3"] {
		t.Errorf("unlocked = %v, want lesson-2 only after lesson-1", unlocked)
	}
}

func TestCompleteLesson_BadPayload(t *testing.T) {
	env := newEnv(t)
	student := env.tokens[auth.RoleStudent]
	path := env.studentPath("/lessons/lesson-1/complete")

	tests := []struct {
		name string
		body any
	}{
		{"unknown field", `{"total_slides": 10, "completed_slides": 5, "score": 99}`},
		{"not json", `total=10`},
		{"completed above total", progress.SessionResult{TotalSlides: 4, CompletedSlides: 5}},
		{"zero total", progress.SessionResult{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.do(t, student, http.MethodPost, path, tt.body, http.StatusBadRequest, nil)
		})
	}
}

func TestGetProgress_NotFound(t *testing.T) {
	env := newEnv(t)
	env.do(t, env.tokens[auth.RoleStudent], http.MethodGet, env.studentPath("/lessons/missing/progress"), nil, http.StatusNotFound, nil)
}

func TestResetLesson(t *testing.T) {
	env := newEnv(t)
	student := env.tokens[auth.RoleStudent]

	env.do(t, student, http.MethodPost, env.studentPath("/lessons/lesson-1/complete"),
		progress.SessionResult{TotalSlides: 10, CompletedSlides: 2}, http.StatusOK, nil)

	var p progress.LessonProgress
	env.do(t, student, http.MethodPost, env.studentPath("/lessons/lesson-1/reset"), nil, http.StatusOK, &p)
	if p.Status != progress.StatusNotStarted || p.CompletedSlides != 0 || p.CompletedAt != nil {
		t.Errorf("after reset: %+v", p)
	}
}

func TestOverride(t *testing.T) {
	env := newEnv(t)
	teacher := env.tokens[auth.RoleTeacher]
	base := env.studentPath("/lessons/lesson-1/override")

	env.do(t, teacher, http.MethodPost, base, map[string]string{"action": "skip"}, http.StatusBadRequest, nil)

	var redo progress.LessonProgress
	env.do(t, teacher, http.MethodPost, base, map[string]string{"action": "redo"}, http.StatusOK, &redo)
	if redo.Status != progress.StatusRedoRequired {
		t.Errorf("redo status = %q", redo.Status)
	}

	var done learning.CompletionResult
	env.do(t, teacher, http.MethodPost, base, map[string]string{"action": "complete"}, http.StatusOK, &done)
	if done.Progress.Status != progress.StatusCompleted || done.Progress.CompletedAt == nil {
		t.Errorf("complete override: %+v", done.Progress)
	}
}

func TestSetLock(t *testing.T) {
	env := newEnv(t)
	teacher := env.tokens[auth.RoleTeacher]

	env.do(t, teacher, http.MethodPut, env.studentPath("/lessons/lesson-2/lock"),
		map[string]bool{"unlocked": true}, http.StatusNotFound, nil)

	env.do(t, teacher, http.MethodPost, env.studentPath("/assignments"),
		map[string]any{"lesson_ids": []string{"lesson-1", "lesson-2"}}, http.StatusCreated, nil)

	var a assignment.LessonAssignment
	env.do(t, teacher, http.MethodPut, env.studentPath("/lessons/lesson-2/lock"),
		map[string]bool{"unlocked": true}, http.StatusOK, &a)
	if !a.IsUnlocked {
		t.Errorf("lesson-2 should be unlocked: %+v", a)
	}
}

func TestAssignCurriculum(t *testing.T) {
	env := newEnv(t)
	teacher := env.tokens[auth.RoleTeacher]

	env.do(t, teacher, http.MethodPut, env.studentPath("/curriculum"),
		map[string]string{"stage_id": "starter", "unit_id": "nope"}, http.StatusBadRequest, nil)

	var placement learning.Placement
	env.do(t, teacher, http.MethodPut, env.studentPath("/curriculum"),
		map[string]string{"stage_id": "starter", "unit_id": "greetings"}, http.StatusOK, &placement)
	if placement.Assignment.UnitID != "greetings" || len(placement.Lessons) != 2 {
		t.Fatalf("placement = %+v", placement)
	}

	var cur struct {
		Active  *curriculum.Assignment  `json:"active"`
		History []curriculum.Assignment `json:"history"`
	}
	env.do(t, env.tokens[auth.RoleStudent], http.MethodGet, env.studentPath("/curriculum"), nil, http.StatusOK, &cur)
	if cur.Active == nil || cur.Active.UnitID != "greetings" || cur.Active.CurrentLessonNumber != 1 {
		t.Errorf("active = %+v", cur.Active)
	}
}

func TestCurricula(t *testing.T) {
	env := newEnv(t)
	var list []curriculum.Curriculum
	env.do(t, env.tokens[auth.RoleStudent], http.MethodGet, "/v1/curricula", nil, http.StatusOK, &list)
	if len(list) != 1 || list[0].ID != "esl-core" {
		t.Errorf("curricula = %+v", list)
	}
}

func TestReport(t *testing.T) {
	env := newEnv(t)

	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, env.srv.URL+env.studentPath("/report.xlsx"), nil)
	req.Header.Set("Authorization", "Bearer "+env.tokens[auth.RoleTeacher])
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET report error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(raw, []byte("PK")) {
		t.Error("report body is not a zip archive")
	}
}

func TestSlideDeck(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newEnv(t)
		env.do(t, env.tokens[auth.RoleTeacher], http.MethodPost, "/v1/content/slide-decks",
			content.DeckRequest{Topic: "greetings", CEFR: "A1", Slides: 3}, http.StatusServiceUnavailable, nil)
	})

	t.Run("generates deck", func(t *testing.T) {
		env := newEnv(t, withContent(t))
		var deck content.SlideDeck
		env.do(t, env.tokens[auth.RoleTeacher], http.MethodPost, "/v1/content/slide-decks",
			content.DeckRequest{Topic: "greetings", CEFR: "A1", Slides: 3}, http.StatusOK, &deck)
		if deck.Title != "Saying hello" || len(deck.Slides) != 3 {
			t.Errorf("deck = %+v", deck)
		}
	})

	t.Run("bad request", func(t *testing.T) {
		env := newEnv(t, withContent(t))
		env.do(t, env.tokens[auth.RoleTeacher], http.MethodPost, "/v1/content/slide-decks",
			content.DeckRequest{Topic: "greetings", CEFR: "Z9", Slides: 3}, http.StatusBadRequest, nil)
	})
}

func TestEventStream(t *testing.T) {
	env := newEnv(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") +
		"/v1/events/stream?student_id=" + env.student + "&access_token=" + env.tokens[auth.RoleTeacher]

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	// The server subscribes after the handshake, so keep publishing until
	// the first event arrives.
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				_ = env.bus.Publish(ctx, events.Event{Type: events.LessonStarted, StudentID: "someone-else"})
				_ = env.bus.Publish(ctx, events.Event{Type: events.LessonCompleted, StudentID: env.student, LessonID: "hello"})
			}
		}
	}()

	var evt events.Event
	if err := wsjson.Read(ctx, conn, &evt); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if evt.StudentID != env.student || evt.Type != events.LessonCompleted {
		t.Errorf("event = %+v, want lesson_completed for %s", evt, env.student)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestEventStream_RequiresStaff(t *testing.T) {
	env := newEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/events/stream?access_token=" + env.tokens[auth.RoleStudent]

	_, resp, err := websocket.Dial(t.Context(), url, nil)
	if err == nil {
		t.Fatal("Dial() should fail for a student")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %+v, want 403", resp)
	}
}
