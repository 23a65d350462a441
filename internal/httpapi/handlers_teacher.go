package httpapi

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/pai-esl/internal/report"
)

type assignLessonsRequest struct {
	LessonIDs []string `json:"lesson_ids"`
}

type lockRequest struct {
	Unlocked bool `json:"unlocked"`
}

// Override actions.
const (
	overrideComplete = "complete"
	overrideRedo     = "redo"
)

type overrideRequest struct {
	Action string `json:"action"`
}

type assignCurriculumRequest struct {
	StageID string `json:"stage_id"`
	UnitID  string `json:"unit_id"`
}

func (s *Server) handleAssignLessons(w http.ResponseWriter, r *http.Request) {
	studentID, session, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	var req assignLessonsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.learning.AssignLessons(r.Context(), session.AccountID, studentID, req.LessonIDs)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, list)
}

func (s *Server) handleSetLock(w http.ResponseWriter, r *http.Request) {
	studentID, session, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	var req lockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := s.learning.SetLessonLock(r.Context(), session.AccountID, studentID, r.PathValue("lessonID"), req.Unlocked)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	studentID, session, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	lessonID := r.PathValue("lessonID")
	switch req.Action {
	case overrideComplete:
		res, err := s.learning.MarkCompleted(r.Context(), session.AccountID, studentID, lessonID)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	case overrideRedo:
		p, err := s.learning.MarkRedo(r.Context(), session.AccountID, studentID, lessonID)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, p)
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("action must be %q or %q", overrideComplete, overrideRedo))
	}
}

func (s *Server) handleAssignCurriculum(w http.ResponseWriter, r *http.Request) {
	studentID, session, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	var req assignCurriculumRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	placement, err := s.learning.AssignCurriculum(r.Context(), session.AccountID, studentID, req.StageID, req.UnitID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, placement)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	studentID, _, ok := studentFromPath(w, r)
	if !ok {
		return
	}

	// Buffer so a failure halfway through still yields a clean error response.
	var buf bytes.Buffer
	if err := report.WriteStudentProgress(r.Context(), &buf, s.learning, studentID); err != nil {
		respondErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "progress-"+studentID+".xlsx"))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("report write failed", "student_id", studentID, "error", err)
	}
}
