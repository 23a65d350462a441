package httpapi

import (
	"net/http"

	"github.com/p-n-ai/pai-esl/internal/assignment"
	"github.com/p-n-ai/pai-esl/internal/curriculum"
	"github.com/p-n-ai/pai-esl/internal/progress"
)

type startLessonRequest struct {
	TotalSlides int `json:"total_slides"`
}

type advanceSlideRequest struct {
	SlideIndex int `json:"slide_index"`
	XPDelta    int `json:"xp_delta"`
	StarsDelta int `json:"stars_delta"`
}

type curriculumResponse struct {
	Active  *curriculum.Assignment  `json:"active"`
	History []curriculum.Assignment `json:"history"`
}

func (s *Server) handleCurricula(w http.ResponseWriter, _ *http.Request) {
	if s.catalog == nil {
		respondJSON(w, http.StatusOK, []curriculum.Curriculum{})
		return
	}
	respondJSON(w, http.StatusOK, s.catalog.Curricula())
}

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	studentID, _, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	list, err := s.learning.StudentProgress(r.Context(), studentID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []progress.LessonProgress{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	studentID, _, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	p, err := s.learning.LessonProgress(r.Context(), studentID, r.PathValue("lessonID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleStartLesson(w http.ResponseWriter, r *http.Request) {
	studentID, _, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	var req startLessonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.learning.StartLesson(r.Context(), studentID, r.PathValue("lessonID"), req.TotalSlides)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleAdvanceSlide(w http.ResponseWriter, r *http.Request) {
	studentID, _, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	var req advanceSlideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.learning.AdvanceSlide(r.Context(), studentID, r.PathValue("lessonID"), req.SlideIndex, req.XPDelta, req.StarsDelta)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	studentID, _, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	var req progress.SessionResult
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.learning.CompleteSession(r.Context(), studentID, r.PathValue("lessonID"), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleResetLesson(w http.ResponseWriter, r *http.Request) {
	studentID, _, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	p, err := s.learning.ResetLesson(r.Context(), studentID, r.PathValue("lessonID"))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	studentID, _, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	list, err := s.learning.Assignments(r.Context(), studentID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []assignment.LessonAssignment{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetCurriculum(w http.ResponseWriter, r *http.Request) {
	studentID, _, ok := studentFromPath(w, r)
	if !ok {
		return
	}
	history, err := s.learning.CurriculumHistory(r.Context(), studentID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	resp := curriculumResponse{History: history}
	if resp.History == nil {
		resp.History = []curriculum.Assignment{}
	}
	for i := range history {
		if history[i].Status == curriculum.AssignmentActive {
			resp.Active = &history[i]
			break
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
