package httpapi

import (
	"net/http"

	"github.com/p-n-ai/pai-esl/internal/auth"
	"github.com/p-n-ai/pai-esl/internal/content"
)

type lessonTextRequest struct {
	Topic string `json:"topic"`
	CEFR  string `json:"cefr"`
}

type lessonTextResponse struct {
	Text string `json:"text"`
}

func (s *Server) handleSlideDeck(w http.ResponseWriter, r *http.Request) {
	if s.content == nil {
		respondError(w, http.StatusServiceUnavailable, "content generation is not configured")
		return
	}
	var req content.DeckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, _ := auth.SessionFrom(r.Context())
	deck, err := s.content.SlideDeck(r.Context(), session.AccountID, req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, deck)
}

func (s *Server) handleLessonText(w http.ResponseWriter, r *http.Request) {
	if s.content == nil {
		respondError(w, http.StatusServiceUnavailable, "content generation is not configured")
		return
	}
	var req lessonTextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, _ := auth.SessionFrom(r.Context())
	text, err := s.content.LessonText(r.Context(), session.AccountID, req.Topic, req.CEFR)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lessonTextResponse{Text: text})
}
