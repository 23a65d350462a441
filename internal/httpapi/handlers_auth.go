package httpapi

import (
	"net/http"
	"time"

	"github.com/p-n-ai/pai-esl/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Account     *auth.Account `json:"account"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, expires, account, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expires,
		Account:     account,
	})
}

type sessionResponse struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFrom(r.Context())
	respondJSON(w, http.StatusOK, sessionResponse{
		AccountID: session.AccountID,
		Email:     session.Email,
		Role:      session.Role,
	})
}

type createAccountRequest struct {
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	Role     auth.Role `json:"role"`
	Password string    `json:"password"`
}

// handleCreateAccount lets teachers enrol students and admins create any account.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleStudent
	}

	session, _ := auth.SessionFrom(r.Context())
	if session.Role != auth.RoleAdmin && req.Role != auth.RoleStudent {
		respondError(w, http.StatusForbidden, "only admins can create staff accounts")
		return
	}

	account, err := s.auth.Register(r.Context(), req.Email, req.Name, req.Role, req.Password)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, account)
}
