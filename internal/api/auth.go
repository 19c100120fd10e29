package api

import (
	"encoding/json"
	"net/http"

	"github.com/oxleyk/canvas-agent/internal/auth"
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  *auth.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.users.Register(req.Email, req.Name, req.Password)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		s.logger.Error("token issue failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "token issue failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, authResponse{Token: token, User: user}, s.logger)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.users.Authenticate(req.Email, req.Password)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.issuer.Issue(user.ID)
	if err != nil {
		s.logger.Error("token issue failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "token issue failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, authResponse{Token: token, User: user}, s.logger)
}
