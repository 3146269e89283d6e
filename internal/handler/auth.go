package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/clevy11/bytebites-orders/internal/auth"
	"github.com/clevy11/bytebites-orders/internal/domain/user"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	Token  string `json:"token"`
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

func sessionToResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		Token:  s.Token,
		UserID: s.UserID,
		Email:  s.Email,
		Name:   s.Name,
		Role:   s.Role,
	}
}

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	session, err := h.authService.Register(r.Context(), req.Email, req.Password, req.Name, req.Role)
	if err != nil {
		if errors.Is(err, user.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionToResponse(session))
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.authService.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToResponse(session))
}

// Refresh handles POST /auth/refresh-token. The expiring token travels in the
// body, not the Authorization header, so the gate's public allow-list covers it.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	session, err := h.authService.Refresh(r.Context(), req.Token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpired),
			errors.Is(err, auth.ErrBadSignature),
			errors.Is(err, auth.ErrMalformed),
			errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
		default:
			writeInternal(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, sessionToResponse(session))
}
