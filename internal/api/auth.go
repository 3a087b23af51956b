package api

import (
	"net/http"

	"pharmacy/m/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.svc.Auth.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "User registered successfully",
		"token":   session.Token,
		"user":    session.User,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLogin(w, r)
	if !ok {
		return
	}
	session, err := h.svc.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Login successful",
		"token":   session.Token,
		"user":    session.User,
	})
}

func (h *Handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeLogin(w, r)
	if !ok {
		return
	}
	session, err := h.svc.Auth.AdminLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Admin login successful",
		"token":   session.Token,
		"admin":   session.Admin,
	})
}

func (h *Handler) decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, bool) {
	var req loginRequest
	if err := h.decodeValid(w, r, &req); err != nil {
		h.fail(w, r, err)
		return req, false
	}
	return req, true
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	c := claimsFrom(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": c.UserID,
		"email":   c.Email,
		"role":    c.Role,
	})
}
