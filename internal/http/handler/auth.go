package handler

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"medsconnect/internal/auth"
	"medsconnect/internal/schedule"
)

type AuthHandler struct {
	Svc *auth.Service
	Log *zap.Logger
}

type registerReq struct {
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	Password        string    `json:"password"`
	ConfirmPassword string    `json:"confirm_password"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	DateOfBirth     string    `json:"date_of_birth"` // YYYY-MM-DD optional
	Role            auth.Role `json:"role"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if !decodeJSON(w, r, &req) {
		return
	}

	in := auth.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Role:            req.Role,
	}
	if strings.TrimSpace(req.DateOfBirth) != "" {
		dob, err := time.ParseInLocation(schedule.DayLayout, strings.TrimSpace(req.DateOfBirth), time.UTC)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid date_of_birth (YYYY-MM-DD)")
			return
		}
		in.DateOfBirth = &dob
	}

	sess, err := h.Svc.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "registration successful",
		"token":   sess.Token,
		"user":    sess.User,
	})
}

type loginReq struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if !decodeJSON(w, r, &req) {
		return
	}
	id := req.Identifier
	if strings.TrimSpace(id) == "" {
		id = req.Email
	}

	sess, err := h.Svc.Login(r.Context(), id, req.Password)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "login successful",
		"token":   sess.Token,
		"user":    sess.User,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sid, _ := auth.SessionIDFromContext(r.Context())
	if err := h.Svc.Logout(r.Context(), sid); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}
