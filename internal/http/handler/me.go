package handler

import (
	"net/http"

	"go.uber.org/zap"

	"medsconnect/internal/auth"
)

type MeHandler struct {
	Svc *auth.Service
	Log *zap.Logger
}

func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Svc.CurrentUser(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// Delete removes the account and ends the current session.
func (h *MeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.DeleteUser(r.Context(), currentUser(r)); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if sid, ok := auth.SessionIDFromContext(r.Context()); ok {
		_ = h.Svc.Logout(r.Context(), sid)
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "account deleted"})
}
