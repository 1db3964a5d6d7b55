package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"medsconnect/internal/apperr"
	"medsconnect/internal/auth"
	"medsconnect/internal/logging"
	"medsconnect/internal/schedule"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps an operation error to a status. Storage causes are
// logged, never sent.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		writeMessage(w, http.StatusUnauthorized, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindStorage:
	default:
		err = apperr.Storage("server error", err)
	}

	if status == http.StatusInternalServerError {
		logging.OrNop(log).Error("request failed",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(errors.Unwrap(err)),
		)
	}
	writeMessage(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		writeMessage(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func currentUser(r *http.Request) uint64 {
	uid, _ := auth.UserIDFromContext(r.Context())
	return uid
}

// queryDay reads ?<key>=YYYY-MM-DD in loc, defaulting to today.
func queryDay(w http.ResponseWriter, r *http.Request, key string, loc *time.Location, now time.Time) (time.Time, bool) {
	day, err := schedule.ParseDay(r.URL.Query().Get(key), loc, now)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return time.Time{}, false
	}
	return day, true
}

func optionalDay(w http.ResponseWriter, r *http.Request, key string, loc *time.Location) (*time.Time, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, true
	}
	day, err := schedule.ParseDay(v, loc, time.Time{})
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &day, true
}
