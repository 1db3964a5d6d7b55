package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"medsconnect/internal/doselog"
	"medsconnect/internal/schedule"
)

const defaultAdherenceDays = 30

type LogHandler struct {
	Engine *doselog.Engine
	Log    *zap.Logger
	Loc    *time.Location
	Now    func() time.Time
}

type markReq struct {
	TakenAt *time.Time `json:"taken_at"` // RFC3339 optional
	Notes   *string    `json:"notes"`
}

func (h *LogHandler) Generate(w http.ResponseWriter, r *http.Request) {
	day, ok := queryDay(w, r, "date", h.Loc, h.Now())
	if !ok {
		return
	}
	n, err := h.Engine.GenerateForDay(r.Context(), currentUser(r), day)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": schedule.DayKey(day), "inserted": n})
}

func (h *LogHandler) ListDay(w http.ResponseWriter, r *http.Request) {
	listDay(w, r, h.Engine, h.Log, h.Loc, h.Now, currentUser(r))
}

func listDay(w http.ResponseWriter, r *http.Request, e *doselog.Engine, log *zap.Logger, loc *time.Location, now func() time.Time, userID uint64) {
	day, ok := queryDay(w, r, "date", loc, now())
	if !ok {
		return
	}
	logs, err := e.ForUserOnDay(r.Context(), userID, day)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": schedule.DayKey(day), "items": logs})
}

func (h *LogHandler) Summary(w http.ResponseWriter, r *http.Request) {
	day, ok := queryDay(w, r, "date", h.Loc, h.Now())
	if !ok {
		return
	}
	s, err := h.Engine.Summary(r.Context(), currentUser(r), day)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *LogHandler) Adherence(w http.ResponseWriter, r *http.Request) {
	adherence(w, r, h.Engine, h.Log, currentUser(r))
}

func adherence(w http.ResponseWriter, r *http.Request, e *doselog.Engine, log *zap.Logger, userID uint64) {
	days := defaultAdherenceDays
	if v := strings.TrimSpace(r.URL.Query().Get("days")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = n
	}
	stats, err := e.AdherenceStats(r.Context(), userID, days)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "adherence": stats})
}

// Mark returns a handler that sets status on one of the caller's own logs.
func (h *LogHandler) Mark(status doselog.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		uid := currentUser(r)
		if _, err := h.Engine.GetOwned(r.Context(), uid, id); err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		mark(w, r, h.Engine, h.Log, status, id, nil)
	}
}

func mark(w http.ResponseWriter, r *http.Request, e *doselog.Engine, log *zap.Logger, status doselog.Status, logID uint64, markedBy *uint64) {
	var req markReq
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	in := doselog.MarkInput{TakenAt: req.TakenAt, Notes: req.Notes, MarkedBy: markedBy}

	var (
		l   *doselog.MedicationLog
		err error
	)
	switch status {
	case doselog.StatusTaken:
		l, err = e.MarkTaken(r.Context(), logID, in)
	case doselog.StatusMissed:
		l, err = e.MarkMissed(r.Context(), logID, in)
	case doselog.StatusSkipped:
		l, err = e.MarkSkipped(r.Context(), logID, in)
	default:
		writeMessage(w, http.StatusBadRequest, "invalid status")
		return
	}
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "log marked " + strings.ToLower(string(status)),
		"log":     l,
	})
}
