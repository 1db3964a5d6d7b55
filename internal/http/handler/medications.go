package handler

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"medsconnect/internal/doselog"
	"medsconnect/internal/medication"
	"medsconnect/internal/schedule"
)

type MedicationHandler struct {
	Registry *medication.Registry
	Logs     *doselog.Engine
	Log      *zap.Logger
	Loc      *time.Location
	Now      func() time.Time
}

type medicationReq struct {
	medication.Input
	ScheduledTimes []string `json:"scheduled_times"` // HH:MM
	StartDate      string   `json:"start_date"`      // YYYY-MM-DD, default today
	EndDate        string   `json:"end_date"`        // YYYY-MM-DD optional
}

type medicationDTO struct {
	ID                    uint64     `json:"id"`
	UserID                uint64     `json:"user_id"`
	Name                  string     `json:"name"`
	Description           string     `json:"description"`
	Dosage                string     `json:"dosage"`
	Unit                  string     `json:"unit"`
	Frequency             string     `json:"frequency"`
	ScheduledTimes        []string   `json:"scheduled_times"`
	StartDate             string     `json:"start_date"`
	EndDate               *string    `json:"end_date"`
	Notes                 string     `json:"notes"`
	IsActive              bool       `json:"is_active"`
	ReminderEnabled       bool       `json:"reminder_enabled"`
	ReminderMinutesBefore int        `json:"reminder_minutes_before"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             *time.Time `json:"updated_at"`
}

func toMedicationDTO(m medication.Medication, loc *time.Location) medicationDTO {
	times := make([]string, 0, len(m.ScheduledTimes))
	for _, t := range m.ScheduledTimes {
		times = append(times, schedule.Clock(t))
	}
	dto := medicationDTO{
		ID:                    m.ID,
		UserID:                m.UserID,
		Name:                  m.Name,
		Description:           m.Description,
		Dosage:                m.Dosage,
		Unit:                  m.Unit,
		Frequency:             m.Frequency,
		ScheduledTimes:        times,
		StartDate:             schedule.DayKey(m.StartDate.In(loc)),
		Notes:                 m.Notes,
		IsActive:              m.IsActive,
		ReminderEnabled:       m.ReminderEnabled,
		ReminderMinutesBefore: m.ReminderMinutesBefore,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
	if m.EndDate != nil {
		end := schedule.DayKey(m.EndDate.In(loc))
		dto.EndDate = &end
	}
	return dto
}

func toMedicationDTOs(ms []medication.Medication, loc *time.Location) []medicationDTO {
	out := make([]medicationDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMedicationDTO(m, loc))
	}
	return out
}

func (h *MedicationHandler) input(w http.ResponseWriter, r *http.Request) (medication.Input, bool) {
	var req medicationReq
	if !decodeJSON(w, r, &req) {
		return medication.Input{}, false
	}
	in := req.Input

	in.ScheduledTimes = make([]datatypes.Time, 0, len(req.ScheduledTimes))
	for _, s := range req.ScheduledTimes {
		t, err := schedule.ParseClock(s)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid scheduled time "+s+" (HH:MM)")
			return medication.Input{}, false
		}
		in.ScheduledTimes = append(in.ScheduledTimes, t)
	}

	if strings.TrimSpace(req.StartDate) != "" {
		start, err := schedule.ParseDay(req.StartDate, h.Loc, h.Now())
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return medication.Input{}, false
		}
		in.StartDate = start
	}
	if strings.TrimSpace(req.EndDate) != "" {
		end, err := schedule.ParseDay(req.EndDate, h.Loc, h.Now())
		if err != nil {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return medication.Input{}, false
		}
		in.EndDate = &end
	}
	return in, true
}

func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	uid := currentUser(r)

	var (
		ms  []medication.Medication
		err error
	)
	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("active")), "true") {
		ms, err = h.Registry.ListActive(r.Context(), uid)
	} else {
		ms, err = h.Registry.ListAll(r.Context(), uid)
	}
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toMedicationDTOs(ms, h.Loc)})
}

func (h *MedicationHandler) Due(w http.ResponseWriter, r *http.Request) {
	day, ok := queryDay(w, r, "date", h.Loc, h.Now())
	if !ok {
		return
	}
	ms, err := h.Registry.ListDueOn(r.Context(), currentUser(r), day)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  schedule.DayKey(day),
		"items": toMedicationDTOs(ms, h.Loc),
	})
}

func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, ok := h.input(w, r)
	if !ok {
		return
	}
	m, err := h.Registry.Add(r.Context(), currentUser(r), in)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMedicationDTO(*m, h.Loc))
}

func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.Registry.GetOwned(r.Context(), currentUser(r), id)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationDTO(*m, h.Loc))
}

func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.Registry.GetOwned(r.Context(), currentUser(r), id); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	in, ok := h.input(w, r)
	if !ok {
		return
	}
	m, err := h.Registry.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationDTO(*m, h.Loc))
}

func (h *MedicationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.Registry.GetOwned(r.Context(), currentUser(r), id); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if err := h.Registry.Delete(r.Context(), id); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "medication deleted"})
}

// History lists one medication's logs, newest first. ?to is inclusive of
// the whole day.
func (h *MedicationHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.Registry.GetOwned(r.Context(), currentUser(r), id); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	from, ok := optionalDay(w, r, "from", h.Loc)
	if !ok {
		return
	}
	to, ok := optionalDay(w, r, "to", h.Loc)
	if !ok {
		return
	}
	if to != nil {
		end := schedule.NextDayStart(*to).Add(-time.Nanosecond)
		to = &end
	}

	logs, err := h.Logs.ForMedication(r.Context(), id, from, to)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}
