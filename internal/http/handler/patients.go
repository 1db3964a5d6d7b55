package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"medsconnect/internal/caregiver"
	"medsconnect/internal/doselog"
	"medsconnect/internal/medication"
)

// PatientHandler serves a caregiver's view of a patient. Every route checks
// the relationship's permission flags before touching patient data.
type PatientHandler struct {
	Caregivers *caregiver.Service
	Registry   *medication.Registry
	Engine     *doselog.Engine
	Log        *zap.Logger
	Loc        *time.Location
	Now        func() time.Time
}

func (h *PatientHandler) authorize(w http.ResponseWriter, r *http.Request, perm caregiver.Permission) (uint64, bool) {
	patientID, ok := pathID(w, r, "id")
	if !ok {
		return 0, false
	}
	if err := h.Caregivers.Authorize(r.Context(), currentUser(r), patientID, perm); err != nil {
		writeError(w, r, h.Log, err)
		return 0, false
	}
	return patientID, true
}

func (h *PatientHandler) Medications(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.authorize(w, r, caregiver.ViewMedications)
	if !ok {
		return
	}
	ms, err := h.Registry.ListAll(r.Context(), patientID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toMedicationDTOs(ms, h.Loc)})
}

func (h *PatientHandler) Logs(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.authorize(w, r, caregiver.ViewLogs)
	if !ok {
		return
	}
	listDay(w, r, h.Engine, h.Log, h.Loc, h.Now, patientID)
}

func (h *PatientHandler) Adherence(w http.ResponseWriter, r *http.Request) {
	patientID, ok := h.authorize(w, r, caregiver.ViewLogs)
	if !ok {
		return
	}
	adherence(w, r, h.Engine, h.Log, patientID)
}

// Mark records a status on the patient's log with the caregiver as marker.
func (h *PatientHandler) Mark(status doselog.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := h.authorize(w, r, caregiver.ViewLogs)
		if !ok {
			return
		}
		logID, ok := pathID(w, r, "logID")
		if !ok {
			return
		}
		if _, err := h.Engine.GetOwned(r.Context(), patientID, logID); err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		by := currentUser(r)
		mark(w, r, h.Engine, h.Log, status, logID, &by)
	}
}
