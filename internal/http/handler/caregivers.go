package handler

import (
	"net/http"

	"go.uber.org/zap"

	"medsconnect/internal/apperr"
	"medsconnect/internal/caregiver"
)

type CaregiverHandler struct {
	Svc *caregiver.Service
	Log *zap.Logger
}

func (h *CaregiverHandler) ListCaregivers(w http.ResponseWriter, r *http.Request) {
	rels, err := h.Svc.ListCaregivers(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rels})
}

func (h *CaregiverHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	rels, err := h.Svc.ListPatients(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rels})
}

func (h *CaregiverHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	rels, err := h.Svc.ListPending(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rels})
}

type sendRequestReq struct {
	CaregiverEmail string `json:"caregiver_email"`
	Relationship   string `json:"relationship"`
}

func (h *CaregiverHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	var req sendRequestReq
	if !decodeJSON(w, r, &req) {
		return
	}
	rel, err := h.Svc.SendRequest(r.Context(), currentUser(r), req.CaregiverEmail, req.Relationship)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":      "caregiver request sent",
		"relationship": rel,
	})
}

// party resolves {id} to a relationship the caller is a side of.
func (h *CaregiverHandler) party(w http.ResponseWriter, r *http.Request) (*caregiver.Relationship, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	rel, err := h.Svc.GetForParty(r.Context(), id, currentUser(r))
	if err != nil {
		writeError(w, r, h.Log, err)
		return nil, false
	}
	return rel, true
}

// Approve is the caregiver's consent; the patient cannot approve a request
// they sent.
func (h *CaregiverHandler) Approve(w http.ResponseWriter, r *http.Request) {
	rel, ok := h.party(w, r)
	if !ok {
		return
	}
	if rel.CaregiverID != currentUser(r) {
		writeError(w, r, h.Log, apperr.Forbidden("only the caregiver can approve this request"))
		return
	}
	rel, err := h.Svc.Approve(r.Context(), rel.ID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "caregiver request approved", "relationship": rel})
}

func (h *CaregiverHandler) Reject(w http.ResponseWriter, r *http.Request) {
	rel, ok := h.party(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Reject(r.Context(), rel.ID); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "caregiver request rejected"})
}

func (h *CaregiverHandler) Remove(w http.ResponseWriter, r *http.Request) {
	rel, ok := h.party(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Remove(r.Context(), rel.ID); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "caregiver removed"})
}

type permissionsReq struct {
	CanViewMedications bool `json:"can_view_medications"`
	CanViewLogs        bool `json:"can_view_logs"`
	CanReceiveAlerts   bool `json:"can_receive_alerts"`
}

// UpdatePermissions is patient-only: the flags guard the patient's data.
func (h *CaregiverHandler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	rel, ok := h.party(w, r)
	if !ok {
		return
	}
	if rel.PatientID != currentUser(r) {
		writeError(w, r, h.Log, apperr.Forbidden("only the patient can change caregiver permissions"))
		return
	}
	var req permissionsReq
	if !decodeJSON(w, r, &req) {
		return
	}
	rel, err := h.Svc.UpdatePermissions(r.Context(), rel.ID, req.CanViewMedications, req.CanViewLogs, req.CanReceiveAlerts)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "permissions updated", "relationship": rel})
}
