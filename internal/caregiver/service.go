package caregiver

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"medsconnect/internal/apperr"
	"medsconnect/internal/auth"
	"medsconnect/internal/logging"
)

// Service runs the request/approve workflow. Listing and workflow calls do
// not check who is asking; Authorize and GetForParty are the gates the
// HTTP layer puts in front of them.
type Service struct {
	DB    *gorm.DB
	Log   *zap.Logger
	Clock func() time.Time
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// ListCaregivers returns the patient's approved links, caregiver preloaded.
func (s *Service) ListCaregivers(ctx context.Context, patientID uint64) ([]Relationship, error) {
	var out []Relationship
	err := s.DB.WithContext(ctx).Preload("Caregiver").
		Where("patient_id = ? AND is_approved = ?", patientID, true).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Storage("failed to list caregivers", err)
	}
	return out, nil
}

// ListPatients returns the caregiver's approved links, patient preloaded.
func (s *Service) ListPatients(ctx context.Context, caregiverID uint64) ([]Relationship, error) {
	var out []Relationship
	err := s.DB.WithContext(ctx).Preload("Patient").
		Where("caregiver_id = ? AND is_approved = ?", caregiverID, true).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Storage("failed to list patients", err)
	}
	return out, nil
}

// ListPending returns unapproved links where the user is either side.
func (s *Service) ListPending(ctx context.Context, userID uint64) ([]Relationship, error) {
	var out []Relationship
	err := s.DB.WithContext(ctx).Preload("Patient").Preload("Caregiver").
		Where("is_approved = ?", false).
		Where("(patient_id = ? OR caregiver_id = ?)", userID, userID).
		Order("requested_at DESC").Order("id DESC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Storage("failed to list pending requests", err)
	}
	return out, nil
}

func (s *Service) SendRequest(ctx context.Context, patientID uint64, caregiverEmail, label string) (*Relationship, error) {
	email := strings.ToLower(strings.TrimSpace(caregiverEmail))
	if email == "" {
		return nil, apperr.Validation("caregiver email is required")
	}

	var rel Relationship
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cg auth.User
		if err := tx.Where("email = ?", email).First(&cg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("no user with that email")
			}
			return err
		}
		if cg.ID == patientID {
			return apperr.Validation("you cannot add yourself as a caregiver")
		}

		var existing int64
		if err := tx.Model(&Relationship{}).
			Where("patient_id = ? AND caregiver_id = ?", patientID, cg.ID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return apperr.Conflict("caregiver relationship already exists")
		}

		rel = Relationship{
			PatientID:          patientID,
			CaregiverID:        cg.ID,
			Label:              strings.TrimSpace(label),
			RequestedAt:        s.now(),
			CanViewMedications: true,
			CanViewLogs:        true,
			CanReceiveAlerts:   true,
		}
		if err := tx.Create(&rel).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.Conflict("caregiver relationship already exists")
			}
			return err
		}
		rel.Caregiver = &cg
		return nil
	})
	if err != nil {
		return nil, apperr.Boundary(err, "failed to send caregiver request")
	}

	logging.OrNop(s.Log).Info("caregiver requested",
		zap.Uint64("relationship_id", rel.ID),
		zap.Uint64("patient_id", patientID),
		zap.Uint64("caregiver_id", rel.CaregiverID),
	)
	return &rel, nil
}

// Approve is repeatable; each call re-stamps the approval time.
func (s *Service) Approve(ctx context.Context, id uint64) (*Relationship, error) {
	var rel Relationship
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := find(tx, id, &rel); err != nil {
			return err
		}
		at := s.now()
		if err := tx.Model(&rel).Updates(map[string]any{"is_approved": true, "approved_at": at}).Error; err != nil {
			return err
		}
		rel.IsApproved = true
		rel.ApprovedAt = &at
		return nil
	})
	if err != nil {
		return nil, apperr.Boundary(err, "failed to approve caregiver request")
	}
	logging.OrNop(s.Log).Info("caregiver approved", zap.Uint64("relationship_id", id))
	return &rel, nil
}

func (s *Service) Reject(ctx context.Context, id uint64) error {
	return s.delete(ctx, id, "failed to reject caregiver request")
}

func (s *Service) Remove(ctx context.Context, id uint64) error {
	return s.delete(ctx, id, "failed to remove caregiver")
}

func (s *Service) delete(ctx context.Context, id uint64, msg string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rel Relationship
		if err := find(tx, id, &rel); err != nil {
			return err
		}
		return tx.Delete(&rel).Error
	})
	if err != nil {
		return apperr.Boundary(err, msg)
	}
	logging.OrNop(s.Log).Info("caregiver relationship deleted", zap.Uint64("relationship_id", id))
	return nil
}

func (s *Service) UpdatePermissions(ctx context.Context, id uint64, viewMeds, viewLogs, receiveAlerts bool) (*Relationship, error) {
	var rel Relationship
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := find(tx, id, &rel); err != nil {
			return err
		}
		if err := tx.Model(&rel).Updates(map[string]any{
			"can_view_medications": viewMeds,
			"can_view_logs":        viewLogs,
			"can_receive_alerts":   receiveAlerts,
		}).Error; err != nil {
			return err
		}
		rel.CanViewMedications = viewMeds
		rel.CanViewLogs = viewLogs
		rel.CanReceiveAlerts = receiveAlerts
		return nil
	})
	if err != nil {
		return nil, apperr.Boundary(err, "failed to update permissions")
	}
	return &rel, nil
}

func (s *Service) Get(ctx context.Context, id uint64) (*Relationship, error) {
	var rel Relationship
	if err := find(s.DB.WithContext(ctx), id, &rel); err != nil {
		return nil, apperr.Boundary(err, "failed to load caregiver relationship")
	}
	return &rel, nil
}

// GetForParty is Get for the patient or caregiver on the row; anyone else
// sees not found.
func (s *Service) GetForParty(ctx context.Context, id, userID uint64) (*Relationship, error) {
	rel, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rel.PatientID != userID && rel.CaregiverID != userID {
		return nil, apperr.NotFound("caregiver relationship not found")
	}
	return rel, nil
}

// Authorize checks that actorID may use perm on patientID's data. Users
// always reach their own data.
func (s *Service) Authorize(ctx context.Context, actorID, patientID uint64, perm Permission) error {
	if actorID == patientID {
		return nil
	}
	var rel Relationship
	err := s.DB.WithContext(ctx).
		Where("patient_id = ? AND caregiver_id = ?", patientID, actorID).
		First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Forbidden("not a caregiver for this patient")
	}
	if err != nil {
		return apperr.Storage("failed to check permissions", err)
	}
	if !rel.Allows(perm) {
		return apperr.Forbidden("caregiver lacks " + perm.String() + " permission")
	}
	return nil
}

// AlertRecipients lists caregivers approved to receive the patient's alerts.
func (s *Service) AlertRecipients(ctx context.Context, patientID uint64) ([]uint64, error) {
	var ids []uint64
	err := s.DB.WithContext(ctx).Model(&Relationship{}).
		Where("patient_id = ? AND is_approved = ? AND can_receive_alerts = ?", patientID, true, true).
		Order("caregiver_id ASC").
		Pluck("caregiver_id", &ids).Error
	if err != nil {
		return nil, apperr.Storage("failed to list alert recipients", err)
	}
	return ids, nil
}

func find(tx *gorm.DB, id uint64, rel *Relationship) error {
	if err := tx.First(rel, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("caregiver relationship not found")
		}
		return err
	}
	return nil
}
