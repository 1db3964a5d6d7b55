package caregiver

import (
	"time"

	"medsconnect/internal/auth"
)

type Permission int

const (
	ViewMedications Permission = iota + 1
	ViewLogs
	ReceiveAlerts
)

func (p Permission) String() string {
	switch p {
	case ViewMedications:
		return "view_medications"
	case ViewLogs:
		return "view_logs"
	case ReceiveAlerts:
		return "receive_alerts"
	default:
		return "unknown"
	}
}

// Relationship links a patient to a caregiver. It grants nothing until
// IsApproved is set.
type Relationship struct {
	ID                 uint64     `gorm:"primaryKey" json:"id"`
	PatientID          uint64     `gorm:"not null;check:chk_caregiver_not_self,patient_id <> caregiver_id" json:"patient_id"`
	Patient            *auth.User `gorm:"constraint:OnDelete:RESTRICT" json:"patient,omitempty"`
	CaregiverID        uint64     `gorm:"not null;index" json:"caregiver_id"`
	Caregiver          *auth.User `gorm:"constraint:OnDelete:RESTRICT" json:"caregiver,omitempty"`
	Label              string     `gorm:"not null;default:''" json:"relationship"`
	IsApproved         bool       `gorm:"not null" json:"is_approved"`
	RequestedAt        time.Time  `gorm:"not null" json:"requested_at"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	CanViewMedications bool       `gorm:"not null" json:"can_view_medications"`
	CanViewLogs        bool       `gorm:"not null" json:"can_view_logs"`
	CanReceiveAlerts   bool       `gorm:"not null" json:"can_receive_alerts"`
}

func (Relationship) TableName() string { return "caregiver_relationships" }

func (r Relationship) Allows(p Permission) bool {
	if !r.IsApproved {
		return false
	}
	switch p {
	case ViewMedications:
		return r.CanViewMedications
	case ViewLogs:
		return r.CanViewLogs
	case ReceiveAlerts:
		return r.CanReceiveAlerts
	default:
		return false
	}
}
