package doselog

import (
	"time"

	"medsconnect/internal/auth"
	"medsconnect/internal/medication"
)

type Status string

const (
	StatusPending Status = "Pending"
	StatusTaken   Status = "Taken"
	StatusMissed  Status = "Missed"
	StatusSkipped Status = "Skipped"
)

// MedicationLog is one scheduled dose instance. (MedicationID, ScheduledAt)
// is unique; see db.AutoMigrateAndIndexes.
type MedicationLog struct {
	ID             uint64                 `gorm:"primaryKey" json:"id"`
	MedicationID   uint64                 `gorm:"not null" json:"medication_id"`
	Medication     *medication.Medication `gorm:"constraint:OnDelete:CASCADE" json:"medication,omitempty"`
	UserID         uint64                 `gorm:"not null" json:"user_id"`
	User           *auth.User             `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	ScheduledAt    time.Time              `gorm:"not null" json:"scheduled_at"`
	TakenAt        *time.Time             `json:"taken_at,omitempty"`
	Status         Status                 `gorm:"type:varchar(16);not null;default:'Pending'" json:"status"`
	Notes          *string                `json:"notes,omitempty"`
	MarkedByUserID *uint64                `json:"marked_by_user_id,omitempty"`
	MarkedBy       *auth.User             `gorm:"foreignKey:MarkedByUserID;constraint:OnDelete:RESTRICT" json:"-"`
	MarkedAt       *time.Time             `json:"marked_at,omitempty"`
	CreatedAt      time.Time              `gorm:"not null" json:"created_at"`
}

// Summary is the per-day dashboard count.
type Summary struct {
	Date             string  `json:"date"`
	Total            int     `json:"total"`
	Taken            int     `json:"taken"`
	Pending          int     `json:"pending"`
	Missed           int     `json:"missed"`
	Skipped          int     `json:"skipped"`
	AdherencePercent float64 `json:"adherence_percent"`
}
