package jobs

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusDone      = "DONE"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

const DefaultMaxAttempts = 8

type Job struct {
	ID     uint64 `gorm:"primaryKey"`
	UserID uint64 `gorm:"index;not null"`

	Type    string         `gorm:"type:varchar(64);not null"` // REMINDER_DISPATCH
	RefID   *uint64        // id of the row the job is about, e.g. a medication
	Payload datatypes.JSON `gorm:"not null"`

	RunAt  time.Time `gorm:"not null"`
	Status string    `gorm:"type:varchar(16);not null;default:'PENDING'"` // PENDING/RUNNING/DONE/FAILED/CANCELLED

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:8"`

	LockedBy *string
	LockedAt *time.Time

	LastError *string

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
