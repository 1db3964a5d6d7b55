package auth

import "time"

type Role string

const (
	RolePatient   Role = "Patient"
	RoleCaregiver Role = "Caregiver"
)

// User.Role is advisory: it drives UI defaults, never access checks.
type User struct {
	ID           uint64     `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	Email        string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	FirstName    string     `gorm:"not null;default:''" json:"first_name"`
	LastName     string     `gorm:"not null;default:''" json:"last_name"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	Role         Role       `gorm:"type:varchar(16);not null;default:'Patient'" json:"role"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}
