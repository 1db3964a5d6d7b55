package medication

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"medsconnect/internal/auth"
	"medsconnect/internal/schedule"
)

const (
	DefaultUnit          = "mg"
	DefaultReminderLead  = 15
	maxReminderLookahead = 2
)

// Medication is a schedule definition owned by one user. StartDate and
// EndDate hold the UTC instant of a local midnight.
type Medication struct {
	ID                    uint64                              `gorm:"primaryKey" json:"id"`
	UserID                uint64                              `gorm:"not null;index" json:"user_id"`
	User                  *auth.User                          `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Name                  string                              `gorm:"not null" json:"name"`
	Description           string                              `gorm:"not null;default:''" json:"description"`
	Dosage                string                              `gorm:"not null;default:''" json:"dosage"`
	Unit                  string                              `gorm:"not null" json:"unit"`
	Frequency             string                              `gorm:"not null;default:''" json:"frequency"`
	ScheduledTimes        datatypes.JSONSlice[datatypes.Time] `gorm:"not null" json:"scheduled_times"`
	StartDate             time.Time                           `gorm:"not null" json:"start_date"`
	EndDate               *time.Time                          `json:"end_date,omitempty"`
	Notes                 string                              `gorm:"not null;default:''" json:"notes"`
	IsActive              bool                                `gorm:"not null" json:"is_active"`
	ReminderEnabled       bool                                `gorm:"not null" json:"reminder_enabled"`
	ReminderMinutesBefore int                                 `gorm:"not null" json:"reminder_minutes_before"`
	CreatedAt             time.Time                           `gorm:"not null" json:"created_at"`
	UpdatedAt             *time.Time                          `gorm:"autoUpdateTime:false" json:"updated_at,omitempty"`
}

// DueOn reports whether the medication is due on the calendar day that
// starts at day.
func (m Medication) DueOn(day time.Time) bool {
	if !m.IsActive || day.Before(m.StartDate) {
		return false
	}
	return m.EndDate == nil || !m.EndDate.Before(day)
}

// NextReminderAt is the first reminder instant for tod strictly after
// after. Calendar days are taken in after's location.
func (m Medication) NextReminderAt(tod datatypes.Time, after time.Time) (time.Time, bool) {
	loc := after.Location()
	lead := time.Duration(m.ReminderMinutesBefore) * time.Minute

	day := schedule.DayStart(after)
	if start := schedule.DayStart(m.StartDate.In(loc)); start.After(day) {
		day = start
	}
	// Lead time may push a later day's reminder back before after's day ends.
	span := maxReminderLookahead + int(lead/(24*time.Hour))
	for i := 0; i <= span; i++ {
		d := day.AddDate(0, 0, i)
		if !m.DueOn(d) {
			if m.EndDate != nil && d.After(*m.EndDate) {
				return time.Time{}, false
			}
			continue
		}
		if at := schedule.At(d, tod).Add(-lead); at.After(after) {
			return at, true
		}
	}
	return time.Time{}, false
}

// NextReminder is the earliest NextReminderAt over all scheduled times.
func (m Medication) NextReminder(after time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, tod := range m.ScheduledTimes {
		at, ok := m.NextReminderAt(tod, after)
		if ok && (!found || at.Before(best)) {
			best, found = at, true
		}
	}
	return best, found
}

func OwnedBy(userID uint64) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", userID)
	}
}

// DueOn selects medications due on the calendar day starting at day and
// orders them by name, then insertion order.
func DueOn(day time.Time) func(*gorm.DB) *gorm.DB {
	day = day.UTC()
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("is_active = ?", true).
			Where("start_date <= ?", day).
			Where("(end_date IS NULL OR end_date >= ?)", day).
			Order("name ASC").Order("id ASC")
	}
}
