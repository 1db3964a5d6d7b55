package medication

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"medsconnect/internal/apperr"
	"medsconnect/internal/logging"
	"medsconnect/internal/schedule"
	"medsconnect/internal/validation"
)

// ReminderScheduler is told about schedule changes after they commit.
// Its failures are logged and never reach the registry's caller.
type ReminderScheduler interface {
	Schedule(ctx context.Context, m Medication) error
	Cancel(ctx context.Context, medicationID uint64) error
}

type Registry struct {
	DB        *gorm.DB
	Log       *zap.Logger
	Clock     func() time.Time
	Reminders ReminderScheduler
}

// Input carries every mutable field of a medication. Nil flags take their
// defaults: active, reminders on, 15 minutes lead.
type Input struct {
	Name                  string           `json:"name" validate:"max=200"`
	Description           string           `json:"description" validate:"max=1000"`
	Dosage                string           `json:"dosage" validate:"max=50"`
	Unit                  string           `json:"unit" validate:"max=20"`
	Frequency             string           `json:"frequency" validate:"max=50"`
	ScheduledTimes        []datatypes.Time `json:"-"`
	StartDate             time.Time        `json:"-"`
	EndDate               *time.Time       `json:"-"`
	Notes                 string           `json:"notes" validate:"max=1000"`
	IsActive              *bool            `json:"is_active"`
	ReminderEnabled       *bool            `json:"reminder_enabled"`
	ReminderMinutesBefore *int             `json:"reminder_minutes_before" validate:"omitempty,gte=0,lte=1440"`
}

func (r *Registry) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

// Today is the start of the clock's current calendar day, in UTC.
func (r *Registry) Today() time.Time {
	return schedule.DayStart(r.now()).UTC()
}

func (r *Registry) dayOf(t time.Time) time.Time {
	return schedule.DayStart(t.In(r.now().Location())).UTC()
}

func (r *Registry) ListAll(ctx context.Context, userID uint64) ([]Medication, error) {
	var out []Medication
	err := r.DB.WithContext(ctx).Scopes(OwnedBy(userID)).
		Order("name ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Storage("failed to list medications", err)
	}
	return out, nil
}

func (r *Registry) ListActive(ctx context.Context, userID uint64) ([]Medication, error) {
	var out []Medication
	err := r.DB.WithContext(ctx).Scopes(OwnedBy(userID)).
		Where("is_active = ?", true).
		Order("name ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Storage("failed to list medications", err)
	}
	return out, nil
}

func (r *Registry) Get(ctx context.Context, id uint64) (*Medication, error) {
	var m Medication
	err := r.DB.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("medication not found")
	}
	if err != nil {
		return nil, apperr.Storage("failed to load medication", err)
	}
	return &m, nil
}

// GetOwned is Get restricted to the owner; anyone else sees not found.
func (r *Registry) GetOwned(ctx context.Context, userID, id uint64) (*Medication, error) {
	m, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.UserID != userID {
		return nil, apperr.NotFound("medication not found")
	}
	return m, nil
}

func (r *Registry) Add(ctx context.Context, userID uint64, in Input) (*Medication, error) {
	m := Medication{UserID: userID}
	if err := r.apply(&m, in); err != nil {
		return nil, err
	}
	m.CreatedAt = r.now().UTC()

	if err := r.DB.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, apperr.Boundary(err, "failed to add medication")
	}

	logging.OrNop(r.Log).Info("medication added", zap.Uint64("medication_id", m.ID), zap.Uint64("user_id", userID))
	r.schedule(ctx, m)
	return &m, nil
}

// Update overwrites every mutable field. Id, owner and creation time stay.
func (r *Registry) Update(ctx context.Context, id uint64, in Input) (*Medication, error) {
	var m Medication
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&m, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("medication not found")
			}
			return err
		}
		if err := r.apply(&m, in); err != nil {
			return err
		}
		at := r.now().UTC()
		m.UpdatedAt = &at
		return tx.Save(&m).Error
	})
	if err != nil {
		return nil, apperr.Boundary(err, "failed to update medication")
	}

	r.schedule(ctx, m)
	return &m, nil
}

// Delete removes the medication and its whole dose history.
func (r *Registry) Delete(ctx context.Context, id uint64) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m Medication
		if err := tx.First(&m, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("medication not found")
			}
			return err
		}
		if err := tx.Exec("DELETE FROM medication_logs WHERE medication_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&m).Error
	})
	if err != nil {
		return apperr.Boundary(err, "failed to delete medication")
	}

	logging.OrNop(r.Log).Info("medication deleted", zap.Uint64("medication_id", id))
	if r.Reminders != nil {
		if err := r.Reminders.Cancel(ctx, id); err != nil {
			logging.OrNop(r.Log).Warn("cancel reminders failed", zap.Uint64("medication_id", id), zap.Error(err))
		}
	}
	return nil
}

// ListDueOn returns the user's medications due on day's calendar day.
func (r *Registry) ListDueOn(ctx context.Context, userID uint64, day time.Time) ([]Medication, error) {
	var out []Medication
	err := r.DB.WithContext(ctx).
		Scopes(OwnedBy(userID), DueOn(r.dayOf(day))).
		Find(&out).Error
	if err != nil {
		return nil, apperr.Storage("failed to list due medications", err)
	}
	return out, nil
}

func (r *Registry) ListDueToday(ctx context.Context, userID uint64) ([]Medication, error) {
	return r.ListDueOn(ctx, userID, r.now())
}

func (r *Registry) apply(m *Medication, in Input) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return apperr.Validation("medication name is required")
	}
	if err := validation.Struct(in); err != nil {
		return err
	}
	times, err := schedule.Normalize(in.ScheduledTimes)
	if err != nil {
		return apperr.Validation(err.Error())
	}

	// an omitted start date means today for new rows and no change otherwise
	start := r.Today()
	switch {
	case !in.StartDate.IsZero():
		start = r.dayOf(in.StartDate)
	case m.ID != 0:
		start = m.StartDate
	}
	var end *time.Time
	if in.EndDate != nil {
		e := r.dayOf(*in.EndDate)
		if e.Before(start) {
			return apperr.Validation("end date must not be before start date")
		}
		end = &e
	}

	unit := strings.TrimSpace(in.Unit)
	if unit == "" {
		unit = DefaultUnit
	}
	lead := DefaultReminderLead
	if in.ReminderMinutesBefore != nil {
		lead = *in.ReminderMinutesBefore
	}

	m.Name = name
	m.Description = strings.TrimSpace(in.Description)
	m.Dosage = strings.TrimSpace(in.Dosage)
	m.Unit = unit
	m.Frequency = strings.TrimSpace(in.Frequency)
	m.ScheduledTimes = datatypes.JSONSlice[datatypes.Time](times)
	m.StartDate = start
	m.EndDate = end
	m.Notes = strings.TrimSpace(in.Notes)
	m.IsActive = in.IsActive == nil || *in.IsActive
	m.ReminderEnabled = in.ReminderEnabled == nil || *in.ReminderEnabled
	m.ReminderMinutesBefore = lead
	return nil
}

func (r *Registry) schedule(ctx context.Context, m Medication) {
	if r.Reminders == nil {
		return
	}
	if err := r.Reminders.Schedule(ctx, m); err != nil {
		logging.OrNop(r.Log).Warn("schedule reminders failed", zap.Uint64("medication_id", m.ID), zap.Error(err))
	}
}
