package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"medsconnect/internal/apperr"
	"medsconnect/internal/jobs"
	"medsconnect/internal/logging"
	"medsconnect/internal/medication"
	"medsconnect/internal/schedule"
)

// Notification is one reminder addressed to one user.
type Notification struct {
	RecipientID    uint64    `json:"recipient_id"`
	PatientID      uint64    `json:"patient_id"`
	MedicationID   uint64    `json:"medication_id"`
	MedicationName string    `json:"medication_name"`
	Dosage         string    `json:"dosage"`
	Unit           string    `json:"unit"`
	DoseAt         time.Time `json:"dose_at"`
	ToCaregiver    bool      `json:"to_caregiver"`
}

// Sink delivers notifications. Delivery is best effort.
type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogSink writes every notification to the log.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Deliver(_ context.Context, n Notification) error {
	logging.OrNop(s.Log).Info("[REMINDER]",
		zap.Uint64("recipient_id", n.RecipientID),
		zap.Uint64("patient_id", n.PatientID),
		zap.Uint64("medication_id", n.MedicationID),
		zap.String("medication", n.MedicationName),
		zap.String("dosage", n.Dosage+" "+n.Unit),
		zap.Time("dose_at", n.DoseAt),
		zap.Bool("to_caregiver", n.ToCaregiver),
	)
	return nil
}

type MedicationSource interface {
	Get(ctx context.Context, id uint64) (*medication.Medication, error)
}

type RecipientSource interface {
	AlertRecipients(ctx context.Context, patientID uint64) ([]uint64, error)
}

// Dispatcher handles REMINDER_DISPATCH jobs: it queues the next day's
// reminder, then notifies the patient and every caregiver allowed to
// receive alerts.
type Dispatcher struct {
	Medications MedicationSource
	Caregivers  RecipientSource
	Jobs        *jobs.Repo
	Sink        Sink
	Log         *zap.Logger
	Clock       func() time.Time
}

func (d *Dispatcher) loc() *time.Location {
	if d.Clock != nil {
		return d.Clock().Location()
	}
	return time.Local
}

func (d *Dispatcher) Handle(ctx context.Context, job *jobs.Job) error {
	var p Payload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return jobs.Permanent(fmt.Errorf("bad payload: %w", err))
	}
	tod, err := schedule.ParseClock(p.Time)
	if err != nil {
		return jobs.Permanent(fmt.Errorf("bad payload time %q", p.Time))
	}

	m, err := d.Medications.Get(ctx, p.MedicationID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !m.IsActive || !m.ReminderEnabled || !hasTime(m, tod) {
		return nil
	}

	if at, ok := m.NextReminderAt(tod, job.RunAt.In(d.loc())); ok {
		next, err := reminderJob(*m, p.Time, at)
		if err != nil {
			return err
		}
		if _, err := d.Jobs.EnqueueOnce(ctx, &next); err != nil {
			return err
		}
	}

	base := Notification{
		PatientID:      m.UserID,
		MedicationID:   m.ID,
		MedicationName: m.Name,
		Dosage:         m.Dosage,
		Unit:           m.Unit,
		DoseAt:         job.RunAt.Add(time.Duration(m.ReminderMinutesBefore) * time.Minute),
	}

	recipients := []uint64{m.UserID}
	if d.Caregivers != nil {
		ids, err := d.Caregivers.AlertRecipients(ctx, m.UserID)
		if err != nil {
			logging.OrNop(d.Log).Warn("alert recipients lookup failed", zap.Uint64("patient_id", m.UserID), zap.Error(err))
		}
		recipients = append(recipients, ids...)
	}

	for _, id := range recipients {
		n := base
		n.RecipientID = id
		n.ToCaregiver = id != m.UserID
		if err := d.Sink.Deliver(ctx, n); err != nil {
			logging.OrNop(d.Log).Warn("reminder delivery failed",
				zap.Uint64("recipient_id", id),
				zap.Uint64("medication_id", m.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func hasTime(m *medication.Medication, tod datatypes.Time) bool {
	for _, t := range m.ScheduledTimes {
		if t == tod {
			return true
		}
	}
	return false
}
