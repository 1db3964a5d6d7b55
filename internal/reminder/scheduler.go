// Package reminder turns medication schedules into reminder jobs and
// delivers them when they come due.
package reminder

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"medsconnect/internal/jobs"
	"medsconnect/internal/logging"
	"medsconnect/internal/medication"
	"medsconnect/internal/schedule"
)

const JobType = "REMINDER_DISPATCH"

// Payload is the body of a REMINDER_DISPATCH job.
type Payload struct {
	MedicationID uint64 `json:"medication_id"`
	Time         string `json:"time"`
}

// Scheduler keeps one pending reminder job per scheduled time of each
// medication with reminders on.
type Scheduler struct {
	Jobs  *jobs.Repo
	Log   *zap.Logger
	Clock func() time.Time
}

var _ medication.ReminderScheduler = (*Scheduler)(nil)

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Schedule replaces the medication's pending reminders with fresh ones.
func (s *Scheduler) Schedule(ctx context.Context, m medication.Medication) error {
	var next []jobs.Job
	if m.IsActive && m.ReminderEnabled {
		now := s.now()
		for _, tod := range m.ScheduledTimes {
			at, ok := m.NextReminderAt(tod, now)
			if !ok {
				continue
			}
			j, err := reminderJob(m, schedule.Clock(tod), at)
			if err != nil {
				return err
			}
			next = append(next, j)
		}
	}

	if err := s.Jobs.Replace(ctx, JobType, m.ID, next); err != nil {
		return err
	}
	logging.OrNop(s.Log).Debug("reminders scheduled", zap.Uint64("medication_id", m.ID), zap.Int("count", len(next)))
	return nil
}

func (s *Scheduler) Cancel(ctx context.Context, medicationID uint64) error {
	return s.Jobs.CancelPending(ctx, JobType, medicationID)
}

func reminderJob(m medication.Medication, clock string, at time.Time) (jobs.Job, error) {
	payload, err := json.Marshal(Payload{MedicationID: m.ID, Time: clock})
	if err != nil {
		return jobs.Job{}, err
	}
	ref := m.ID
	return jobs.Job{
		UserID:  m.UserID,
		Type:    JobType,
		RefID:   &ref,
		Payload: payload,
		RunAt:   at,
	}, nil
}
