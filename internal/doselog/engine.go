package doselog

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medsconnect/internal/apperr"
	"medsconnect/internal/logging"
	"medsconnect/internal/medication"
	"medsconnect/internal/schedule"
)

// Engine generates dose logs from medication schedules and records what
// happened to each dose. It never checks who is asking; callers authorize.
type Engine struct {
	DB    *gorm.DB
	Log   *zap.Logger
	Clock func() time.Time
}

// MarkInput is the optional detail attached to a status change.
type MarkInput struct {
	TakenAt  *time.Time
	Notes    *string
	MarkedBy *uint64
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *Engine) loc() *time.Location {
	return e.now().Location()
}

// dayBounds returns [start, next) of t's calendar day in the engine's
// location, both in UTC.
func (e *Engine) dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(e.loc())
	return schedule.DayStart(local).UTC(), schedule.NextDayStart(local).UTC()
}

// GenerateForDay inserts a Pending log for every scheduled time of every
// medication due on day. Existing logs are left untouched, so repeated or
// concurrent calls never duplicate or overwrite. It returns how many logs
// were created.
func (e *Engine) GenerateForDay(ctx context.Context, userID uint64, day time.Time) (int, error) {
	start, _ := e.dayBounds(day)
	localDay := start.In(e.loc())
	created := e.now().UTC()

	inserted := 0
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var meds []medication.Medication
		if err := tx.Scopes(medication.OwnedBy(userID), medication.DueOn(start)).Find(&meds).Error; err != nil {
			return err
		}

		for _, m := range meds {
			for _, tod := range m.ScheduledTimes {
				row := MedicationLog{
					MedicationID: m.ID,
					UserID:       userID,
					ScheduledAt:  schedule.At(localDay, tod).UTC(),
					Status:       StatusPending,
					CreatedAt:    created,
				}
				res := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "medication_id"}, {Name: "scheduled_at"}},
					DoNothing: true,
				}).Create(&row)
				if res.Error != nil {
					return res.Error
				}
				inserted += int(res.RowsAffected)
			}
		}
		return nil
	})
	if err != nil {
		return 0, apperr.Boundary(err, "failed to generate logs")
	}

	logging.OrNop(e.Log).Debug("logs generated",
		zap.Uint64("user_id", userID),
		zap.String("day", schedule.DayKey(localDay)),
		zap.Int("inserted", inserted),
	)
	return inserted, nil
}

func (e *Engine) MarkTaken(ctx context.Context, logID uint64, in MarkInput) (*MedicationLog, error) {
	return e.mark(ctx, logID, StatusTaken, in)
}

func (e *Engine) MarkMissed(ctx context.Context, logID uint64, in MarkInput) (*MedicationLog, error) {
	return e.mark(ctx, logID, StatusMissed, in)
}

func (e *Engine) MarkSkipped(ctx context.Context, logID uint64, in MarkInput) (*MedicationLog, error) {
	return e.mark(ctx, logID, StatusSkipped, in)
}

// mark overwrites status, notes and taken time. A log may be re-marked any
// number of times.
func (e *Engine) mark(ctx context.Context, logID uint64, status Status, in MarkInput) (*MedicationLog, error) {
	now := e.now().UTC()

	var l MedicationLog
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.First(&l, logID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("medication log not found")
			}
			return err
		}

		var takenAt *time.Time
		if status == StatusTaken {
			t := now
			if in.TakenAt != nil {
				t = in.TakenAt.UTC()
			}
			takenAt = &t
		}

		// a nil marker means the log's own user marked it
		changes := map[string]any{
			"status":            status,
			"taken_at":          takenAt,
			"notes":             in.Notes,
			"marked_at":         now,
			"marked_by_user_id": in.MarkedBy,
		}
		if err := tx.Model(&l).Updates(changes).Error; err != nil {
			return err
		}

		l.Status = status
		l.TakenAt = takenAt
		l.Notes = in.Notes
		l.MarkedAt = &now
		l.MarkedByUserID = in.MarkedBy
		return nil
	})
	if err != nil {
		return nil, apperr.Boundary(err, "failed to update log")
	}

	logging.OrNop(e.Log).Info("log marked", zap.Uint64("log_id", logID), zap.String("status", string(status)))
	return &l, nil
}

// Get loads a log with its medication.
func (e *Engine) Get(ctx context.Context, logID uint64) (*MedicationLog, error) {
	var l MedicationLog
	err := e.DB.WithContext(ctx).Preload("Medication").First(&l, logID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("medication log not found")
	}
	if err != nil {
		return nil, apperr.Storage("failed to load log", err)
	}
	return &l, nil
}

// GetOwned is Get restricted to the log's user; anyone else sees not found.
func (e *Engine) GetOwned(ctx context.Context, userID, logID uint64) (*MedicationLog, error) {
	l, err := e.Get(ctx, logID)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, apperr.NotFound("medication log not found")
	}
	return l, nil
}

func (e *Engine) ForUserOnDay(ctx context.Context, userID uint64, day time.Time) ([]MedicationLog, error) {
	start, next := e.dayBounds(day)

	var out []MedicationLog
	err := e.DB.WithContext(ctx).
		Preload("Medication").
		Where("user_id = ? AND scheduled_at >= ? AND scheduled_at < ?", userID, start, next).
		Order("scheduled_at ASC").Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, apperr.Storage("failed to list logs", err)
	}
	return out, nil
}

// ForMedication lists a medication's history, most recent first. Both
// bounds are optional and inclusive.
func (e *Engine) ForMedication(ctx context.Context, medicationID uint64, from, to *time.Time) ([]MedicationLog, error) {
	q := e.DB.WithContext(ctx).Where("medication_id = ?", medicationID)
	if from != nil {
		q = q.Where("scheduled_at >= ?", from.UTC())
	}
	if to != nil {
		q = q.Where("scheduled_at <= ?", to.UTC())
	}

	var out []MedicationLog
	if err := q.Order("scheduled_at DESC").Order("id DESC").Find(&out).Error; err != nil {
		return nil, apperr.Storage("failed to list logs", err)
	}
	return out, nil
}

type dayStatus struct {
	ScheduledAt time.Time
	Status      Status
}

// AdherenceStats returns, per calendar day of the last windowDays days
// (today included), the share of logs marked Taken as a whole percent
// rounded half up. Days without logs are absent.
func (e *Engine) AdherenceStats(ctx context.Context, userID uint64, windowDays int) (map[string]int, error) {
	if windowDays < 1 {
		return nil, apperr.Validation("window must be at least 1 day")
	}

	today := schedule.DayStart(e.now())
	start := today.AddDate(0, 0, -(windowDays - 1)).UTC()
	end := today.AddDate(0, 0, 1).UTC()

	var rows []dayStatus
	err := e.DB.WithContext(ctx).Model(&MedicationLog{}).
		Select("scheduled_at", "status").
		Where("user_id = ? AND scheduled_at >= ? AND scheduled_at < ?", userID, start, end).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Storage("failed to compute adherence", err)
	}

	type tally struct{ taken, total int }
	days := map[string]*tally{}
	for _, r := range rows {
		key := schedule.DayKey(r.ScheduledAt.In(e.loc()))
		t, ok := days[key]
		if !ok {
			t = &tally{}
			days[key] = t
		}
		t.total++
		if r.Status == StatusTaken {
			t.taken++
		}
	}

	out := make(map[string]int, len(days))
	for k, t := range days {
		out[k] = percent(t.taken, t.total)
	}
	return out, nil
}

// percent is round-half-up(100*taken/total) in integer arithmetic.
func percent(taken, total int) int {
	if total == 0 {
		return 0
	}
	return (200*taken + total) / (2 * total)
}

// Summary counts the day's logs by status.
func (e *Engine) Summary(ctx context.Context, userID uint64, day time.Time) (*Summary, error) {
	start, next := e.dayBounds(day)

	var rows []dayStatus
	err := e.DB.WithContext(ctx).Model(&MedicationLog{}).
		Select("scheduled_at", "status").
		Where("user_id = ? AND scheduled_at >= ? AND scheduled_at < ?", userID, start, next).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Storage("failed to summarize logs", err)
	}

	s := &Summary{Date: schedule.DayKey(start.In(e.loc())), Total: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case StatusTaken:
			s.Taken++
		case StatusMissed:
			s.Missed++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Pending++
		}
	}
	if s.Total > 0 {
		s.AdherencePercent = math.Round(float64(s.Taken)*1000/float64(s.Total)) / 10
	}
	return s, nil
}
