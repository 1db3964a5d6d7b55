package jobs

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// StuckAfter is how long a RUNNING job may hold its lock before it is
// handed to another worker.
const StuckAfter = 5 * time.Minute

type Repo struct {
	DB    *gorm.DB
	Clock func() time.Time
}

func (r *Repo) now() time.Time {
	if r.Clock != nil {
		return r.Clock().UTC()
	}
	return time.Now().UTC()
}

func (r *Repo) Enqueue(ctx context.Context, j *Job) error {
	return enqueue(r.DB.WithContext(ctx), j)
}

func enqueue(tx *gorm.DB, j *Job) error {
	j.RunAt = j.RunAt.UTC()
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = DefaultMaxAttempts
	}
	if len(j.Payload) == 0 {
		j.Payload = []byte("{}")
	}
	return tx.Create(j).Error
}

// EnqueueOnce skips the insert when a pending job of the same type, ref and
// run time already exists. It reports whether a job was inserted.
func (r *Repo) EnqueueOnce(ctx context.Context, j *Job) (bool, error) {
	inserted := false
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Job{}).
			Where("type = ? AND ref_id = ? AND status = ? AND run_at = ?", j.Type, j.RefID, StatusPending, j.RunAt.UTC()).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		inserted = true
		return enqueue(tx, j)
	})
	return inserted, err
}

// Replace cancels every pending job of typ for refID and enqueues next in
// the same transaction.
func (r *Repo) Replace(ctx context.Context, typ string, refID uint64, next []Job) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := cancelPending(tx, typ, refID, r.now()); err != nil {
			return err
		}
		for i := range next {
			if err := enqueue(tx, &next[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repo) CancelPending(ctx context.Context, typ string, refID uint64) error {
	return cancelPending(r.DB.WithContext(ctx), typ, refID, r.now())
}

func cancelPending(tx *gorm.DB, typ string, refID uint64, now time.Time) error {
	return tx.Model(&Job{}).
		Where("type = ? AND ref_id = ? AND status = ?", typ, refID, StatusPending).
		Updates(map[string]any{"status": StatusCancelled, "updated_at": now}).Error
}

// Claim takes one due job. On postgres the row is picked with SKIP LOCKED;
// elsewhere a conditional update makes sure only one worker wins it.
func (r *Repo) Claim(ctx context.Context, workerID string) (*Job, error) {
	now := r.now()

	var job Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// requeue stuck RUNNING jobs
		if err := tx.Model(&Job{}).
			Where("status = ? AND locked_at IS NOT NULL AND locked_at < ?", StatusRunning, now.Add(-StuckAfter)).
			Updates(map[string]any{
				"status":     StatusPending,
				"locked_by":  nil,
				"locked_at":  nil,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		if tx.Dialector.Name() == "postgres" {
			return tx.Raw(`
with cte as (
  select id
  from jobs
  where status='PENDING' and run_at <= ?
  order by run_at asc
  for update skip locked
  limit 1
)
update jobs
set status='RUNNING', locked_by=?, locked_at=?, updated_at=?
where id in (select id from cte)
returning *;
`, now, workerID, now, now).Scan(&job).Error
		}

		var cand Job
		res := tx.Where("status = ? AND run_at <= ?", StatusPending, now).
			Order("run_at ASC").Order("id ASC").
			Limit(1).Find(&cand)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		upd := tx.Model(&Job{}).
			Where("id = ? AND status = ?", cand.ID, StatusPending).
			Updates(map[string]any{
				"status":     StatusRunning,
				"locked_by":  workerID,
				"locked_at":  now,
				"updated_at": now,
			})
		if upd.Error != nil || upd.RowsAffected == 0 {
			return upd.Error
		}
		cand.Status = StatusRunning
		cand.LockedBy = &workerID
		cand.LockedAt = &now
		job = cand
		return nil
	})
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *Repo) Get(ctx context.Context, id uint64) (*Job, error) {
	var j Job
	if err := r.DB.WithContext(ctx).First(&j, id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// Pending lists pending jobs of typ for refID ordered by run time.
func (r *Repo) Pending(ctx context.Context, typ string, refID uint64) ([]Job, error) {
	var out []Job
	err := r.DB.WithContext(ctx).
		Where("type = ? AND ref_id = ? AND status = ?", typ, refID, StatusPending).
		Order("run_at ASC").Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *Repo) MarkDone(ctx context.Context, id uint64) error {
	return r.setStatus(ctx, id, map[string]any{"status": StatusDone})
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64, errMsg string) error {
	return r.setStatus(ctx, id, map[string]any{"status": StatusFailed, "last_error": errMsg})
}

func (r *Repo) RetryLater(ctx context.Context, id uint64, attempts int, runAt time.Time, errMsg string) error {
	return r.setStatus(ctx, id, map[string]any{
		"status":     StatusPending,
		"attempts":   attempts,
		"run_at":     runAt.UTC(),
		"locked_by":  nil,
		"locked_at":  nil,
		"last_error": errMsg,
	})
}

func (r *Repo) setStatus(ctx context.Context, id uint64, changes map[string]any) error {
	changes["updated_at"] = r.now()
	return r.DB.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(changes).Error
}
