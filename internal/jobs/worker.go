package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"medsconnect/internal/logging"
)

// Handler processes one claimed job. A nil return marks it done; an error
// schedules a retry unless it is Permanent.
type Handler func(ctx context.Context, job *Job) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return permanentError{err: err}
}

type Worker struct {
	ID       string
	Repo     *Repo
	Log      *zap.Logger
	Interval time.Duration
	Clock    func() time.Time

	handlers map[string]Handler
}

// Handle registers h for jobs of typ. Call before Run.
func (w *Worker) Handle(typ string, h Handler) {
	if w.handlers == nil {
		w.handlers = map[string]Handler{}
	}
	w.handlers[typ] = h
}

func (w *Worker) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logging.OrNop(w.Log).With(zap.String("worker_id", w.ID))
	log.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error("worker claim error", zap.Error(err))
			}
		}
	}
}

// RunOnce claims and handles at most one due job. It reports whether a job
// was found.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.Repo.Claim(ctx, w.ID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.handle(ctx, job)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, job *Job) {
	log := logging.OrNop(w.Log).With(zap.Uint64("job_id", job.ID), zap.String("type", job.Type))

	h, ok := w.handlers[job.Type]
	if !ok {
		_ = w.Repo.MarkFailed(ctx, job.ID, "unknown job type")
		log.Warn("unknown job type")
		return
	}

	err := safeCall(ctx, h, job)
	if err == nil {
		if err := w.Repo.MarkDone(ctx, job.ID); err != nil {
			log.Error("mark done failed", zap.Error(err))
		}
		return
	}

	var perm permanentError
	if errors.As(err, &perm) {
		_ = w.Repo.MarkFailed(ctx, job.ID, err.Error())
		log.Warn("job failed permanently", zap.Error(err))
		return
	}
	w.retry(ctx, job, err.Error())
	log.Warn("job will retry", zap.Int("attempts", job.Attempts+1), zap.Error(err))
}

func safeCall(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (w *Worker) retry(ctx context.Context, job *Job, errMsg string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		_ = w.Repo.MarkFailed(ctx, job.ID, errMsg)
		return
	}

	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	next := w.now().Add(time.Duration(sec) * time.Second)

	_ = w.Repo.RetryLater(ctx, job.ID, attempts, next, errMsg)
}
