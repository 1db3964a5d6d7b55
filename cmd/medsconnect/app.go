package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"medsconnect/internal/auth"
	"medsconnect/internal/caregiver"
	"medsconnect/internal/config"
	"medsconnect/internal/db"
	"medsconnect/internal/doselog"
	"medsconnect/internal/jobs"
	"medsconnect/internal/logging"
	"medsconnect/internal/medication"
	"medsconnect/internal/reminder"
)

// app is the wired service graph shared by every command.
type app struct {
	cfg   config.Config
	log   *zap.Logger
	db    *gorm.DB
	clock func() time.Time

	sessions   auth.SessionStore
	auth       *auth.Service
	registry   *medication.Registry
	engine     *doselog.Engine
	caregivers *caregiver.Service
	jobs       *jobs.Repo
	worker     *jobs.Worker
}

func withApp(run func(a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	a := newApp(cfg, log, gdb)
	if closer, ok := a.sessions.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	return run(a)
}

func newApp(cfg config.Config, log *zap.Logger, gdb *gorm.DB) *app {
	loc := cfg.Location
	clock := func() time.Time { return time.Now().In(loc) }

	var sessions auth.SessionStore
	if cfg.RedisAddr != "" {
		sessions = auth.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword)
	} else {
		sessions = auth.NewMemorySessionStore()
	}

	jobsRepo := &jobs.Repo{DB: gdb, Clock: clock}
	caregivers := &caregiver.Service{DB: gdb, Log: log, Clock: clock}
	registry := &medication.Registry{
		DB:        gdb,
		Log:       log,
		Clock:     clock,
		Reminders: &reminder.Scheduler{Jobs: jobsRepo, Log: log, Clock: clock},
	}

	worker := &jobs.Worker{ID: cfg.WorkerID, Repo: jobsRepo, Log: log, Clock: clock}
	worker.Handle(reminder.JobType, (&reminder.Dispatcher{
		Medications: registry,
		Caregivers:  caregivers,
		Jobs:        jobsRepo,
		Sink:        reminder.LogSink{Log: log.Named("reminder")},
		Log:         log,
		Clock:       clock,
	}).Handle)

	return &app{
		cfg:      cfg,
		log:      log,
		db:       gdb,
		clock:    clock,
		sessions: sessions,
		auth: &auth.Service{
			DB:         gdb,
			JWT:        auth.NewJWT(cfg.JWTSecret, cfg.SessionTTL),
			Sessions:   sessions,
			SessionTTL: cfg.SessionTTL,
			Log:        log,
			Clock:      clock,
		},
		registry:   registry,
		engine:     &doselog.Engine{DB: gdb, Log: log, Clock: clock},
		caregivers: caregivers,
		jobs:       jobsRepo,
		worker:     worker,
	}
}

func parseUserID(value string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid --user %q", value)
	}
	return v, nil
}

// requireUser fails early with a readable message for unknown ids.
func (a *app) requireUser(ctx context.Context, id uint64) error {
	_, err := a.auth.CurrentUser(ctx, id)
	return err
}
