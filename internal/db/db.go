package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"medsconnect/internal/auth"
	"medsconnect/internal/caregiver"
	"medsconnect/internal/doselog"
	"medsconnect/internal/jobs"
	"medsconnect/internal/logging"
	"medsconnect/internal/medication"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Connect opens the configured backend. Timestamps are written in UTC.
func Connect(driver, dsn string, log *zap.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         logging.Gorm(log),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	switch driver {
	case DriverPostgres, "":
		return gorm.Open(postgres.Open(dsn), cfg)
	case DriverSQLite:
		gdb, err := gorm.Open(sqlite.Open(sqliteDSN(dsn)), cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection keeps transactions serial.
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&auth.User{},
		&medication.Medication{},
		&doselog.MedicationLog{},
		&caregiver.Relationship{},
		&jobs.Job{},
	); err != nil {
		return err
	}

	// One log per medication per scheduled instant; generation relies on it.
	if err := gdb.Exec(`create unique index if not exists uq_medication_logs_med_sched on medication_logs(medication_id, scheduled_at);`).Error; err != nil {
		return err
	}

	// At most one link per (patient, caregiver) pair, pending or approved.
	if err := gdb.Exec(`create unique index if not exists uq_caregiver_relationships_pair on caregiver_relationships(patient_id, caregiver_id);`).Error; err != nil {
		return err
	}

	// Helpful indexes
	stmts := []string{
		`create index if not exists idx_medication_logs_user_sched on medication_logs(user_id, scheduled_at);`,
		`create index if not exists idx_medications_user_name on medications(user_id, name);`,
		`create index if not exists idx_jobs_due on jobs(status, run_at);`,
		`create index if not exists idx_jobs_lock on jobs(status, locked_at);`,
		`create index if not exists idx_jobs_type_ref on jobs(type, ref_id);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
