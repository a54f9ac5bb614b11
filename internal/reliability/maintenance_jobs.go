package reliability

import (
	"context"
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/basisagent/internal/database"
)

// DailyMaintenanceJob runs integrity recovery, a WAL checkpoint, and a disk
// space check against the Performance DB.
type DailyMaintenanceJob struct {
	health  *HealthService
	dataDir string
	log     zerolog.Logger
}

func NewDailyMaintenanceJob(health *HealthService, dataDir string, log zerolog.Logger) *DailyMaintenanceJob {
	return &DailyMaintenanceJob{health: health, dataDir: dataDir, log: log.With().Str("job", "daily_maintenance").Logger()}
}

func (j *DailyMaintenanceJob) Run() error {
	start := time.Now()

	if err := j.health.CheckAndRecover(context.Background()); err != nil {
		return fmt.Errorf("integrity recovery failed: %w", err)
	}

	if err := j.health.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Msg("daily maintenance completed")
	return nil
}

func (j *DailyMaintenanceJob) Name() string { return "daily_maintenance" }

func (j *DailyMaintenanceJob) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(j.dataDir, &stat); err != nil {
		return fmt.Errorf("stat filesystem: %w", err)
	}

	availableGB := float64(stat.Bavail*uint64(stat.Bsize)) / 1e9
	if availableGB < 0.5 {
		return fmt.Errorf("only %.2f GB free, halting", availableGB)
	}
	if availableGB < 5.0 {
		j.log.Warn().Float64("available_gb", availableGB).Msg("low disk space")
	}
	return nil
}

// WeeklyMaintenanceJob reclaims space on the Performance DB and verifies the
// most recent backup actually restores cleanly.
type WeeklyMaintenanceJob struct {
	db      *database.DB
	backups *BackupService
	log     zerolog.Logger
}

func NewWeeklyMaintenanceJob(db *database.DB, backups *BackupService, log zerolog.Logger) *WeeklyMaintenanceJob {
	return &WeeklyMaintenanceJob{db: db, backups: backups, log: log.With().Str("job", "weekly_maintenance").Logger()}
}

func (j *WeeklyMaintenanceJob) Run() error {
	start := time.Now()

	if err := j.db.Vacuum(); err != nil {
		j.log.Error().Err(err).Msg("VACUUM failed")
	}

	if err := j.fullBackupVerification(); err != nil {
		return fmt.Errorf("backup verification failed: %w", err)
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Msg("weekly maintenance completed")
	return nil
}

func (j *WeeklyMaintenanceJob) Name() string { return "weekly_maintenance" }

func (j *WeeklyMaintenanceJob) fullBackupVerification() error {
	dailyDir := filepath.Join(j.backups.backupDir, "daily")
	backup := mostRecentFile(dailyDir, ".db")
	if backup == "" {
		return fmt.Errorf("no daily backup found under %s", dailyDir)
	}
	if err := j.backups.verifyIndex(backup); err != nil {
		return fmt.Errorf("%s failed integrity check: %w", backup, err)
	}
	j.log.Debug().Str("backup", backup).Msg("backup verified")
	return nil
}
