package reliability

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/basisagent/internal/database"
)

// BackupService runs tiered backups of the Performance DB's SQLite index and
// mirrors the append-only audit log alongside it, so a restore always has a
// matching (index, log) pair.
type BackupService struct {
	db        *database.DB
	auditPath string
	backupDir string
	log       zerolog.Logger
}

func NewBackupService(db *database.DB, auditPath, backupDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:        db,
		auditPath: auditPath,
		backupDir: backupDir,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// DailyBackup snapshots the index via VACUUM INTO and copies the audit log,
// keeping the last 30 days.
func (s *BackupService) DailyBackup() error {
	s.log.Info().Msg("starting daily backup")
	start := time.Now()

	dailyDir := filepath.Join(s.backupDir, "daily")
	if err := os.MkdirAll(dailyDir, 0755); err != nil {
		return fmt.Errorf("create daily backup dir: %w", err)
	}

	date := time.Now().Format("2006-01-02")
	indexPath := filepath.Join(dailyDir, fmt.Sprintf("performance_%s.db", date))
	logPath := filepath.Join(dailyDir, fmt.Sprintf("audit_%s.log", date))

	if err := s.backupIndex(indexPath); err != nil {
		return fmt.Errorf("backup index: %w", err)
	}
	if err := s.verifyIndex(indexPath); err != nil {
		os.Remove(indexPath)
		return fmt.Errorf("verify index backup: %w", err)
	}
	if err := copyFile(s.auditPath, logPath); err != nil {
		return fmt.Errorf("copy audit log: %w", err)
	}

	if err := s.rotate(dailyDir, 30*24*time.Hour); err != nil {
		s.log.Error().Err(err).Msg("failed to rotate daily backups")
	}

	s.log.Info().Dur("duration_ms", time.Since(start)).Str("index", indexPath).Msg("daily backup completed")
	return nil
}

// WeeklyBackup snapshots the index and copies the audit log like DailyBackup,
// into a per-week directory retained for 12 weeks; unlike DailyBackup it does
// not run an integrity check on the snapshot.
func (s *BackupService) WeeklyBackup() error {
	s.log.Info().Msg("starting weekly backup")
	start := time.Now()

	year, week := time.Now().ISOWeek()
	weekDir := filepath.Join(s.backupDir, "weekly", fmt.Sprintf("%04d-W%02d", year, week))
	if err := os.MkdirAll(weekDir, 0755); err != nil {
		return fmt.Errorf("create weekly backup dir: %w", err)
	}

	indexPath := filepath.Join(weekDir, "performance.db")
	logPath := filepath.Join(weekDir, "audit.log")

	if err := s.backupIndex(indexPath); err != nil {
		return fmt.Errorf("backup index: %w", err)
	}
	if err := copyFile(s.auditPath, logPath); err != nil {
		return fmt.Errorf("copy audit log: %w", err)
	}

	if err := s.rotateWeekly(12); err != nil {
		s.log.Error().Err(err).Msg("failed to rotate weekly backups")
	}

	s.log.Info().Dur("duration_ms", time.Since(start)).Str("index", indexPath).Msg("weekly backup completed")
	return nil
}

func (s *BackupService) backupIndex(dest string) error {
	_, err := s.db.Conn().Exec(fmt.Sprintf("VACUUM INTO '%s'", dest))
	return err
}

func (s *BackupService) verifyIndex(path string) error {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer conn.Close()

	var result string
	if err := conn.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func (s *BackupService) rotate(dir string, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				s.log.Warn().Str("path", path).Err(err).Msg("failed to delete old backup")
			}
		}
	}
	return nil
}

func (s *BackupService) rotateWeekly(keepWeeks int) error {
	weeklyDir := filepath.Join(s.backupDir, "weekly")
	cutoff := time.Now().AddDate(0, 0, -keepWeeks*7)

	entries, err := os.ReadDir(weeklyDir)
	if err != nil {
		return fmt.Errorf("read weekly backup dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(weeklyDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				s.log.Warn().Str("path", path).Err(err).Msg("failed to delete old weekly backup")
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // nothing appended yet
		}
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = out.ReadFrom(in)
	return err
}

// DailyBackupJob wraps BackupService.DailyBackup for the scheduler.
type DailyBackupJob struct{ service *BackupService }

func NewDailyBackupJob(service *BackupService) *DailyBackupJob { return &DailyBackupJob{service: service} }
func (j *DailyBackupJob) Run() error                           { return j.service.DailyBackup() }
func (j *DailyBackupJob) Name() string                         { return "daily_backup" }

// WeeklyBackupJob wraps BackupService.WeeklyBackup for the scheduler.
type WeeklyBackupJob struct{ service *BackupService }

func NewWeeklyBackupJob(service *BackupService) *WeeklyBackupJob { return &WeeklyBackupJob{service: service} }
func (j *WeeklyBackupJob) Run() error                            { return j.service.WeeklyBackup() }
func (j *WeeklyBackupJob) Name() string                          { return "weekly_backup" }
