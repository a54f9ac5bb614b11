package reliability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/basisagent/internal/database"
)

const healthTableSchema = `
CREATE TABLE IF NOT EXISTS _database_health (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	checked_at INTEGER NOT NULL,
	integrity_check_passed INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	wal_size_bytes INTEGER,
	page_count INTEGER,
	freelist_count INTEGER
)`

// HealthService watches the Performance DB for corruption and restores it
// from the most recent backup (daily first, then weekly) when recovery in
// place fails.
type HealthService struct {
	db        *database.DB
	backupDir string
	log       zerolog.Logger
}

func NewHealthService(db *database.DB, backupDir string, log zerolog.Logger) (*HealthService, error) {
	if _, err := db.Conn().Exec(healthTableSchema); err != nil {
		return nil, fmt.Errorf("create health table: %w", err)
	}
	return &HealthService{
		db:        db,
		backupDir: backupDir,
		log:       log.With().Str("service", "health").Logger(),
	}, nil
}

// CheckAndRecover runs an integrity check and, on failure, attempts a WAL
// checkpoint followed by a restore from the most recent backup.
func (s *HealthService) CheckAndRecover(ctx context.Context) error {
	s.log.Debug().Msg("starting health check")

	if err := s.db.HealthCheck(ctx); err != nil {
		s.log.Error().Err(err).Msg("integrity check failed, attempting WAL checkpoint")

		if ckErr := s.db.WALCheckpoint("RESTART"); ckErr != nil {
			s.log.Error().Err(ckErr).Msg("WAL checkpoint failed")
		} else if err := s.db.HealthCheck(ctx); err == nil {
			s.log.Info().Msg("database recovered via WAL checkpoint")
			return s.recordHealthMetrics(true)
		}

		if err := s.restoreFromBackup(); err != nil {
			return fmt.Errorf("restore from backup: %w", err)
		}
		return s.recordHealthMetrics(true)
	}

	if s.checkAnomalousGrowth() {
		s.log.Warn().Msg("anomalous database growth detected")
	}

	if err := s.recordHealthMetrics(true); err != nil {
		s.log.Error().Err(err).Msg("failed to record health metrics")
	}

	return nil
}

// restoreFromBackup finds the most recent daily (or failing that, weekly)
// index snapshot, renames the corrupted file aside, and copies the backup in.
func (s *HealthService) restoreFromBackup() error {
	backup := s.findMostRecentBackup()
	if backup == "" {
		return fmt.Errorf("no backup found under %s", s.backupDir)
	}

	path := s.db.Path()
	corrupted := path + ".corrupted." + time.Now().Format("20060102_150405")
	if err := os.Rename(path, corrupted); err != nil {
		s.log.Error().Err(err).Msg("failed to preserve corrupted file for investigation")
	}

	if err := copyFile(backup, path); err != nil {
		return fmt.Errorf("copy backup: %w", err)
	}

	conn, err := database.New(database.Config{Path: path, Profile: s.db.Profile(), Name: s.db.Name()})
	if err != nil {
		return fmt.Errorf("reopen restored database: %w", err)
	}
	*s.db = *conn

	if err := s.db.HealthCheck(context.Background()); err != nil {
		return fmt.Errorf("restored backup is also corrupt: %w", err)
	}

	s.log.Info().Str("backup", backup).Msg("restored database from backup")
	return nil
}

func (s *HealthService) findMostRecentBackup() string {
	dailyDir := filepath.Join(s.backupDir, "daily")
	if path := mostRecentFile(dailyDir, ".db"); path != "" {
		return path
	}

	weeklyRoot := filepath.Join(s.backupDir, "weekly")
	entries, err := os.ReadDir(weeklyRoot)
	if err != nil {
		return ""
	}
	var best string
	var bestTime time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if path := mostRecentFile(filepath.Join(weeklyRoot, e.Name()), ".db"); path != "" {
			if info, err := os.Stat(path); err == nil && info.ModTime().After(bestTime) {
				best, bestTime = path, info.ModTime()
			}
		}
	}
	return best
}

func mostRecentFile(dir, ext string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTime time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(bestTime) {
			best, bestTime = filepath.Join(dir, e.Name()), info.ModTime()
		}
	}
	return best
}

// checkAnomalousGrowth flags a file that has grown more than 50% since the
// previous recorded check.
func (s *HealthService) checkAnomalousGrowth() bool {
	stats, err := s.db.GetStats()
	if err != nil {
		return false
	}

	var previousSize int64
	err = s.db.Conn().QueryRow(`
		SELECT size_bytes FROM _database_health
		ORDER BY checked_at DESC
		LIMIT 1
	`).Scan(&previousSize)
	if err != nil || previousSize == 0 {
		return false
	}

	growth := float64(stats.SizeBytes-previousSize) / float64(previousSize)
	return growth > 0.5
}

func (s *HealthService) recordHealthMetrics(passed bool) error {
	stats, err := s.db.GetStats()
	if err != nil {
		return err
	}

	_, err = s.db.Conn().Exec(`
		INSERT INTO _database_health (
			checked_at, integrity_check_passed, size_bytes,
			wal_size_bytes, page_count, freelist_count
		) VALUES (?, ?, ?, ?, ?, ?)
	`, time.Now().Unix(), boolToInt(passed), stats.SizeBytes, stats.WALSizeBytes, stats.PageCount, stats.FreelistCount)

	return err
}

// Metrics returns the most recently recorded health snapshot.
func (s *HealthService) Metrics() (*DatabaseMetrics, error) {
	stats, err := s.db.GetStats()
	if err != nil {
		return nil, err
	}

	metrics := &DatabaseMetrics{
		Name:      s.db.Name(),
		SizeMB:    float64(stats.SizeBytes) / 1024 / 1024,
		WALSizeMB: float64(stats.WALSizeBytes) / 1024 / 1024,
	}

	var lastCheckTime int64
	var lastCheckPassed int
	err = s.db.Conn().QueryRow(`
		SELECT checked_at, integrity_check_passed FROM _database_health
		ORDER BY checked_at DESC
		LIMIT 1
	`).Scan(&lastCheckTime, &lastCheckPassed)
	if err == nil {
		metrics.LastIntegrityCheck = time.Unix(lastCheckTime, 0)
		metrics.IntegrityCheckPassed = lastCheckPassed == 1
	}

	metrics.GrowthRate24h = s.growthRate(24 * time.Hour)

	return metrics, nil
}

// growthRate compares the current file size against the oldest recorded
// size still within the given window.
func (s *HealthService) growthRate(window time.Duration) float64 {
	stats, err := s.db.GetStats()
	if err != nil {
		return 0
	}

	var oldSize int64
	err = s.db.Conn().QueryRow(`
		SELECT size_bytes FROM _database_health
		WHERE checked_at >= ?
		ORDER BY checked_at ASC
		LIMIT 1
	`, time.Now().Add(-window).Unix()).Scan(&oldSize)
	if err != nil || oldSize == 0 {
		return 0
	}

	return (float64(stats.SizeBytes-oldSize) / float64(oldSize)) * 100
}

// DatabaseMetrics holds a point-in-time snapshot of database health.
type DatabaseMetrics struct {
	Name                 string
	SizeMB               float64
	WALSizeMB            float64
	LastIntegrityCheck   time.Time
	IntegrityCheckPassed bool
	GrowthRate24h        float64
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
