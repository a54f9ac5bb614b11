package reliability

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/basisagent/pkg/logger"
)

func TestDailyMaintenanceJob_Run(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	tempDir := t.TempDir()

	db := newHealthTestDB(t, tempDir)
	health, err := NewHealthService(db, filepath.Join(tempDir, "backups"), log)
	require.NoError(t, err)

	job := NewDailyMaintenanceJob(health, tempDir, log)
	assert.Equal(t, "daily_maintenance", job.Name())
	assert.NoError(t, job.Run())

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM _database_health").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWeeklyMaintenanceJob_Run(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	tempDir := t.TempDir()
	backupDir := filepath.Join(tempDir, "backups")

	db := newPerformanceDB(t, tempDir)
	defer db.Close()

	auditPath := filepath.Join(tempDir, "audit.log")
	backups := NewBackupService(db, auditPath, backupDir, log)
	require.NoError(t, backups.DailyBackup())

	job := NewWeeklyMaintenanceJob(db, backups, log)
	assert.Equal(t, "weekly_maintenance", job.Name())
	assert.NoError(t, job.Run())
}

func TestWeeklyMaintenanceJob_Run_FailsWithNoBackup(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	tempDir := t.TempDir()

	db := newPerformanceDB(t, tempDir)
	defer db.Close()

	backups := NewBackupService(db, filepath.Join(tempDir, "audit.log"), filepath.Join(tempDir, "backups"), log)
	job := NewWeeklyMaintenanceJob(db, backups, log)

	assert.Error(t, job.Run())
}
