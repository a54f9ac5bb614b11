package reliability

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/aristath/basisagent/internal/database"
	"github.com/aristath/basisagent/pkg/logger"
)

func newPerformanceDB(t *testing.T, dataDir string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "performance.db"),
		Profile: database.ProfileLedger,
		Name:    "performance",
	})
	require.NoError(t, err)
	_, err = db.Conn().Exec("CREATE TABLE trades (trade_id INTEGER PRIMARY KEY, net_quote_pnl REAL)")
	require.NoError(t, err)
	_, err = db.Conn().Exec("INSERT INTO trades (trade_id, net_quote_pnl) VALUES (1, 42.5), (2, -10.0)")
	require.NoError(t, err)
	return db
}

func TestBackupService_DailyBackup(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})

	tempDir := t.TempDir()
	dataDir := filepath.Join(tempDir, "data")
	backupDir := filepath.Join(tempDir, "backups")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	db := newPerformanceDB(t, dataDir)
	defer db.Close()

	auditPath := filepath.Join(dataDir, "audit.log")
	require.NoError(t, os.WriteFile(auditPath, []byte("audit-record"), 0644))

	service := NewBackupService(db, auditPath, backupDir, log)
	require.NoError(t, service.DailyBackup())

	dailyDir := filepath.Join(backupDir, "daily")
	entries, err := os.ReadDir(dailyDir)
	require.NoError(t, err)
	assert.Equal(t, 2, len(entries), "should have an index backup and an audit log copy")

	var indexPath string
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".db" {
			indexPath = filepath.Join(dailyDir, e.Name())
		}
	}
	require.NotEmpty(t, indexPath)

	backupDB, err := sql.Open("sqlite", indexPath)
	require.NoError(t, err)
	defer backupDB.Close()

	var count int
	require.NoError(t, backupDB.QueryRow("SELECT COUNT(*) FROM trades").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestBackupService_WeeklyBackup(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})

	tempDir := t.TempDir()
	dataDir := filepath.Join(tempDir, "data")
	backupDir := filepath.Join(tempDir, "backups")
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	db := newPerformanceDB(t, dataDir)
	defer db.Close()

	auditPath := filepath.Join(dataDir, "audit.log")
	require.NoError(t, os.WriteFile(auditPath, []byte("audit-record"), 0644))

	service := NewBackupService(db, auditPath, backupDir, log)
	require.NoError(t, service.WeeklyBackup())

	entries, err := os.ReadDir(filepath.Join(backupDir, "weekly"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "-W")
}

func TestBackupService_RotateDeletesOldBackups(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})

	tempDir := t.TempDir()
	dir := filepath.Join(tempDir, "daily")
	require.NoError(t, os.MkdirAll(dir, 0755))

	oldFile := filepath.Join(dir, "performance_old.db")
	require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0644))
	oldTime := time.Now().Add(-31 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

	recentFile := filepath.Join(dir, "performance_recent.db")
	require.NoError(t, os.WriteFile(recentFile, []byte("recent"), 0644))

	service := NewBackupService(nil, "", tempDir, log)
	require.NoError(t, service.rotate(dir, 30*24*time.Hour))

	_, err := os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(recentFile)
	assert.NoError(t, err)
}

func TestBackupService_VerifyIndex(t *testing.T) {
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	tempDir := t.TempDir()

	t.Run("valid database passes", func(t *testing.T) {
		path := filepath.Join(tempDir, "valid.db")
		db, err := database.New(database.Config{Path: path, Profile: database.ProfileStandard, Name: "valid"})
		require.NoError(t, err)
		db.Close()

		service := NewBackupService(nil, "", tempDir, log)
		assert.NoError(t, service.verifyIndex(path))
	})

	t.Run("corrupted file fails", func(t *testing.T) {
		path := filepath.Join(tempDir, "corrupted.db")
		require.NoError(t, os.WriteFile(path, []byte("not a sqlite file"), 0644))

		service := NewBackupService(nil, "", tempDir, log)
		assert.Error(t, service.verifyIndex(path))
	})
}
