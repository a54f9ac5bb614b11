package reliability

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/basisagent/pkg/logger"
)

func newMonitoringTestService(t *testing.T, tempDir string) (*MonitoringService, *HealthService) {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", Pretty: false})
	db := newHealthTestDB(t, tempDir)
	health, err := NewHealthService(db, filepath.Join(tempDir, "backups"), log)
	require.NoError(t, err)
	return NewMonitoringService(health, tempDir, filepath.Join(tempDir, "backups"), log), health
}

func TestMonitoringService_CheckAlerts_FlagsAnomalousGrowth(t *testing.T) {
	tempDir := t.TempDir()
	monitoring, health := newMonitoringTestService(t, tempDir)

	_, err := health.db.Conn().Exec(`
		INSERT INTO _database_health (checked_at, integrity_check_passed, size_bytes, page_count, freelist_count)
		VALUES (?, 1, 1, 1, 0)
	`, time.Now().Add(-1*time.Hour).Unix())
	require.NoError(t, err)

	require.NoError(t, monitoring.CheckAlerts())

	hasGrowthAlert := false
	for _, alert := range monitoring.Alerts() {
		if alert.Level == AlertError && alert.Component == "performance" {
			hasGrowthAlert = true
		}
	}
	assert.True(t, hasGrowthAlert, "a 1-byte historical size against the real db file should read as anomalous growth")
}

func TestMonitoringService_CheckAlerts_RunsCleanlyOnAFreshDatabase(t *testing.T) {
	tempDir := t.TempDir()
	monitoring, _ := newMonitoringTestService(t, tempDir)

	assert.NoError(t, monitoring.CheckAlerts())
}

func TestMonitoringService_HasCriticalAlerts(t *testing.T) {
	tempDir := t.TempDir()
	monitoring, _ := newMonitoringTestService(t, tempDir)

	monitoring.addAlert(AlertCritical, "disk", "test critical alert", map[string]interface{}{})
	assert.True(t, monitoring.HasCriticalAlerts())
}

func TestMonitoringService_HasCriticalAlerts_FalseWhenOnlyWarnings(t *testing.T) {
	tempDir := t.TempDir()
	monitoring, _ := newMonitoringTestService(t, tempDir)

	monitoring.addAlert(AlertWarning, "test", "test warning", map[string]interface{}{})
	assert.False(t, monitoring.HasCriticalAlerts())
}

func TestMonitoringService_CheckConnectionPoolHealth_QuietOnHealthyPool(t *testing.T) {
	tempDir := t.TempDir()
	monitoring, _ := newMonitoringTestService(t, tempDir)

	monitoring.CheckConnectionPoolHealth()

	assert.Len(t, monitoring.Alerts(), 0)
}

func TestAlert_LevelsAreStable(t *testing.T) {
	assert.Equal(t, AlertLevel("CRITICAL"), AlertCritical)
	assert.Equal(t, AlertLevel("ERROR"), AlertError)
	assert.Equal(t, AlertLevel("WARNING"), AlertWarning)
	assert.Equal(t, AlertLevel("INFO"), AlertInfo)
}
