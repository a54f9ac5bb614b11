package reliability

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// AlertLevel defines the severity of an alert.
type AlertLevel string

const (
	AlertCritical AlertLevel = "CRITICAL" // halt, requires manual intervention
	AlertError    AlertLevel = "ERROR"    // auto-recover if possible, alert admin
	AlertWarning  AlertLevel = "WARNING"  // log and monitor
	AlertInfo     AlertLevel = "INFO"     // informational
)

// Alert represents a monitoring alert.
type Alert struct {
	Level     AlertLevel
	Component string
	Message   string
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// MonitoringService watches the Performance DB, its WAL, disk space, and
// backup freshness, and raises alerts when any drifts out of bounds.
type MonitoringService struct {
	health    *HealthService
	dataDir   string
	backupDir string
	alerts    []Alert
	log       zerolog.Logger
}

func NewMonitoringService(health *HealthService, dataDir, backupDir string, log zerolog.Logger) *MonitoringService {
	return &MonitoringService{
		health:    health,
		dataDir:   dataDir,
		backupDir: backupDir,
		alerts:    make([]Alert, 0),
		log:       log.With().Str("service", "monitoring").Logger(),
	}
}

// CheckAlerts evaluates all alert conditions and logs the result.
func (s *MonitoringService) CheckAlerts() error {
	s.alerts = make([]Alert, 0)

	s.checkDiskSpace()

	metrics, err := s.health.Metrics()
	if err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}
	s.checkDatabaseAlerts(metrics)
	s.checkWALSize()
	s.checkBackupFreshness()

	s.processAlerts()
	return nil
}

func (s *MonitoringService) checkDiskSpace() {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(s.dataDir, &stat); err != nil {
		s.addAlert(AlertError, "disk", "failed to check disk space", map[string]interface{}{"error": err.Error()})
		return
	}

	availableGB := float64(stat.Bavail*uint64(stat.Bsize)) / 1e9

	switch {
	case availableGB < 0.5:
		s.addAlert(AlertCritical, "disk", "insufficient disk space, system should halt", map[string]interface{}{"available_gb": availableGB})
	case availableGB < 5.0:
		s.addAlert(AlertError, "disk", "low disk space, consider cleanup", map[string]interface{}{"available_gb": availableGB})
	case availableGB < 10.0:
		s.addAlert(AlertWarning, "disk", "disk space running low", map[string]interface{}{"available_gb": availableGB})
	}
}

func (s *MonitoringService) checkDatabaseAlerts(metrics *DatabaseMetrics) {
	if !metrics.IntegrityCheckPassed {
		s.addAlert(AlertError, metrics.Name, "integrity check failed", map[string]interface{}{"last_check": metrics.LastIntegrityCheck})
	}

	switch {
	case metrics.GrowthRate24h > 50.0:
		s.addAlert(AlertError, metrics.Name, "anomalous growth > 50% in 24h", map[string]interface{}{"growth_rate_pct": metrics.GrowthRate24h})
	case metrics.GrowthRate24h > 20.0:
		s.addAlert(AlertWarning, metrics.Name, "high growth > 20% in 24h", map[string]interface{}{"growth_rate_pct": metrics.GrowthRate24h})
	}

	if metrics.SizeMB > 100.0 {
		s.addAlert(AlertInfo, metrics.Name, "index database > 100MB, consider archival", map[string]interface{}{"size_mb": metrics.SizeMB})
	}
}

func (s *MonitoringService) checkWALSize() {
	walPath := s.health.db.Path() + "-wal"
	info, err := os.Stat(walPath)
	if err != nil {
		return
	}

	walSizeMB := float64(info.Size()) / 1024 / 1024
	if walSizeMB > 100.0 {
		s.addAlert(AlertError, s.health.db.Name(), "WAL file > 100MB, checkpoint may be stuck", map[string]interface{}{"wal_size_mb": walSizeMB})
	}
}

func (s *MonitoringService) checkBackupFreshness() {
	today := time.Now().Format("2006-01-02")
	if mostRecentFile(filepath.Join(s.backupDir, "daily"), ".db") == "" {
		s.addAlert(AlertWarning, "backup", "no daily backup found", map[string]interface{}{"checked_for": today})
		return
	}

	path := mostRecentFile(filepath.Join(s.backupDir, "daily"), ".db")
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > 26*time.Hour {
		s.addAlert(AlertWarning, "backup", "daily backup is stale", map[string]interface{}{"age_hours": time.Since(info.ModTime()).Hours()})
	}
}

func (s *MonitoringService) addAlert(level AlertLevel, component, message string, metadata map[string]interface{}) {
	s.alerts = append(s.alerts, Alert{
		Level:     level,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
}

func (s *MonitoringService) processAlerts() {
	if len(s.alerts) == 0 {
		s.log.Debug().Msg("no alerts")
		return
	}

	counts := make(map[AlertLevel]int)
	for _, alert := range s.alerts {
		counts[alert.Level]++

		event := s.log.WithLevel(alertLevelToZerologLevel(alert.Level)).
			Str("component", alert.Component).
			Str("alert_level", string(alert.Level))
		for key, value := range alert.Metadata {
			event = event.Interface(key, value)
		}
		event.Msg(alert.Message)
	}

	s.log.Info().
		Int("critical", counts[AlertCritical]).
		Int("error", counts[AlertError]).
		Int("warning", counts[AlertWarning]).
		Int("info", counts[AlertInfo]).
		Int("total", len(s.alerts)).
		Msg("alert summary")
}

func alertLevelToZerologLevel(level AlertLevel) zerolog.Level {
	switch level {
	case AlertCritical:
		return zerolog.FatalLevel
	case AlertError:
		return zerolog.ErrorLevel
	case AlertWarning:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// Alerts returns the alerts raised by the most recent CheckAlerts call.
func (s *MonitoringService) Alerts() []Alert { return s.alerts }

// HasCriticalAlerts reports whether any alert from the most recent check was critical.
func (s *MonitoringService) HasCriticalAlerts() bool {
	for _, alert := range s.alerts {
		if alert.Level == AlertCritical {
			return true
		}
	}
	return false
}

// CheckConnectionPoolHealth flags connection pool exhaustion on the Performance DB.
func (s *MonitoringService) CheckConnectionPoolHealth() {
	stats := s.health.db.Conn().Stats()
	if stats.InUse >= stats.MaxOpenConnections {
		s.addAlert(AlertWarning, s.health.db.Name(), "connection pool exhausted", map[string]interface{}{
			"in_use": stats.InUse, "max_open": stats.MaxOpenConnections, "wait_count": stats.WaitCount,
		})
	}
	if stats.WaitCount > 100 {
		s.addAlert(AlertWarning, s.health.db.Name(), "high connection wait count", map[string]interface{}{
			"wait_count": stats.WaitCount,
		})
	}
}
