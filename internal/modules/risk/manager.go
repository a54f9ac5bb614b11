// Package risk implements the Risk Manager: the continuous invariant checks
// that can trip a circuit breaker and force the Agent into Paused.
package risk

import (
	"github.com/shirou/gopsutil/v3/process"

	"github.com/aristath/basisagent/internal/domain"
)

// Config names the Risk Manager's circuit-breaker thresholds, drawn from the
// risk section of the configuration surface.
type Config struct {
	MaxDrawdownPct         float64
	StopLossPct            float64
	HedgeDriftThresholdPct float64
	MaxDailyLossQuote      float64
	MaxErrorsPerHour       int
	ConnectionGraceS       int
	ForceCloseOnCritical   bool
}

// Check names one circuit-breaker row and whether it tripped.
type Check struct {
	Name    string
	Tripped bool
	Detail  string
}

// Input is the point-in-time view the Risk Manager evaluates each tick.
type Input struct {
	EquityPeak           float64
	Equity               float64
	UnrealizedPnL         float64
	Notional              float64
	DriftPct              float64
	RealizedToday         float64
	ErrorsLastHour        int
	GatewayHealthy        bool
	UnhealthySeconds      int
	ReversalSeverity      domain.ReversalSeverity
}

// Manager runs the §4.9 checks and samples process health via gopsutil to
// fold resource starvation into the error-budget check.
type Manager struct {
	cfg Config
	pid int32
}

func New(cfg Config, pid int32) *Manager {
	return &Manager{cfg: cfg, pid: pid}
}

// Evaluate runs every check and returns the full result set plus whether any
// tripped. Checks are independent; more than one may trip in the same tick.
func (m *Manager) Evaluate(in Input) ([]Check, bool) {
	checks := []Check{
		m.checkDrawdown(in),
		m.checkStopLoss(in),
		m.checkHedgeDrift(in),
		m.checkDailyLoss(in),
		m.checkErrorBudget(in),
		m.checkConnection(in),
		m.checkReversal(in),
	}

	tripped := false
	for _, c := range checks {
		if c.Tripped {
			tripped = true
		}
	}
	return checks, tripped
}

func (m *Manager) checkDrawdown(in Input) Check {
	trip := in.EquityPeak > 0 && (in.EquityPeak-in.Equity) >= m.cfg.MaxDrawdownPct/100*in.EquityPeak
	return Check{Name: "drawdown", Tripped: trip, Detail: "equity fell max_drawdown_pct from its peak"}
}

func (m *Manager) checkStopLoss(in Input) Check {
	trip := in.Notional > 0 && in.UnrealizedPnL <= -m.cfg.StopLossPct/100*in.Notional
	return Check{Name: "stop_loss", Tripped: trip, Detail: "unrealized loss exceeds stop_loss_pct of notional"}
}

func (m *Manager) checkHedgeDrift(in Input) Check {
	trip := in.DriftPct > 2*m.cfg.HedgeDriftThresholdPct
	return Check{Name: "hedge_drift", Tripped: trip, Detail: "drift exceeds twice the rebalance threshold"}
}

func (m *Manager) checkDailyLoss(in Input) Check {
	trip := in.RealizedToday <= -m.cfg.MaxDailyLossQuote
	return Check{Name: "daily_loss", Tripped: trip, Detail: "realized loss today exceeds max_daily_loss_quote"}
}

// checkErrorBudget folds one gopsutil-observed process anomaly (more than 4096
// open file descriptors) into the errors-per-hour counter: a starved process
// degrades the venue connection before the gateway itself reports it.
func (m *Manager) checkErrorBudget(in Input) Check {
	errs := in.ErrorsLastHour
	if anomaly := m.sampleProcessAnomaly(); anomaly {
		errs++
	}
	trip := errs > m.cfg.MaxErrorsPerHour
	return Check{Name: "error_budget", Tripped: trip, Detail: "errors_last_hour (incl. process-health anomalies) exceeds max_errors_per_hour"}
}

func (m *Manager) sampleProcessAnomaly() bool {
	if m.pid == 0 {
		return false
	}
	proc, err := process.NewProcess(m.pid)
	if err != nil {
		return false
	}
	numFDs, err := proc.NumFDs()
	if err != nil {
		return false
	}
	// A process routinely leaking file descriptors above this count is a
	// precursor to the gateway's own connection pool exhausting.
	return numFDs > 4096
}

func (m *Manager) checkConnection(in Input) Check {
	trip := !in.GatewayHealthy && in.UnhealthySeconds > m.cfg.ConnectionGraceS
	return Check{Name: "connection", Tripped: trip, Detail: "gateway unhealthy past the grace window"}
}

func (m *Manager) checkReversal(in Input) Check {
	trip := in.ReversalSeverity == domain.SeverityCritical && m.cfg.ForceCloseOnCritical
	return Check{Name: "reversal", Tripped: trip, Detail: "critical reversal with force_close_on_critical_reversal enabled"}
}
