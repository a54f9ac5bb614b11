// Command server runs the basis-arbitrage agent: it wires the Trading Core
// components together, drives the market-data -> signal -> risk -> actuation
// loop, and serves the control-plane HTTP surface alongside the scheduler's
// backup and maintenance jobs.
package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/basisagent/internal/config"
	"github.com/aristath/basisagent/internal/database"
	"github.com/aristath/basisagent/internal/domain"
	"github.com/aristath/basisagent/internal/events"
	"github.com/aristath/basisagent/internal/gateway"
	"github.com/aristath/basisagent/internal/modules/agent"
	"github.com/aristath/basisagent/internal/modules/basis"
	"github.com/aristath/basisagent/internal/modules/funding"
	"github.com/aristath/basisagent/internal/modules/ledger"
	"github.com/aristath/basisagent/internal/modules/performance"
	"github.com/aristath/basisagent/internal/modules/rebalance"
	"github.com/aristath/basisagent/internal/modules/reversal"
	riskmgr "github.com/aristath/basisagent/internal/modules/risk"
	signaleng "github.com/aristath/basisagent/internal/modules/signal"
	"github.com/aristath/basisagent/internal/modules/sizer"
	"github.com/aristath/basisagent/internal/modules/snapshot"
	"github.com/aristath/basisagent/internal/reliability"
	"github.com/aristath/basisagent/internal/scheduler"
	"github.com/aristath/basisagent/internal/server"
	"github.com/aristath/basisagent/pkg/logger"
)

// connectionGraceS is the Risk Manager's gateway-unhealthy grace window. It
// isn't exposed on the configuration surface since paper mode never goes
// unhealthy; a live integration would promote this to an env var.
const connectionGraceS = 30

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directory")
	}

	perfDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "performance.db"),
		Profile: database.ProfileLedger,
		Name:    "performance",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open performance database")
	}
	defer perfDB.Close()

	if err := perfDB.Migrate(performance.InitSchema); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate performance schema")
	}

	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	perf, err := performance.Open(perfDB.Conn(), auditPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open performance audit log")
	}
	defer perf.Close()

	tel := events.NewManager(log)

	clock := gateway.NewRealClock()
	paperGW := gateway.NewPaper(gateway.PaperConfig{
		SlippageBps: cfg.Paper.SimulatedSlippageBps,
		FeeBps:      cfg.Paper.SimulatedFeeBps,
	}, 0, 100_000, log)

	snap := snapshot.New(clock)
	led := ledger.New(1)

	fundingEngine := funding.New()
	basisEngine := basis.New()
	reversalDetector := reversal.New(cfg.Trading.MinFundingAPRPct)

	sizerSvc := sizer.New(sizer.Config{
		EnableAdaptiveSizing:   cfg.Sizer.EnableAdaptiveSizing,
		MinTradesForAdaptation: cfg.Sizer.MinTradesForAdaptation,
		MaxKellyFraction:       cfg.Sizer.MaxKellyFraction,
		UseHalfKelly:           cfg.Sizer.UseHalfKelly,
		InitialBaseFraction:    cfg.Sizer.InitialBaseFraction,
		MaxPositionSizeBase:    cfg.Trading.MaxPositionSizeBase,
		MaxDrawdownPct:         cfg.Risk.MaxDrawdownPct,
		MinBasisBps:            cfg.Trading.MinBasisBps,
		MinFundingAPRPct:       cfg.Trading.MinFundingAPRPct,
	})

	signalEngine := signaleng.New(signaleng.Config{
		MinBasisBps:       cfg.Trading.MinBasisBps,
		MinFundingAPRPct:  cfg.Trading.MinFundingAPRPct,
		CloseThresholdBps: cfg.Trading.CloseThresholdBps,
		MinTradeIntervalS: cfg.Trading.MinTradeIntervalS,
		DriftThresholdPct: cfg.Risk.HedgeDriftThresholdPct,
		MinRebalanceBase:  cfg.Rebalance.MinRebalanceBase,
	})

	riskManager := riskmgr.New(riskmgr.Config{
		MaxDrawdownPct:         cfg.Risk.MaxDrawdownPct,
		StopLossPct:            cfg.Risk.StopLossPct,
		HedgeDriftThresholdPct: cfg.Risk.HedgeDriftThresholdPct,
		MaxDailyLossQuote:      cfg.Risk.MaxDailyLossQuote,
		MaxErrorsPerHour:       cfg.Risk.MaxErrorsPerHour,
		ConnectionGraceS:       connectionGraceS,
		ForceCloseOnCritical:   cfg.Reversal.ForceCloseOnCriticalReversal,
	}, int32(os.Getpid()))

	rebalancer := rebalance.New(rebalance.Config{
		MaxRebalancesPerHour: cfg.Rebalance.MaxRebalancesPerHour,
		MinRebalanceBase:     cfg.Rebalance.MinRebalanceBase,
	}, clock)

	agentCore := agent.New(agent.Config{
		LegTimeout:          3 * time.Second,
		MaxSlippageBps:      cfg.Paper.SimulatedSlippageBps * 2,
		PaperMode:           cfg.Paper.PaperTrading,
		DrawdownRequiresAck: true,
	}, led, paperGW, clock, tel, perf, log)

	backupDir := filepath.Join(cfg.DataDir, "backups")
	backups := reliability.NewBackupService(perfDB, auditPath, backupDir, log)
	health, err := reliability.NewHealthService(perfDB, backupDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start health service")
	}
	monitoring := reliability.NewMonitoringService(health, cfg.DataDir, backupDir, log)

	sched := scheduler.New(log)
	mustSchedule(sched, "0 0 3 * * *", reliability.NewDailyBackupJob(backups))
	mustSchedule(sched, "0 0 4 * * 0", reliability.NewWeeklyBackupJob(backups))
	mustSchedule(sched, "0 */15 * * * *", reliability.NewDailyMaintenanceJob(health, cfg.DataDir, log))
	mustSchedule(sched, "0 30 4 * * 0", reliability.NewWeeklyMaintenanceJob(perfDB, backups, log))
	sched.Start()
	defer sched.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go agentCore.Run(ctx)
	go runPriceFeed(ctx, snap, paperGW)
	go runTradingLoop(ctx, tradingLoopDeps{
		snap:       snap,
		led:        led,
		funding:    fundingEngine,
		basis:      basisEngine,
		reversal:   reversalDetector,
		sizer:      sizerSvc,
		signal:     signalEngine,
		risk:       riskManager,
		rebalancer: rebalancer,
		agent:      agentCore,
		perf:       perf,
		gw:         paperGW,
		log:        log,
	})
	go func() {
		for range time.Tick(30 * time.Second) {
			if err := monitoring.CheckAlerts(); err != nil {
				log.Error().Err(err).Msg("monitoring sweep failed")
			}
		}
	}()

	httpServer := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		DevMode:   cfg.DevMode,
		Agent:     agentCore,
		Ledger:    led,
		Snapshots: snap,
		Perf:      perf,
		Telemetry: tel,
	})

	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("control surface failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control surface shutdown error")
	}

	log.Info().Msg("shutdown complete")
}

func mustSchedule(sched *scheduler.Scheduler, cronExpr string, job scheduler.Job) {
	if err := sched.AddJob(cronExpr, job); err != nil {
		panic(err)
	}
}

// runPriceFeed stands in for a live exchange feed: it walks spot and perp
// marks with correlated noise and publishes them to the Snapshot Store and
// the paper gateway's fill marks. A live deployment replaces this with
// gateway subscriptions over PriceSource.
func runPriceFeed(ctx context.Context, snap *snapshot.Store, paperGW *gateway.Paper) {
	rng := rand.New(rand.NewSource(1))
	spot := 3000.0
	fundingRate := 0.0001

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			spot *= 1 + (rng.Float64()-0.5)*0.002
			perp := spot * (1 + (rng.Float64()-0.5)*0.001 + 0.0003)
			fundingRate += (rng.Float64() - 0.5) * 0.00002
			nowNs := now.UnixNano()

			snap.PublishSpot(spot, 1, nowNs)
			snap.PublishPerp(perp, spot, fundingRate, now.Add(time.Hour).Unix(), nowNs)
			paperGW.SetMarks(spot, perp)
		}
	}
}

type tradingLoopDeps struct {
	snap       *snapshot.Store
	led        *ledger.Ledger
	funding    *funding.Engine
	basis      *basis.Engine
	reversal   *reversal.Detector
	sizer      *sizer.Sizer
	signal     *signaleng.Engine
	risk       *riskmgr.Manager
	rebalancer *rebalance.Rebalancer
	agent      *agent.Agent
	perf       *performance.DB
	gw         *gateway.Paper
	log        zerolog.Logger
}

// runTradingLoop is the agent's control loop: it reads the Snapshot Store,
// feeds the Funding and Basis Engines, runs the continuous Risk Manager
// checks, fuses a single typed Intent via the Signal Engine, and submits it
// to the Agent State Machine. Runs once a second.
func runTradingLoop(ctx context.Context, d tradingLoopDeps) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var equityPeak float64
	var errorsLastHour int
	unhealthySince := time.Time{}
	dayStart := time.Now()
	var realizedAtDayStart float64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mkt, err := d.snap.Read()
			if err != nil {
				d.log.Debug().Err(err).Msg("snapshot stale, skipping tick")
				continue
			}

			now := time.Now()
			d.funding.Insert(domain.FundingSample{Timestamp: now.UnixNano(), Rate: mkt.FundingRateHourly})

			pos, hasPosition := d.led.Current()
			hedgeRatio := 1.0
			if hasPosition {
				hedgeRatio = pos.HedgeRatio()
			}
			basisOut := d.basis.Evaluate(mkt.SpotPrice, mkt.PerpMarkPrice, now.UnixNano(), hedgeRatio)
			d.basis.Insert(domain.BasisSample{Timestamp: now.UnixNano(), SpreadBps: basisOut.SpreadBps})

			fundingStats, fundingErr := d.funding.Compute()
			fundingOK := fundingErr == nil

			reversalAlert := d.reversal.Observe(fundingStats.VelocityPerHour, fundingStats.Acceleration, fundingStats.APRPct, mkt.FundingRateHourly)

			realized, unrealized := d.led.PnL(mkt.SpotPrice, mkt.PerpMarkPrice)
			if now.Sub(dayStart) >= 24*time.Hour {
				dayStart = now
				realizedAtDayStart = realized.Float()
			}
			equity := realized.Float() + unrealized.Float() + 100_000
			if equity > equityPeak {
				equityPeak = equity
			}

			gatewayHealthy := d.gw.Healthy()
			if !gatewayHealthy && unhealthySince.IsZero() {
				unhealthySince = now
			} else if gatewayHealthy {
				unhealthySince = time.Time{}
			}
			unhealthySeconds := 0
			if !unhealthySince.IsZero() {
				unhealthySeconds = int(now.Sub(unhealthySince).Seconds())
			}

			var notional float64
			if hasPosition {
				notional = pos.Spot.SizeBase.ToQuote(mkt.SpotPrice).Float()
			}

			checks, tripped := d.risk.Evaluate(riskmgr.Input{
				EquityPeak:       equityPeak,
				Equity:           equity,
				UnrealizedPnL:    unrealized.Float(),
				Notional:         notional,
				DriftPct:         basisOut.DriftPct,
				RealizedToday:    realized.Float() - realizedAtDayStart,
				ErrorsLastHour:   errorsLastHour,
				GatewayHealthy:   gatewayHealthy,
				UnhealthySeconds: unhealthySeconds,
				ReversalSeverity: reversalAlert.Severity,
			})
			if tripped {
				for _, c := range checks {
					if c.Tripped {
						d.log.Warn().Str("check", c.Name).Str("detail", c.Detail).Msg("risk check tripped")
						d.agent.ForcePause(c.Name, c.Name == "drawdown" || c.Name == "reversal")
					}
				}
				continue
			}

			rebalanceOK := hasPosition && d.rebalancer.TokensAvailable()
			intent := d.signal.Evaluate(signaleng.Input{
				NowUnix:              now.Unix(),
				FundingStats:         fundingStats,
				FundingOK:            fundingOK,
				BasisOut:             basisOut,
				HasPosition:          hasPosition,
				ReversalSeverity:     reversalAlert.Severity,
				RebalanceTokensAvail: rebalanceOK,
				StopLossTripped:      false,
			})

			switch intent.Kind {
			case domain.IntentNoop:
				// nothing to do this tick
			case domain.IntentOpenBasis:
				summary, err := d.perf.Summary()
				if err != nil {
					d.log.Error().Err(err).Msg("failed to read performance summary for sizing")
					continue
				}
				sizing := d.sizer.Size(domain.NewQuoteQty(equity), summary, basisOut.SpreadBps, fundingStats.APRPct, intent.Confidence, mkt.SpotPrice)
				if sizing.SizeBase.IsZero() {
					continue
				}
				intent.SizeBase = sizing.SizeBase
				d.signal.RecordTrade(now.Unix())
				d.agent.Submit(intent)
			case domain.IntentCloseBasis:
				d.signal.RecordTrade(now.Unix())
				d.agent.Submit(intent)
			case domain.IntentRebalance:
				adj, ok := d.rebalancer.Propose(pos)
				if !ok {
					continue
				}
				// Only the undersized leg's half of the symmetric adjustment
				// is submitted; the oversized leg is not reduced.
				intent.DeltaBase = adj.HalfDeltaBase
				intent.Leg = adj.UndersizedLeg
				d.agent.Submit(intent)
			}
		}
	}
}
