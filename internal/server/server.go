// Package server exposes the agent's control surface: a small read/operate
// HTTP API sitting alongside the trading loop, not in its serialization path.
package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/aristath/basisagent/internal/events"
	"github.com/aristath/basisagent/internal/modules/agent"
	"github.com/aristath/basisagent/internal/modules/ledger"
	"github.com/aristath/basisagent/internal/modules/performance"
	"github.com/aristath/basisagent/internal/modules/snapshot"
)

// Config holds everything the control surface needs to read state and
// forward operator commands to the Agent State Machine.
type Config struct {
	Port      int
	Log       zerolog.Logger
	DevMode   bool
	Agent     *agent.Agent
	Ledger    *ledger.Ledger
	Snapshots *snapshot.Store
	Perf      *performance.DB
	Telemetry *events.Manager
}

// Server is the control-plane HTTP surface: status, acknowledgements, and
// performance export. It never mutates the Position Ledger directly — its
// write routes call the Agent's Acknowledge and Resume methods.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	agent     *agent.Agent
	ledger    *ledger.Ledger
	snapshots *snapshot.Store
	perf      *performance.DB
	events    *events.Manager
	recent    events.Subscriber
}

// New builds the control-plane server. Call Start to begin serving.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		agent:     cfg.Agent,
		ledger:    cfg.Ledger,
		snapshots: cfg.Snapshots,
		perf:      cfg.Perf,
		events:    cfg.Telemetry,
	}
	if s.events != nil {
		s.recent = s.events.Subscribe(64)
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/status", s.handleStatus)
	s.router.Post("/risk/ack", s.handleRiskAck)
	s.router.Post("/agent/resume", s.handleAgentResume)
	s.router.Get("/performance/summary", s.handlePerformanceSummary)
	s.router.Get("/performance/export.csv", s.handlePerformanceExport)
}

// Start serves the control plane until the listener errors or is shut down.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("control surface listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("control surface shutting down")
	return s.server.Shutdown(ctx)
}

// handleStatus reports AgentState, the latest snapshot (if fresh), the open
// position (if any), and whatever events have arrived since the last drain.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{State: string(s.agent.State())}

	if snap, err := s.snapshots.Read(); err == nil {
		resp.Snapshot = &snap
	}

	if pos, open := s.ledger.Current(); open {
		resp.Position = &pos
	}

	resp.RecentEvents = s.drainRecentEvents()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) drainRecentEvents() []events.Event {
	if s.recent == nil {
		return nil
	}
	var out []events.Event
	for {
		select {
		case ev := <-s.recent:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// handleRiskAck acknowledges a risk-origin Pause, clearing the Agent's
// requires-acknowledgement gate so a subsequent resume is accepted.
func (s *Server) handleRiskAck(w http.ResponseWriter, r *http.Request) {
	s.agent.Acknowledge()
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.agent.State())})
}

// handleAgentResume resumes the Agent from a Paused state. Errors if a
// requires-acknowledgement Pause has not yet been acked.
func (s *Server) handleAgentResume(w http.ResponseWriter, r *http.Request) {
	if err := s.agent.Resume(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": string(s.agent.State())})
}

func (s *Server) handlePerformanceSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.perf.Summary()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handlePerformanceExport streams every recorded trade outcome as CSV,
// one row at a time, without buffering the full history in memory. The
// header and column order are the literal ones named by §6.
func (s *Server) handlePerformanceExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="performance.csv"`)

	cw := csv.NewWriter(w)
	if err := cw.Write(strings.Split(performance.ExportCSVHeader, ",")); err != nil {
		s.log.Error().Err(err).Msg("csv export header write failed")
		return
	}

	err := s.perf.IterateForExport(func(t domain.TradeOutcome) error {
		return cw.Write([]string{
			strconv.FormatInt(t.TradeID, 10),
			strconv.FormatInt(t.OpenedAt, 10),
			strconv.FormatInt(t.ClosedAt, 10),
			strconv.FormatFloat(t.SizeBase.Float(), 'f', -1, 64),
			strconv.FormatFloat(t.NetQuotePnL.Float(), 'f', -1, 64),
			strconv.FormatFloat(t.ROIPct, 'f', -1, 64),
			strconv.FormatFloat(t.BasisAtOpenBps, 'f', -1, 64),
			strconv.FormatFloat(t.BasisAtCloseBps, 'f', -1, 64),
			strconv.FormatFloat(t.FundingAPRAtOpenPct, 'f', -1, 64),
			string(t.CloseReason),
			strconv.FormatBool(t.Win),
		})
	})
	if err != nil {
		s.log.Error().Err(err).Msg("csv export row write failed")
	}
	cw.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusResponse struct {
	State        string           `json:"state"`
	Snapshot     *domain.Snapshot `json:"snapshot,omitempty"`
	Position     *domain.Position `json:"position,omitempty"`
	RecentEvents []events.Event   `json:"recent_events,omitempty"`
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
