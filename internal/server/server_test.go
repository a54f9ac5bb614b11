package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/aristath/basisagent/internal/events"
	"github.com/aristath/basisagent/internal/gateway"
	"github.com/aristath/basisagent/internal/modules/agent"
	"github.com/aristath/basisagent/internal/modules/ledger"
	"github.com/aristath/basisagent/internal/modules/performance"
	"github.com/aristath/basisagent/internal/modules/snapshot"
)

func newTestServer(t *testing.T) (*Server, *agent.Agent, *snapshot.Store) {
	t.Helper()

	clock := gateway.NewSimClock(1_000_000_000)
	paper := gateway.NewPaper(gateway.PaperConfig{SlippageBps: 2, FeeBps: 5}, 0, 100000, zerolog.Nop())
	paper.SetMarks(100, 100.1)

	led := ledger.New(1)
	snap := snapshot.New(clock)

	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, performance.InitSchema(conn))
	perf, err := performance.Open(conn, filepath.Join(t.TempDir(), "audit.log"))
	require.NoError(t, err)
	t.Cleanup(func() { perf.Close() })

	tel := events.NewManager(zerolog.Nop())
	a := agent.New(agent.Config{PaperMode: true}, led, paper, clock, tel, perf, zerolog.Nop())

	s := New(Config{
		Port:      0,
		Log:       zerolog.Nop(),
		DevMode:   true,
		Agent:     a,
		Ledger:    led,
		Snapshots: snap,
		Perf:      perf,
		Telemetry: tel,
	})
	return s, a, snap
}

func TestHandleStatus_ReportsAgentStateWithNoOpenPosition(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.StateIdle), resp.State)
	assert.Nil(t, resp.Position)
}

func TestHandleStatus_ReportsOpenPositionAfterOpen(t *testing.T) {
	s, a, _ := newTestServer(t)

	require.NoError(t, a.HandleIntent(context.Background(), domain.Intent{
		Kind: domain.IntentOpenBasis, SizeBase: domain.NewBaseQty(1), Confidence: 0.9,
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(domain.StateMonitoring), resp.State)
	require.NotNil(t, resp.Position)
}

func TestHandleAgentResume_ConflictsWhenNotPaused(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/agent/resume", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleAgentResume_SucceedsAfterAcknowledgedPause(t *testing.T) {
	s, a, _ := newTestServer(t)
	a.ForcePause("manual test pause", true)
	a.Acknowledge()

	req := httptest.NewRequest(http.MethodPost, "/agent/resume", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(domain.StateIdle), a.State())
}

func TestHandleRiskAck_ClearsAcknowledgementGate(t *testing.T) {
	s, a, _ := newTestServer(t)
	a.ForcePause("risk trip", true)

	req := httptest.NewRequest(http.MethodPost, "/risk/ack", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resumeReq := httptest.NewRequest(http.MethodPost, "/agent/resume", nil)
	resumeRec := httptest.NewRecorder()
	s.router.ServeHTTP(resumeRec, resumeReq)
	assert.Equal(t, http.StatusOK, resumeRec.Code)
}

func TestHandlePerformanceSummary_EmptyHistory(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/performance/summary", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var summary domain.PerformanceSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 0, summary.TradesTotal)
}

func TestHandlePerformanceExport_WritesHeaderRowOnEmptyHistory(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/performance/export.csv", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "trade_id,opened_at,closed_at")
}
