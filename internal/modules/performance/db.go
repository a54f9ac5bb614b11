// Package performance implements the Performance DB: a durable append-only log
// of TradeOutcomes keyed by trade_id, plus on-demand summary statistics.
package performance

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/aristath/basisagent/internal/domain"
	"github.com/aristath/basisagent/pkg/formulas"
	"github.com/vmihailenco/msgpack/v5"
)

// FileFormatVersion prefixes the append-only audit file; a mismatch refuses to open.
const FileFormatVersion byte = 1

// InitSchema creates the trade_outcomes table that backs the SQLite index and
// the summary-statistics queries. It is the single source of truth for this
// database's schema, called from Migrate instead of reading a schema file.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trade_outcomes (
			trade_id INTEGER PRIMARY KEY,
			opened_at INTEGER NOT NULL,
			closed_at INTEGER NOT NULL,
			size_base TEXT NOT NULL,
			gross_quote_pnl TEXT NOT NULL,
			fees_quote TEXT NOT NULL,
			funding_received_quote TEXT NOT NULL,
			net_quote_pnl REAL NOT NULL,
			roi_pct REAL NOT NULL,
			basis_at_open_bps REAL NOT NULL,
			basis_at_close_bps REAL NOT NULL,
			funding_apr_at_open_pct REAL NOT NULL,
			win INTEGER NOT NULL,
			close_reason TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trade_outcomes_closed_at ON trade_outcomes(closed_at);
	`)
	if err != nil {
		return fmt.Errorf("performance: init schema: %w", err)
	}
	return nil
}

// DB is the durable Performance DB: a SQLite index fronting an append-only
// msgpack audit file, so every write is replayable independent of the index.
type DB struct {
	mu       sync.Mutex
	conn     *sql.DB
	auditLog *os.File
}

// Open attaches to an already-migrated *sql.DB and opens (creating if absent)
// the append-only audit file at auditPath.
func Open(conn *sql.DB, auditPath string) (*DB, error) {
	f, err := os.OpenFile(auditPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "open_audit_log", Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &domain.PersistenceError{Op: "stat_audit_log", Err: err}
	}
	if info.Size() == 0 {
		if _, err := f.Write([]byte{FileFormatVersion}); err != nil {
			f.Close()
			return nil, &domain.PersistenceError{Op: "write_version_byte", Err: err}
		}
	} else {
		versionBuf := make([]byte, 1)
		if _, err := f.ReadAt(versionBuf, 0); err != nil {
			f.Close()
			return nil, &domain.PersistenceError{Op: "read_version_byte", Err: err}
		}
		if versionBuf[0] != FileFormatVersion {
			f.Close()
			return nil, &domain.PersistenceError{Op: "version_mismatch", Err: fmt.Errorf("audit log version %d != %d", versionBuf[0], FileFormatVersion)}
		}
	}

	return &DB{conn: conn, auditLog: f}, nil
}

// Close releases the underlying audit file handle.
func (d *DB) Close() error {
	return d.auditLog.Close()
}

// Append durably writes outcome to both the audit log and the SQLite index
// before returning. A write is not acknowledged to the Agent until this
// succeeds; any failure surfaces as a PersistenceError and the position is left
// untouched (§7).
func (d *DB) Append(outcome domain.TradeOutcome) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, err := msgpack.Marshal(outcome)
	if err != nil {
		return &domain.PersistenceError{Op: "marshal_outcome", Err: err}
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))

	if _, err := d.auditLog.Write(lenBuf); err != nil {
		return &domain.PersistenceError{Op: "append_audit_length", Err: err}
	}
	if _, err := d.auditLog.Write(payload); err != nil {
		return &domain.PersistenceError{Op: "append_audit_payload", Err: err}
	}
	if err := d.auditLog.Sync(); err != nil {
		return &domain.PersistenceError{Op: "fsync_audit_log", Err: err}
	}

	_, err = d.conn.Exec(`
		INSERT INTO trade_outcomes
			(trade_id, opened_at, closed_at, size_base, gross_quote_pnl, fees_quote,
			 funding_received_quote, net_quote_pnl, roi_pct, basis_at_open_bps,
			 basis_at_close_bps, funding_apr_at_open_pct, win, close_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.TradeID, outcome.OpenedAt, outcome.ClosedAt,
		outcome.SizeBase.Decimal().String(), outcome.GrossQuotePnL.Decimal().String(),
		outcome.FeesQuote.Decimal().String(), outcome.FundingReceivedQuote.Decimal().String(),
		outcome.NetQuotePnL.Float(), outcome.ROIPct, outcome.BasisAtOpenBps,
		outcome.BasisAtCloseBps, outcome.FundingAPRAtOpenPct, boolToInt(outcome.Win), string(outcome.CloseReason))
	if err != nil {
		return &domain.PersistenceError{Op: "index_outcome", Err: err}
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ReplayAuditLog reads every record from the append-only file in order, for
// recovery or CSV export when the SQLite index itself needs to be rebuilt.
func ReplayAuditLog(path string) ([]domain.TradeOutcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "open_audit_log", Err: err}
	}
	defer f.Close()

	versionBuf := make([]byte, 1)
	if _, err := io.ReadFull(f, versionBuf); err != nil {
		return nil, &domain.PersistenceError{Op: "read_version_byte", Err: err}
	}
	if versionBuf[0] != FileFormatVersion {
		return nil, &domain.PersistenceError{Op: "version_mismatch", Err: fmt.Errorf("audit log version %d != %d", versionBuf[0], FileFormatVersion)}
	}

	var outcomes []domain.TradeOutcome
	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(f, lenBuf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, &domain.PersistenceError{Op: "read_record_length", Err: err}
		}
		payload := make([]byte, binary.BigEndian.Uint32(lenBuf))
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil, &domain.PersistenceError{Op: "read_record_payload", Err: err}
		}
		var outcome domain.TradeOutcome
		if err := msgpack.Unmarshal(payload, &outcome); err != nil {
			return nil, &domain.PersistenceError{Op: "unmarshal_record", Err: err}
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// Summary computes the on-demand summary statistics named by §4.5.
func (d *DB) Summary() (domain.PerformanceSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.conn.Query(`SELECT net_quote_pnl, win, closed_at FROM trade_outcomes ORDER BY trade_id ASC`)
	if err != nil {
		return domain.PerformanceSummary{}, &domain.PersistenceError{Op: "query_summary", Err: err}
	}
	defer rows.Close()

	var pnls []float64
	var wins, losses []float64
	var winCount, total int
	var streak int
	equity, peak, maxDD := 0.0, 0.0, 0.0

	for rows.Next() {
		var pnl float64
		var win int
		var closedAt int64
		if err := rows.Scan(&pnl, &win, &closedAt); err != nil {
			return domain.PerformanceSummary{}, &domain.PersistenceError{Op: "scan_summary_row", Err: err}
		}
		total++
		pnls = append(pnls, pnl)
		if win == 1 {
			winCount++
			wins = append(wins, pnl)
			if streak >= 0 {
				streak++
			} else {
				streak = 1
			}
		} else {
			losses = append(losses, -pnl)
			if streak <= 0 {
				streak--
			} else {
				streak = -1
			}
		}

		equity += pnl
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
	}

	summary := domain.PerformanceSummary{TradesTotal: total, Wins: winCount, CurrentStreak: streak, MaxDrawdownQuote: maxDD}
	if total == 0 {
		return summary, nil
	}

	summary.WinRate = float64(winCount) / float64(total)
	summary.AvgWinQuote = formulas.Mean(wins)
	summary.AvgLossQuote = formulas.Mean(losses)
	if summary.AvgLossQuote != 0 {
		summary.WLRatio = summary.AvgWinQuote / summary.AvgLossQuote
	}

	sumWins, sumLosses := sum(wins), sum(losses)
	if sumLosses != 0 {
		summary.ProfitFactor = sumWins / sumLosses
	}

	if len(pnls) > 1 {
		mean := formulas.Mean(pnls)
		sd := formulas.StdDev(pnls)
		if sd != 0 {
			summary.SharpeDaily = mean / sd * math.Sqrt(252)
		}
		if vol := formulas.AnnualizedVolatility(pnls); vol != 0 {
			summary.SharpeAnnualized = mean * 252 / vol
		}
	}

	return summary, nil
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

// ExportCSVHeader is the literal header row named by §6.
const ExportCSVHeader = "trade_id,opened_at,closed_at,size_base,net_quote_pnl,roi_pct,basis_open_bps,basis_close_bps,funding_apr_open_pct,close_reason,win"

// IterateForExport streams every persisted outcome to fn in trade_id order, for
// CSV export without materializing the whole log in memory.
func (d *DB) IterateForExport(fn func(domain.TradeOutcome) error) error {
	d.mu.Lock()
	rows, err := d.conn.Query(`
		SELECT trade_id, opened_at, closed_at, size_base, net_quote_pnl, roi_pct,
		       basis_at_open_bps, basis_at_close_bps, funding_apr_at_open_pct, close_reason, win, fees_quote
		FROM trade_outcomes ORDER BY trade_id ASC`)
	d.mu.Unlock()
	if err != nil {
		return &domain.PersistenceError{Op: "query_export", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var o domain.TradeOutcome
		var sizeBase, netPnl, fees float64
		var win int
		var reason string
		if err := rows.Scan(&o.TradeID, &o.OpenedAt, &o.ClosedAt, &sizeBase, &netPnl, &o.ROIPct,
			&o.BasisAtOpenBps, &o.BasisAtCloseBps, &o.FundingAPRAtOpenPct, &reason, &win, &fees); err != nil {
			return &domain.PersistenceError{Op: "scan_export_row", Err: err}
		}
		o.SizeBase = domain.NewBaseQty(sizeBase)
		o.FeesQuote = domain.NewQuoteQty(fees)
		o.NetQuotePnL = domain.NewQuoteQty(netPnl)
		o.CloseReason = domain.CloseReason(reason)
		o.Win = win == 1
		if err := fn(o); err != nil {
			return err
		}
	}
	return rows.Err()
}
