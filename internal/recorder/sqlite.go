package recorder

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"InfraSentinel/internal/model"
)

// SQLiteRecorder persists historical data to a SQLite database.
type SQLiteRecorder struct {
	db    *sql.DB
	mu    sync.Mutex
	nowFn func() time.Time
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, eris.Wrap(err, "open sqlite")
	}

	// WAL so dashboards can read while the service writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "set WAL mode")
	}

	r := &SQLiteRecorder{db: db, nowFn: time.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "migrate")
	}

	zap.L().Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			timestamp  INTEGER NOT NULL,
			type       TEXT NOT NULL,
			source     TEXT,
			project_id TEXT,
			round_id   INTEGER,
			severity   TEXT,
			message    TEXT,
			attrs      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,

		`CREATE TABLE IF NOT EXISTS solvency_reports (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			project_id       TEXT NOT NULL,
			source           TEXT,
			overall_score    INTEGER,
			risk_level       TEXT,
			financial_health INTEGER,
			cost_exposure    INTEGER,
			funding_momentum INTEGER,
			runway_adequacy  INTEGER,
			rescue_triggered INTEGER,
			alerted          INTEGER,
			rescue_round_id  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_solvency_project ON solvency_reports(project_id, timestamp)`,

		`CREATE TABLE IF NOT EXISTS reserve_checks (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp         INTEGER NOT NULL,
			scope             TEXT NOT NULL,
			project_id        TEXT,
			claimed           TEXT,
			reported          TEXT,
			ratio_bps         INTEGER,
			status            TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reserve_ts ON reserve_checks(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return eris.Wrapf(err, "exec %q", s[:40])
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordEvent(evt model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var attrs []byte
	if len(evt.Attrs) > 0 {
		var err error
		if attrs, err = json.Marshal(evt.Attrs); err != nil {
			return eris.Wrap(err, "encode attrs")
		}
	}
	at := evt.At
	if at.IsZero() {
		at = r.nowFn()
	}
	var project string
	if !evt.ProjectID.IsZero() {
		project = evt.ProjectID.String()
	}

	_, err := r.db.Exec(`INSERT OR IGNORE INTO events
		(id, timestamp, type, source, project_id, round_id, severity, message, attrs)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		evt.ID, at.Unix(), string(evt.Type), evt.Source, project,
		int64(evt.RoundID), evt.Severity, evt.Message, string(attrs),
	)
	if err != nil {
		return eris.Wrap(err, "insert event")
	}
	return nil
}

func (r *SQLiteRecorder) RecordSolvency(rec *SolvencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := rec.Report
	ts := int64(rep.Timestamp)
	if ts == 0 {
		ts = r.nowFn().Unix()
	}
	_, err := r.db.Exec(`INSERT INTO solvency_reports
		(timestamp, project_id, source, overall_score, risk_level,
		 financial_health, cost_exposure, funding_momentum, runway_adequacy,
		 rescue_triggered, alerted, rescue_round_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		ts, rep.ProjectID.String(), rec.Source, rep.OverallScore, rep.RiskLevel.String(),
		rep.FinancialHealth, rep.CostExposure, rep.FundingMomentum, rep.RunwayAdequacy,
		rep.RescueTriggered, rec.Alerted, int64(rec.RoundID),
	)
	if err != nil {
		return eris.Wrap(err, "insert solvency report")
	}
	return nil
}

func (r *SQLiteRecorder) RecordReserveCheck(rec model.ReserveRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO reserve_checks
		(timestamp, scope, project_id, claimed, reported, ratio_bps, status)
		VALUES (?,?,?,?,?,?,?)`,
		r.stamp(rec.Timestamp), "project", rec.ProjectID.String(),
		rec.ClaimedReserves.String(), rec.ReportedReserves.String(),
		rec.RatioBps, rec.Status.String(),
	)
	if err != nil {
		return eris.Wrap(err, "insert reserve check")
	}
	return nil
}

// RecordEngineCheck stores wei figures as decimal strings since they overflow INTEGER.
func (r *SQLiteRecorder) RecordEngineCheck(rec model.EngineReserveRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO reserve_checks
		(timestamp, scope, project_id, claimed, reported, ratio_bps, status)
		VALUES (?,?,?,?,?,?,?)`,
		r.stamp(rec.Timestamp), "engine", "",
		rec.ReportedDeposits.String(), rec.ContractBalance.String(),
		rec.RatioBps, rec.Status.String(),
	)
	if err != nil {
		return eris.Wrap(err, "insert engine check")
	}
	return nil
}

func (r *SQLiteRecorder) stamp(t time.Time) int64 {
	if t.IsZero() {
		return r.nowFn().Unix()
	}
	return t.Unix()
}

func (r *SQLiteRecorder) Close() error {
	zap.L().Info("closing sqlite recorder")
	return r.db.Close()
}
