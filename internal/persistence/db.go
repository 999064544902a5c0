// Package persistence stores simulation runs in SQLite and journals every
// started activity to compressed JSONL files.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/engine"
)

// DB wraps a SQLite connection for run storage.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		start TEXT NOT NULL,
		days INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		agents INTEGER NOT NULL,
		config_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		agent INTEGER NOT NULL,
		kind TEXT NOT NULL,
		label TEXT NOT NULL,
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL,
		location TEXT NOT NULL,
		cancelled INTEGER NOT NULL,
		reason TEXT NOT NULL,
		hospitalized INTEGER NOT NULL,
		dies INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS days (
		run_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		date TEXT NOT NULL,
		stats_json TEXT NOT NULL,
		PRIMARY KEY (run_id, day)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		time INTEGER NOT NULL,
		agent INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS outcomes (
		run_id TEXT NOT NULL,
		agent INTEGER NOT NULL,
		alive INTEGER NOT NULL,
		hospital TEXT NOT NULL,
		health_json TEXT NOT NULL,
		PRIMARY KEY (run_id, agent)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activities_run_agent ON activities(run_id, agent, start_at);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, time);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// RunRow describes one stored run.
type RunRow struct {
	ID         string `db:"id" json:"id"`
	CreatedAt  string `db:"created_at" json:"created_at"`
	Start      string `db:"start" json:"start"`
	Days       int    `db:"days" json:"days"`
	Seed       int64  `db:"seed" json:"seed"`
	Agents     int    `db:"agents" json:"agents"`
	ConfigJSON string `db:"config_json" json:"-"`
}

// SaveRun records the run's identity and configuration.
func (db *DB) SaveRun(sim *engine.Simulation) error {
	cfg, err := json.Marshal(sim.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = db.conn.Exec(`INSERT OR REPLACE INTO runs
		(id, created_at, start, days, seed, agents, config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sim.RunID,
		time.Now().UTC().Format(time.RFC3339),
		sim.Start().Format(time.RFC3339),
		sim.Config.Simulation.Days,
		sim.Config.Simulation.Seed,
		len(sim.Agents),
		string(cfg),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", sim.RunID, err)
	}
	return db.SaveMeta("last_run", sim.RunID)
}

// Runs lists stored runs, newest first.
func (db *DB) Runs() ([]RunRow, error) {
	var runs []RunRow
	err := db.conn.Select(&runs, "SELECT * FROM runs ORDER BY created_at DESC, id")
	return runs, err
}

// ActivityRow is a stored activity record.
type ActivityRow struct {
	RunID        string `db:"run_id"`
	Agent        int64  `db:"agent"`
	Kind         string `db:"kind"`
	Label        string `db:"label"`
	Start        int64  `db:"start_at"`
	End          int64  `db:"end_at"`
	Location     string `db:"location"`
	Cancelled    bool   `db:"cancelled"`
	Reason       string `db:"reason"`
	Hospitalized bool   `db:"hospitalized"`
	Dies         bool   `db:"dies"`
}

// Record converts the row back to an activity record.
func (r ActivityRow) Record() engine.ActivityRecord {
	return engine.ActivityRecord{
		Agent:        agents.AgentID(r.Agent),
		Kind:         r.Kind,
		Label:        r.Label,
		Start:        time.Unix(r.Start, 0).UTC(),
		End:          time.Unix(r.End, 0).UTC(),
		Location:     r.Location,
		Cancelled:    r.Cancelled,
		Reason:       r.Reason,
		Hospitalized: r.Hospitalized,
		Dies:         r.Dies,
	}
}

// SaveActivities appends activity records of a run.
func (db *DB) SaveActivities(runID string, recs []engine.ActivityRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO activities
		(run_id, agent, kind, label, start_at, end_at, location, cancelled, reason, hospitalized, dies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		_, err := stmt.Exec(
			runID, int64(r.Agent), r.Kind, r.Label,
			r.Start.Unix(), r.End.Unix(), r.Location,
			r.Cancelled, r.Reason, r.Hospitalized, r.Dies,
		)
		if err != nil {
			return fmt.Errorf("insert activity of agent %d: %w", r.Agent, err)
		}
	}

	return tx.Commit()
}

// Activities returns an agent's stored activities in start order.
func (db *DB) Activities(runID string, agent agents.AgentID) ([]engine.ActivityRecord, error) {
	var rows []ActivityRow
	err := db.conn.Select(&rows, `SELECT run_id, agent, kind, label, start_at, end_at, location,
		cancelled, reason, hospitalized, dies
		FROM activities WHERE run_id = ? AND agent = ? ORDER BY start_at, id`,
		runID, int64(agent),
	)
	if err != nil {
		return nil, err
	}
	out := make([]engine.ActivityRecord, len(rows))
	for i, r := range rows {
		out[i] = r.Record()
	}
	return out, nil
}

// SaveDay stores a daily report.
func (db *DB) SaveDay(rep engine.DayReport) error {
	stats, err := json.Marshal(rep.Stats)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO days (run_id, day, date, stats_json) VALUES (?, ?, ?, ?)",
		rep.RunID, rep.Day, rep.Date.Format(time.DateOnly), string(stats),
	)
	return err
}

// Days returns the daily reports of a run in order.
func (db *DB) Days(runID string) ([]engine.DayReport, error) {
	var rows []struct {
		RunID     string `db:"run_id"`
		Day       int    `db:"day"`
		Date      string `db:"date"`
		StatsJSON string `db:"stats_json"`
	}
	if err := db.conn.Select(&rows, "SELECT * FROM days WHERE run_id = ? ORDER BY day", runID); err != nil {
		return nil, err
	}
	out := make([]engine.DayReport, 0, len(rows))
	for _, r := range rows {
		date, err := time.Parse(time.DateOnly, r.Date)
		if err != nil {
			return nil, fmt.Errorf("day %d: %w", r.Day, err)
		}
		rep := engine.DayReport{RunID: r.RunID, Day: r.Day, Date: date}
		if err := json.Unmarshal([]byte(r.StatsJSON), &rep.Stats); err != nil {
			return nil, fmt.Errorf("day %d: %w", r.Day, err)
		}
		out = append(out, rep)
	}
	return out, nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(runID string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			"INSERT INTO events (run_id, time, agent, description, category) VALUES (?, ?, ?, ?, ?)",
			runID, e.Time.Unix(), int64(e.Agent), e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentEvents returns the most recent N events of a run, newest first.
func (db *DB) RecentEvents(runID string, limit int) ([]engine.Event, error) {
	var rows []struct {
		Time        int64  `db:"time"`
		Agent       int64  `db:"agent"`
		Description string `db:"description"`
		Category    string `db:"category"`
	}
	err := db.conn.Select(&rows,
		"SELECT time, agent, description, category FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?",
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Event, len(rows))
	for i, r := range rows {
		out[i] = engine.Event{
			Time:        time.Unix(r.Time, 0).UTC(),
			Agent:       agents.AgentID(r.Agent),
			Description: r.Description,
			Category:    r.Category,
		}
	}
	return out, nil
}

// SaveOutcomes writes every agent's final health state (full replace for
// the run).
func (db *DB) SaveOutcomes(runID string, summaries []engine.AgentSummary) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM outcomes WHERE run_id = ?", runID); err != nil {
		return err
	}
	stmt, err := tx.Preparex(`INSERT INTO outcomes (run_id, agent, alive, hospital, health_json)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range summaries {
		health, _ := json.Marshal(s.Health)
		if _, err := stmt.Exec(runID, int64(s.ID), s.Alive, s.Hospital, string(health)); err != nil {
			return fmt.Errorf("insert outcome %d: %w", s.ID, err)
		}
	}

	return tx.Commit()
}

// Deaths returns how many agents of a run ended dead.
func (db *DB) Deaths(runID string) (int, error) {
	var n int
	err := db.conn.Get(&n, "SELECT COUNT(*) FROM outcomes WHERE run_id = ? AND alive = 0", runID)
	return n, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

// SaveRunState writes the final state of a run: outcomes and the recent
// events still held in memory.
func (db *DB) SaveRunState(sim *engine.Simulation) error {
	summaries := sim.Summaries()
	slog.Info("saving run state", "run", sim.RunID, "agents", len(summaries))

	if err := db.SaveOutcomes(sim.RunID, summaries); err != nil {
		return fmt.Errorf("save outcomes: %w", err)
	}
	if err := db.SaveEvents(sim.RunID, sim.RecentEvents(0)); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if err := db.SaveMeta("last_time", sim.Now().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("run state saved", "run", sim.RunID)
	return nil
}

// Recorder is an engine observer that buffers a day's activities and
// writes them together with the daily report.
type Recorder struct {
	db    *DB
	runID string

	mu      sync.Mutex
	pending []engine.ActivityRecord
	err     error
}

// NewRecorder returns a recorder writing into db under runID.
func (db *DB) NewRecorder(runID string) *Recorder {
	return &Recorder{db: db, runID: runID}
}

// ObserveActivity buffers rec until the day ends.
func (r *Recorder) ObserveActivity(rec engine.ActivityRecord) {
	r.mu.Lock()
	r.pending = append(r.pending, rec)
	r.mu.Unlock()
}

// ObserveDay writes the buffered activities and the report.
func (r *Recorder) ObserveDay(rep engine.DayReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushLocked(); err != nil {
		return
	}
	if err := r.db.SaveDay(rep); err != nil {
		r.fail(fmt.Errorf("save day %d: %w", rep.Day, err))
	}
}

// Flush writes any buffered activities.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushLocked(); err != nil {
		return err
	}
	return r.err
}

func (r *Recorder) flushLocked() error {
	if err := r.db.SaveActivities(r.runID, r.pending); err != nil {
		r.fail(fmt.Errorf("save activities: %w", err))
		return err
	}
	r.pending = r.pending[:0]
	return nil
}

// fail keeps the first error; the engine cannot receive it.
func (r *Recorder) fail(err error) {
	slog.Error("recorder write failed", "run", r.runID, "err", err)
	if r.err == nil {
		r.err = err
	}
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
