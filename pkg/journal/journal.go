// Package journal keeps a SQLite record of cycle runs and the report lines
// they produced. It is a log for operators, never state to resume from.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"churnrig/pkg/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER,
	outcome    TEXT NOT NULL DEFAULT 'running'
);
CREATE TABLE IF NOT EXISTS reports (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL DEFAULT '',
	at     INTEGER NOT NULL,
	text   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_run ON reports(run_id);
`

// Run is one cycle as recorded in the journal.
type Run struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Outcome   string     `json:"outcome"`
	Reports   int        `json:"reports"`
}

// Entry is one report line.
type Entry struct {
	RunID string    `json:"run_id,omitempty"`
	At    time.Time `json:"at"`
	Text  string    `json:"text"`
}

// Journal is a telemetry Sink and RunObserver backed by SQLite. Write
// failures are logged and otherwise ignored.
type Journal struct {
	db  *sql.DB
	log *log.Logger
	now func() time.Time

	mu  sync.Mutex
	run string
}

// Open opens or creates the journal at path. ":memory:" keeps it in RAM.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection: an in-memory database exists per connection, and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return &Journal{db: db, log: log.GetLogger("journal"), now: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Report stores text under the current run, if any.
func (j *Journal) Report(text string) {
	j.mu.Lock()
	run := j.run
	j.mu.Unlock()
	_, err := j.db.Exec("INSERT INTO reports (run_id, at, text) VALUES (?, ?, ?)",
		run, j.now().UnixNano(), text)
	if err != nil {
		j.log.WithError(err).Warn("failed to store report")
	}
}

func (j *Journal) RunStarted(runID string, at time.Time) {
	j.mu.Lock()
	j.run = runID
	j.mu.Unlock()
	_, err := j.db.Exec("INSERT OR REPLACE INTO runs (id, started_at) VALUES (?, ?)", runID, at.UnixNano())
	if err != nil {
		j.log.WithError(err).WithField("run", runID).Warn("failed to store run start")
	}
}

func (j *Journal) RunEnded(runID, outcome string, at time.Time) {
	j.mu.Lock()
	if j.run == runID {
		j.run = ""
	}
	j.mu.Unlock()
	_, err := j.db.Exec("UPDATE runs SET ended_at = ?, outcome = ? WHERE id = ?", at.UnixNano(), outcome, runID)
	if err != nil {
		j.log.WithError(err).WithField("run", runID).Warn("failed to store run end")
	}
}

// Runs returns up to limit runs, newest first.
func (j *Journal) Runs(limit int) ([]Run, error) {
	rows, err := j.db.Query(`
		SELECT r.id, r.started_at, r.ended_at, r.outcome,
		       (SELECT COUNT(*) FROM reports p WHERE p.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC
		LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &started, &ended, &r.Outcome, &r.Reports); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		if ended.Valid {
			t := time.Unix(0, ended.Int64)
			r.EndedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reports returns the newest limit report lines, oldest first. An empty
// runID selects lines from every run.
func (j *Journal) Reports(runID string, limit int) ([]Entry, error) {
	query := "SELECT run_id, at, text FROM reports ORDER BY id DESC LIMIT ?"
	args := []interface{}{limitOrAll(limit)}
	if runID != "" {
		query = "SELECT run_id, at, text FROM reports WHERE run_id = ? ORDER BY id DESC LIMIT ?"
		args = append([]interface{}{runID}, args...)
	}
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			at int64
		)
		if err := rows.Scan(&e.RunID, &at, &e.Text); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
