package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/campaign/internal/params"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS results (
    campaign    TEXT    NOT NULL,
    point_key   TEXT    NOT NULL,
    rep         INTEGER NOT NULL,
    point       TEXT    NOT NULL,
    fields      TEXT    NOT NULL,
    recorded_at TEXT    NOT NULL,
    PRIMARY KEY (campaign, point_key, rep)
);

CREATE TABLE IF NOT EXISTS metadata (
    campaign TEXT NOT NULL,
    key      TEXT NOT NULL,
    value    TEXT NOT NULL,
    PRIMARY KEY (campaign, key)
);
`

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path of the database file.
	Path string

	// Campaign scopes rows: continuation only sees rows of the same name.
	Campaign string

	// Metadata is stored once at open, replacing previous values.
	Metadata []Meta

	// Continue keeps existing rows of the campaign. Without it they are
	// deleted at open.
	Continue bool

	Logger *log.Logger
}

// SQLiteStore is a RecordStore backed by an embedded SQLite database.
// Rows are keyed by (campaign, point, rep); appending the same key twice
// replaces the earlier row.
type SQLiteStore struct {
	conn     *sql.DB
	path     string
	campaign string
	logger   *log.Logger
}

// Row is one stored result.
type Row struct {
	Point      map[string]any
	Rep        int
	Fields     map[string]any
	RecordedAt time.Time
}

// OpenSQLite opens or creates the database at cfg.Path.
//
// The caller MUST call Close() so the WAL is checkpointed.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Campaign == "" {
		return nil, fmt.Errorf("campaign name is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// One writer at a time per campaign.
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{conn: conn, path: cfg.Path, campaign: cfg.Campaign, logger: cfg.Logger}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if !cfg.Continue {
		res, err := conn.Exec(`DELETE FROM results WHERE campaign = ?`, cfg.Campaign)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to reset campaign rows: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Printf("Warning: discarded %d previous rows of campaign %q", n, cfg.Campaign)
		}
	}
	if err := s.putMeta(cfg.Metadata); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// HasCompleted reports whether the campaign already holds a row for (point, rep).
func (s *SQLiteStore) HasCompleted(point params.Record, rep int) (bool, error) {
	if s.conn == nil {
		return false, ErrClosed
	}
	var one int
	err := s.conn.QueryRow(
		`SELECT 1 FROM results WHERE campaign = ? AND point_key = ? AND rep = ?`,
		s.campaign, point.Key(), rep,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query result: %w", err)
	}
	return true, nil
}

// Append stores one row. Values are stored in canonical string form for the
// point and as JSON for fields.
func (s *SQLiteStore) Append(point params.Record, rep int, fields map[string]any) error {
	if s.conn == nil {
		return ErrClosed
	}
	pointJSON, err := json.Marshal(point.Strings())
	if err != nil {
		return fmt.Errorf("failed to encode point: %w", err)
	}
	fieldsJSON, err := json.Marshal(jsonFields(fields))
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT OR REPLACE INTO results (campaign, point_key, rep, point, fields, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.campaign, point.Key(), rep, string(pointJSON), string(fieldsJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// jsonFields replaces the floats JSON cannot hold (NaN, +Inf, -Inf) by
// their canonical string form, the one the CSV stream holds.
func jsonFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch x := v.(type) {
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				v = params.Format(x)
			}
		case float32:
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				v = params.Format(x)
			}
		}
		out[k] = v
	}
	return out
}

// Finish stores meta as campaign metadata.
func (s *SQLiteStore) Finish(meta []Meta) error {
	if s.conn == nil {
		return ErrClosed
	}
	return s.putMeta(meta)
}

func (s *SQLiteStore) putMeta(meta []Meta) error {
	if len(meta) == 0 {
		return nil
	}
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range meta {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO metadata (campaign, key, value) VALUES (?, ?, ?)`,
			s.campaign, m.Key, m.Value,
		); err != nil {
			return fmt.Errorf("failed to store metadata %s: %w", m.Key, err)
		}
	}
	return tx.Commit()
}

// Metadata returns the campaign metadata sorted by key.
func (s *SQLiteStore) Metadata() ([]Meta, error) {
	if s.conn == nil {
		return nil, ErrClosed
	}
	rows, err := s.conn.Query(`SELECT key, value FROM metadata WHERE campaign = ? ORDER BY key`, s.campaign)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	var out []Meta
	for rows.Next() {
		var m Meta
		if err := rows.Scan(&m.Key, &m.Value); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Rows returns the campaign rows in insertion order.
func (s *SQLiteStore) Rows() ([]Row, error) {
	if s.conn == nil {
		return nil, ErrClosed
	}
	rows, err := s.conn.Query(`
		SELECT point, rep, fields, recorded_at FROM results
		WHERE campaign = ?
		ORDER BY rowid
	`, s.campaign)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r                     Row
			pointJSON, fieldsJSON string
			recordedAt            string
		)
		if err := rows.Scan(&pointJSON, &r.Rep, &fieldsJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(pointJSON), &r.Point); err != nil {
			return nil, fmt.Errorf("failed to decode point: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &r.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields: %w", err)
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Table renders the campaign rows the way a CSV stream would hold them:
// point columns, rep, then every field name seen, sorted.
func (s *SQLiteStore) Table() (*Table, error) {
	rows, err := s.Rows()
	if err != nil {
		return nil, err
	}
	meta, err := s.Metadata()
	if err != nil {
		return nil, err
	}

	t := &Table{Meta: meta}
	if len(rows) == 0 {
		return t, nil
	}
	pointCols := sortedMapKeys(rows[0].Point)
	seen := make(map[string]bool)
	var fieldCols []string
	for _, r := range rows {
		for k := range r.Fields {
			if _, isPoint := r.Point[k]; !isPoint && k != RepColumn && !seen[k] {
				seen[k] = true
				fieldCols = append(fieldCols, k)
			}
		}
	}
	sort.Strings(fieldCols)
	t.Header = append(append(pointCols, RepColumn), fieldCols...)

	for _, r := range rows {
		row := make([]string, 0, len(t.Header))
		for _, c := range pointCols {
			row = append(row, params.Format(r.Point[c]))
		}
		row = append(row, fmt.Sprint(r.Rep))
		for _, c := range fieldCols {
			if v, ok := r.Fields[c]; ok {
				row = append(row, params.Format(v))
			} else {
				row = append(row, "")
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func sortedMapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}
