package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// TickLog journals one row per engine tick.
type TickLog struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// TickRecord summarizes a single tick.
type TickRecord struct {
	ID          int64             `json:"id"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration_ms"`
	Active      int               `json:"active"`
	Evaluated   int               `json:"evaluated"`
	Triggered   int               `json:"triggered"`
	Fired       int               `json:"fired"`
	Failed      int               `json:"failed"`
	Expired     int               `json:"expired"`
	PriceErrors int               `json:"price_errors"`
	Prices      map[string]string `json:"prices,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func NewTickLog(path string) (*TickLog, error) {
	if path == "" {
		return nil, fmt.Errorf("tick log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureTickLogSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &TickLog{db: db, path: path}, nil
}

func (s *TickLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureTickLogSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			active INTEGER NOT NULL,
			evaluated INTEGER NOT NULL,
			triggered INTEGER NOT NULL,
			fired INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			expired INTEGER NOT NULL,
			price_errors INTEGER NOT NULL,
			prices_json TEXT,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_started_at ON ticks(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("tick log schema: %w", err)
		}
	}
	return nil
}

// Insert stores rec and returns its row id.
func (s *TickLog) Insert(ctx context.Context, rec TickRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("tick log closed")
	}
	var prices []byte
	if len(rec.Prices) > 0 {
		var err error
		if prices, err = json.Marshal(rec.Prices); err != nil {
			return 0, err
		}
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO ticks
		(started_at, duration_ms, active, evaluated, triggered, fired, failed, expired, price_errors, prices_json, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StartedAt.UnixMilli(), rec.Duration.Milliseconds(), rec.Active, rec.Evaluated, rec.Triggered,
		rec.Fired, rec.Failed, rec.Expired, rec.PriceErrors, nullString(string(prices)), nullString(rec.Error))
	if err != nil {
		return 0, fmt.Errorf("insert tick: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the newest ticks first.
func (s *TickLog) Recent(ctx context.Context, limit int) ([]TickRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("tick log closed")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, duration_ms, active, evaluated, triggered,
		fired, failed, expired, price_errors, prices_json, error
		FROM ticks ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickRecord
	for rows.Next() {
		var (
			rec       TickRecord
			startedMs int64
			durMs     int64
			prices    sql.NullString
			errText   sql.NullString
		)
		if err := rows.Scan(&rec.ID, &startedMs, &durMs, &rec.Active, &rec.Evaluated, &rec.Triggered,
			&rec.Fired, &rec.Failed, &rec.Expired, &rec.PriceErrors, &prices, &errText); err != nil {
			return nil, err
		}
		rec.StartedAt = time.UnixMilli(startedMs)
		rec.Duration = time.Duration(durMs) * time.Millisecond
		rec.Error = errText.String
		if prices.Valid && prices.String != "" {
			if err := json.Unmarshal([]byte(prices.String), &rec.Prices); err != nil {
				return nil, fmt.Errorf("decode tick %d prices: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes ticks that started before cutoff.
func (s *TickLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("tick log closed")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM ticks WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
