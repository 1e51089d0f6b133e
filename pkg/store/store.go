// Package store implements the persistent state store as a small key-value
// layer over SQLite, plus append-only tables for risk audit records and
// retrain events. Last-write-wins per key; no transactions are exposed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// Store wraps the SQL handle for easier swapping/testing.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: database path is empty")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying DB handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS risk_audit (
			id         TEXT PRIMARY KEY,
			ts         TIMESTAMP NOT NULL,
			symbol     TEXT NOT NULL,
			verdict    TEXT NOT NULL,
			reason     TEXT,
			requested  REAL NOT NULL,
			approved   REAL NOT NULL,
			stop_loss  REAL NOT NULL,
			take_profit REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS retrain_events (
			id           TEXT PRIMARY KEY,
			ts           TIMESTAMP NOT NULL,
			from_version INTEGER NOT NULL,
			to_version   INTEGER NOT NULL,
			outcome      TEXT NOT NULL,
			accuracy     REAL NOT NULL,
			detail       TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Put writes value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the value last written under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// RiskRecord is one audit entry for a gated action.
type RiskRecord struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"ts"`
	Symbol     string    `json:"symbol"`
	Verdict    string    `json:"verdict"` // APPROVED, CLAMPED, REJECTED
	Reason     string    `json:"reason,omitempty"`
	Requested  float64   `json:"requested"`
	Approved   float64   `json:"approved"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
}

// AppendRiskRecord persists one audit record.
func (s *Store) AppendRiskRecord(ctx context.Context, r RiskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_audit (id, ts, symbol, verdict, reason, requested, approved, stop_loss, take_profit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Timestamp, r.Symbol, r.Verdict, r.Reason, r.Requested, r.Approved, r.StopLoss, r.TakeProfit)
	if err != nil {
		return fmt.Errorf("append risk record: %w", err)
	}
	return nil
}

// RetrainEvent is one adaptation outcome, success or failure.
type RetrainEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"ts"`
	FromVersion uint64    `json:"from_version"`
	ToVersion   uint64    `json:"to_version"`
	Outcome     string    `json:"outcome"` // PROMOTED, REJECTED, FAILED
	Accuracy    float64   `json:"accuracy"`
	Detail      string    `json:"detail,omitempty"`
}

// AppendRetrainEvent persists one retrain outcome.
func (s *Store) AppendRetrainEvent(ctx context.Context, e RetrainEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retrain_events (id, ts, from_version, to_version, outcome, accuracy, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Timestamp, e.FromVersion, e.ToVersion, e.Outcome, e.Accuracy, e.Detail)
	if err != nil {
		return fmt.Errorf("append retrain event: %w", err)
	}
	return nil
}

// RecentRiskRecords returns the newest audit records, newest first.
func (s *Store) RecentRiskRecords(ctx context.Context, limit int) ([]RiskRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, symbol, verdict, reason, requested, approved, stop_loss, take_profit
		FROM risk_audit ORDER BY ts DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list risk records: %w", err)
	}
	defer rows.Close()

	var out []RiskRecord
	for rows.Next() {
		var r RiskRecord
		var reason sql.NullString
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Symbol, &r.Verdict, &reason,
			&r.Requested, &r.Approved, &r.StopLoss, &r.TakeProfit); err != nil {
			return nil, err
		}
		r.Reason = reason.String
		out = append(out, r)
	}
	return out, rows.Err()
}
