// Package rulestore reads alert rule definitions from the SQLite CRUD
// store. Rules are owned and mutated elsewhere (the management UI writes
// them); the pipeline only bulk-reads enabled rules on a refresh cadence.
package rulestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signalwatch/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Store provides read access to rules and a cached view refreshed on a
// fixed cadence.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	mu    sync.RWMutex
	rules []model.Rule
}

// Open opens the rule database, creating the schema if missing.
func Open(dbPath string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("rulestore open: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("rulestore schema: %w", err)
	}

	s := &Store{db: db, log: log.With(slog.String("component", "rulestore"))}
	s.log.Info("rule store opened", slog.String("path", dbPath))
	return s, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rules (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT    NOT NULL,
			enabled    INTEGER NOT NULL DEFAULT 1,
			action     TEXT    NOT NULL,
			combinator TEXT    NOT NULL DEFAULT 'AND'
		);

		CREATE TABLE IF NOT EXISTS conditions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_id       INTEGER NOT NULL REFERENCES rules(id) ON DELETE CASCADE,
			indicator_key TEXT    NOT NULL,
			operator      TEXT    NOT NULL,
			operand       REAL    NOT NULL DEFAULT 0,
			operand_high  REAL    NOT NULL DEFAULT 0,
			compare_key   TEXT    NOT NULL DEFAULT '',
			lookback      INTEGER NOT NULL DEFAULT 1
		);
	`)
	return err
}

// DB exposes the underlying handle for liveness checks.
func (s *Store) DB() *sql.DB { return s.db }

// Load bulk-reads all enabled rules with their conditions, ordered by id.
func (s *Store) Load(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, enabled, action, combinator
		FROM rules
		WHERE enabled = 1
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("rulestore query rules: %w", err)
	}
	defer rows.Close()

	var rules []model.Rule
	byID := make(map[int64]int)
	for rows.Next() {
		var r model.Rule
		var enabled int
		if err := rows.Scan(&r.ID, &r.Name, &enabled, &r.Action, &r.Combinator); err != nil {
			return nil, fmt.Errorf("rulestore scan rule: %w", err)
		}
		r.Enabled = enabled != 0
		byID[r.ID] = len(rules)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	condRows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, indicator_key, operator, operand, operand_high, compare_key, lookback
		FROM conditions
		ORDER BY rule_id ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("rulestore query conditions: %w", err)
	}
	defer condRows.Close()

	for condRows.Next() {
		var c model.Condition
		var ruleID int64
		if err := condRows.Scan(&c.ID, &ruleID, &c.IndicatorKey, &c.Operator,
			&c.Operand, &c.OperandHigh, &c.CompareKey, &c.Lookback); err != nil {
			return nil, fmt.Errorf("rulestore scan condition: %w", err)
		}
		if idx, ok := byID[ruleID]; ok {
			rules[idx].Conditions = append(rules[idx].Conditions, c)
		}
	}
	if err := condRows.Err(); err != nil {
		return nil, err
	}

	// A rule without conditions can never trigger — drop it here so the
	// rule engine only ever sees well-formed rules.
	out := rules[:0]
	for _, r := range rules {
		if len(r.Conditions) > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

// Refresh reloads the cached rule view. Errors keep the previous view.
func (s *Store) Refresh(ctx context.Context) error {
	rules, err := s.Load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	return nil
}

// Rules returns the cached enabled rules. The slice is shared — callers
// must not mutate it.
func (s *Store) Rules() []model.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// Run refreshes the cached view on the given cadence until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.log.Warn("rule refresh failed", slog.Any("error", err))
			}
		}
	}
}

// SeedRule inserts a rule with its conditions. Used by the demo binary and
// tests only — the pipeline itself never writes rule definitions.
func (s *Store) SeedRule(ctx context.Context, r model.Rule) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	res, err := tx.Exec(`INSERT INTO rules (name, enabled, action, combinator) VALUES (?, ?, ?, ?)`,
		r.Name, enabled, string(r.Action), string(r.Combinator))
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return 0, err
	}

	for _, c := range r.Conditions {
		_, err := tx.Exec(`
			INSERT INTO conditions (rule_id, indicator_key, operator, operand, operand_high, compare_key, lookback)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, c.IndicatorKey, string(c.Operator), c.Operand, c.OperandHigh, c.CompareKey, c.Lookback)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
	}

	return id, tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
