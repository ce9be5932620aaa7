// Package journal persists every graded decision to sqlite. It is the
// long-memory complement to the knowledge base: the KB stores distilled
// rules and lessons, the journal stores the raw record that future
// pattern matching and return statistics are computed from.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quantpulse/tradingkb/internal/analyzer"
	"github.com/quantpulse/tradingkb/internal/id"
	"github.com/quantpulse/tradingkb/internal/kb"
)

type Journal struct {
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordDay stores one day's grades in a single transaction. The
// decision id is the primary key, so replaying a day after a crashed
// review upserts instead of duplicating rows.
func (j *Journal) RecordDay(date string, grades []kb.Grade) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("journal tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO graded_decisions
		(decision_id, date, symbol, action, skill_score, outcome_score, profitable, quadrant, actual_return, profit_loss)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal prepare: %w", err)
	}
	defer stmt.Close()

	for _, g := range grades {
		decID := g.DecisionID
		if decID == "" {
			decID = id.New()
		}
		quadrant := ""
		if g.Luck != nil {
			quadrant = string(g.Luck.Quadrant)
		}
		if _, err := stmt.Exec(
			decID, date, g.Analysis.Symbol, string(g.Analysis.Action),
			g.Analysis.SkillScore, g.Analysis.OutcomeScore, g.Analysis.Profitable,
			quadrant, g.ActualReturn, g.Analysis.ProfitLoss.String(),
		); err != nil {
			return fmt.Errorf("journal insert %s: %w", g.Analysis.Symbol, err)
		}
	}
	return tx.Commit()
}

// PastPatterns returns the full symbol/action/outcome history, oldest
// first, for the pattern-match component of skill scoring.
func (j *Journal) PastPatterns() ([]analyzer.Pattern, error) {
	rows, err := j.db.Query(`
		SELECT symbol, action, profitable
		FROM graded_decisions
		ORDER BY date, decision_id`)
	if err != nil {
		return nil, fmt.Errorf("journal patterns: %w", err)
	}
	defer rows.Close()

	var out []analyzer.Pattern
	for rows.Next() {
		var p analyzer.Pattern
		if err := rows.Scan(&p.Symbol, &p.Action, &p.Profitable); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Returns yields the symbol's most recent per-decision returns, oldest
// first, capped at limit. Luck statistics fit their distributions
// against a single symbol's history, never a pooled one.
func (j *Journal) Returns(symbol string, limit int) ([]float64, error) {
	rows, err := j.db.Query(`
		SELECT actual_return FROM (
			SELECT actual_return, date, decision_id
			FROM graded_decisions
			WHERE symbol = ?
			ORDER BY date DESC, decision_id DESC
			LIMIT ?
		) ORDER BY date, decision_id`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("journal returns: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DayCount reports how many distinct trading days the journal covers.
func (j *Journal) DayCount() (int, error) {
	var n int
	err := j.db.QueryRow(`SELECT COUNT(DISTINCT date) FROM graded_decisions`).Scan(&n)
	return n, err
}
