package journal

const Schema = `
CREATE TABLE IF NOT EXISTS graded_decisions (
	decision_id TEXT PRIMARY KEY,
	date TEXT NOT NULL,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	skill_score INTEGER NOT NULL,
	outcome_score INTEGER NOT NULL,
	profitable INTEGER NOT NULL,
	quadrant TEXT NOT NULL DEFAULT '',
	actual_return REAL NOT NULL DEFAULT 0,
	profit_loss TEXT NOT NULL DEFAULT '0'
);

CREATE INDEX IF NOT EXISTS idx_graded_symbol_action ON graded_decisions(symbol, action);
CREATE INDEX IF NOT EXISTS idx_graded_date ON graded_decisions(date);
`
