package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS presets (
	name TEXT PRIMARY KEY,
	definition TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS preset_runs (
	run_id TEXT PRIMARY KEY,
	preset_name TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	FOREIGN KEY (preset_name) REFERENCES presets(name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_preset_runs_name ON preset_runs(preset_name, started_at);
`
