package sqlite

// Vectors are stored as JSON arrays of float32.
const schema = `
CREATE TABLE IF NOT EXISTS respondents (
	id             TEXT PRIMARY KEY,
	profile_vector TEXT,
	created_at     TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
	respondent_id TEXT PRIMARY KEY REFERENCES respondents(id) ON DELETE CASCADE,
	carrier       TEXT,
	gender        TEXT,
	birth_year    INTEGER,
	age           INTEGER,
	region        TEXT,
	updated_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS codebooks (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	type            TEXT,
	choices         TEXT NOT NULL DEFAULT '[]',
	question_vector TEXT,
	updated_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS answers (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	respondent_id TEXT NOT NULL REFERENCES respondents(id) ON DELETE CASCADE,
	question_id   TEXT NOT NULL,
	value         TEXT NOT NULL,
	answer_vector TEXT
);
CREATE INDEX IF NOT EXISTS answers_respondent_idx ON answers (respondent_id);
CREATE INDEX IF NOT EXISTS answers_question_idx ON answers (question_id);

CREATE TABLE IF NOT EXISTS source_runs (
	run_id       TEXT NOT NULL,
	source       TEXT NOT NULL,
	prefix       TEXT NOT NULL,
	state        TEXT NOT NULL,
	failed_phase TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	respondents  INTEGER NOT NULL DEFAULT 0,
	metadata     INTEGER NOT NULL DEFAULT 0,
	codebooks    INTEGER NOT NULL DEFAULT 0,
	answers      INTEGER NOT NULL DEFAULT 0,
	skipped_rows INTEGER NOT NULL DEFAULT 0,
	fingerprint  TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL,
	PRIMARY KEY (run_id, source)
);
CREATE INDEX IF NOT EXISTS source_runs_source_idx ON source_runs (source, finished_at);
`
