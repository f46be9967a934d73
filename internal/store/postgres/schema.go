package postgres

// Vector columns are REAL[]; embedding dimensions are owned by the writer.
const schema = `
CREATE TABLE IF NOT EXISTS respondents (
	id             TEXT PRIMARY KEY,
	profile_vector REAL[],
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS metadata (
	respondent_id TEXT PRIMARY KEY REFERENCES respondents(id) ON DELETE CASCADE,
	carrier       TEXT,
	gender        TEXT,
	birth_year    INTEGER,
	age           INTEGER,
	region        TEXT,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS codebooks (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	type            TEXT,
	choices         JSONB NOT NULL DEFAULT '[]',
	question_vector REAL[],
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS answers (
	id            BIGSERIAL PRIMARY KEY,
	respondent_id TEXT NOT NULL REFERENCES respondents(id) ON DELETE CASCADE,
	question_id   TEXT NOT NULL,
	value         TEXT NOT NULL,
	answer_vector REAL[]
);
CREATE INDEX IF NOT EXISTS answers_respondent_idx ON answers (respondent_id);
CREATE INDEX IF NOT EXISTS answers_question_idx ON answers (question_id text_pattern_ops);

CREATE TABLE IF NOT EXISTS source_runs (
	run_id       TEXT NOT NULL,
	source       TEXT NOT NULL,
	prefix       TEXT NOT NULL,
	state        TEXT NOT NULL,
	failed_phase TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	respondents  BIGINT NOT NULL DEFAULT 0,
	metadata     BIGINT NOT NULL DEFAULT 0,
	codebooks    BIGINT NOT NULL DEFAULT 0,
	answers      BIGINT NOT NULL DEFAULT 0,
	skipped_rows BIGINT NOT NULL DEFAULT 0,
	fingerprint  TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, source)
);
CREATE INDEX IF NOT EXISTS source_runs_source_idx ON source_runs (source, finished_at DESC);
`
