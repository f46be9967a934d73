// Package sqlite implements store.Store on an embedded SQLite database. It
// backs local runs and the test suites of the packages above it.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/khg9859/Eternal/internal/core"
	"github.com/khg9859/Eternal/internal/merge"
	"github.com/khg9859/Eternal/internal/query"
	"github.com/khg9859/Eternal/internal/store"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory database
	// exists per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the handle for maintenance statements.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) DropAll(ctx context.Context) error {
	for _, t := range store.Tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn in a transaction. The transaction is rolled back when fn
// returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(merge.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

// execEach runs one prepared statement per item and sums rows affected.
func execEach[T any](ctx context.Context, tx *sql.Tx, stmt string, items []T, args func(T) ([]any, error)) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	defer prepared.Close()

	var total int64
	for _, item := range items {
		a, err := args(item)
		if err != nil {
			return total, err
		}
		res, err := prepared.ExecContext(ctx, a...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (t *sqliteTx) InsertRespondents(ctx context.Context, ids []string) (int64, error) {
	return execEach(ctx, t.tx,
		`INSERT INTO respondents (id) VALUES (?) ON CONFLICT (id) DO NOTHING`,
		ids, func(id string) ([]any, error) { return []any{id}, nil })
}

func (t *sqliteTx) UpsertMetadata(ctx context.Context, rows []core.Metadata) (int64, error) {
	return execEach(ctx, t.tx, `
		INSERT INTO metadata (respondent_id, carrier, gender, birth_year, age, region)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (respondent_id) DO UPDATE SET
			carrier    = COALESCE(metadata.carrier, excluded.carrier),
			gender     = COALESCE(metadata.gender, excluded.gender),
			birth_year = COALESCE(metadata.birth_year, excluded.birth_year),
			age        = COALESCE(metadata.age, excluded.age),
			region     = COALESCE(metadata.region, excluded.region),
			updated_at = CURRENT_TIMESTAMP`,
		rows, func(m core.Metadata) ([]any, error) {
			return []any{m.RespondentID, m.Carrier, m.Gender, m.BirthYear, m.Age, m.Region}, nil
		})
}

// UpsertCodebooks replaces entries whole. A stored question vector survives
// only while title and choices are unchanged.
func (t *sqliteTx) UpsertCodebooks(ctx context.Context, entries []core.CodebookEntry) (int64, error) {
	return execEach(ctx, t.tx, `
		INSERT INTO codebooks (id, title, type, choices)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			question_vector = CASE
				WHEN codebooks.title IS excluded.title AND codebooks.choices IS excluded.choices
				THEN codebooks.question_vector END,
			title      = excluded.title,
			type       = excluded.type,
			choices    = excluded.choices,
			updated_at = CURRENT_TIMESTAMP`,
		entries, func(e core.CodebookEntry) ([]any, error) {
			choices, err := marshalChoices(e.Choices)
			if err != nil {
				return nil, err
			}
			return []any{e.ID, e.Title, nullString(e.Type), choices}, nil
		})
}

func (t *sqliteTx) DeleteAnswers(ctx context.Context, prefix string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+2)
	args = append(args, prefix, prefix)
	for _, id := range ids {
		args = append(args, id)
	}
	stmt := `DELETE FROM answers
		WHERE substr(question_id, 1, length(?)) = ?
		  AND respondent_id IN (` + placeholders(len(ids)) + `)`

	res, err := t.tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *sqliteTx) InsertAnswers(ctx context.Context, records []core.AnswerRecord) (int64, error) {
	return execEach(ctx, t.tx,
		`INSERT INTO answers (respondent_id, question_id, value) VALUES (?, ?, ?)`,
		records, func(r core.AnswerRecord) ([]any, error) {
			return []any{r.RespondentID, r.QuestionID, r.Value}, nil
		})
}

// ----------------------------------------------------------------------------
// Run ledger
// ----------------------------------------------------------------------------

func (s *Store) RecordRun(ctx context.Context, r store.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_runs (run_id, source, prefix, state, failed_phase, error,
			respondents, metadata, codebooks, answers, skipped_rows, fingerprint, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, source) DO UPDATE SET
			prefix = excluded.prefix, state = excluded.state, failed_phase = excluded.failed_phase,
			error = excluded.error, respondents = excluded.respondents, metadata = excluded.metadata,
			codebooks = excluded.codebooks, answers = excluded.answers, skipped_rows = excluded.skipped_rows,
			fingerprint = excluded.fingerprint, started_at = excluded.started_at, finished_at = excluded.finished_at`,
		r.RunID, r.Source, r.Prefix, string(r.State), string(r.FailedPhase), r.Error,
		r.Respondents, r.Metadata, r.Codebooks, r.Answers, r.SkippedRows, r.Fingerprint,
		formatTime(r.StartedAt), formatTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *Store) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, source, prefix, state, failed_phase, error, respondents, metadata,
			codebooks, answers, skipped_rows, fingerprint, started_at, finished_at
		FROM source_runs
		ORDER BY finished_at DESC, source
		LIMIT ?`, store.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var r store.Run
		var state, failed, started, finished string
		if err := rows.Scan(&r.RunID, &r.Source, &r.Prefix, &state, &failed, &r.Error,
			&r.Respondents, &r.Metadata, &r.Codebooks, &r.Answers, &r.SkippedRows,
			&r.Fingerprint, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.State, r.FailedPhase = core.Phase(state), core.Phase(failed)
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) LastFingerprint(ctx context.Context, source string) (string, bool, error) {
	var fp string
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint FROM source_runs
		WHERE source = ? AND state = ?
		ORDER BY finished_at DESC LIMIT 1`, source, string(core.PhaseDone)).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("last fingerprint: %w", err)
	}
	return fp, true, nil
}

func (s *Store) KnownPrefixes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT prefix, source FROM source_runs
		WHERE state = ? AND prefix <> ''`, string(core.PhaseDone))
	if err != nil {
		return nil, fmt.Errorf("known prefixes: %w", err)
	}
	defer rows.Close()

	known := make(map[string]string)
	for rows.Next() {
		var prefix, source string
		if err := rows.Scan(&prefix, &source); err != nil {
			return nil, err
		}
		known[prefix] = source
	}
	return known, rows.Err()
}

// ----------------------------------------------------------------------------
// Reads
// ----------------------------------------------------------------------------

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM respondents),
			(SELECT count(*) FROM metadata),
			(SELECT count(*) FROM respondents WHERE profile_vector IS NOT NULL),
			(SELECT count(*) FROM codebooks),
			(SELECT count(*) FROM answers)`).
		Scan(&st.Respondents, &st.WithMetadata, &st.Profiles, &st.Codebooks, &st.Answers)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}

	known, err := s.KnownPrefixes(ctx)
	if err != nil {
		return st, err
	}
	for _, prefix := range slices.Sorted(maps.Keys(known)) {
		ss := store.SourceStat{Source: known[prefix], Prefix: prefix}
		err := s.db.QueryRowContext(ctx, `
			SELECT
				(SELECT count(*) FROM codebooks WHERE substr(id, 1, length(?1)) = ?1),
				(SELECT count(*) FROM answers WHERE substr(question_id, 1, length(?1)) = ?1)`,
			prefix).Scan(&ss.Codebooks, &ss.Answers)
		if err != nil {
			return st, fmt.Errorf("stats %s: %w", prefix, err)
		}
		st.Sources = append(st.Sources, ss)
	}
	return st, nil
}

func (s *Store) Respondent(ctx context.Context, id string) (store.RespondentDetail, error) {
	d := store.RespondentDetail{ID: id, Metadata: core.Metadata{RespondentID: id}}

	err := s.db.QueryRowContext(ctx, `
		SELECT r.profile_vector IS NOT NULL, m.carrier, m.gender, m.birth_year, m.age, m.region
		FROM respondents r LEFT JOIN metadata m ON m.respondent_id = r.id
		WHERE r.id = ?`, id).
		Scan(&d.HasProfile, &d.Metadata.Carrier, &d.Metadata.Gender,
			&d.Metadata.BirthYear, &d.Metadata.Age, &d.Metadata.Region)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("respondent %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return d, fmt.Errorf("respondent %q: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, value FROM answers
		WHERE respondent_id = ?
		ORDER BY question_id, id`, id)
	if err != nil {
		return d, fmt.Errorf("answers of %q: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		a := core.AnswerRecord{RespondentID: id}
		if err := rows.Scan(&a.QuestionID, &a.Value); err != nil {
			return d, err
		}
		d.Answers = append(d.Answers, a)
	}
	return d, rows.Err()
}

func (s *Store) Codebook(ctx context.Context, id string) (core.CodebookEntry, error) {
	e := core.CodebookEntry{ID: id}
	var typ sql.NullString
	var choices string
	err := s.db.QueryRowContext(ctx,
		`SELECT title, type, choices FROM codebooks WHERE id = ?`, id).
		Scan(&e.Title, &typ, &choices)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("codebook %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return e, fmt.Errorf("codebook %q: %w", id, err)
	}
	e.Type = typ.String
	if err := json.Unmarshal([]byte(choices), &e.Choices); err != nil {
		return e, fmt.Errorf("decode choices of %q: %w", id, err)
	}
	return e, nil
}

func (s *Store) FindRespondents(ctx context.Context, filters []query.Filter, limit, offset int) ([]string, error) {
	wb := query.NewWhereBuilder(query.SQLite).Qualify("m")
	if err := wb.AddFilters(filters); err != nil {
		return nil, err
	}
	where, args := wb.Build()
	args = append(args, store.ClampLimit(limit), max(offset, 0))

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id FROM respondents r
		LEFT JOIN metadata m ON m.respondent_id = r.id`+where+`
		ORDER BY r.id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("find respondents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ----------------------------------------------------------------------------
// Profile vectors
// ----------------------------------------------------------------------------

// AnswerVectors streams answer vectors ordered by respondent. Rows whose
// vector does not decode are skipped.
func (s *Store) AnswerVectors(ctx context.Context, fn func(string, []float32) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT respondent_id, answer_vector FROM answers
		WHERE answer_vector IS NOT NULL
		ORDER BY respondent_id, id`)
	if err != nil {
		return fmt.Errorf("answer vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			continue
		}
		if err := fn(id, vec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) UpdateProfiles(ctx context.Context, profiles []store.ProfileVector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = execEach(ctx, tx,
		`UPDATE respondents SET profile_vector = ? WHERE id = ?`,
		profiles, func(p store.ProfileVector) ([]any, error) {
			raw, err := json.Marshal(p.Vector)
			if err != nil {
				return nil, err
			}
			return []any{string(raw), p.RespondentID}, nil
		})
	if err != nil {
		return fmt.Errorf("update profiles: %w", err)
	}
	return tx.Commit()
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalChoices(choices []core.Choice) (string, error) {
	if choices == nil {
		choices = []core.Choice{}
	}
	raw, err := json.Marshal(choices)
	return string(raw), err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
