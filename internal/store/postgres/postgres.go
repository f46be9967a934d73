// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khg9859/Eternal/internal/config"
	"github.com/khg9859/Eternal/internal/core"
	"github.com/khg9859/Eternal/internal/merge"
	"github.com/khg9859/Eternal/internal/query"
	"github.com/khg9859/Eternal/internal/store"
)

// Store is a Postgres-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open creates a pool from cfg, verifies the connection and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) DropAll(ctx context.Context) error {
	for _, t := range store.Tables {
		if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{t}.Sanitize()+" CASCADE"); err != nil {
			return fmt.Errorf("drop %s: %w", t, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// WithTx runs fn in a transaction, rolled back when fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(merge.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertRespondents(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO respondents (id)
		SELECT unnest($1::text[])
		ON CONFLICT (id) DO NOTHING`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const upsertMetadataSQL = `
	INSERT INTO metadata (respondent_id, carrier, gender, birth_year, age, region)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (respondent_id) DO UPDATE SET
		carrier    = COALESCE(metadata.carrier, EXCLUDED.carrier),
		gender     = COALESCE(metadata.gender, EXCLUDED.gender),
		birth_year = COALESCE(metadata.birth_year, EXCLUDED.birth_year),
		age        = COALESCE(metadata.age, EXCLUDED.age),
		region     = COALESCE(metadata.region, EXCLUDED.region),
		updated_at = now()`

func (t *pgTx) UpsertMetadata(ctx context.Context, rows []core.Metadata) (int64, error) {
	b := &pgx.Batch{}
	for _, m := range rows {
		b.Queue(upsertMetadataSQL, m.RespondentID, m.Carrier, m.Gender, m.BirthYear, m.Age, m.Region)
	}
	return sendBatch(ctx, t.tx, b)
}

const upsertCodebookSQL = `
	INSERT INTO codebooks (id, title, type, choices)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET
		question_vector = CASE
			WHEN codebooks.title = EXCLUDED.title AND codebooks.choices = EXCLUDED.choices
			THEN codebooks.question_vector END,
		title      = EXCLUDED.title,
		type       = EXCLUDED.type,
		choices    = EXCLUDED.choices,
		updated_at = now()`

// UpsertCodebooks replaces entries whole. A stored question vector survives
// only while title and choices are unchanged.
func (t *pgTx) UpsertCodebooks(ctx context.Context, entries []core.CodebookEntry) (int64, error) {
	b := &pgx.Batch{}
	for _, e := range entries {
		choices := e.Choices
		if choices == nil {
			choices = []core.Choice{}
		}
		raw, err := json.Marshal(choices)
		if err != nil {
			return 0, fmt.Errorf("encode choices of %q: %w", e.ID, err)
		}
		b.Queue(upsertCodebookSQL, e.ID, e.Title, core.ToText(e.Type), raw)
	}
	return sendBatch(ctx, t.tx, b)
}

func (t *pgTx) DeleteAnswers(ctx context.Context, prefix string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM answers
		WHERE respondent_id = ANY($1)
		  AND left(question_id, length($2)) = $2`, ids, prefix)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertAnswers(ctx context.Context, records []core.AnswerRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	return t.tx.CopyFrom(ctx,
		pgx.Identifier{"answers"},
		[]string{"respondent_id", "question_id", "value"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{r.RespondentID, r.QuestionID, r.Value}, nil
		}),
	)
}

func sendBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) (int64, error) {
	if b.Len() == 0 {
		return 0, nil
	}
	br := tx.SendBatch(ctx, b)
	var total int64
	for i := 0; i < b.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, br.Close()
}

// ----------------------------------------------------------------------------
// Run ledger
// ----------------------------------------------------------------------------

func (s *Store) RecordRun(ctx context.Context, r store.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_runs (run_id, source, prefix, state, failed_phase, error,
			respondents, metadata, codebooks, answers, skipped_rows, fingerprint, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (run_id, source) DO UPDATE SET
			prefix = EXCLUDED.prefix, state = EXCLUDED.state, failed_phase = EXCLUDED.failed_phase,
			error = EXCLUDED.error, respondents = EXCLUDED.respondents, metadata = EXCLUDED.metadata,
			codebooks = EXCLUDED.codebooks, answers = EXCLUDED.answers, skipped_rows = EXCLUDED.skipped_rows,
			fingerprint = EXCLUDED.fingerprint, started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at`,
		r.RunID, r.Source, r.Prefix, string(r.State), string(r.FailedPhase), r.Error,
		r.Respondents, r.Metadata, r.Codebooks, r.Answers, r.SkippedRows, r.Fingerprint,
		r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (s *Store) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, source, prefix, state, failed_phase, error, respondents, metadata,
			codebooks, answers, skipped_rows, fingerprint, started_at, finished_at
		FROM source_runs
		ORDER BY finished_at DESC, source
		LIMIT $1`, store.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Run, error) {
		var r store.Run
		var state, failed string
		err := row.Scan(&r.RunID, &r.Source, &r.Prefix, &state, &failed, &r.Error,
			&r.Respondents, &r.Metadata, &r.Codebooks, &r.Answers, &r.SkippedRows,
			&r.Fingerprint, &r.StartedAt, &r.FinishedAt)
		r.State, r.FailedPhase = core.Phase(state), core.Phase(failed)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return runs, nil
}

func (s *Store) LastFingerprint(ctx context.Context, source string) (string, bool, error) {
	var fp string
	err := s.pool.QueryRow(ctx, `
		SELECT fingerprint FROM source_runs
		WHERE source = $1 AND state = $2
		ORDER BY finished_at DESC LIMIT 1`, source, string(core.PhaseDone)).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("last fingerprint: %w", err)
	}
	return fp, true, nil
}

func (s *Store) KnownPrefixes(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT prefix, source FROM source_runs
		WHERE state = $1 AND prefix <> ''`, string(core.PhaseDone))
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
	err := s.pool.QueryRow(ctx, `
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
		err := s.pool.QueryRow(ctx, `
			SELECT
				(SELECT count(*) FROM codebooks WHERE left(id, length($1)) = $1),
				(SELECT count(*) FROM answers WHERE left(question_id, length($1)) = $1)`,
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

	err := s.pool.QueryRow(ctx, `
		SELECT r.profile_vector IS NOT NULL, m.carrier, m.gender, m.birth_year, m.age, m.region
		FROM respondents r LEFT JOIN metadata m ON m.respondent_id = r.id
		WHERE r.id = $1`, id).
		Scan(&d.HasProfile, &d.Metadata.Carrier, &d.Metadata.Gender,
			&d.Metadata.BirthYear, &d.Metadata.Age, &d.Metadata.Region)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, fmt.Errorf("respondent %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return d, fmt.Errorf("respondent %q: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT question_id, value FROM answers
		WHERE respondent_id = $1
		ORDER BY question_id, id`, id)
	if err != nil {
		return d, fmt.Errorf("answers of %q: %w", id, err)
	}
	d.Answers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.AnswerRecord, error) {
		a := core.AnswerRecord{RespondentID: id}
		return a, row.Scan(&a.QuestionID, &a.Value)
	})
	if err != nil {
		return d, fmt.Errorf("answers of %q: %w", id, err)
	}
	return d, nil
}

func (s *Store) Codebook(ctx context.Context, id string) (core.CodebookEntry, error) {
	e := core.CodebookEntry{ID: id}
	var typ pgtype.Text
	var choices []byte
	err := s.pool.QueryRow(ctx,
		`SELECT title, type, choices FROM codebooks WHERE id = $1`, id).
		Scan(&e.Title, &typ, &choices)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, fmt.Errorf("codebook %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return e, fmt.Errorf("codebook %q: %w", id, err)
	}
	e.Type = typ.String
	if err := json.Unmarshal(choices, &e.Choices); err != nil {
		return e, fmt.Errorf("decode choices of %q: %w", id, err)
	}
	return e, nil
}

func (s *Store) FindRespondents(ctx context.Context, filters []query.Filter, limit, offset int) ([]string, error) {
	wb := query.NewWhereBuilder(query.Postgres).Qualify("m")
	if err := wb.AddFilters(filters); err != nil {
		return nil, err
	}
	where, args := wb.Build()
	limitIdx := wb.NextArgIndex()
	args = append(args, store.ClampLimit(limit), max(offset, 0))

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT r.id FROM respondents r
		LEFT JOIN metadata m ON m.respondent_id = r.id%s
		ORDER BY r.id LIMIT $%d OFFSET $%d`, where, limitIdx, limitIdx+1), args...)
	if err != nil {
		return nil, fmt.Errorf("find respondents: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("find respondents: %w", err)
	}
	return ids, nil
}

// ----------------------------------------------------------------------------
// Profile vectors
// ----------------------------------------------------------------------------

// AnswerVectors streams answer vectors ordered by respondent.
func (s *Store) AnswerVectors(ctx context.Context, fn func(string, []float32) error) error {
	rows, err := s.pool.Query(ctx, `
		SELECT respondent_id, answer_vector FROM answers
		WHERE answer_vector IS NOT NULL
		ORDER BY respondent_id, id`)
	if err != nil {
		return fmt.Errorf("answer vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var vec []float32
		if err := rows.Scan(&id, &vec); err != nil {
			return err
		}
		if err := fn(id, vec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) UpdateProfiles(ctx context.Context, profiles []store.ProfileVector) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, p := range profiles {
		b.Queue(`UPDATE respondents SET profile_vector = $1 WHERE id = $2`, p.Vector, p.RespondentID)
	}
	if _, err := sendBatch(ctx, tx, b); err != nil {
		return fmt.Errorf("update profiles: %w", err)
	}
	return tx.Commit(ctx)
}
