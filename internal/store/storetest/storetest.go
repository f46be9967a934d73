// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khg9859/Eternal/internal/core"
	"github.com/khg9859/Eternal/internal/merge"
	"github.com/khg9859/Eternal/internal/query"
	"github.com/khg9859/Eternal/internal/store"
)

// Factory returns an empty, migrated store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"ApplyIsIdempotent", testApplyIdempotent},
		{"MetadataFirstWriterWins", testFirstWriterWins},
		{"CrossSourceIsolation", testCrossSourceIsolation},
		{"ReplaceAnswersScope", testReplaceAnswersScope},
		{"CodebookReplacedWhole", testCodebookReplaced},
		{"TransactionRollsBack", testRollback},
		{"MetadataOnlyBatchKeepsAnswers", testMetadataOnly},
		{"RunLedger", testRunLedger},
		{"FindRespondents", testFindRespondents},
		{"Stats", testStats},
		{"NotFound", testNotFound},
		{"DropAll", testDropAll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func meta(id string, fields map[core.Field]string) core.Metadata {
	m := core.Metadata{RespondentID: id}
	for f, v := range fields {
		m.Set(f, v)
	}
	return m
}

func answers(id, question string, values ...string) []core.AnswerRecord {
	out := make([]core.AnswerRecord, 0, len(values))
	for _, v := range values {
		out = append(out, core.AnswerRecord{RespondentID: id, QuestionID: question, Value: v})
	}
	return out
}

func welcomeBatch() core.Batch {
	var recs []core.AnswerRecord
	recs = append(recs, answers("A1", "w2_Q1", "1", "3")...)
	recs = append(recs, answers("A2", "w2_Q1", "2")...)
	return core.Batch{
		Source:      "welcome_2nd",
		Prefix:      "w2_",
		Respondents: []string{"A1", "A2"},
		Metadata:    []core.Metadata{meta("A1", map[core.Field]string{core.FieldCarrier: "SKT"})},
		Codebooks: []core.CodebookEntry{
			{ID: "w2_Q1", Title: "결혼여부", Type: "SINGLE", Choices: []core.Choice{{Code: "1", Label: "미혼"}}},
		},
		Answers: recs,
	}
}

func answerValues(t *testing.T, s store.Store, id string) []string {
	t.Helper()
	d, err := s.Respondent(context.Background(), id)
	require.NoError(t, err)
	var out []string
	for _, a := range d.Answers {
		out = append(out, a.QuestionID+"="+a.Value)
	}
	return out
}

func testApplyIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	eng := merge.New(s)

	first, err := eng.Apply(ctx, welcomeBatch())
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.Respondents)
	assert.Equal(t, int64(3), first.AnswersInserted)

	before, err := s.Stats(ctx)
	require.NoError(t, err)

	second, err := eng.Apply(ctx, welcomeBatch())
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Respondents, "respondents are inserted once")
	assert.Equal(t, int64(3), second.AnswersDeleted)

	after, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"w2_Q1=1", "w2_Q1=3"}, answerValues(t, s, "A1"))
}

func testFirstWriterWins(t *testing.T, s store.Store) {
	ctx := context.Background()
	eng := merge.New(s)

	_, err := eng.Apply(ctx, core.Batch{
		Source: "a", Prefix: "a_", MetadataOnly: true,
		Respondents: []string{"P1"},
		Metadata:    []core.Metadata{meta("P1", map[core.Field]string{core.FieldGender: "남성"})},
	})
	require.NoError(t, err)

	_, err = eng.Apply(ctx, core.Batch{
		Source: "b", Prefix: "b_", MetadataOnly: true,
		Respondents: []string{"P1"},
		Metadata: []core.Metadata{meta("P1", map[core.Field]string{
			core.FieldGender: "여성",
			core.FieldRegion: "서울",
			core.FieldAge:    "39",
		})},
	})
	require.NoError(t, err)

	d, err := s.Respondent(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, "남성", d.Metadata.Gender.String, "first writer keeps gender")
	assert.Equal(t, "서울", d.Metadata.Region.String, "null region is filled")
	assert.Equal(t, int32(39), d.Metadata.Age.Int32)
	assert.False(t, d.Metadata.Carrier.Valid)
}

func testCrossSourceIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	eng := merge.New(s)

	_, err := eng.Apply(ctx, welcomeBatch())
	require.NoError(t, err)
	_, err = eng.Apply(ctx, core.Batch{
		Source: "qpoll_join_250106", Prefix: "qp250106_",
		Respondents: []string{"A1"},
		Answers:     answers("A1", "qp250106_체력 관리", "2"),
	})
	require.NoError(t, err)

	rerun := welcomeBatch()
	rerun.Answers = answers("A1", "w2_Q1", "4")
	_, err = eng.Apply(ctx, rerun)
	require.NoError(t, err)

	assert.Equal(t, []string{"qp250106_체력 관리=2", "w2_Q1=4"}, answerValues(t, s, "A1"))
	assert.Empty(t, answerValues(t, s, "A2"), "A2 answered nothing in the rerun")
}

func testReplaceAnswersScope(t *testing.T, s store.Store) {
	ctx := context.Background()
	eng := merge.New(s)

	_, err := eng.Apply(ctx, welcomeBatch())
	require.NoError(t, err)

	res, err := eng.ReplaceAnswers(ctx, "w2_", []string{"A2"}, answers("A2", "w2_Q1", "5"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AnswersDeleted)
	assert.Equal(t, []string{"w2_Q1=1", "w2_Q1=3"}, answerValues(t, s, "A1"), "A1 is outside the id set")
	assert.Equal(t, []string{"w2_Q1=5"}, answerValues(t, s, "A2"))

	_, err = eng.ReplaceAnswers(ctx, "w2_", []string{"A2"}, answers("A1", "w2_Q1", "9"))
	assert.ErrorIs(t, err, core.ErrForeignAnswer)
	var mergeErr *core.MergeError
	assert.True(t, errors.As(err, &mergeErr))
}

func testCodebookReplaced(t *testing.T, s store.Store) {
	ctx := context.Background()
	eng := merge.New(s)

	require.NoError(t, eng.UpsertCodebook(ctx, core.CodebookEntry{
		ID: "w2_Q1", Title: "old", Type: "MULTI",
		Choices: []core.Choice{{Code: "1", Label: "a"}, {Code: "2", Label: "b"}},
	}))
	require.NoError(t, eng.UpsertCodebook(ctx, core.CodebookEntry{
		ID: "w2_Q1", Title: "new",
		Choices: []core.Choice{{Code: "3", Label: "c"}},
	}))

	got, err := s.Codebook(ctx, "w2_Q1")
	require.NoError(t, err)
	assert.Equal(t, core.CodebookEntry{
		ID: "w2_Q1", Title: "new",
		Choices: []core.Choice{{Code: "3", Label: "c"}},
	}, got)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx merge.Tx) error {
		if _, err := tx.InsertRespondents(ctx, []string{"R1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Respondent(ctx, "R1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMetadataOnly(t *testing.T, s store.Store) {
	ctx := context.Background()
	eng := merge.New(s)

	_, err := eng.Apply(ctx, welcomeBatch())
	require.NoError(t, err)
	res, err := eng.Apply(ctx, core.Batch{
		Source: "welcome_1st", Prefix: "w1_", MetadataOnly: true,
		Respondents: []string{"A1", "A3"},
		Metadata:    []core.Metadata{meta("A3", map[core.Field]string{core.FieldRegion: "부산"})},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Respondents)
	assert.Zero(t, res.AnswersDeleted)
	assert.Equal(t, []string{"w2_Q1=1", "w2_Q1=3"}, answerValues(t, s, "A1"))
}

func testRunLedger(t *testing.T, s store.Store) {
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	runs := []store.Run{
		{RunID: "r1", Source: "welcome_2nd", Prefix: "w2_", State: core.PhaseDone, Fingerprint: "aaa", StartedAt: t0, FinishedAt: t0.Add(time.Second)},
		{RunID: "r2", Source: "welcome_2nd", Prefix: "w2_", State: core.PhaseDone, Fingerprint: "bbb", StartedAt: t0.Add(time.Hour), FinishedAt: t0.Add(time.Hour + time.Second)},
		{RunID: "r3", Source: "welcome_2nd", Prefix: "w2_", State: core.PhaseFailed, FailedPhase: core.PhaseParsing, Error: "bad", Fingerprint: "ccc", StartedAt: t0.Add(2 * time.Hour), FinishedAt: t0.Add(2 * time.Hour)},
		{RunID: "r3", Source: "qpoll_join_250106", Prefix: "qp250106_", State: core.PhaseFailed, StartedAt: t0.Add(2 * time.Hour), FinishedAt: t0.Add(2 * time.Hour)},
	}
	for _, r := range runs {
		require.NoError(t, s.RecordRun(ctx, r))
	}

	fp, ok, err := s.LastFingerprint(ctx, "welcome_2nd")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bbb", fp, "failed runs never count as the last fingerprint")

	_, ok, err = s.LastFingerprint(ctx, "qpoll_join_250106")
	require.NoError(t, err)
	assert.False(t, ok)

	known, err := s.KnownPrefixes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"w2_": "welcome_2nd"}, known)

	listed, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 4)
	assert.Equal(t, "r3", listed[0].RunID)
	assert.Equal(t, core.PhaseParsing, listed[1].FailedPhase)
	assert.Equal(t, "r1", listed[3].RunID)
	assert.True(t, listed[3].StartedAt.Equal(t0))

	// Re-recording the same (run, source) updates in place.
	runs[0].Answers = 42
	require.NoError(t, s.RecordRun(ctx, runs[0]))
	listed, err = s.Runs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 4)
	assert.Equal(t, int64(42), listed[3].Answers)
}

func testFindRespondents(t *testing.T, s store.Store) {
	ctx := context.Background()
	eng := merge.New(s)

	_, err := eng.Apply(ctx, core.Batch{
		Source: "welcome_1st", Prefix: "w1_", MetadataOnly: true,
		Respondents: []string{"A1", "A2", "A3", "A4"},
		Metadata: []core.Metadata{
			meta("A1", map[core.Field]string{core.FieldGender: "남성", core.FieldAge: "35", core.FieldRegion: "서울 강남구"}),
			meta("A2", map[core.Field]string{core.FieldGender: "여성", core.FieldAge: "31", core.FieldRegion: "경기 성남시"}),
			meta("A3", map[core.Field]string{core.FieldGender: "남성", core.FieldAge: "52", core.FieldRegion: "서울 마포구"}),
			meta("A4", map[core.Field]string{core.FieldGender: "남성", core.FieldAge: "38", core.FieldRegion: "부산 해운대구"}),
		},
	})
	require.NoError(t, err)

	ids, err := s.FindRespondents(ctx, []query.Filter{
		{Field: core.FieldRegion, Op: query.OpLike, Value: "서울%"},
		{Field: core.FieldRegion, Op: query.OpLike, Value: "부산%"},
		{Field: core.FieldAge, Op: query.OpGe, Value: "30"},
		{Field: core.FieldAge, Op: query.OpLt, Value: "40"},
		{Field: core.FieldGender, Op: query.OpEq, Value: "남성"},
	}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A4"}, ids)

	all, err := s.FindRespondents(ctx, nil, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2", "A3"}, all)

	_, err = s.FindRespondents(ctx, []query.Filter{{Field: "mb_sn", Op: query.OpEq, Value: "A1"}}, 0, 0)
	assert.ErrorIs(t, err, query.ErrInvalidFilter)
}

func testStats(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := merge.New(s).Apply(ctx, welcomeBatch())
	require.NoError(t, err)
	require.NoError(t, s.RecordRun(ctx, store.Run{
		RunID: "r1", Source: "welcome_2nd", Prefix: "w2_", State: core.PhaseDone,
		StartedAt: time.Now(), FinishedAt: time.Now(),
	}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Respondents)
	assert.Equal(t, int64(1), st.WithMetadata)
	assert.Equal(t, int64(0), st.Profiles)
	assert.Equal(t, int64(1), st.Codebooks)
	assert.Equal(t, int64(3), st.Answers)
	assert.Equal(t, []store.SourceStat{{Source: "welcome_2nd", Prefix: "w2_", Codebooks: 1, Answers: 3}}, st.Sources)
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.Respondent(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Codebook(ctx, "w2_Q404")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDropAll(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := merge.New(s).Apply(ctx, welcomeBatch())
	require.NoError(t, err)

	require.NoError(t, s.DropAll(ctx))
	require.NoError(t, s.Migrate(ctx))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Respondents)
	assert.Zero(t, st.Answers)
}
