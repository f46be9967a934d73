package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khg9859/Eternal/internal/core"
	"github.com/khg9859/Eternal/internal/merge"
	"github.com/khg9859/Eternal/internal/store"
	"github.com/khg9859/Eternal/internal/store/storetest"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openMemory(t) })
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, merge.New(s).UpsertRespondent(ctx, "A1"))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	_, err = reopened.Respondent(ctx, "A1")
	assert.NoError(t, err, "data survives reopen and migrations are repeatable")
}

func TestUpsertCodebook_QuestionVectorLifetime(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	defer s.Close()
	eng := merge.New(s)

	entry := core.CodebookEntry{ID: "w2_Q1", Title: "결혼여부", Choices: []core.Choice{{Code: "1", Label: "미혼"}}}
	require.NoError(t, eng.UpsertCodebook(ctx, entry))
	_, err := s.DB().ExecContext(ctx, `UPDATE codebooks SET question_vector = '[0.5,0.5]' WHERE id = 'w2_Q1'`)
	require.NoError(t, err)

	vector := func() *string {
		var v *string
		require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT question_vector FROM codebooks WHERE id = 'w2_Q1'`).Scan(&v))
		return v
	}

	require.NoError(t, eng.UpsertCodebook(ctx, entry))
	assert.NotNil(t, vector(), "unchanged entry keeps its vector")

	entry.Title = "혼인 상태"
	require.NoError(t, eng.UpsertCodebook(ctx, entry))
	assert.Nil(t, vector(), "changed entry drops the stale vector")
}

func TestAnswerVectorsAndProfiles(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	defer s.Close()

	_, err := merge.New(s).Apply(ctx, core.Batch{
		Source: "welcome_2nd", Prefix: "w2_",
		Respondents: []string{"B", "A"},
		Answers: []core.AnswerRecord{
			{RespondentID: "B", QuestionID: "w2_Q1", Value: "1"},
			{RespondentID: "A", QuestionID: "w2_Q1", Value: "2"},
			{RespondentID: "A", QuestionID: "w2_Q2", Value: "3"},
		},
	})
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `UPDATE answers SET answer_vector = '[1,2]' WHERE respondent_id = 'A'`)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx, `UPDATE answers SET answer_vector = 'not json' WHERE respondent_id = 'B'`)
	require.NoError(t, err)

	var seen []string
	err = s.AnswerVectors(ctx, func(id string, vec []float32) error {
		seen = append(seen, id)
		assert.Equal(t, []float32{1, 2}, vec)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "A"}, seen, "undecodable vectors are skipped")

	require.NoError(t, s.UpdateProfiles(ctx, []store.ProfileVector{{RespondentID: "A", Vector: []float32{1, 2}}}))
	d, err := s.Respondent(ctx, "A")
	require.NoError(t, err)
	assert.True(t, d.HasProfile)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Profiles)
}
