package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/khg9859/Eternal/internal/blob"
	"github.com/khg9859/Eternal/internal/core"
	_ "github.com/khg9859/Eternal/internal/core/sources"
	"github.com/khg9859/Eternal/internal/metrics"
	"github.com/khg9859/Eternal/internal/store"
	"github.com/khg9859/Eternal/internal/store/sqlite"
)

var testNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

const welcome1st = "mb_sn,Q10,Q11,Q12_1,Q12_2\n" +
	"w100,M,1984,서울특별시,동대문구\n" +
	"w101,F,nan,,\n" +
	",M,1990,부산광역시,\n"

const welcome2nd = "mb_sn,Q1,Q2\n" +
	"w100,1,\"1,3\"\n" +
	"w102,2,\n"

const welcome2ndCodebook = "문항,문항내용,유형\n" +
	"Q1,결혼여부,SINGLE\n" +
	",1,미혼\n" +
	",2,기혼\n" +
	"Q2,보유 가전,MULTI\n" +
	",1,TV\n" +
	",3,냉장고\n"

func qpollWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"", "", "", "", "", "", "체력 관리를 위해 하는 활동"},
		{"고유번호", "구분", "성별", "나이", "지역", "설문일시", "문항1"},
		{"w100", "SKT", "여", "39", "서울", "2025-01-06", "1, 3"},
		{"w101", "KT", "여", "30", "부산", "2025-01-06", "2"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}

	_, err := f.NewSheet("codebook")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("codebook", "A1", &[]any{"설문제목", "보기1", "보기2"}))
	require.NoError(t, f.SetSheetRow("codebook", "A2", &[]any{"체력 관리를 위해 하는 활동", "헬스", "요가"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

// inputDir lays out one file per source kind.
func inputDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "wel_1st.csv", []byte(welcome1st))
	writeFile(t, dir, "wel_2nd.csv", []byte(welcome2nd))
	writeFile(t, dir, "welcome_2nd_codebook.csv", []byte(welcome2ndCodebook))
	writeFile(t, dir, "qpoll_join_250106.xlsx", qpollWorkbook(t))
	return dir
}

type harness struct {
	store *sqlite.Store
	orch  *Orchestrator
}

func newHarness(t *testing.T, dir string, opts Options) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fs, err := blob.NewFilesystem(dir)
	require.NoError(t, err)

	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	return &harness{store: st, orch: New(st, fs, opts)}
}

func (h *harness) run(t *testing.T, names ...string) Report {
	t.Helper()
	ctx := context.Background()
	plan, err := h.orch.Plan(ctx, names)
	require.NoError(t, err)
	report, err := h.orch.Run(ctx, plan)
	require.NoError(t, err)
	return report
}

func states(report Report) map[string]core.Phase {
	out := make(map[string]core.Phase, len(report.Runs))
	for _, r := range report.Runs {
		out[r.Source] = r.State
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(t, inputDir(t), Options{})
	ctx := context.Background()

	report := h.run(t)
	require.NoError(t, report.Err())

	var order []string
	for _, r := range report.Runs {
		order = append(order, r.Source)
		assert.Equal(t, core.PhaseDone, r.State, r.Source)
		assert.NotEmpty(t, r.Fingerprint)
	}
	assert.Equal(t, []string{"welcome_1st", "qpoll_join_250106", "welcome_2nd"}, order)
	assert.Equal(t, int64(1), report.Runs[0].SkippedRows, "row without id")

	w100, err := h.store.Respondent(ctx, "w100")
	require.NoError(t, err)
	assert.Equal(t, "남성", w100.Metadata.Gender.String, "welcome_1st wrote gender first")
	assert.Equal(t, "서울특별시 동대문구", w100.Metadata.Region.String)
	assert.Equal(t, "SKT", w100.Metadata.Carrier.String, "qpoll fills the null carrier")
	assert.Equal(t, int32(1984), w100.Metadata.BirthYear.Int32)

	w101, err := h.store.Respondent(ctx, "w101")
	require.NoError(t, err)
	assert.Equal(t, "여성", w101.Metadata.Gender.String)
	assert.Equal(t, "부산", w101.Metadata.Region.String)
	assert.Equal(t, int32(30), w101.Metadata.Age.Int32)

	w102, err := h.store.Respondent(ctx, "w102")
	require.NoError(t, err)
	assert.False(t, w102.Metadata.Gender.Valid)
	assert.Equal(t, []core.AnswerRecord{{RespondentID: "w102", QuestionID: "w2_Q1", Value: "2"}}, w102.Answers)

	cb, err := h.store.Codebook(ctx, "qp250106_체력 관리를 위해 하는 활동")
	require.NoError(t, err)
	assert.Equal(t, []core.Choice{{Code: "1", Label: "헬스"}, {Code: "2", Label: "요가"}}, cb.Choices)

	cb, err = h.store.Codebook(ctx, "w2_Q2")
	require.NoError(t, err)
	assert.Equal(t, "보유 가전", cb.Title)

	st, err := h.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Respondents)
	assert.Equal(t, int64(3), st.Codebooks)
	assert.Equal(t, int64(7), st.Answers)
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(t, inputDir(t), Options{})
	ctx := context.Background()

	h.run(t)
	first, err := h.store.Stats(ctx)
	require.NoError(t, err)

	report := h.run(t)
	require.NoError(t, report.Err())
	second, err := h.store.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRun_SkipUnchanged(t *testing.T) {
	dir := inputDir(t)
	h := newHarness(t, dir, Options{SkipUnchanged: true})

	h.run(t)
	report := h.run(t)
	for _, r := range report.Runs {
		assert.Equal(t, core.PhaseSkipped, r.State, r.Source)
	}

	writeFile(t, dir, "wel_2nd.csv", []byte(welcome2nd+"w103,1,\n"))
	got := states(h.run(t))
	assert.Equal(t, core.PhaseDone, got["welcome_2nd"], "changed input runs again")
	assert.Equal(t, core.PhaseSkipped, got["welcome_1st"])
}

func TestRun_FailureIsolated(t *testing.T) {
	dir := inputDir(t)
	writeFile(t, dir, "qpoll_join_250107.xlsx", []byte("not a workbook"))
	m := metrics.New()
	h := newHarness(t, dir, Options{Metrics: m})
	ctx := context.Background()

	report := h.run(t)
	require.Error(t, report.Err())

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "qpoll_join_250107", failed[0].Source)
	assert.Equal(t, core.PhaseReading, failed[0].FailedPhase)
	assert.NotEmpty(t, failed[0].Error)

	got := states(report)
	assert.Equal(t, core.PhaseDone, got["qpoll_join_250106"])
	assert.Equal(t, core.PhaseDone, got["welcome_2nd"], "later sources still run")

	known, err := h.store.KnownPrefixes(ctx)
	require.NoError(t, err)
	assert.NotContains(t, known, "qp250107_")
	assert.Equal(t, "qpoll_join_250106", known["qp250106_"])

	runs, err := h.store.Runs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 4)
}

func TestRun_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wel_2nd.csv", []byte(welcome2nd))
	h := newHarness(t, dir, Options{})

	report := h.run(t, "welcome_1st", "welcome_2nd")
	require.Len(t, report.Runs, 2)

	for _, r := range report.Runs {
		assert.Equal(t, core.PhaseFailed, r.State, r.Source)
		assert.Equal(t, core.PhaseReading, r.FailedPhase, r.Source)
	}
	assert.Contains(t, report.Runs[1].Error, "welcome_2nd_codebook.csv")
}

func TestRun_ParseFailure(t *testing.T) {
	dir := inputDir(t)
	writeFile(t, dir, "wel_1st.csv", []byte("no_id,Q10\nx,M\n"))
	h := newHarness(t, dir, Options{})

	report := h.run(t, "welcome_1st")
	require.Len(t, report.Runs, 1)
	run := report.Runs[0]
	assert.Equal(t, core.PhaseFailed, run.State)
	assert.Equal(t, core.PhaseParsing, run.FailedPhase)
}

func TestRun_Cancelled(t *testing.T) {
	h := newHarness(t, inputDir(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())

	plan, err := h.orch.Plan(ctx, nil)
	require.NoError(t, err)
	cancel()

	report, err := h.orch.Run(ctx, plan)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Runs)
}

// ----------------------------------------------------------------------------
// Planning
// ----------------------------------------------------------------------------

type fakeLister map[string][]string

func (f fakeLister) List(_ context.Context, pattern string) ([]blob.Info, error) {
	var out []blob.Info
	for _, key := range f[pattern] {
		out = append(out, blob.Info{Key: key})
	}
	return out, nil
}

func kinds(t *testing.T) []core.Source {
	t.Helper()
	all, err := core.Select(nil)
	require.NoError(t, err)
	return all
}

func TestBuildPlan(t *testing.T) {
	lister := fakeLister{
		"wel_1st*.csv":             {"wel_1st.csv"},
		"wel_2nd*.csv":             {"wel_2nd.csv"},
		"welcome_2nd_codebook.csv": {"welcome_2nd_codebook.csv"},
		"qpoll_join_*.xlsx":        {"qpoll_join_250203.xlsx", "qpoll_join_250106.xlsx"},
	}

	plan, err := BuildPlan(context.Background(), lister, kinds(t), nil, nil)
	require.NoError(t, err)

	type row struct{ id, prefix, data, codebook string }
	var got []row
	for _, p := range plan.Sources {
		got = append(got, row{p.ID(), p.Prefix, p.DataKey, p.CodebookKey})
	}
	assert.Equal(t, []row{
		{"welcome_1st", "w1_", "wel_1st.csv", ""},
		{"qpoll_join_250106", "qp250106_", "qpoll_join_250106.xlsx", ""},
		{"qpoll_join_250203", "qp250203_", "qpoll_join_250203.xlsx", ""},
		{"welcome_2nd", "w2_", "wel_2nd.csv", "welcome_2nd_codebook.csv"},
	}, got)
}

func TestBuildPlan_PinnedKindMatchesTwoFiles(t *testing.T) {
	lister := fakeLister{"wel_1st*.csv": {"wel_1st.csv", "wel_1st_copy.csv"}}

	_, err := BuildPlan(context.Background(), lister, kinds(t), nil, nil)
	var cfgErr *core.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Equal(t, "welcome_1st", cfgErr.Field)
}

func TestBuildPlan_KnownPrefixCollision(t *testing.T) {
	lister := fakeLister{"qpoll_join_*.xlsx": {"qpoll_join_250106.xlsx"}}
	known := map[string]string{"qp250106_": "legacy_import"}

	_, err := BuildPlan(context.Background(), lister, kinds(t), nil, known)
	assert.ErrorIs(t, err, core.ErrPrefixCollision)
}

func TestBuildPlan_OwnKnownPrefix(t *testing.T) {
	lister := fakeLister{"qpoll_join_*.xlsx": {"qpoll_join_250106.xlsx"}}
	known := map[string]string{"qp250106_": "qpoll_join_250106", "w2_": "welcome_2nd"}

	plan, err := BuildPlan(context.Background(), lister, kinds(t), nil, known)
	require.NoError(t, err)
	assert.Len(t, plan.Sources, 3, "qpoll file plus the two pinned kinds")
}

func TestPlan_UnknownSource(t *testing.T) {
	h := newHarness(t, t.TempDir(), Options{})
	_, err := h.orch.Plan(context.Background(), []string{"nope"})
	assert.ErrorIs(t, err, core.ErrUnknownSource)
}

func TestReport_Err(t *testing.T) {
	assert.NoError(t, Report{}.Err())

	r := Report{Runs: []store.Run{
		{Source: "a", State: core.PhaseDone},
		{Source: "b", State: core.PhaseFailed, FailedPhase: core.PhaseMerging},
	}}
	assert.EqualError(t, r.Err(), "1 of 2 sources failed: [b (merging)]")
}

func TestStem(t *testing.T) {
	assert.Equal(t, "qpoll_join_250106", Stem("inbox/qpoll_join_250106.xlsx"))
	assert.Equal(t, "noext", Stem("noext"))
}
