package core

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

var testNow = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func birthYearRule() DemographicRule {
	return DemographicRule{
		Field:   FieldBirthYear,
		Columns: []string{"Q11"},
		Transform: func(values []string, now time.Time) Metadata {
			var m Metadata
			year, err := strconv.Atoi(values[0])
			if err != nil {
				return m
			}
			m.Set(FieldBirthYear, values[0])
			m.Set(FieldAge, strconv.Itoa(now.Year()-year))
			return m
		},
	}
}

func flatSource() Source {
	return Source{
		Name:         "welcome_2nd",
		Layout:       LayoutFlat,
		QuestionKey:  KeyByCode,
		IDCandidates: []string{"고유번호", "mb_sn", "id"},
		CanonicalID:  "mb_sn",
		Demographics: []DemographicRule{
			{Field: FieldCarrier, Columns: []string{"carrier"}},
			birthYearRule(),
		},
		IgnoredColumns: []string{"ts"},
		OtherSuffixes:  []string{"_etc"},
	}
}

// ----------------------------------------------------------------------------
// ResolveTable Tests
// ----------------------------------------------------------------------------

func TestResolveTable_CanonicalIDPreferred(t *testing.T) {
	rows := [][]string{{"id", "고유번호", "mb_sn", "Q1"}}

	table, err := ResolveTable(flatSource(), "w2_", rows)
	if err != nil {
		t.Fatalf("ResolveTable() error = %v", err)
	}
	if table.IDColumn() != "mb_sn" {
		t.Errorf("IDColumn() = %q, want %q", table.IDColumn(), "mb_sn")
	}
}

func TestResolveTable_CandidateOrder(t *testing.T) {
	rows := [][]string{{"id", "고유번호", "Q1"}}

	table, err := ResolveTable(flatSource(), "w2_", rows)
	if err != nil {
		t.Fatalf("ResolveTable() error = %v", err)
	}
	if table.IDColumn() != "고유번호" {
		t.Errorf("IDColumn() = %q, want %q", table.IDColumn(), "고유번호")
	}
}

func TestResolveTable_NoIDColumn(t *testing.T) {
	_, err := ResolveTable(flatSource(), "w2_", [][]string{{"Q1", "Q2"}})

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("ResolveTable() error = %v, want *ParseError", err)
	}
	if !errors.Is(err, ErrNoIDColumn) {
		t.Errorf("ResolveTable() error = %v, want ErrNoIDColumn", err)
	}
	if parseErr.Row != 1 {
		t.Errorf("Row = %d, want the header row 1", parseErr.Row)
	}
	if !strings.Contains(err.Error(), "header") {
		t.Errorf("error %q does not name the header", err)
	}
}

func TestResolveTable_NoIDColumnTwoRowHeader(t *testing.T) {
	src := Source{Name: "qpoll", Layout: LayoutTwoRowHeader, IDCandidates: []string{"고유번호"}}
	rows := [][]string{
		{"", "체력 관리"},
		{"panel", "문항1"},
		{"w1", "1"},
	}

	_, err := ResolveTable(src, "qp_", rows)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("ResolveTable() error = %v, want *ParseError", err)
	}
	if parseErr.Row != 2 {
		t.Errorf("Row = %d, want the code row 2", parseErr.Row)
	}
}

func TestResolveTable_QuestionColumns(t *testing.T) {
	rows := [][]string{{"mb_sn", "carrier", "Q11", "ts", "Q1", "Q1_etc", "Unnamed: 6", "Q2"}}

	table, err := ResolveTable(flatSource(), "w2_", rows)
	if err != nil {
		t.Fatalf("ResolveTable() error = %v", err)
	}
	want := []string{"w2_Q1", "w2_Q2"}
	if got := table.QuestionIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("QuestionIDs() = %v, want %v", got, want)
	}
}

func TestResolveTable_TwoRowHeaderKeyByTitle(t *testing.T) {
	src := Source{
		Name:         "qpoll",
		Layout:       LayoutTwoRowHeader,
		QuestionKey:  KeyByTitle,
		IDCandidates: []string{"고유번호"},
	}
	rows := [][]string{
		{"", "체력 관리", "", "이용 서비스"},
		{"고유번호", "문항1", "문항2", "문항3"},
	}

	table, err := ResolveTable(src, "qp250106_", rows)
	if err != nil {
		t.Fatalf("ResolveTable() error = %v", err)
	}
	want := []string{"qp250106_체력 관리", "qp250106_이용 서비스"}
	if got := table.QuestionIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("QuestionIDs() = %v, want %v", got, want)
	}
}

func TestResolveTable_TwoRowHeaderNeedsTwoRows(t *testing.T) {
	src := Source{Name: "qpoll", Layout: LayoutTwoRowHeader, IDCandidates: []string{"고유번호"}}
	_, err := ResolveTable(src, "qp_", [][]string{{"고유번호"}})
	if !errors.Is(err, ErrEmptyFile) {
		t.Errorf("ResolveTable() error = %v, want ErrEmptyFile", err)
	}
}

// ----------------------------------------------------------------------------
// Normalize Tests
// ----------------------------------------------------------------------------

func TestNormalize_AnswersAndMetadata(t *testing.T) {
	rows := [][]string{
		{"mb_sn", "carrier", "Q11", "Q1", "Q2"},
		{"A1", "SKT", "1984", "1, 3, 4", ""},
		{"A2", "", "nan", "2", "5"},
	}

	batch, err := NormalizeSheet(flatSource(), "w2_", rows, testNow)
	if err != nil {
		t.Fatalf("NormalizeSheet() error = %v", err)
	}

	if want := []string{"A1", "A2"}; !reflect.DeepEqual(batch.Respondents, want) {
		t.Errorf("Respondents = %v, want %v", batch.Respondents, want)
	}

	wantAnswers := []AnswerRecord{
		{"A1", "w2_Q1", "1"},
		{"A1", "w2_Q1", "3"},
		{"A1", "w2_Q1", "4"},
		{"A2", "w2_Q1", "2"},
		{"A2", "w2_Q2", "5"},
	}
	if !reflect.DeepEqual(batch.Answers, wantAnswers) {
		t.Errorf("Answers = %v, want %v", batch.Answers, wantAnswers)
	}

	if len(batch.Metadata) != 1 {
		t.Fatalf("Metadata has %d entries, want 1 (A2 has none)", len(batch.Metadata))
	}
	m := batch.Metadata[0]
	if m.RespondentID != "A1" || m.Carrier.String != "SKT" || m.BirthYear.Int32 != 1984 || m.Age.Int32 != 41 {
		t.Errorf("Metadata = %+v, want A1/SKT/1984/41", m)
	}
	if m.Gender.Valid || m.Region.Valid {
		t.Errorf("unset fields should stay null: %+v", m)
	}
}

func TestNormalize_SkipsRowsWithoutID(t *testing.T) {
	rows := [][]string{
		{"mb_sn", "Q1"},
		{"", "1"},
		{"  ", "1"},
		{"nan", "1"},
		{"None", "1"},
		{"", ""},
		{"A1", "1"},
	}

	batch, err := NormalizeSheet(flatSource(), "w2_", rows, testNow)
	if err != nil {
		t.Fatalf("NormalizeSheet() error = %v", err)
	}
	if batch.SkippedRows != 4 {
		t.Errorf("SkippedRows = %d, want 4", batch.SkippedRows)
	}
	if !reflect.DeepEqual(batch.Respondents, []string{"A1"}) {
		t.Errorf("Respondents = %v, want [A1]", batch.Respondents)
	}
}

func TestNormalize_RepeatedRespondent(t *testing.T) {
	rows := [][]string{
		{"mb_sn", "carrier", "Q11", "Q1"},
		{"A1", "SKT", "", "1"},
		{"A2", "KT", "", "9"},
		{"A1", "LGU+", "1990", "2, 3"},
	}

	batch, err := NormalizeSheet(flatSource(), "w2_", rows, testNow)
	if err != nil {
		t.Fatalf("NormalizeSheet() error = %v", err)
	}

	if want := []string{"A1", "A2"}; !reflect.DeepEqual(batch.Respondents, want) {
		t.Errorf("Respondents = %v, want %v", batch.Respondents, want)
	}

	// Metadata coalesces in row order: first carrier kept, later birth year fills.
	a1 := batch.Metadata[0]
	if a1.Carrier.String != "SKT" || a1.BirthYear.Int32 != 1990 {
		t.Errorf("A1 metadata = %+v, want carrier SKT and birth year 1990", a1)
	}

	// Answers come from the last row only.
	wantAnswers := []AnswerRecord{
		{"A1", "w2_Q1", "2"},
		{"A1", "w2_Q1", "3"},
		{"A2", "w2_Q1", "9"},
	}
	if !reflect.DeepEqual(batch.Answers, wantAnswers) {
		t.Errorf("Answers = %v, want %v", batch.Answers, wantAnswers)
	}
}

func TestNormalize_SkipAnswers(t *testing.T) {
	src := flatSource()
	src.SkipAnswers = true
	rows := [][]string{
		{"mb_sn", "carrier", "Q1"},
		{"A1", "SKT", "1"},
	}

	batch, err := NormalizeSheet(src, "w1_", rows, testNow)
	if err != nil {
		t.Fatalf("NormalizeSheet() error = %v", err)
	}
	if len(batch.Answers) != 0 {
		t.Errorf("Answers = %v, want none", batch.Answers)
	}
	if len(batch.Metadata) != 1 {
		t.Errorf("Metadata = %v, want one entry", batch.Metadata)
	}
}

func TestNormalize_FirstNonEmptyColumnWithoutTransform(t *testing.T) {
	src := Source{
		Name:         "s",
		IDCandidates: []string{"id"},
		Demographics: []DemographicRule{
			{Field: FieldRegion, Columns: []string{"region_new", "region_old"}},
		},
	}
	rows := [][]string{
		{"id", "region_new", "region_old"},
		{"A1", "", "부산"},
	}

	batch, err := NormalizeSheet(src, "s_", rows, testNow)
	if err != nil {
		t.Fatalf("NormalizeSheet() error = %v", err)
	}
	if got := batch.Metadata[0].Region.String; got != "부산" {
		t.Errorf("Region = %q, want %q", got, "부산")
	}
}

func TestNormalize_HeaderOnly(t *testing.T) {
	batch, err := NormalizeSheet(flatSource(), "w2_", [][]string{{"mb_sn", "Q1"}}, testNow)
	if err != nil {
		t.Fatalf("NormalizeSheet() error = %v", err)
	}
	if len(batch.Respondents) != 0 || len(batch.Answers) != 0 {
		t.Errorf("batch = %+v, want empty", batch)
	}
}

// ----------------------------------------------------------------------------
// Metadata Tests
// ----------------------------------------------------------------------------

func TestMetadataCoalesce_FirstWriterWins(t *testing.T) {
	var a, b Metadata
	a.Set(FieldGender, "남성")
	b.Set(FieldGender, "여성")
	b.Set(FieldRegion, "서울")

	got := a.Coalesce(b)
	if got.Gender.String != "남성" {
		t.Errorf("Gender = %q, want first writer %q", got.Gender.String, "남성")
	}
	if got.Region.String != "서울" {
		t.Errorf("Region = %q, want null filled with %q", got.Region.String, "서울")
	}
}

func TestMetadataCoalesce_DisjointCommutes(t *testing.T) {
	var a, b Metadata
	a.Set(FieldCarrier, "SKT")
	b.Set(FieldAge, "39")

	if !reflect.DeepEqual(a.Coalesce(b), b.Coalesce(a)) {
		t.Errorf("coalescing disjoint fields should commute: %+v vs %+v", a.Coalesce(b), b.Coalesce(a))
	}
}
