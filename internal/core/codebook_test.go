package core

import (
	"errors"
	"reflect"
	"testing"
)

// ----------------------------------------------------------------------------
// Vertical Codebook Tests
// ----------------------------------------------------------------------------

func verticalSource() Source {
	return Source{
		Name:           "welcome_2nd",
		Codebook:       CodebookVertical,
		SkipCodebookIf: []string{"mb_sn"},
		IDCandidates:   []string{"mb_sn"},
	}
}

func TestVerticalParser(t *testing.T) {
	rows := [][]string{
		{"문항", "문항내용", "유형"},
		{"Q1", "결혼여부", "SINGLE"},
		{"", "1", "미혼"},
		{"", "2", "기혼"},
		{"", "3", "기타(사별/이혼 등)"},
		{"Q2", "자녀수", "Numeric"},
		{"", "Numeric", "Numeric"},
		{"Q3", "보유 가전", "MULTI"},
		{"", "1.0", "TV"},
		{"", "2", "SINGLE"},
		{"", "x", "냉장고"},
		{"", "4", ""},
		{"", "5", "nan"},
		{"", "6", "세탁기"},
	}

	got, err := NewCodebookParser(verticalSource(), "w2_").Parse(rows)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []CodebookEntry{
		{
			ID: "w2_Q1", Title: "결혼여부", Type: "SINGLE",
			Choices: []Choice{{"1", "미혼"}, {"2", "기혼"}, {"3", "기타(사별/이혼 등)"}},
		},
		{ID: "w2_Q2", Title: "자녀수", Type: "Numeric", Choices: []Choice{}},
		{
			ID: "w2_Q3", Title: "보유 가전", Type: "MULTI",
			Choices: []Choice{{"1", "TV"}, {"6", "세탁기"}},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestVerticalParser_StrictQuestionStart(t *testing.T) {
	// Coded rows that fail the start rule neither open nor close a question.
	rows := [][]string{
		{"Q1", "title", "SINGLE"},
		{"", "1", "a"},
		{"mb_sn", "회원번호", "String"},
		{"", "2", "b"},
		{"Quality", "3", "c"},
		{"Q2", "next", "SINGLE"},
		{"", "1", "d"},
	}

	got, err := NewCodebookParser(verticalSource(), "w2_").Parse(rows)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []CodebookEntry{
		{ID: "w2_Q1", Title: "title", Type: "SINGLE", Choices: []Choice{{"1", "a"}, {"2", "b"}, {"3", "c"}}},
		{ID: "w2_Q2", Title: "next", Type: "SINGLE", Choices: []Choice{{"1", "d"}}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestVerticalParser_NumericCodeRowKeepsQuestionOpen(t *testing.T) {
	rows := [][]string{
		{"Q1", "결혼여부", "SINGLE"},
		{"", "1", "미혼"},
		{"2", "2", "기혼"},
		{"", "3", "기타"},
	}

	got, err := NewCodebookParser(verticalSource(), "w2_").Parse(rows)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []CodebookEntry{{
		ID: "w2_Q1", Title: "결혼여부", Type: "SINGLE",
		Choices: []Choice{{"1", "미혼"}, {"2", "기혼"}, {"3", "기타"}},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestVerticalParser_ChoiceCodeMustBeDigits(t *testing.T) {
	rows := [][]string{
		{"Q1", "title", "SINGLE"},
		{"", "+1", "plus"},
		{"", "-2", "minus"},
		{"", "1.5", "decimal"},
		{"", "３", "fullwidth"},
		{"", "07", "kept"},
	}

	got, _ := NewCodebookParser(verticalSource(), "w2_").Parse(rows)
	if len(got) != 1 {
		t.Fatalf("Parse() = %+v, want one question", got)
	}
	if want := []Choice{{"07", "kept"}}; !reflect.DeepEqual(got[0].Choices, want) {
		t.Errorf("Choices = %+v, want %+v", got[0].Choices, want)
	}
}

func TestVerticalParser_ChoicesBeforeQuestionIgnored(t *testing.T) {
	rows := [][]string{
		{"", "1", "orphan"},
		{"Q1", "title", "SINGLE"},
		{"", "1", "kept"},
	}

	got, _ := NewCodebookParser(verticalSource(), "p_").Parse(rows)
	if len(got) != 1 || len(got[0].Choices) != 1 || got[0].Choices[0].Label != "kept" {
		t.Errorf("Parse() = %+v, want one question with choice 'kept'", got)
	}
}

func TestVerticalParser_DuplicateIDLastWins(t *testing.T) {
	rows := [][]string{
		{"Q1", "first", "SINGLE"},
		{"", "1", "a"},
		{"Q2", "other", "SINGLE"},
		{"Q1", "second", "SINGLE"},
		{"", "1", "b"},
	}

	got, _ := NewCodebookParser(verticalSource(), "p_").Parse(rows)
	if len(got) != 2 {
		t.Fatalf("Parse() returned %d entries, want 2", len(got))
	}
	if got[0].ID != "p_Q1" || got[0].Title != "second" || got[0].Choices[0].Label != "b" {
		t.Errorf("first entry = %+v, want redefined Q1 in first position", got[0])
	}
	if got[1].ID != "p_Q2" {
		t.Errorf("second entry = %+v, want Q2", got[1])
	}
}

func TestVerticalParser_Empty(t *testing.T) {
	got, err := NewCodebookParser(verticalSource(), "p_").Parse(nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Parse(nil) = %v, %v; want no entries", got, err)
	}
}

// ----------------------------------------------------------------------------
// Horizontal Codebook Tests
// ----------------------------------------------------------------------------

func horizontalSource() Source {
	return Source{
		Name:     "qpoll",
		Codebook: CodebookHorizontal,
		Horizontal: HorizontalCodebook{
			TitleColumn:  "설문제목",
			ChoicePrefix: "보기",
			MaxChoices:   10,
		},
		IDCandidates: []string{"mb_sn", "고유번호"},
		Demographics: []DemographicRule{
			{Field: FieldGender, Columns: []string{"성별"}},
			{Field: FieldAge, Columns: []string{"나이"}},
		},
	}
}

func TestHorizontalParser(t *testing.T) {
	rows := [][]string{
		{"설문제목", "보기1", "보기2", "보기3", "보기11"},
		{"체력 관리", "헬스", "요가", "", "ignored"},
		{"성별", "남", "여", "", ""},
		{"", "orphan", "", "", ""},
		{"이용\n서비스", "배달", "nan", "택시", ""},
		{"고유번호", "", "", "", ""},
	}

	got, err := NewCodebookParser(horizontalSource(), "qp250106_").Parse(rows)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []CodebookEntry{
		{ID: "qp250106_체력 관리", Title: "체력 관리", Choices: []Choice{{"1", "헬스"}, {"2", "요가"}}},
		{ID: "qp250106_이용 서비스", Title: "이용 서비스", Choices: []Choice{{"1", "배달"}, {"3", "택시"}}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestHorizontalParser_DuplicateTitleLastWins(t *testing.T) {
	rows := [][]string{
		{"설문제목", "보기1"},
		{"A", "old"},
		{"B", "b"},
		{"A", "new"},
	}

	got, _ := NewCodebookParser(horizontalSource(), "qp_").Parse(rows)
	if len(got) != 2 || got[0].Choices[0].Label != "new" || got[1].ID != "qp_B" {
		t.Errorf("Parse() = %+v, want A(new) then B", got)
	}
}

func TestHorizontalParser_MissingTitleColumn(t *testing.T) {
	_, err := NewCodebookParser(horizontalSource(), "qp_").Parse([][]string{{"제목", "보기1"}})
	if !errors.Is(err, ErrMissingColumn) {
		t.Errorf("Parse() error = %v, want ErrMissingColumn", err)
	}
}

func TestNewCodebookParser_None(t *testing.T) {
	if p := NewCodebookParser(Source{Codebook: CodebookNone}, "x_"); p != nil {
		t.Errorf("NewCodebookParser(CodebookNone) = %T, want nil", p)
	}
}
