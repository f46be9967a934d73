package core

import (
	"reflect"
	"testing"
)

// ----------------------------------------------------------------------------
// Clean Tests
// ----------------------------------------------------------------------------

func TestClean(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		// Present values
		{name: "plain text", input: "서울", want: "서울", wantOK: true},
		{name: "surrounding whitespace", input: "  12345  ", want: "12345", wantOK: true},
		{name: "spreadsheet float", input: "3.0", want: "3", wantOK: true},
		{name: "negative spreadsheet float", input: "-2.00", want: "-2", wantOK: true},
		{name: "real decimal kept", input: "3.5", want: "3.5", wantOK: true},
		{name: "excel formula", input: `="0012"`, want: "0012", wantOK: true},
		{name: "zero is a value", input: "0", want: "0", wantOK: true},

		// Absent values
		{name: "empty", input: "", wantOK: false},
		{name: "whitespace only", input: "   \t ", wantOK: false},
		{name: "non-breaking space only", input: "\u00a0", wantOK: false},
		{name: "nan", input: "nan", wantOK: false},
		{name: "NaN mixed case", input: "NaN", wantOK: false},
		{name: "None", input: "None", wantOK: false},
		{name: "NULL", input: "NULL", wantOK: false},
		{name: "N/A", input: "N/A", wantOK: false},
		{name: "#N/A", input: "#N/A", wantOK: false},
		{name: "quoted nan", input: `"nan"`, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Clean(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("Clean(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// SplitAnswer Tests
// ----------------------------------------------------------------------------

func TestSplitAnswer(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		delimiters string
		want       []string
	}{
		{name: "single value", raw: "2", want: []string{"2"}},
		{name: "comma list with spaces", raw: "1, 3, 4", want: []string{"1", "3", "4"}},
		{name: "empty tokens dropped", raw: "1,,3, ", want: []string{"1", "3"}},
		{name: "blank cell", raw: "", want: nil},
		{name: "missing marker", raw: "nan", want: nil},
		{name: "only delimiters", raw: ", ,", want: []string{}},
		{name: "custom delimiter set", raw: "1|2;3", delimiters: "|;", want: []string{"1", "2", "3"}},
		{name: "float tokens normalized", raw: "1.0,2.0", want: []string{"1", "2"}},
		{name: "free text kept whole", raw: "헬스 자주 함", want: []string{"헬스 자주 함"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitAnswer(tt.raw, tt.delimiters)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitAnswer(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ToText / ToInt4 Tests
// ----------------------------------------------------------------------------

func TestToText(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		wantValue string
	}{
		{"SKT", true, "SKT"},
		{"  KT ", true, "KT"},
		{"", false, ""},
		{"null", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ToText(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToText(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if got.String != tt.wantValue {
				t.Errorf("ToText(%q) = %q, want %q", tt.input, got.String, tt.wantValue)
			}
		})
	}
}

func TestToInt4(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		wantValue int32
	}{
		{"1984", true, 1984},
		{"41.0", true, 41},
		{"abc", false, 0},
		{"", false, 0},
		{"99999999999", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ToInt4(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToInt4(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if got.Int32 != tt.wantValue {
				t.Errorf("ToInt4(%q) = %d, want %d", tt.input, got.Int32, tt.wantValue)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no change", input: "hello", want: "hello"},
		{name: "excel formula with quotes", input: `="12345"`, want: "12345"},
		{name: "bare formula prefix", input: "=SUM", want: "SUM"},
		{name: "double quotes", input: `"quoted"`, want: "quoted"},
		{name: "single quotes", input: "'quoted'", want: "quoted"},
		{name: "embedded newline folded", input: "체력\n관리", want: "체력 관리"},
		{name: "crlf folded", input: "a\r\n b", want: "a b"},
		{name: "non-breaking space trimmed", input: "\u00a0Q1\u00a0", want: "Q1"},
		{name: "keeps missing marker text", input: "nan", want: "nan"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// MakeHeaderIndex Tests
// ----------------------------------------------------------------------------

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{" mb_sn ", "Q1", "", "Q1", `="Q2"`})

	want := HeaderIndex{"mb_sn": 0, "Q1": 1, "Q2": 4}
	if !reflect.DeepEqual(idx, want) {
		t.Errorf("MakeHeaderIndex() = %v, want %v", idx, want)
	}

	row := []string{"A1", "3"}
	if got := idx.Cell(row, "mb_sn"); got != "A1" {
		t.Errorf("Cell(mb_sn) = %q, want %q", got, "A1")
	}
	if got := idx.Cell(row, "Q2"); got != "" {
		t.Errorf("Cell(Q2) on short row = %q, want empty", got)
	}
	if got := idx.Cell(row, "missing"); got != "" {
		t.Errorf("Cell(missing) = %q, want empty", got)
	}
}

func TestIsEmptyRow(t *testing.T) {
	tests := []struct {
		name string
		row  []string
		want bool
	}{
		{"nil row", nil, true},
		{"all blank", []string{"", " ", "\t"}, true},
		{"one value", []string{"", "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEmptyRow(tt.row); got != tt.want {
				t.Errorf("IsEmptyRow(%v) = %v, want %v", tt.row, got, tt.want)
			}
		})
	}
}
