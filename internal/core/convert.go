package core

// convert.go turns raw export cells into clean values.
//
// Export files carry the usual artifacts:
//   - Excel formula prefixes (="value") and stray quotes
//   - Spreadsheet floats for integer codes ("3.0")
//   - Textual missing markers left by earlier tooling ("nan", "None", "#N/A")
//
// Whether a cell is present is decided here, once. Callers receive
// (value, ok) or a pgtype value with Valid=false and never inspect the
// text for sentinels again.

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// missingMarkers are compared case-insensitively after cleaning.
var missingMarkers = map[string]struct{}{
	"nan":  {},
	"nat":  {},
	"none": {},
	"null": {},
	"nil":  {},
	"n/a":  {},
	"#n/a": {},
}

// integralFloat matches spreadsheet renderings of integers such as "3.0".
var integralFloat = regexp.MustCompile(`^[+-]?\d+\.0+$`)

// DefaultAnswerDelimiter separates multi-valued answers ("1, 3, 4").
const DefaultAnswerDelimiter = ","

// CleanCell removes common export artifacts from a cell value:
// - Trims whitespace (including non-breaking spaces)
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
// - Folds embedded line breaks to single spaces
func CleanCell(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)

	if strings.ContainsAny(s, "\r\n") {
		s = strings.Join(strings.Fields(s), " ")
	}

	return strings.TrimSpace(s)
}

// Clean returns the cleaned cell and whether it holds a value. Blank cells,
// whitespace and missing markers are absent.
func Clean(s string) (string, bool) {
	s = CleanCell(s)
	if s == "" {
		return "", false
	}
	if _, missing := missingMarkers[strings.ToLower(s)]; missing {
		return "", false
	}
	if integralFloat.MatchString(s) {
		s = s[:strings.IndexByte(s, '.')]
	}
	return s, true
}

// IsMissing reports whether a raw cell is absent after cleaning.
func IsMissing(s string) bool {
	_, ok := Clean(s)
	return !ok
}

// SplitAnswer splits a raw answer on any of the delimiter characters and
// returns the non-blank atomic tokens in order. Absent cells yield nil.
func SplitAnswer(raw, delimiters string) []string {
	value, ok := Clean(raw)
	if !ok {
		return nil
	}
	if delimiters == "" {
		delimiters = DefaultAnswerDelimiter
	}

	parts := strings.FieldsFunc(value, func(r rune) bool {
		return strings.ContainsRune(delimiters, r)
	})

	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if tok, ok := Clean(p); ok {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// ToText converts a cleaned value to pgtype.Text.
// Returns invalid if the value is absent.
func ToText(s string) pgtype.Text {
	s, ok := Clean(s)
	if !ok {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToInt4 converts a cleaned value to pgtype.Int4.
// Returns invalid if the value is absent or not an integer.
func ToInt4(s string) pgtype.Int4 {
	s, ok := Clean(s)
	if !ok {
		return pgtype.Int4{Valid: false}
	}
	i, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return pgtype.Int4{Valid: false}
	}
	return pgtype.Int4{Int32: int32(i), Valid: true}
}

// MakeHeaderIndex creates a HeaderIndex from a header row.
// Keys are cleaned but case is preserved; the first occurrence of a
// duplicated header wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := CleanCell(h)
		if key == "" {
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// HeaderIndex maps cleaned column names to their position in a row.
type HeaderIndex map[string]int

// Cell returns the raw cell for a column, or "" if the column or cell is absent.
func (h HeaderIndex) Cell(row []string, column string) string {
	pos, ok := h[column]
	if !ok || pos >= len(row) {
		return ""
	}
	return row[pos]
}

// IsEmptyRow reports whether every cell of the row is blank.
func IsEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
