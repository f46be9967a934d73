package core

// codebook.go parses the two codebook layouts found in panel exports.
//
// Vertical (one question spans several rows):
//
//	code | text        | type
//	Q1   | 결혼여부      | SINGLE     <- question-start row
//	     | 1           | 미혼        <- choice row
//	     | 2           | 기혼        <- choice row
//	Q2   | ...
//
// Horizontal (one row per question, choices spread over fixed columns):
//
//	설문제목   | 보기1 | 보기2 | ... | 보기10
//	체력 관리  | 헬스  | 요가  |
//
// Both variants key entries by id in a map so a repeated id keeps its last
// definition, while the output keeps first-appearance order.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultQuestionStart is the vertical question-start rule: codes beginning
// with "Q" followed by a digit.
var DefaultQuestionStart = regexp.MustCompile(`^[Qq]\d`)

// DefaultTypeKeywords are vertical labels that name a question type.
var DefaultTypeKeywords = []string{"SINGLE", "MULTI", "MULTIPLE", "Numeric", "String", "TEXT", "OPEN"}

// DefaultMaxChoices bounds the horizontal choice columns.
const DefaultMaxChoices = 10

// CodebookParser turns codebook rows into entries for one source.
type CodebookParser interface {
	Parse(rows [][]string) ([]CodebookEntry, error)
}

// NewCodebookParser returns the parser variant configured by the source.
// Returns nil if the source has no codebook.
func NewCodebookParser(src Source, prefix string) CodebookParser {
	skip := append([]string(nil), src.SkipCodebookIf...)
	skip = append(skip, src.IDCandidates...)

	switch src.Codebook {
	case CodebookVertical:
		start := src.Vertical.QuestionStart
		if start == nil {
			start = DefaultQuestionStart
		}
		keywords := src.Vertical.TypeKeywords
		if len(keywords) == 0 {
			keywords = DefaultTypeKeywords
		}
		return &VerticalParser{Prefix: prefix, QuestionStart: start, TypeKeywords: keywords, Skip: skip}
	case CodebookHorizontal:
		hp := &HorizontalParser{
			Prefix:       prefix,
			TitleColumn:  src.Horizontal.TitleColumn,
			ChoicePrefix: src.Horizontal.ChoicePrefix,
			MaxChoices:   src.Horizontal.MaxChoices,
			Skip:         skip,
		}
		hp.Skip = append(hp.Skip, src.IgnoredColumns...)
		for _, rule := range src.Demographics {
			hp.Skip = append(hp.Skip, rule.Columns...)
		}
		return hp
	default:
		return nil
	}
}

// entrySet collects entries with last-wins semantics per id.
type entrySet struct {
	order []string
	byID  map[string]CodebookEntry
}

func newEntrySet() *entrySet {
	return &entrySet{byID: make(map[string]CodebookEntry)}
}

func (s *entrySet) put(e CodebookEntry) {
	if _, seen := s.byID[e.ID]; !seen {
		s.order = append(s.order, e.ID)
	}
	s.byID[e.ID] = e
}

func (s *entrySet) entries() []CodebookEntry {
	out := make([]CodebookEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// parserState is the vertical parser's state.
type parserState int

const (
	stateNoQuestion parserState = iota
	stateInQuestion
)

// VerticalParser parses codebooks where a question opens with a coded row
// and its choices follow on the rows below it. Only codes that match
// QuestionStart open a question; any other row, even one with a stray code,
// is read as a choice of the open question.
type VerticalParser struct {
	Prefix        string
	QuestionStart *regexp.Regexp
	TypeKeywords  []string
	Skip          []string
}

// Parse runs the question state machine over the rows. The first row is
// expected to be the column header and is skipped when it does not open a
// question.
func (p *VerticalParser) Parse(rows [][]string) ([]CodebookEntry, error) {
	set := newEntrySet()
	state := stateNoQuestion
	var current CodebookEntry

	closeCurrent := func() {
		if state == stateInQuestion && !containsString(p.Skip, strings.TrimPrefix(current.ID, p.Prefix)) {
			set.put(current)
		}
		state = stateNoQuestion
	}

	for _, row := range rows {
		code := cellAt(row, 0)
		col2 := cellAt(row, 1)
		col3 := cellAt(row, 2)

		if code != "" && p.QuestionStart.MatchString(code) {
			closeCurrent()
			current = CodebookEntry{
				ID:      p.Prefix + code,
				Title:   col2,
				Type:    col3,
				Choices: []Choice{},
			}
			state = stateInQuestion
			continue
		}

		// Every other row is a choice candidate, coded or not. Only a
		// question-start row or the end of input closes a question.
		if state != stateInQuestion {
			continue
		}
		if choice, ok := p.choice(col2, col3); ok {
			current.Choices = append(current.Choices, choice)
		}
	}
	closeCurrent()

	return set.entries(), nil
}

// choice validates a choice row: the code must be unsigned decimal digits
// and the label must not be a question-type keyword.
func (p *VerticalParser) choice(code, label string) (Choice, bool) {
	if !isDigits(code) || label == "" {
		return Choice{}, false
	}
	for _, kw := range p.TypeKeywords {
		if strings.EqualFold(label, kw) {
			return Choice{}, false
		}
	}
	return Choice{Code: code, Label: label}, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// HorizontalParser parses codebooks with one question per row.
type HorizontalParser struct {
	Prefix       string
	TitleColumn  string
	ChoicePrefix string
	MaxChoices   int
	Skip         []string
}

// Parse reads the header row to locate the title and choice columns, then
// emits one entry per titled row. The title is the question id.
func (p *HorizontalParser) Parse(rows [][]string) ([]CodebookEntry, error) {
	set := newEntrySet()
	if len(rows) == 0 {
		return nil, nil
	}

	idx := MakeHeaderIndex(rows[0])
	titlePos, ok := idx[p.TitleColumn]
	if !ok {
		return nil, fmt.Errorf("%w: codebook title column %q", ErrMissingColumn, p.TitleColumn)
	}

	max := p.MaxChoices
	if max <= 0 {
		max = DefaultMaxChoices
	}
	choicePos := make([]int, max)
	for i := range choicePos {
		pos, ok := idx[p.ChoicePrefix+strconv.Itoa(i+1)]
		if !ok {
			pos = -1
		}
		choicePos[i] = pos
	}

	for _, row := range rows[1:] {
		title := cellAt(row, titlePos)
		if title == "" || containsString(p.Skip, title) {
			continue
		}

		entry := CodebookEntry{ID: p.Prefix + title, Title: title, Choices: []Choice{}}
		for i, pos := range choicePos {
			if pos < 0 {
				continue
			}
			if label := cellAt(row, pos); label != "" {
				entry.Choices = append(entry.Choices, Choice{Code: strconv.Itoa(i + 1), Label: label})
			}
		}
		set.put(entry)
	}

	return set.entries(), nil
}

// cellAt returns the cleaned cell at pos, or "" when absent.
func cellAt(row []string, pos int) string {
	if pos < 0 || pos >= len(row) {
		return ""
	}
	v, _ := Clean(row[pos])
	return v
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
