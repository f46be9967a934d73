package core

import (
	"fmt"
	"time"
)

// Column roles are resolved once per table. Rows are then read through the
// resolved positions and never re-inspect header text.

// questionColumn is one answer-bearing column.
type questionColumn struct {
	pos        int
	questionID string // prefixed
}

// demographicColumns is a DemographicRule bound to column positions.
type demographicColumns struct {
	rule      DemographicRule
	positions []int // -1 when the column is absent from this file
}

// Table is the typed column-role accessor for one data sheet.
type Table struct {
	src       Source
	prefix    string
	idColumn  string
	idPos     int
	demo      []demographicColumns
	questions []questionColumn
	dataStart int // index of the first data row
	headerRow int // 1-based row holding the column codes
}

// IDColumn returns the name of the resolved id column.
func (t *Table) IDColumn() string { return t.idColumn }

// QuestionIDs returns the prefixed question ids in column order.
func (t *Table) QuestionIDs() []string {
	ids := make([]string, 0, len(t.questions))
	seen := make(map[string]struct{}, len(t.questions))
	for _, q := range t.questions {
		if _, dup := seen[q.questionID]; dup {
			continue
		}
		seen[q.questionID] = struct{}{}
		ids = append(ids, q.questionID)
	}
	return ids
}

// ResolveTable inspects the header row(s) of a data sheet and binds every
// column to its role: id, demographic, ignored or question.
func ResolveTable(src Source, prefix string, rows [][]string) (*Table, error) {
	var titles, codes []string
	dataStart := 1

	switch src.Layout {
	case LayoutTwoRowHeader:
		if len(rows) < 2 {
			return nil, &ParseError{Source: src.SourceID(), Err: fmt.Errorf("%w: two header rows required", ErrEmptyFile)}
		}
		titles, codes = rows[0], rows[1]
		dataStart = 2
	default:
		if len(rows) < 1 {
			return nil, &ParseError{Source: src.SourceID(), Err: ErrEmptyFile}
		}
		codes = rows[0]
	}

	idx := MakeHeaderIndex(codes)

	// The code row is the last header row.
	t := &Table{src: src, prefix: prefix, dataStart: dataStart, headerRow: dataStart}
	if err := t.resolveID(idx); err != nil {
		return nil, err
	}

	exclude := append([]string(nil), src.IDCandidates...)
	if src.CanonicalID != "" {
		exclude = append(exclude, src.CanonicalID)
	}
	exclude = append(exclude, src.IgnoredColumns...)
	for _, rule := range src.Demographics {
		dc := demographicColumns{rule: rule, positions: make([]int, len(rule.Columns))}
		for i, col := range rule.Columns {
			pos, ok := idx[col]
			if !ok {
				pos = -1
			}
			dc.positions[i] = pos
		}
		t.demo = append(t.demo, dc)
		exclude = append(exclude, rule.Columns...)
	}

	if src.SkipAnswers {
		return t, nil
	}

	opts := HeaderOptions{Placeholder: src.Placeholder, OtherSuffixes: src.OtherSuffixes, Exclude: exclude}
	var headers HeaderMap
	if src.Layout == LayoutTwoRowHeader {
		headers = ResolveHeaders(titles, codes, opts)
	} else {
		headers = FlatHeaders(codes, opts)
	}

	for pos, raw := range codes {
		code := CleanCell(raw)
		title, ok := headers.Title(code)
		if !ok {
			continue
		}
		key := code
		if src.QuestionKey == KeyByTitle {
			key = title
		}
		t.questions = append(t.questions, questionColumn{pos: pos, questionID: prefix + key})
	}

	return t, nil
}

// resolveID picks the canonical id column when present, otherwise the first
// candidate present in the header.
func (t *Table) resolveID(idx HeaderIndex) error {
	if t.src.CanonicalID != "" {
		if pos, ok := idx[t.src.CanonicalID]; ok {
			t.idColumn, t.idPos = t.src.CanonicalID, pos
			return nil
		}
	}
	for _, candidate := range t.src.IDCandidates {
		if pos, ok := idx[candidate]; ok {
			t.idColumn, t.idPos = candidate, pos
			return nil
		}
	}
	return &ParseError{
		Source: t.src.SourceID(),
		Row:    t.headerRow,
		Err:    fmt.Errorf("header: %w: tried %v", ErrNoIDColumn, t.src.IDCandidates),
	}
}

// Normalize converts the data rows into a Batch. Rows without a usable
// respondent id are counted in SkippedRows. For a respondent repeated within
// the file, metadata is coalesced in row order and answers come from its
// last row. Coalescing matches the store's rule: a later row fills blanks
// but never replaces a value.
func (t *Table) Normalize(rows [][]string, now time.Time) Batch {
	batch := Batch{Source: t.src.SourceID(), Prefix: t.prefix, MetadataOnly: t.src.SkipAnswers}

	metaByID := make(map[string]Metadata)
	answersByID := make(map[string][]AnswerRecord)

	if len(rows) < t.dataStart {
		return batch
	}

	for _, row := range rows[t.dataStart:] {
		if IsEmptyRow(row) {
			continue
		}
		id, ok := Clean(cellOf(row, t.idPos))
		if !ok {
			batch.SkippedRows++
			continue
		}

		if _, seen := metaByID[id]; !seen {
			batch.Respondents = append(batch.Respondents, id)
			metaByID[id] = Metadata{RespondentID: id}
		}
		metaByID[id] = metaByID[id].Coalesce(t.metadata(row, now))

		if t.src.SkipAnswers {
			continue
		}
		answersByID[id] = t.answers(id, row)
	}

	for _, id := range batch.Respondents {
		if m := metaByID[id]; !m.IsEmpty() {
			batch.Metadata = append(batch.Metadata, m)
		}
		batch.Answers = append(batch.Answers, answersByID[id]...)
	}
	return batch
}

func (t *Table) metadata(row []string, now time.Time) Metadata {
	var m Metadata
	for _, dc := range t.demo {
		values := make([]string, len(dc.positions))
		for i, pos := range dc.positions {
			values[i], _ = Clean(cellOf(row, pos))
		}
		if dc.rule.Transform != nil {
			m = m.Coalesce(dc.rule.Transform(values, now))
			continue
		}
		for _, v := range values {
			if v != "" {
				var single Metadata
				single.Set(dc.rule.Field, v)
				m = m.Coalesce(single)
				break
			}
		}
	}
	return m
}

func (t *Table) answers(id string, row []string) []AnswerRecord {
	var out []AnswerRecord
	for _, q := range t.questions {
		for _, tok := range SplitAnswer(cellOf(row, q.pos), t.src.AnswerDelimiter) {
			out = append(out, AnswerRecord{RespondentID: id, QuestionID: q.questionID, Value: tok})
		}
	}
	return out
}

func cellOf(row []string, pos int) string {
	if pos < 0 || pos >= len(row) {
		return ""
	}
	return row[pos]
}

// NormalizeSheet resolves the table and normalizes its rows in one call.
func NormalizeSheet(src Source, prefix string, rows [][]string, now time.Time) (Batch, error) {
	t, err := ResolveTable(src, prefix, rows)
	if err != nil {
		return Batch{}, err
	}
	return t.Normalize(rows, now), nil
}
