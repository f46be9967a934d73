package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the placeholder style.
type Dialect int

const (
	// Postgres numbers placeholders: $1, $2, ...
	Postgres Dialect = iota
	// SQLite uses positional ? placeholders.
	SQLite
)

// WhereBuilder accumulates AND-joined conditions and their bound arguments.
type WhereBuilder struct {
	dialect    Dialect
	qualifier  string
	argIndex   int
	conditions []string
	args       []any
}

// NewWhereBuilder returns an empty builder for the dialect.
func NewWhereBuilder(d Dialect) *WhereBuilder {
	return &WhereBuilder{dialect: d, argIndex: 1}
}

// Qualify prefixes filter columns with a table alias.
func (wb *WhereBuilder) Qualify(alias string) *WhereBuilder {
	wb.qualifier = alias
	return wb
}

func (wb *WhereBuilder) placeholder() string {
	if wb.dialect == SQLite {
		wb.argIndex++
		return "?"
	}
	p := "$" + strconv.Itoa(wb.argIndex)
	wb.argIndex++
	return p
}

func (wb *WhereBuilder) column(name string) string {
	col := quoteIdentifier(name)
	if wb.qualifier != "" {
		return wb.qualifier + "." + col
	}
	return col
}

// Add appends "column = value". Empty values are skipped.
func (wb *WhereBuilder) Add(column, value string) {
	if value == "" {
		return
	}
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s = %s", wb.column(column), wb.placeholder()))
	wb.args = append(wb.args, value)
}

// AddFilters validates filters and appends one parenthesized condition per
// column. Within a column, conditions are OR-joined when all operators are
// =, != or LIKE and AND-joined otherwise. Nothing is appended on error.
func (wb *WhereBuilder) AddFilters(filters []Filter) error {
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}

	for _, g := range groupFilters(filters) {
		col := wb.column(string(g.field))
		parts := make([]string, 0, len(g.filters))
		for _, f := range g.filters {
			op, _ := ParseOp(string(f.Op))
			parts = append(parts, fmt.Sprintf("%s %s %s", col, op, wb.placeholder()))
			wb.args = append(wb.args, f.arg())
		}
		wb.conditions = append(wb.conditions, "("+strings.Join(parts, g.joiner())+")")
	}
	return nil
}

// NextArgIndex returns the index the next bound argument will take.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

// Build returns " WHERE ..." and the arguments, or "" and nil when empty.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
