// Package query builds parameterized SQL predicates over respondent metadata.
// Only allow-listed columns and operators ever reach the SQL text; every
// value is bound as a parameter.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/khg9859/Eternal/internal/core"
)

// ErrInvalidFilter is wrapped by every filter validation failure.
var ErrInvalidFilter = errors.New("invalid filter")

// Op is a comparison operator.
type Op string

const (
	OpEq   Op = "="
	OpNe   Op = "!="
	OpLike Op = "LIKE"
	OpGt   Op = ">"
	OpGe   Op = ">="
	OpLt   Op = "<"
	OpLe   Op = "<="
)

// opAliases lets operators travel in URLs without escaping.
var opAliases = map[string]Op{
	"=": OpEq, "eq": OpEq,
	"!=": OpNe, "ne": OpNe,
	"like": OpLike,
	">": OpGt, "gt": OpGt,
	">=": OpGe, "ge": OpGe, "gte": OpGe,
	"<": OpLt, "lt": OpLt,
	"<=": OpLe, "le": OpLe, "lte": OpLe,
}

// equality reports whether op belongs to the OR-joined family.
func (op Op) equality() bool {
	return op == OpEq || op == OpNe || op == OpLike
}

// Filter is one {field, op, value} triple.
type Filter struct {
	Field core.Field `json:"column"`
	Op    Op         `json:"operator"`
	Value string     `json:"value"`
}

// ParseOp resolves an operator symbol or alias.
func ParseOp(s string) (Op, error) {
	op, ok := opAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: operator %q not allowed", ErrInvalidFilter, s)
	}
	return op, nil
}

// ParseFilter parses "field:op:value". The value may itself contain colons.
func ParseFilter(s string) (Filter, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Filter{}, fmt.Errorf("%w: %q is not field:op:value", ErrInvalidFilter, s)
	}
	op, err := ParseOp(parts[1])
	if err != nil {
		return Filter{}, err
	}
	f := Filter{Field: core.Field(strings.TrimSpace(parts[0])), Op: op, Value: parts[2]}
	return f, f.Validate()
}

// Validate checks the field and operator against the allow-lists.
func (f Filter) Validate() error {
	if !core.ValidField(f.Field) {
		return fmt.Errorf("%w: unknown column %q", ErrInvalidFilter, f.Field)
	}
	if _, ok := opAliases[strings.ToLower(string(f.Op))]; !ok {
		return fmt.Errorf("%w: operator %q not allowed", ErrInvalidFilter, f.Op)
	}
	if numericField(f.Field) {
		if f.Op == OpLike {
			return fmt.Errorf("%w: LIKE on numeric column %q", ErrInvalidFilter, f.Field)
		}
		if _, err := strconv.Atoi(strings.TrimSpace(f.Value)); err != nil {
			return fmt.Errorf("%w: %s needs an integer, got %q", ErrInvalidFilter, f.Field, f.Value)
		}
	}
	return nil
}

// arg returns the bound value with the column's type.
func (f Filter) arg() any {
	if numericField(f.Field) {
		n, _ := strconv.Atoi(strings.TrimSpace(f.Value))
		return n
	}
	return f.Value
}

func numericField(f core.Field) bool {
	return f == core.FieldBirthYear || f == core.FieldAge
}

// group holds the filters of one column in input order.
type group struct {
	field   core.Field
	filters []Filter
}

// groupFilters groups by column, keeping first-appearance order of columns.
func groupFilters(filters []Filter) []group {
	var groups []group
	index := make(map[core.Field]int)
	for _, f := range filters {
		i, ok := index[f.Field]
		if !ok {
			i = len(groups)
			index[f.Field] = i
			groups = append(groups, group{field: f.Field})
		}
		groups[i].filters = append(groups[i].filters, f)
	}
	return groups
}

// joiner is OR when every operator in the group is =, != or LIKE, else AND.
func (g group) joiner() string {
	for _, f := range g.filters {
		if !f.Op.equality() {
			return " AND "
		}
	}
	return " OR "
}
