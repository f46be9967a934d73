package core

// headers.go reconstructs question titles for two-row-header exports.
//
// Row 1 carries question titles in merged cells: only the first column of a
// merge holds the text, the rest are blank (or carry a placeholder such as
// "Unnamed: 7" when a previous tool has already flattened the sheet). Row 2
// carries one short code per column. Every column inherits the nearest
// non-blank title to its left.

import (
	"regexp"
	"strings"
)

// DefaultPlaceholder matches auto-generated names of unnamed header cells.
var DefaultPlaceholder = regexp.MustCompile(`^Unnamed(: ?\d+)?(_level_\d+)?$`)

// HeaderOptions tunes ResolveHeaders for one source.
type HeaderOptions struct {
	Placeholder   *regexp.Regexp // nil uses DefaultPlaceholder
	OtherSuffixes []string       // codes ending in one of these are excluded
	Exclude       []string       // codes never mapped (id, demographics, ignored)
}

// HeaderMap maps a column short code to its resolved title.
type HeaderMap map[string]string

// Title returns the resolved title for code.
func (h HeaderMap) Title(code string) (string, bool) {
	t, ok := h[code]
	return t, ok
}

// ForwardFill returns one title per column: the nearest non-blank title at
// or before the column. Columns before the first title get "".
func ForwardFill(titles []string, placeholder *regexp.Regexp) []string {
	if placeholder == nil {
		placeholder = DefaultPlaceholder
	}

	filled := make([]string, len(titles))
	last := ""
	for i, raw := range titles {
		if t := CleanCell(raw); t != "" && !placeholder.MatchString(t) {
			last = t
		}
		filled[i] = last
	}
	return filled
}

// ResolveHeaders builds the short-code→title map from the two header rows.
// It is a pure function of its inputs. Placeholder codes, codes with an
// other/free-text suffix and excluded codes are left out so they can never be stored under the base
// question's id. When a code repeats, the right-most column wins.
func ResolveHeaders(titles, codes []string, opts HeaderOptions) HeaderMap {
	placeholder := opts.Placeholder
	if placeholder == nil {
		placeholder = DefaultPlaceholder
	}
	filled := ForwardFill(titles, placeholder)

	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, e := range opts.Exclude {
		excluded[e] = struct{}{}
	}

	m := make(HeaderMap, len(codes))
	for i, raw := range codes {
		code := CleanCell(raw)
		if code == "" || placeholder.MatchString(code) || i >= len(filled) || filled[i] == "" {
			continue
		}
		if _, skip := excluded[code]; skip {
			continue
		}
		if hasAnySuffix(code, opts.OtherSuffixes) {
			continue
		}
		m[code] = filled[i]
	}
	return m
}

// FlatHeaders maps each code to itself, applying the same exclusions as
// ResolveHeaders. Used for single-row-header exports. Placeholder columns map
// to nothing.
func FlatHeaders(codes []string, opts HeaderOptions) HeaderMap {
	placeholder := opts.Placeholder
	if placeholder == nil {
		placeholder = DefaultPlaceholder
	}

	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, e := range opts.Exclude {
		excluded[e] = struct{}{}
	}

	m := make(HeaderMap, len(codes))
	for _, raw := range codes {
		code := CleanCell(raw)
		if code == "" || placeholder.MatchString(code) {
			continue
		}
		if _, skip := excluded[code]; skip {
			continue
		}
		if hasAnySuffix(code, opts.OtherSuffixes) {
			continue
		}
		m[code] = code
	}
	return m
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if suf != "" && strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
