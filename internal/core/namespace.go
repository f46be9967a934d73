package core

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// RewriteRule derives a prefix from a source id with a regexp replacement.
type RewriteRule struct {
	Pattern *regexp.Regexp
	Replace string // expanded with Pattern's submatches
}

// DefaultRewriteRules turns dated qpoll exports into short prefixes:
// qpoll_join_250106 becomes qp250106_.
var DefaultRewriteRules = []RewriteRule{
	{Pattern: regexp.MustCompile(`^qpoll_join_(\d+)$`), Replace: "qp${1}_"},
}

var unsafePrefixChars = regexp.MustCompile(`[^a-z0-9]+`)

// Allocator maps concrete source ids to namespace prefixes. Respondent ids
// are never prefixed; only question ids are.
type Allocator struct {
	Rules []RewriteRule
}

// NewAllocator returns an allocator with the given rules, or the defaults
// when none are given.
func NewAllocator(rules ...RewriteRule) *Allocator {
	if len(rules) == 0 {
		rules = DefaultRewriteRules
	}
	return &Allocator{Rules: rules}
}

// Prefix returns the prefix for one source: the pinned prefix, else the first
// matching rewrite rule, else a derived prefix.
func (a *Allocator) Prefix(src Source) string {
	if src.Prefix != "" {
		return src.Prefix
	}
	id := src.SourceID()
	for _, r := range a.Rules {
		if r.Pattern.MatchString(id) {
			return r.Pattern.ReplaceAllString(id, r.Replace)
		}
	}
	return DerivedPrefix(id)
}

// DerivedPrefix builds a fallback prefix from a sanitized id stem and a short
// hash of the full id, so distinct ids with the same stem stay distinct.
func DerivedPrefix(id string) string {
	stem := strings.Trim(unsafePrefixChars.ReplaceAllString(strings.ToLower(id), "_"), "_")
	if len(stem) > 16 {
		stem = stem[:16]
	}
	if stem == "" {
		stem = "src"
	}
	return fmt.Sprintf("%s_%08x_", stem, uint32(xxhash.Sum64String(id)))
}

// Allocate assigns prefixes to every source and checks the set. known holds
// prefixes already recorded for other source ids (prefix to source id) and
// takes part in the check. Two sources may not share a prefix and no prefix
// may be a leading substring of another, since answer replacement matches
// question ids by prefix.
func (a *Allocator) Allocate(srcs []Source, known map[string]string) (map[string]string, error) {
	owner := make(map[string]string, len(srcs)+len(known))
	for prefix, id := range known {
		owner[prefix] = id
	}

	out := make(map[string]string, len(srcs))
	for _, src := range srcs {
		id := src.SourceID()
		prefix := a.Prefix(src)
		if prefix == "" {
			return nil, &ConfigurationError{Field: id, Err: fmt.Errorf("%w: empty prefix", ErrPrefixCollision)}
		}
		if other, taken := owner[prefix]; taken && other != id {
			return nil, &ConfigurationError{
				Field: id,
				Err:   fmt.Errorf("%w: %q already used by %s", ErrPrefixCollision, prefix, other),
			}
		}
		owner[prefix] = id
		out[id] = prefix
	}

	prefixes := make([]string, 0, len(owner))
	for p := range owner {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for i, short := range prefixes {
		for _, long := range prefixes[i+1:] {
			if !strings.HasPrefix(long, short) {
				break
			}
			if owner[short] != owner[long] {
				return nil, &ConfigurationError{
					Field: owner[long],
					Err:   fmt.Errorf("%w: %q overlaps %q of %s", ErrPrefixCollision, long, short, owner[short]),
				}
			}
		}
	}
	return out, nil
}
