package sources

import (
	"strconv"
	"strings"
	"time"

	"github.com/khg9859/Eternal/internal/core"
)

// WelcomeGender maps welcome export sex codes to canonical labels.
var WelcomeGender = map[string]string{
	"M": "남성",
	"F": "여성",
}

// QpollGender maps qpoll sex labels to canonical labels.
var QpollGender = map[string]string{
	"남": "남성",
	"여": "여성",
}

// MapGender returns a transform that rewrites the first column through
// labels. Keys are matched case-insensitively; unknown values pass through
// unchanged so already-canonical labels survive.
func MapGender(labels map[string]string) core.Transform {
	return func(values []string, _ time.Time) core.Metadata {
		var m core.Metadata
		if len(values) == 0 || values[0] == "" {
			return m
		}
		m.Set(core.FieldGender, NormalizeGender(values[0], labels))
		return m
	}
}

// NormalizeGender converts a raw sex value using labels.
// If the value is not recognized, returns it as-is.
func NormalizeGender(s string, labels map[string]string) string {
	s = strings.TrimSpace(s)
	if label, ok := labels[s]; ok {
		return label
	}
	if label, ok := labels[strings.ToUpper(s)]; ok {
		return label
	}
	return s
}

// BirthYear derives birth_year and age from a four-digit year. Age is
// computed against now, so tests can pin the clock. Other values leave both
// fields null.
func BirthYear(values []string, now time.Time) core.Metadata {
	var m core.Metadata
	if len(values) == 0 || len(values[0]) != 4 {
		return m
	}
	year, err := strconv.Atoi(values[0])
	if err != nil || year <= 0 || year > now.Year() {
		return m
	}
	m.Set(core.FieldBirthYear, values[0])
	m.Set(core.FieldAge, strconv.Itoa(now.Year()-year))
	return m
}

// JoinRegion concatenates the non-empty region parts with a space, in column
// order. A single present part is used alone.
func JoinRegion(values []string, _ time.Time) core.Metadata {
	var m core.Metadata
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		m.Set(core.FieldRegion, strings.Join(parts, " "))
	}
	return m
}
