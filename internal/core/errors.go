package core

import (
	"errors"
	"fmt"
)

// Sentinel causes. Typed errors below wrap these so callers can match with
// errors.Is regardless of which phase produced them.
var (
	ErrMissingColumn   = errors.New("missing required column")
	ErrNoIDColumn      = errors.New("id column not found")
	ErrEmptyFile       = errors.New("empty file")
	ErrEncoding        = errors.New("encoding error")
	ErrUnknownSource   = errors.New("unknown source")
	ErrPrefixCollision = errors.New("prefix collision")
	ErrForeignAnswer   = errors.New("answer outside merge scope")
)

// ConfigurationError reports an invalid source or runtime configuration.
// It is fatal before any source is processed.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// SourceReadError reports a missing, unreadable or undecodable input file.
type SourceReadError struct {
	Source string
	Path   string
	Err    error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("source %s: read %s: %v", e.Source, e.Path, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// ParseError reports a malformed header or codebook.
type ParseError struct {
	Source string
	Row    int // 1-based; 0 when not tied to a row
	Err    error
}

func (e *ParseError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("source %s: parse row %d: %v", e.Source, e.Row, e.Err)
	}
	return fmt.Sprintf("source %s: parse: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// MergeError reports a store failure or a merge-scope violation. The
// source's transaction has been rolled back when this is returned.
type MergeError struct {
	Source string
	Op     string
	Err    error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("source %s: merge %s: %v", e.Source, e.Op, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// PhaseOf reports the phase a typed error belongs to. Unknown errors
// report PhaseFailed.
func PhaseOf(err error) Phase {
	var (
		readErr  *SourceReadError
		parseErr *ParseError
		mergeErr *MergeError
	)
	switch {
	case errors.As(err, &readErr):
		return PhaseReading
	case errors.As(err, &parseErr):
		return PhaseParsing
	case errors.As(err, &mergeErr):
		return PhaseMerging
	}
	return PhaseFailed
}
