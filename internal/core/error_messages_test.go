package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "configuration error",
			err:      &ConfigurationError{Field: "DATABASE_URL", Err: errors.New("required")},
			wantCode: "CFG001",
		},
		{
			name:     "prefix collision wins over configuration error",
			err:      &ConfigurationError{Field: "qpoll_join_1", Err: ErrPrefixCollision},
			wantCode: "CFG002",
		},
		{
			name:     "unknown source",
			err:      fmt.Errorf("%w: welcome_3rd", ErrUnknownSource),
			wantCode: "CFG003",
		},
		{
			name:     "undecodable input",
			err:      &SourceReadError{Source: "welcome_1st", Path: "a.csv", Err: ErrEncoding},
			wantCode: "SRC002",
		},
		{
			name:     "missing id column",
			err:      &ParseError{Source: "welcome_2nd", Err: ErrNoIDColumn},
			wantCode: "PRS001",
		},
		{
			name:     "foreign answer",
			err:      &MergeError{Source: "welcome_2nd", Op: "answers", Err: ErrForeignAnswer},
			wantCode: "MRG001",
		},
		{
			name:     "foreign key violation",
			err:      errors.New("ERROR: insert violates foreign key constraint"),
			wantCode: "MRG002",
		},
		{
			name:     "sqlite busy",
			err:      errors.New("database is locked (5) (SQLITE_BUSY)"),
			wantCode: "MRG003",
		},
		{
			name:     "invalid filter",
			err:      errors.New("invalid filter: field \"email\" not allowed"),
			wantCode: "QRY001",
		},
		{
			name:     "missing record is not a missing file",
			err:      errors.New("respondent \"w1\": record not found"),
			wantCode: "QRY002",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("DUPLICATE KEY value violates"),
			wantCode: "MRG002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := &ParseError{Source: "qpoll_join_250106", Err: ErrNoIDColumn}
	result := FormatUserError(err)

	expected := "No respondent id column was found (Code: PRS001). Check the header row against the id candidates"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known error is user facing",
			err:  ErrEmptyFile,
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPhaseOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Phase
	}{
		{"read", &SourceReadError{Source: "s", Err: ErrEncoding}, PhaseReading},
		{"parse", fmt.Errorf("wrapped: %w", &ParseError{Source: "s", Err: ErrNoIDColumn}), PhaseParsing},
		{"merge", &MergeError{Source: "s", Op: "answers", Err: ErrForeignAnswer}, PhaseMerging},
		{"untyped", errors.New("boom"), PhaseFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PhaseOf(tt.err); got != tt.want {
				t.Errorf("PhaseOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
