package core

// # Error Codes Reference
//
// Failures reported by the CLI and the query API carry a short code so an
// operator can find the cause without reading stack traces.
//
// # Configuration (CFG001-CFG099)
//
//	CFG001 - Invalid configuration: a setting is missing or malformed
//	         Action: Check the environment or .env file
//	         Patterns: "configuration error"
//	CFG002 - Prefix collision: two sources would share answer namespaces
//	         Action: Pin a distinct prefix for one of the sources
//	         Patterns: "prefix collision"
//	CFG003 - Unknown source: no source kind has this name
//	         Action: Run the sources command to list known kinds
//	         Patterns: "unknown source"
//
// # Source Files (SRC001-SRC099)
//
//	SRC001 - File not found
//	         Patterns: "no such file", "nosuchkey", "not found"
//	SRC002 - Encoding error: file is neither UTF-8 nor CP949
//	         Patterns: "encoding error"
//	SRC003 - Empty file
//	         Patterns: "empty file"
//
// # Parsing (PRS001-PRS099)
//
//	PRS001 - Id column missing
//	         Patterns: "id column not found"
//	PRS002 - Column missing
//	         Patterns: "missing required column"
//
// # Merging (MRG001-MRG099)
//
//	MRG001 - Answer outside merge scope
//	         Patterns: "answer outside merge scope"
//	MRG002 - Constraint violation
//	         Patterns: "foreign key", "unique constraint", "duplicate key"
//	MRG003 - Database unavailable
//	         Patterns: "connection refused", "connection reset", "database is locked"
//	MRG004 - Timeout
//	         Patterns: "deadline exceeded", "timeout"
//
// # Queries (QRY001-QRY099)
//
//	QRY001 - Invalid filter: unknown field, operator or value
//	         Patterns: "invalid filter"
//	QRY002 - Record not found
//	         Patterns: "record not found"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check the logs for the
// original technical error.
//
// Patterns are matched case-insensitively using strings.Contains; the first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Configuration (CFG)
	// =========================================================================
	{
		pattern: "prefix collision",
		msg: UserMessage{
			Message: "Two sources would share an answer namespace",
			Action:  "Pin a distinct prefix for one of the sources",
			Code:    "CFG002",
		},
	},
	{
		pattern: "unknown source",
		msg: UserMessage{
			Message: "No source kind has this name",
			Action:  "Run the sources command to list known kinds",
			Code:    "CFG003",
		},
	},
	{
		pattern: "configuration error",
		msg: UserMessage{
			Message: "A setting is missing or malformed",
			Action:  "Check the environment or .env file",
			Code:    "CFG001",
		},
	},

	// =========================================================================
	// Source files (SRC)
	// =========================================================================
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File is neither UTF-8 nor CP949",
			Action:  "Re-export the file as UTF-8",
			Code:    "SRC002",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The file has no header or data rows",
			Action:  "Check that the export completed",
			Code:    "SRC003",
		},
	},
	{
		pattern: "no such file",
		msg: UserMessage{
			Message: "Input file not found",
			Action:  "Check INPUT_PATH and the file name",
			Code:    "SRC001",
		},
	},
	{
		pattern: "nosuchkey",
		msg: UserMessage{
			Message: "Input file not found",
			Action:  "Check the bucket and key prefix",
			Code:    "SRC001",
		},
	},

	// =========================================================================
	// Parsing (PRS)
	// =========================================================================
	{
		pattern: "id column not found",
		msg: UserMessage{
			Message: "No respondent id column was found",
			Action:  "Check the header row against the id candidates",
			Code:    "PRS001",
		},
	},
	{
		pattern: "missing required column",
		msg: UserMessage{
			Message: "A required column is missing",
			Action:  "Check the header row of the file",
			Code:    "PRS002",
		},
	},

	// =========================================================================
	// Merging (MRG)
	// =========================================================================
	{
		pattern: "answer outside merge scope",
		msg: UserMessage{
			Message: "An answer did not belong to the source being merged",
			Action:  "Report this as a bug; the source was rolled back",
			Code:    "MRG001",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced respondent does not exist",
			Action:  "Re-run the source; respondents are written first",
			Code:    "MRG002",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review the file for duplicate keys",
			Code:    "MRG002",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review the file for duplicate keys",
			Code:    "MRG002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "MRG003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "MRG003",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database is busy",
			Action:  "Stop other writers and try again",
			Code:    "MRG003",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again later",
			Code:    "MRG004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try again later",
			Code:    "MRG004",
		},
	},

	// =========================================================================
	// Queries (QRY)
	// =========================================================================
	{
		pattern: "invalid filter",
		msg: UserMessage{
			Message: "Invalid filter",
			Action:  "Use field:op:value with a metadata field and =, !=, like, >, >=, <, <=",
			Code:    "QRY001",
		},
	},
	{
		pattern: "record not found",
		msg: UserMessage{
			Message: "No such record",
			Action:  "Check the id",
			Code:    "QRY002",
		},
	},

	// Generic not-found comes last so the specific patterns above win.
	{
		pattern: "not found",
		msg: UserMessage{
			Message: "Input file not found",
			Action:  "Check INPUT_PATH and the file name",
			Code:    "SRC001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for details",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether an error matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
