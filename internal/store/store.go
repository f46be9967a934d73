// Package store defines the persistence contract shared by the Postgres and
// SQLite backends.
//
// Tables:
//
//	respondents  (id, profile_vector)
//	metadata     (respondent_id, carrier, gender, birth_year, age, region)
//	codebooks    (id, title, type, choices, question_vector)
//	answers      (respondent_id, question_id, value, answer_vector)
//	source_runs  (run ledger, one row per source per run)
package store

import (
	"context"
	"errors"
	"time"

	"github.com/khg9859/Eternal/internal/core"
	"github.com/khg9859/Eternal/internal/merge"
	"github.com/khg9859/Eternal/internal/query"
)

// ErrNotFound is returned by single-row reads that match nothing.
var ErrNotFound = errors.New("record not found")

// Run is one source's entry in the run ledger.
type Run struct {
	RunID       string     `json:"run_id"`
	Source      string     `json:"source"`
	Prefix      string     `json:"prefix"`
	State       core.Phase `json:"state"`
	FailedPhase core.Phase `json:"failed_phase,omitempty"`
	Error       string     `json:"error,omitempty"`
	Respondents int64      `json:"respondents"`
	Metadata    int64      `json:"metadata"`
	Codebooks   int64      `json:"codebooks"`
	Answers     int64      `json:"answers"`
	SkippedRows int64      `json:"skipped_rows"`
	Fingerprint string     `json:"fingerprint"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}

// SourceStat counts the rows under one source's prefix.
type SourceStat struct {
	Source    string `json:"source"`
	Prefix    string `json:"prefix"`
	Codebooks int64  `json:"codebooks"`
	Answers   int64  `json:"answers"`
}

// Stats summarizes the store.
type Stats struct {
	Respondents  int64        `json:"respondents"`
	WithMetadata int64        `json:"with_metadata"`
	Profiles     int64        `json:"profiles"`
	Codebooks    int64        `json:"codebooks"`
	Answers      int64        `json:"answers"`
	Sources      []SourceStat `json:"sources"`
}

// RespondentDetail is a respondent with its metadata and answers.
type RespondentDetail struct {
	ID         string
	HasProfile bool
	Metadata   core.Metadata
	Answers    []core.AnswerRecord
}

// ProfileVector is a computed profile for one respondent.
type ProfileVector struct {
	RespondentID string
	Vector       []float32
}

// Store is the full persistence surface used by ingest, profiles and the API.
type Store interface {
	merge.Store

	Migrate(ctx context.Context) error
	DropAll(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Run ledger.
	RecordRun(ctx context.Context, run Run) error
	Runs(ctx context.Context, limit int) ([]Run, error)
	LastFingerprint(ctx context.Context, source string) (string, bool, error)
	// KnownPrefixes maps each prefix of a successful run to its source.
	KnownPrefixes(ctx context.Context) (map[string]string, error)

	// Reads.
	Stats(ctx context.Context) (Stats, error)
	Respondent(ctx context.Context, id string) (RespondentDetail, error)
	Codebook(ctx context.Context, id string) (core.CodebookEntry, error)
	FindRespondents(ctx context.Context, filters []query.Filter, limit, offset int) ([]string, error)

	// Profile vectors.
	AnswerVectors(ctx context.Context, fn func(respondentID string, vec []float32) error) error
	UpdateProfiles(ctx context.Context, rows []ProfileVector) error
}

// Tables lists the managed tables in drop order.
var Tables = []string{"answers", "metadata", "codebooks", "respondents", "source_runs"}

// DefaultListLimit caps list reads when the caller passes no limit.
const DefaultListLimit = 100

// ClampLimit applies DefaultListLimit and an upper bound of 1000.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > 1000:
		return 1000
	}
	return limit
}
