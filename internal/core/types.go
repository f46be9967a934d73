package core

import (
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// DataLayout describes how a source's data sheet encodes its header.
type DataLayout int

const (
	// LayoutFlat has a single header row whose cells are the question codes.
	LayoutFlat DataLayout = iota
	// LayoutTwoRowHeader has a title row (merged cells) above a short-code row.
	LayoutTwoRowHeader
)

// CodebookLayout selects the codebook parser variant for a source.
type CodebookLayout int

const (
	CodebookNone CodebookLayout = iota
	CodebookVertical
	CodebookHorizontal
)

// QuestionKey selects which header text becomes the stored question id.
type QuestionKey int

const (
	// KeyByCode stores answers under the column's short code.
	KeyByCode QuestionKey = iota
	// KeyByTitle stores answers under the resolved (forward-filled) title.
	KeyByTitle
)

// Field names a Metadata column.
type Field string

const (
	FieldCarrier   Field = "carrier"
	FieldGender    Field = "gender"
	FieldBirthYear Field = "birth_year"
	FieldAge       Field = "age"
	FieldRegion    Field = "region"
)

// MetadataFields lists the metadata columns in storage order.
var MetadataFields = []Field{FieldCarrier, FieldGender, FieldBirthYear, FieldAge, FieldRegion}

// DemographicRule maps one or more raw columns onto a metadata field.
// Columns are listed in priority order; the transform receives the cleaned
// values in the same order (absent cells are passed as "").
type DemographicRule struct {
	Field     Field
	Columns   []string
	Transform Transform
}

// Transform turns cleaned cell values into metadata assignments.
type Transform func(values []string, now time.Time) Metadata

// VerticalCodebook configures the vertical codebook parser.
type VerticalCodebook struct {
	// QuestionStart must match the code column for a row to open a question.
	QuestionStart *regexp.Regexp
	// TypeKeywords are labels that describe a question type rather than a choice.
	TypeKeywords []string
}

// HorizontalCodebook configures the horizontal codebook parser.
type HorizontalCodebook struct {
	TitleColumn  string
	ChoicePrefix string // "보기" yields 보기1, 보기2, ...
	MaxChoices   int
}

// Source is the descriptor for one kind of export. It is passed explicitly
// through reading, parsing, normalizing and merging; nothing about a source is
// held in package state other than the registry itself.
type Source struct {
	Name     string // Unique identifier: "welcome_2nd"
	ID       string // Concrete source id (file stem); set when the plan expands a kind
	Label    string // Display name
	Priority int    // Lower runs first

	// DataFile is a glob matched against file names in the input location.
	// Every match becomes one concrete source whose id is the file stem.
	DataFile string
	// CodebookFile is an optional separate codebook file name.
	CodebookFile string
	// DataSheet and CodebookSheet index spreadsheet sheets when the data
	// file is a workbook.
	DataSheet     int
	CodebookSheet int

	Layout         DataLayout
	Codebook       CodebookLayout
	Vertical       VerticalCodebook
	Horizontal     HorizontalCodebook
	QuestionKey    QuestionKey
	SkipAnswers    bool
	SkipCodebookIf []string // codebook codes never stored (e.g. the id column)

	// Prefix pins the namespace prefix. Empty means the allocator derives one.
	Prefix string

	IDCandidates    []string // priority ordered
	CanonicalID     string   // preferred when present regardless of order
	Demographics    []DemographicRule
	IgnoredColumns  []string
	OtherSuffixes   []string // free-text companions excluded from the header map
	Placeholder     *regexp.Regexp
	AnswerDelimiter string // characters that separate multi-valued answers
}

// SourceID returns the concrete id, falling back to the kind name.
func (s Source) SourceID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Name
}

// Choice is one (code, label) pair of a question.
type Choice struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// CodebookEntry is one question definition. ID carries the namespace prefix.
type CodebookEntry struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Type    string   `json:"type,omitempty"`
	Choices []Choice `json:"choices"`
}

// AnswerRecord is one atomic answer value.
type AnswerRecord struct {
	RespondentID string
	QuestionID   string
	Value        string
}

// Metadata holds the demographic fields of a respondent. Each field is
// independently nullable.
type Metadata struct {
	RespondentID string
	Carrier      pgtype.Text
	Gender       pgtype.Text
	BirthYear    pgtype.Int4
	Age          pgtype.Int4
	Region       pgtype.Text
}

// Respondent is a panel member. ProfileVector is filled outside ingestion.
type Respondent struct {
	ID            string
	ProfileVector []float32
}

// Batch is everything one source contributes to the store.
type Batch struct {
	Source      string
	Prefix      string
	Respondents []string
	Metadata    []Metadata
	Codebooks   []CodebookEntry
	Answers     []AnswerRecord
	SkippedRows int
	// MetadataOnly marks a source that contributes no answers; merging it
	// never touches the answers table.
	MetadataOnly bool
}

// Phase is a step of a source's state machine.
type Phase string

const (
	PhaseReading Phase = "reading"
	PhaseParsing Phase = "parsing"
	PhaseMerging Phase = "merging"
	PhaseDone    Phase = "done"
	PhaseFailed  Phase = "failed"
	PhaseSkipped Phase = "skipped"
)
