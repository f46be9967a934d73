// Package core provides the consolidation logic for survey-panel exports.
//
// This package turns raw export rows into a [Batch] ready to merge. It holds
// no storage or transport code and can be used by the CLI, the HTTP API, or
// tests without modification.
//
// # Architecture
//
//   - Sources: each kind of export is described by a [Source] value and
//     registered at init time with [Register] (see core/sources).
//   - Headers: [ResolveHeaders] rebuilds question titles from two-row
//     merged headers by forward fill.
//   - Codebooks: [NewCodebookParser] returns the vertical or horizontal
//     variant; both resolve repeated ids last-wins.
//   - Rows: [ResolveTable] binds column roles once, then [Table.Normalize]
//     produces respondents, metadata and atomic answers.
//   - Namespaces: [Allocator] gives every concrete source a question-id
//     prefix and refuses overlapping prefix sets.
//
// # Source Registry
//
//	core.Register(core.Source{
//	    Name:         "welcome_2nd",
//	    Priority:     30,
//	    DataFile:     "wel_2nd*.csv",
//	    CodebookFile: "welcome_2nd_codebook.csv",
//	    Codebook:     core.CodebookVertical,
//	    Prefix:       "w2_",
//	    IDCandidates: []string{"mb_sn"},
//	})
//
// # Missing Values
//
// Whether a cell holds a value is decided once, by [Clean]. Blank cells and
// textual markers such as "nan" or "NULL" are absent everywhere downstream.
//
// # Error Handling
//
// Failures are typed by phase: [ConfigurationError], [SourceReadError],
// [ParseError] and [MergeError]. [MapError] maps any of them to a short code
// for display.
package core
