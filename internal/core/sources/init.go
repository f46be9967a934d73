// Package sources registers the known panel export kinds with the core
// registry. Import this package to ensure all sources are registered.
package sources

// Each source file uses init() to register its kind.

// Priorities fix the run order: welcome_1st seeds demographics, qpoll files
// follow in name order, welcome_2nd runs last.
const (
	PriorityWelcome1st = 10
	PriorityQpoll      = 20
	PriorityWelcome2nd = 30
)

// PanelIDCandidates are the respondent id column names seen across exports,
// in lookup order.
var PanelIDCandidates = []string{"mb_sn", "고유번호", "패널ID", "id"}
