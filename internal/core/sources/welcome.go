package sources

import (
	"github.com/khg9859/Eternal/internal/core"
)

func init() {
	registerWelcome1st()
	registerWelcome2nd()
}

// welcome_1st carries demographics only: sex, birth year and a two-part
// region.
func registerWelcome1st() {
	core.Register(core.Source{
		Name:         "welcome_1st",
		Label:        "Welcome survey (1st)",
		Priority:     PriorityWelcome1st,
		DataFile:     "wel_1st*.csv",
		Layout:       core.LayoutFlat,
		Codebook:     core.CodebookNone,
		SkipAnswers:  true,
		Prefix:       "w1_",
		IDCandidates: PanelIDCandidates,
		CanonicalID:  "mb_sn",
		Demographics: []core.DemographicRule{
			{Field: core.FieldGender, Columns: []string{"Q10"}, Transform: MapGender(WelcomeGender)},
			{Field: core.FieldBirthYear, Columns: []string{"Q11"}, Transform: BirthYear},
			{Field: core.FieldRegion, Columns: []string{"Q12_1", "Q12_2"}, Transform: JoinRegion},
		},
	})
}

// welcome_2nd is a flat answer table keyed by short codes with a separate
// vertical codebook.
func registerWelcome2nd() {
	core.Register(core.Source{
		Name:         "welcome_2nd",
		Label:        "Welcome survey (2nd)",
		Priority:     PriorityWelcome2nd,
		DataFile:     "wel_2nd*.csv",
		CodebookFile: "welcome_2nd_codebook.csv",
		Layout:       core.LayoutFlat,
		Codebook:     core.CodebookVertical,
		Vertical: core.VerticalCodebook{
			QuestionStart: core.DefaultQuestionStart,
			TypeKeywords:  []string{"SINGLE", "MULTI", "Numeric", "String"},
		},
		QuestionKey:    core.KeyByCode,
		SkipCodebookIf: []string{"mb_sn"},
		Prefix:         "w2_",
		IDCandidates:   []string{"mb_sn"},
		CanonicalID:    "mb_sn",
		OtherSuffixes:  []string{"_etc", "_기타"},
	})
}
