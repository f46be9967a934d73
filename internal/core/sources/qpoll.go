package sources

import (
	"github.com/khg9859/Eternal/internal/core"
)

func init() {
	registerQpoll()
}

// qpoll workbooks hold the answers on sheet 0 under a two-row header (merged
// question titles over short codes) and a horizontal codebook on sheet 1.
// Every qpoll_join_<date>.xlsx is its own concrete source with a dated
// prefix.
func registerQpoll() {
	core.Register(core.Source{
		Name:          "qpoll",
		Label:         "Quick poll",
		Priority:      PriorityQpoll,
		DataFile:      "qpoll_join_*.xlsx",
		DataSheet:     0,
		CodebookSheet: 1,
		Layout:        core.LayoutTwoRowHeader,
		Codebook:      core.CodebookHorizontal,
		Horizontal: core.HorizontalCodebook{
			TitleColumn:  "설문제목",
			ChoicePrefix: "보기",
			MaxChoices:   core.DefaultMaxChoices,
		},
		QuestionKey:  core.KeyByTitle,
		IDCandidates: PanelIDCandidates,
		Demographics: []core.DemographicRule{
			{Field: core.FieldCarrier, Columns: []string{"구분"}},
			{Field: core.FieldGender, Columns: []string{"성별"}, Transform: MapGender(QpollGender)},
			{Field: core.FieldAge, Columns: []string{"나이"}},
			{Field: core.FieldRegion, Columns: []string{"지역"}},
		},
		IgnoredColumns: []string{"설문일시"},
		OtherSuffixes:  []string{"_기타"},
	})
}
