// Package ingest runs registered source kinds against the input files and
// merges each concrete source into the store.
//
// A run has two stages. BuildPlan expands source kinds into concrete sources
// by listing the input location and allocates every prefix up front, so a
// prefix collision is fatal before any data is read. Orchestrator.Run then
// processes the planned sources one at a time, each through
// reading, parsing and merging.
package ingest

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/khg9859/Eternal/internal/blob"
	"github.com/khg9859/Eternal/internal/core"
)

// Planned is one concrete source ready to run.
type Planned struct {
	Source core.Source
	Prefix string
	// DataKey is empty when no file matched; the source then fails in the
	// reading phase.
	DataKey string
	// CodebookKey names a separate codebook file. Empty with a codebook
	// layout means the codebook is a sheet of the data workbook.
	CodebookKey string
}

// ID returns the concrete source id.
func (p Planned) ID() string { return p.Source.SourceID() }

// Plan is the ordered list of sources for one run.
type Plan struct {
	Sources []Planned
}

// Lister is the part of blob.Opener the planner needs.
type Lister interface {
	List(ctx context.Context, pattern string) ([]blob.Info, error)
}

// BuildPlan expands kinds into concrete sources and assigns prefixes.
//
// A kind with a pinned prefix is a single source named after the kind; more
// than one matching file is a configuration error. Other kinds yield one
// source per matching file, identified by the file stem. known carries the
// prefixes of earlier successful runs (prefix to source id) so a new file
// cannot claim a prefix that overlaps stored data.
func BuildPlan(ctx context.Context, lister Lister, kinds []core.Source, alloc *core.Allocator, known map[string]string) (Plan, error) {
	if alloc == nil {
		alloc = core.NewAllocator()
	}

	var srcs []core.Source
	dataKeys := make(map[string]string)
	codebookKeys := make(map[string]string)

	for _, kind := range kinds {
		infos, err := lister.List(ctx, kind.DataFile)
		if err != nil {
			return Plan{}, fmt.Errorf("list %s: %w", kind.DataFile, err)
		}

		cbKey := ""
		if kind.CodebookFile != "" {
			cbInfos, err := lister.List(ctx, kind.CodebookFile)
			if err != nil {
				return Plan{}, fmt.Errorf("list %s: %w", kind.CodebookFile, err)
			}
			if len(cbInfos) > 0 {
				cbKey = cbInfos[0].Key
			}
		}

		if kind.Prefix != "" {
			if len(infos) > 1 {
				return Plan{}, &core.ConfigurationError{
					Field: kind.Name,
					Err:   fmt.Errorf("%d files match %q, expected one", len(infos), kind.DataFile),
				}
			}
			src := kind
			src.ID = kind.Name
			if len(infos) == 1 {
				dataKeys[src.ID] = infos[0].Key
			}
			codebookKeys[src.ID] = cbKey
			srcs = append(srcs, src)
			continue
		}

		for _, info := range infos {
			src := kind
			src.ID = Stem(info.Name())
			if _, dup := dataKeys[src.ID]; dup {
				return Plan{}, &core.ConfigurationError{
					Field: src.ID,
					Err:   fmt.Errorf("source id produced by more than one file"),
				}
			}
			dataKeys[src.ID] = info.Key
			codebookKeys[src.ID] = cbKey
			srcs = append(srcs, src)
		}
	}

	core.SortSources(srcs)

	prefixes, err := alloc.Allocate(srcs, known)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Sources: make([]Planned, 0, len(srcs))}
	for _, src := range srcs {
		id := src.SourceID()
		plan.Sources = append(plan.Sources, Planned{
			Source:      src,
			Prefix:      prefixes[id],
			DataKey:     dataKeys[id],
			CodebookKey: codebookKeys[id],
		})
	}
	return plan, nil
}

// Stem returns a file name without its directory and extension.
func Stem(name string) string {
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}
