package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/khg9859/Eternal/internal/blob"
	"github.com/khg9859/Eternal/internal/core"
	"github.com/khg9859/Eternal/internal/logging"
	"github.com/khg9859/Eternal/internal/merge"
	"github.com/khg9859/Eternal/internal/metrics"
	"github.com/khg9859/Eternal/internal/store"
	"github.com/khg9859/Eternal/internal/tabular"
)

// Options tune an Orchestrator.
type Options struct {
	BatchSize     int
	SkipUnchanged bool
	// Timeout bounds one source's processing. Zero means no limit.
	Timeout time.Duration
	Metrics *metrics.Metrics
	// Now is the clock used for age computation and the ledger.
	Now func() time.Time
}

// Orchestrator processes planned sources sequentially.
type Orchestrator struct {
	store   store.Store
	opener  blob.Opener
	engine  *merge.Engine
	opts    Options
	metrics *metrics.Metrics
}

// New creates an Orchestrator.
func New(st store.Store, opener blob.Opener, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:   st,
		opener:  opener,
		engine:  merge.New(st, merge.WithBatchSize(opts.BatchSize)),
		opts:    opts,
		metrics: opts.Metrics,
	}
}

// Report holds the ledger entry of every source in a run.
type Report struct {
	Runs []store.Run
}

// Failed returns the runs that ended in the failed state.
func (r Report) Failed() []store.Run {
	var out []store.Run
	for _, run := range r.Runs {
		if run.State == core.PhaseFailed {
			out = append(out, run)
		}
	}
	return out
}

// Err summarizes failed sources, or returns nil when all succeeded.
func (r Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	ids := make([]string, len(failed))
	for i, run := range failed {
		ids[i] = fmt.Sprintf("%s (%s)", run.Source, run.FailedPhase)
	}
	return fmt.Errorf("%d of %d sources failed: %v", len(failed), len(r.Runs), ids)
}

// Plan builds a plan from the registered kinds selected by name, checking
// prefixes against those already in the ledger.
func (o *Orchestrator) Plan(ctx context.Context, names []string) (Plan, error) {
	kinds, err := core.Select(names)
	if err != nil {
		return Plan{}, err
	}
	known, err := o.store.KnownPrefixes(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("load known prefixes: %w", err)
	}
	return BuildPlan(ctx, o.opener, kinds, core.NewAllocator(), known)
}

// Run processes every planned source in order. A failed source is recorded
// and the run moves on; only cancellation of ctx stops it early.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) (Report, error) {
	var report Report
	for _, p := range plan.Sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Runs = append(report.Runs, o.runSource(ctx, p))
	}
	return report, nil
}

// input is a source's raw content, fetched before decoding so it can be
// fingerprinted.
type input struct {
	data     []byte
	codebook []byte
}

func (in input) fingerprint() string {
	d := xxhash.New()
	d.Write(in.data)
	d.Write([]byte{0})
	d.Write(in.codebook)
	return fmt.Sprintf("%016x", d.Sum64())
}

// sheets are the decoded rows of a source.
type sheets struct {
	data     [][]string
	codebook [][]string
}

func (o *Orchestrator) runSource(parent context.Context, p Planned) store.Run {
	runID := uuid.NewString()
	ctx := logging.WithRunID(parent, runID)
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	id := p.ID()
	log := logging.WithFields(ctx, "source", id, "prefix", p.Prefix)
	run := store.Run{
		RunID:     runID,
		Source:    id,
		Prefix:    p.Prefix,
		StartedAt: o.opts.Now().UTC(),
	}

	finish := func(state core.Phase, err error) store.Run {
		run.State = state
		run.FinishedAt = o.opts.Now().UTC()
		if err != nil {
			run.FailedPhase = core.PhaseOf(err)
			run.Error = err.Error()
			log.Error("source failed", "phase", run.FailedPhase, "error", err)
		} else {
			log.Info("source finished", "phase", state,
				"respondents", run.Respondents,
				"answers", run.Answers,
				"skipped_rows", run.SkippedRows,
			)
		}
		// The ledger write outlives a timed-out source context.
		if recErr := o.store.RecordRun(context.WithoutCancel(ctx), run); recErr != nil {
			log.Error("record run", "error", recErr)
		}
		o.metrics.RecordRun(id, state, map[string]int64{
			"respondents": run.Respondents,
			"metadata":    run.Metadata,
			"codebooks":   run.Codebooks,
			"answers":     run.Answers,
		}, int(run.SkippedRows), run.FinishedAt)
		return run
	}

	// Reading
	log.Info("phase", "phase", core.PhaseReading, "file", p.DataKey)
	start := time.Now()
	in, err := o.fetch(ctx, p)
	if err != nil {
		return finish(core.PhaseFailed, err)
	}
	run.Fingerprint = in.fingerprint()

	if o.opts.SkipUnchanged {
		last, ok, err := o.store.LastFingerprint(ctx, id)
		if err != nil {
			return finish(core.PhaseFailed, &core.SourceReadError{Source: id, Path: p.DataKey, Err: err})
		}
		if ok && last == run.Fingerprint {
			log.Info("input unchanged", "fingerprint", run.Fingerprint)
			return finish(core.PhaseSkipped, nil)
		}
	}

	sh, err := o.decode(p, in)
	o.metrics.ObservePhase(core.PhaseReading, time.Since(start))
	if err != nil {
		return finish(core.PhaseFailed, err)
	}

	// Parsing
	log.Info("phase", "phase", core.PhaseParsing, "rows", len(sh.data))
	start = time.Now()
	batch, err := o.parse(p, sh)
	o.metrics.ObservePhase(core.PhaseParsing, time.Since(start))
	if err != nil {
		return finish(core.PhaseFailed, err)
	}
	run.SkippedRows = int64(batch.SkippedRows)
	if batch.SkippedRows > 0 {
		log.Warn("rows without respondent id skipped", "count", batch.SkippedRows)
	}

	// Merging
	log.Info("phase", "phase", core.PhaseMerging,
		"respondents", len(batch.Respondents),
		"codebooks", len(batch.Codebooks),
		"answers", len(batch.Answers),
	)
	start = time.Now()
	res, err := o.engine.Apply(ctx, batch)
	o.metrics.ObservePhase(core.PhaseMerging, time.Since(start))
	if err != nil {
		return finish(core.PhaseFailed, err)
	}
	run.Respondents = res.Respondents
	run.Metadata = res.Metadata
	run.Codebooks = res.Codebooks
	run.Answers = res.AnswersInserted

	return finish(core.PhaseDone, nil)
}

// fetch reads the data file and any separate codebook file.
func (o *Orchestrator) fetch(ctx context.Context, p Planned) (input, error) {
	id := p.ID()
	if p.DataKey == "" {
		return input{}, &core.SourceReadError{
			Source: id,
			Path:   p.Source.DataFile,
			Err:    fmt.Errorf("no file matches %q", p.Source.DataFile),
		}
	}

	var in input
	var err error
	if in.data, err = o.readAll(ctx, p.DataKey); err != nil {
		return input{}, &core.SourceReadError{Source: id, Path: p.DataKey, Err: err}
	}

	if p.Source.CodebookFile != "" {
		if p.CodebookKey == "" {
			return input{}, &core.SourceReadError{
				Source: id,
				Path:   p.Source.CodebookFile,
				Err:    fmt.Errorf("codebook file %q not found", p.Source.CodebookFile),
			}
		}
		if in.codebook, err = o.readAll(ctx, p.CodebookKey); err != nil {
			return input{}, &core.SourceReadError{Source: id, Path: p.CodebookKey, Err: err}
		}
	}
	return in, nil
}

func (o *Orchestrator) readAll(ctx context.Context, key string) ([]byte, error) {
	rc, err := o.opener.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// decode turns raw content into rows. A codebook without its own file is
// read from the data workbook.
func (o *Orchestrator) decode(p Planned, in input) (sheets, error) {
	id := p.ID()
	src := p.Source
	wantCodebook := src.Codebook != core.CodebookNone

	var sh sheets
	switch tabular.DetectFormat(p.DataKey) {
	case tabular.FormatCSV:
		rows, err := tabular.ReadCSV(bytes.NewReader(in.data))
		if err != nil {
			return sheets{}, &core.SourceReadError{Source: id, Path: p.DataKey, Err: err}
		}
		sh.data = rows
		if wantCodebook && src.CodebookFile == "" {
			return sheets{}, &core.SourceReadError{
				Source: id,
				Path:   p.DataKey,
				Err:    errors.New("delimited data file carries no codebook sheet"),
			}
		}
	case tabular.FormatXLSX:
		wb, err := tabular.OpenWorkbook(bytes.NewReader(in.data))
		if err != nil {
			return sheets{}, &core.SourceReadError{Source: id, Path: p.DataKey, Err: err}
		}
		defer wb.Close()
		if sh.data, err = wb.Rows(src.DataSheet); err != nil {
			return sheets{}, &core.SourceReadError{Source: id, Path: p.DataKey, Err: err}
		}
		if wantCodebook && src.CodebookFile == "" {
			if sh.codebook, err = wb.Rows(src.CodebookSheet); err != nil {
				return sheets{}, &core.SourceReadError{Source: id, Path: p.DataKey, Err: err}
			}
		}
	default:
		return sheets{}, &core.SourceReadError{Source: id, Path: p.DataKey, Err: errors.New("unsupported file type")}
	}

	if wantCodebook && src.CodebookFile != "" {
		rows, err := readTable(p.CodebookKey, in.codebook)
		if err != nil {
			return sheets{}, &core.SourceReadError{Source: id, Path: p.CodebookKey, Err: err}
		}
		sh.codebook = rows
	}
	return sh, nil
}

// readTable reads a standalone file: delimited text or the first sheet of a
// workbook.
func readTable(name string, data []byte) ([][]string, error) {
	switch tabular.DetectFormat(name) {
	case tabular.FormatCSV:
		return tabular.ReadCSV(bytes.NewReader(data))
	case tabular.FormatXLSX:
		return tabular.ReadSheet(bytes.NewReader(data), 0)
	default:
		return nil, errors.New("unsupported file type")
	}
}

// parse resolves headers, parses the codebook and normalizes the rows.
func (o *Orchestrator) parse(p Planned, sh sheets) (core.Batch, error) {
	id := p.ID()
	batch, err := core.NormalizeSheet(p.Source, p.Prefix, sh.data, o.opts.Now())
	if err != nil {
		return core.Batch{}, asParseError(id, err)
	}

	if parser := core.NewCodebookParser(p.Source, p.Prefix); parser != nil {
		entries, err := parser.Parse(sh.codebook)
		if err != nil {
			return core.Batch{}, asParseError(id, err)
		}
		batch.Codebooks = entries
	}
	return batch, nil
}

func asParseError(source string, err error) error {
	var pe *core.ParseError
	if errors.As(err, &pe) {
		if pe.Source == "" {
			pe.Source = source
		}
		return err
	}
	return &core.ParseError{Source: source, Err: err}
}
