// Package merge applies one source's normalized batch to the store.
//
// Every write is additive or scoped: respondents are inserted once, metadata
// fields are first-writer-wins, codebook entries are replaced whole and answer
// rows are replaced only for the (prefix, respondent set) of the batch. A
// batch commits or rolls back as one transaction.
package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/khg9859/Eternal/internal/core"
)

// Tx is the write surface a store exposes inside one transaction. Each
// method returns the number of rows it touched.
type Tx interface {
	// InsertRespondents inserts ids that do not exist yet.
	InsertRespondents(ctx context.Context, ids []string) (int64, error)
	// UpsertMetadata inserts rows or fills null fields of existing rows.
	UpsertMetadata(ctx context.Context, rows []core.Metadata) (int64, error)
	// UpsertCodebooks inserts entries or replaces existing ones whole.
	UpsertCodebooks(ctx context.Context, entries []core.CodebookEntry) (int64, error)
	// DeleteAnswers removes answers of ids whose question id starts with prefix.
	DeleteAnswers(ctx context.Context, prefix string, ids []string) (int64, error)
	// InsertAnswers bulk inserts records.
	InsertAnswers(ctx context.Context, records []core.AnswerRecord) (int64, error)
}

// Store runs fn in a transaction, committing when fn returns nil.
type Store interface {
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// DefaultBatchSize bounds the rows sent per statement.
const DefaultBatchSize = 1000

// Result counts the rows written by one merge.
type Result struct {
	Respondents     int64
	Metadata        int64
	Codebooks       int64
	AnswersDeleted  int64
	AnswersInserted int64
}

// Engine performs merges against a Store.
type Engine struct {
	store     Store
	batchSize int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBatchSize sets the chunk size for bulk statements.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// New creates an Engine.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpsertRespondent creates the respondent if absent.
func (e *Engine) UpsertRespondent(ctx context.Context, id string) error {
	return e.store.WithTx(ctx, func(tx Tx) error {
		_, err := tx.InsertRespondents(ctx, []string{id})
		return err
	})
}

// UpsertMetadata fills the null fields of the respondent's metadata.
func (e *Engine) UpsertMetadata(ctx context.Context, m core.Metadata) error {
	return e.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.InsertRespondents(ctx, []string{m.RespondentID}); err != nil {
			return err
		}
		_, err := tx.UpsertMetadata(ctx, []core.Metadata{m})
		return err
	})
}

// UpsertCodebook replaces the entry with the same id.
func (e *Engine) UpsertCodebook(ctx context.Context, entry core.CodebookEntry) error {
	return e.store.WithTx(ctx, func(tx Tx) error {
		_, err := tx.UpsertCodebooks(ctx, []core.CodebookEntry{entry})
		return err
	})
}

// ReplaceAnswers deletes the answers of ids under prefix and inserts records
// in their place. Records outside the prefix or the id set are rejected
// before anything is written.
func (e *Engine) ReplaceAnswers(ctx context.Context, prefix string, ids []string, records []core.AnswerRecord) (Result, error) {
	if err := checkAnswers(prefix, ids, records); err != nil {
		return Result{}, &core.MergeError{Op: "answers", Err: err}
	}
	var res Result
	err := e.store.WithTx(ctx, func(tx Tx) error {
		return e.replaceAnswers(ctx, tx, prefix, ids, records, &res)
	})
	if err != nil {
		return Result{}, &core.MergeError{Op: "answers", Err: err}
	}
	return res, nil
}

// Apply merges a whole batch in one transaction, in the order codebooks,
// respondents, metadata, answers.
func (e *Engine) Apply(ctx context.Context, b core.Batch) (Result, error) {
	fail := func(op string, err error) (Result, error) {
		return Result{}, &core.MergeError{Source: b.Source, Op: op, Err: err}
	}

	if err := checkCodebooks(b.Prefix, b.Codebooks); err != nil {
		return fail("codebooks", err)
	}
	if !b.MetadataOnly {
		if err := checkAnswers(b.Prefix, b.Respondents, b.Answers); err != nil {
			return fail("answers", err)
		}
	} else if len(b.Answers) > 0 {
		return fail("answers", fmt.Errorf("%w: metadata-only batch carries answers", core.ErrForeignAnswer))
	}

	var res Result
	var op string
	err := e.store.WithTx(ctx, func(tx Tx) error {
		op = "codebooks"
		for _, chunk := range chunks(b.Codebooks, e.batchSize) {
			n, err := tx.UpsertCodebooks(ctx, chunk)
			if err != nil {
				return err
			}
			res.Codebooks += n
		}

		op = "respondents"
		for _, chunk := range chunks(b.Respondents, e.batchSize) {
			n, err := tx.InsertRespondents(ctx, chunk)
			if err != nil {
				return err
			}
			res.Respondents += n
		}

		op = "metadata"
		for _, chunk := range chunks(b.Metadata, e.batchSize) {
			n, err := tx.UpsertMetadata(ctx, chunk)
			if err != nil {
				return err
			}
			res.Metadata += n
		}

		if b.MetadataOnly {
			return nil
		}
		op = "answers"
		return e.replaceAnswers(ctx, tx, b.Prefix, b.Respondents, b.Answers, &res)
	})
	if err != nil {
		return fail(op, err)
	}
	return res, nil
}

func (e *Engine) replaceAnswers(ctx context.Context, tx Tx, prefix string, ids []string, records []core.AnswerRecord, res *Result) error {
	for _, chunk := range chunks(ids, e.batchSize) {
		n, err := tx.DeleteAnswers(ctx, prefix, chunk)
		if err != nil {
			return err
		}
		res.AnswersDeleted += n
	}
	for _, chunk := range chunks(records, e.batchSize) {
		n, err := tx.InsertAnswers(ctx, chunk)
		if err != nil {
			return err
		}
		res.AnswersInserted += n
	}
	return nil
}

func checkCodebooks(prefix string, entries []core.CodebookEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if prefix == "" {
		return fmt.Errorf("%w: empty prefix", core.ErrForeignAnswer)
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.ID, prefix) {
			return fmt.Errorf("%w: codebook %q lacks prefix %q", core.ErrForeignAnswer, e.ID, prefix)
		}
	}
	return nil
}

func checkAnswers(prefix string, ids []string, records []core.AnswerRecord) error {
	// An empty prefix would scope the delete to every question.
	if prefix == "" {
		return fmt.Errorf("%w: empty prefix", core.ErrForeignAnswer)
	}
	scope := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		scope[id] = struct{}{}
	}
	for _, r := range records {
		if !strings.HasPrefix(r.QuestionID, prefix) {
			return fmt.Errorf("%w: question %q lacks prefix %q", core.ErrForeignAnswer, r.QuestionID, prefix)
		}
		if _, ok := scope[r.RespondentID]; !ok {
			return fmt.Errorf("%w: respondent %q not in batch", core.ErrForeignAnswer, r.RespondentID)
		}
	}
	return nil
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
