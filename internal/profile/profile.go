// Package profile computes respondent profile vectors from answer vectors.
//
// A profile is the element-wise mean of a respondent's non-zero answer
// vectors. Respondents whose answers carry no usable vector keep their
// existing profile.
package profile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/khg9859/Eternal/internal/store"
)

// DefaultBatchSize is the number of profiles written per update.
const DefaultBatchSize = 500

// Store is the slice of the store the builder needs. AnswerVectors must
// yield rows grouped by respondent.
type Store interface {
	AnswerVectors(ctx context.Context, fn func(respondentID string, vec []float32) error) error
	UpdateProfiles(ctx context.Context, rows []store.ProfileVector) error
}

// Result counts what a build did.
type Result struct {
	Profiles int // profiles written
	Vectors  int // answer vectors averaged
	Skipped  int // zero vectors and dimension mismatches
}

// Builder streams answer vectors and writes profiles in batches.
type Builder struct {
	store     Store
	batchSize int
	logger    *slog.Logger
}

// New creates a Builder. A non-positive batch size uses DefaultBatchSize.
func New(st Store, batchSize int, logger *slog.Logger) *Builder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{store: st, batchSize: batchSize, logger: logger}
}

// Build recomputes every profile that has at least one non-zero answer vector.
//
// Profiles are collected while reading and written afterwards, so the read
// cursor never overlaps a write transaction on single-connection stores.
func (b *Builder) Build(ctx context.Context) (Result, error) {
	var (
		res     Result
		pending []store.ProfileVector
		acc     *accumulator
	)

	finish := func() {
		if acc == nil {
			return
		}
		if mean, ok := acc.mean(); ok {
			pending = append(pending, store.ProfileVector{RespondentID: acc.id, Vector: mean})
		}
	}

	err := b.store.AnswerVectors(ctx, func(id string, vec []float32) error {
		if acc == nil || acc.id != id {
			finish()
			acc = &accumulator{id: id}
		}
		if acc.add(vec) {
			res.Vectors++
		} else {
			res.Skipped++
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("read answer vectors: %w", err)
	}
	finish()

	for start := 0; start < len(pending); start += b.batchSize {
		end := min(start+b.batchSize, len(pending))
		if err := b.store.UpdateProfiles(ctx, pending[start:end]); err != nil {
			return res, fmt.Errorf("write profiles: %w", err)
		}
		res.Profiles += end - start
		b.logger.Debug("profiles written", "count", res.Profiles, "total", len(pending))
	}

	b.logger.Info("profiles built",
		"profiles", res.Profiles,
		"vectors", res.Vectors,
		"skipped", res.Skipped,
	)
	return res, nil
}

// accumulator sums the vectors of one respondent. The first non-zero vector
// fixes the dimension.
type accumulator struct {
	id  string
	sum []float64
	n   int
}

func (a *accumulator) add(vec []float32) bool {
	if isZero(vec) {
		return false
	}
	if a.sum == nil {
		a.sum = make([]float64, len(vec))
	} else if len(vec) != len(a.sum) {
		return false
	}
	for i, v := range vec {
		a.sum[i] += float64(v)
	}
	a.n++
	return true
}

func (a *accumulator) mean() ([]float32, bool) {
	if a.n == 0 {
		return nil, false
	}
	out := make([]float32, len(a.sum))
	for i, s := range a.sum {
		out[i] = float32(s / float64(a.n))
	}
	return out, true
}

// isZero reports whether vec has no non-zero component. Empty vectors count
// as zero.
func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// Mean returns the element-wise mean of the non-zero vectors that share the
// first non-zero vector's dimension.
func Mean(vectors [][]float32) ([]float32, bool) {
	var acc accumulator
	for _, v := range vectors {
		acc.add(v)
	}
	return acc.mean()
}
