package worker

import (
	"context"
	"time"

	"github.com/bioetl/targetforge/internal/model"
	"github.com/bioetl/targetforge/internal/provider"
)

// FetchJob fetches one provider's annotation set for a target list
type FetchJob struct {
	Provider  provider.Provider
	TargetIDs []string
	AsOf      time.Time
}

// Execute runs the fetch. Provider failures come back in the result; they
// never abort the pool.
func (j *FetchJob) Execute(ctx context.Context) Result {
	records, err := j.Provider.Fetch(ctx, j.TargetIDs, j.AsOf)
	return &FetchResult{
		Tag:     j.Provider.Tag(),
		Records: records,
		Err:     err,
	}
}

// FetchResult is the outcome of one provider fetch
type FetchResult struct {
	Tag     string
	Records []model.AnnotationRecord
	Err     error
}

// GetError returns the fetch error, if any
func (r *FetchResult) GetError() error {
	return r.Err
}

// FetchAll fans provider fetches out over a bounded pool and returns results
// keyed by provider tag. Per-provider failures are returned alongside their
// partial results.
func FetchAll(providers []provider.Provider, targetIDs []string, asOf time.Time, workers int) map[string]*FetchResult {
	pool := NewPool(workers)
	pool.Start()

	for _, p := range providers {
		pool.Submit(&FetchJob{Provider: p, TargetIDs: targetIDs, AsOf: asOf})
	}

	out := make(map[string]*FetchResult, len(providers))
	for _, result := range pool.Wait() {
		fr := result.(*FetchResult)
		out[fr.Tag] = fr
	}
	return out
}
