package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bioetl/targetforge/internal/model"
	"github.com/bioetl/targetforge/internal/provider"
)

// stubProvider implements provider.Provider
type stubProvider struct {
	tag      string
	category model.Category
	records  []model.AnnotationRecord
	err      error
}

func (p *stubProvider) Tag() string              { return p.tag }
func (p *stubProvider) Category() model.Category { return p.category }
func (p *stubProvider) Fetch(_ context.Context, _ []string, _ time.Time) ([]model.AnnotationRecord, error) {
	return p.records, p.err
}

func TestFetchAll(t *testing.T) {
	ok := &stubProvider{
		tag:      "chembl-activity",
		category: model.CategoryActivity,
		records: []model.AnnotationRecord{
			{TargetID: "P1", Category: model.CategoryActivity, Provider: "chembl-activity"},
			{TargetID: "P2", Category: model.CategoryActivity, Provider: "chembl-activity"},
		},
	}
	failing := &stubProvider{
		tag:      "drugbank-cofactor",
		category: model.CategoryCofactor,
		err:      errors.New("upstream unavailable"),
	}

	results := FetchAll([]provider.Provider{ok, failing}, []string{"P1", "P2"}, time.Now(), 4)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	got, exists := results["chembl-activity"]
	if !exists {
		t.Fatal("missing result for chembl-activity")
	}
	if got.Err != nil {
		t.Errorf("unexpected error: %v", got.Err)
	}
	if len(got.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(got.Records))
	}

	failed, exists := results["drugbank-cofactor"]
	if !exists {
		t.Fatal("missing result for drugbank-cofactor")
	}
	if failed.Err == nil {
		t.Error("expected per-provider error to be preserved")
	}
	if len(failed.Records) != 0 {
		t.Errorf("expected no records from failing provider, got %d", len(failed.Records))
	}
}

func TestFetchAll_ManyProvidersFewWorkers(t *testing.T) {
	// Provider count well past the worker buffers must not hang the fan-out
	providers := make([]provider.Provider, 12)
	for i := range providers {
		providers[i] = &stubProvider{
			tag:      fmt.Sprintf("provider-%02d", i),
			category: model.CategoryActivity,
			records: []model.AnnotationRecord{
				{TargetID: "P1", Category: model.CategoryActivity, Provider: fmt.Sprintf("provider-%02d", i)},
			},
		}
	}

	done := make(chan map[string]*FetchResult, 1)
	go func() {
		done <- FetchAll(providers, []string{"P1"}, time.Now(), 1)
	}()

	select {
	case results := <-done:
		if len(results) != len(providers) {
			t.Errorf("expected %d results, got %d", len(providers), len(results))
		}
		for tag, fr := range results {
			if fr.Err != nil {
				t.Errorf("provider %s: unexpected error: %v", tag, fr.Err)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("FetchAll deadlocked with many providers and one worker")
	}
}

func TestFetchAll_Empty(t *testing.T) {
	results := FetchAll(nil, []string{"P1"}, time.Now(), 2)
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
