package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bioetl/targetforge/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "targets.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertTargets_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	targets := []model.TargetRecord{
		{ID: "P1", Sequences: []string{"MS"}, TaxonID: 9606, Source: "pdb"},
		{ID: "P2", Sequences: []string{"MK"}, TaxonID: 562, Source: "uniprot"},
	}

	if err := s.UpsertTargets(ctx, targets); err != nil {
		t.Fatalf("UpsertTargets: %v", err)
	}
	if err := s.UpsertTargets(ctx, targets); err != nil {
		t.Fatalf("UpsertTargets (rerun): %v", err)
	}

	n, err := s.CountTargets(ctx)
	if err != nil {
		t.Fatalf("CountTargets: %v", err)
	}
	if n != 2 {
		t.Errorf("re-run duplicated targets: %d rows", n)
	}
}

func TestUpsertTargets_Supersedes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertTargets(ctx, []model.TargetRecord{{ID: "P1", Sequences: []string{"MS"}, TaxonID: 9606, Source: "pdb"}}); err != nil {
		t.Fatalf("UpsertTargets: %v", err)
	}
	if err := s.UpsertTargets(ctx, []model.TargetRecord{{ID: "P1", Sequences: []string{"MSLL"}, TaxonID: 9606, Source: "uniprot"}}); err != nil {
		t.Fatalf("UpsertTargets (update): %v", err)
	}

	n, err := s.CountTargets(ctx)
	if err != nil {
		t.Fatalf("CountTargets: %v", err)
	}
	if n != 1 {
		t.Errorf("update created a new row: %d rows", n)
	}
}

func TestUpsertAnnotations_GroupReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []model.AnnotationRecord{
		{TargetID: "P1", Category: model.CategoryActivity, Provider: "chembl-activity", Value: map[string]interface{}{"ic50": 42.5}},
		{TargetID: "P1", Category: model.CategoryActivity, Provider: "chembl-activity", Value: map[string]interface{}{"ic50": 17.0}},
		{TargetID: "P1", Category: model.CategoryFeature, Provider: "sabdab-feature", Value: map[string]interface{}{"loop": "H3"}},
	}
	if err := s.UpsertAnnotations(ctx, first); err != nil {
		t.Fatalf("UpsertAnnotations: %v", err)
	}

	// Re-running with a smaller activity group must replace, not append
	second := []model.AnnotationRecord{
		{TargetID: "P1", Category: model.CategoryActivity, Provider: "chembl-activity", Value: map[string]interface{}{"ic50": 42.5}},
	}
	if err := s.UpsertAnnotations(ctx, second); err != nil {
		t.Fatalf("UpsertAnnotations (rerun): %v", err)
	}

	records, err := s.Annotations(ctx, "P1")
	if err != nil {
		t.Fatalf("Annotations: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected replaced activity group plus untouched feature group, got %d records", len(records))
	}

	// Group order: activity before feature
	if records[0].Category != model.CategoryActivity || records[0].Value["ic50"] != 42.5 {
		t.Errorf("unexpected activity record: %+v", records[0])
	}
	if records[1].Category != model.CategoryFeature || records[1].Provider != "sabdab-feature" {
		t.Errorf("feature group clobbered by unrelated replace: %+v", records[1])
	}
}

func TestUpsertAnnotations_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	records := []model.AnnotationRecord{
		{TargetID: "P1", Category: model.CategoryActivity, Provider: "chembl-activity", Value: map[string]interface{}{"ic50": 42.5}},
		{TargetID: "P2", Category: model.CategoryOntology, Provider: "card-ontology", Value: map[string]interface{}{"term": "ARO:3000015"}},
	}

	for i := 0; i < 3; i++ {
		if err := s.UpsertAnnotations(ctx, records); err != nil {
			t.Fatalf("UpsertAnnotations run %d: %v", i, err)
		}
	}

	n, err := s.CountAnnotations(ctx)
	if err != nil {
		t.Fatalf("CountAnnotations: %v", err)
	}
	if n != 2 {
		t.Errorf("re-runs accumulated duplicates: %d rows", n)
	}
}
