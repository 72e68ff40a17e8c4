// Package fuse merges per-target annotation records from multiple providers
// into one canonical set without discarding provenance.
package fuse

import (
	"fmt"
	"sort"

	"github.com/bioetl/targetforge/internal/model"
)

// TaxonMatcher answers whether two taxa belong to the same lineage
type TaxonMatcher interface {
	Matches(a, b int) bool
}

// Policy maps annotation categories to whether the taxonomy inclusion filter
// applies before fusion. Declarative so the exceptions (the ontology
// provider's filter over-excluded valid records upstream) are auditable in
// one place and stay configurable.
type Policy map[model.Category]bool

// PolicyFromConfig validates and converts the configured filter table
func PolicyFromConfig(cfg model.FusionConfig) (Policy, error) {
	policy := make(Policy, len(cfg.TaxonomyFilter))
	for name, enabled := range cfg.TaxonomyFilter {
		category := model.Category(name)
		known := false
		for _, c := range model.Categories() {
			if c == category {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("fusion policy references unknown category: %q", name)
		}
		policy[category] = enabled
	}
	return policy, nil
}

// Engine fuses provider results under the configured filter policy
type Engine struct {
	policy     Policy
	matcher    TaxonMatcher
	categories map[string]model.Category // registered provider tags
}

// NewEngine creates a fusion engine. categories must cover every provider
// tag that may appear in results; an unregistered tag is a data error.
func NewEngine(policy Policy, matcher TaxonMatcher, categories map[string]model.Category) *Engine {
	return &Engine{policy: policy, matcher: matcher, categories: categories}
}

// Result is the outcome of one fusion pass
type Result struct {
	Records []model.AnnotationRecord
	// Absences notes (provider, target count) pairs with no data this pass
	Absences []string
}

// Fuse collects annotation candidates from every provider keyed by target
// identifier and produces the canonical fused set.
//
// Records from different providers for the same target and category are all
// retained, tagged by provenance (union, not override). The output is a
// complete replacement for each (target, category, provider) group, so
// re-running on unchanged input yields an identical set. Results are keyed
// by provider tag.
func (e *Engine) Fuse(targets []model.TargetRecord, results map[string][]model.AnnotationRecord) (*Result, error) {
	byID := make(map[string]model.TargetRecord, len(targets))
	for _, t := range targets {
		byID[t.ID] = t
	}

	tags := make([]string, 0, len(results))
	for tag := range results {
		if _, ok := e.categories[tag]; !ok {
			return nil, fmt.Errorf("results from unregistered provider tag: %q", tag)
		}
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	out := &Result{}
	for _, tag := range tags {
		category := e.categories[tag]
		filter := e.policy[category]
		covered := make(map[string]bool)

		for _, rec := range results[tag] {
			target, ok := byID[rec.TargetID]
			if !ok {
				// Hit against a target outside the current set; skip
				continue
			}
			if rec.Category != category {
				return nil, fmt.Errorf("provider %q emitted category %q, registered for %q", tag, rec.Category, category)
			}
			if filter && !e.taxonMatch(rec, target) {
				continue
			}
			covered[rec.TargetID] = true
			out.Records = append(out.Records, rec)
		}

		if missing := len(targets) - len(covered); missing > 0 {
			out.Absences = append(out.Absences, fmt.Sprintf("provider %s: no %s records for %d of %d targets", tag, category, missing, len(targets)))
		}
	}

	// Canonical order so identical inputs fuse to identical output
	sort.SliceStable(out.Records, func(i, j int) bool {
		a, b := out.Records[i], out.Records[j]
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Provider < b.Provider
	})

	return out, nil
}

// taxonMatch applies the taxonomy inclusion filter for one record.
// Records or targets without taxonomy are admitted; the filter only
// excludes a known mismatch.
func (e *Engine) taxonMatch(rec model.AnnotationRecord, target model.TargetRecord) bool {
	if rec.TaxonID == 0 || target.TaxonID == 0 {
		return true
	}
	if e.matcher == nil {
		return rec.TaxonID == target.TaxonID
	}
	return e.matcher.Matches(rec.TaxonID, target.TaxonID)
}
