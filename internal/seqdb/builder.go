// Package seqdb assembles search-ready sequence database artifacts from
// target records.
package seqdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/bioetl/targetforge/internal/cache"
	"github.com/bioetl/targetforge/internal/model"
)

// ErrNoCandidates is returned when filtering leaves no sequences to index.
// Downstream stages must be skipped; the search tool is never invoked on an
// empty database.
var ErrNoCandidates = errors.New("seqdb: no candidate sequences after filtering")

// Artifact is an immutable snapshot of target sequences formatted for the
// external search tool, identified by a content fingerprint.
type Artifact struct {
	Fingerprint string `json:"fingerprint"`
	FilterGroup string `json:"filter_group,omitempty"`
	FASTA       []byte `json:"fasta"`
	Taxonomy    []byte `json:"taxonomy"` // id<TAB>taxid rows for taxonomy-aware search
	Targets     int    `json:"targets"`
	Sequences   int    `json:"sequences"`
}

// Encode serializes the artifact for cache storage
func (a *Artifact) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// DecodeArtifact restores an artifact from cached bytes
func DecodeArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode sequence artifact: %w", err)
	}
	return &a, nil
}

// Filter restricts a build to targets within a named organism group
type Filter struct {
	Group string
	taxa  map[int]bool
}

// NewFilter creates a taxonomy filter admitting the given taxon identifiers
func NewFilter(group string, taxa []int) *Filter {
	set := make(map[int]bool, len(taxa))
	for _, t := range taxa {
		set[t] = true
	}
	return &Filter{Group: group, taxa: set}
}

// Admits reports whether the filter accepts a target's taxon
func (f *Filter) Admits(taxonID int) bool {
	return f.taxa[taxonID]
}

// Build serializes the surviving sequences of the input target set into the
// search tool's input format. Identical input record sets and filter
// parameters yield byte-identical output and therefore identical
// fingerprints. A nil filter admits every target.
func Build(targets []model.TargetRecord, filter *Filter) (*Artifact, error) {
	selected := make([]model.TargetRecord, 0, len(targets))
	for _, t := range targets {
		if !t.HasSequence() {
			continue
		}
		if filter != nil && !filter.Admits(t.TaxonID) {
			continue
		}
		selected = append(selected, t)
	}

	group := ""
	if filter != nil {
		group = filter.Group
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("group %q over %d targets: %w", group, len(targets), ErrNoCandidates)
	}

	// Canonical order: targets by ID, sequences in record order.
	sort.Slice(selected, func(i, j int) bool { return selected[i].ID < selected[j].ID })

	var records []Record
	var taxon bytes.Buffer
	for _, t := range selected {
		for i, seq := range t.Sequences {
			if seq == "" {
				continue
			}
			id := t.ID
			if i > 0 {
				id = fmt.Sprintf("%s.%d", t.ID, i+1)
			}
			records = append(records, Record{ID: fmt.Sprintf("%s|%s", id, t.Source), Seq: seq})
			fmt.Fprintf(&taxon, "%s\t%d\n", id, t.TaxonID)
		}
	}

	var fasta bytes.Buffer
	if err := writeFasta(&fasta, records); err != nil {
		return nil, fmt.Errorf("serialize fasta: %w", err)
	}

	return &Artifact{
		Fingerprint: cache.Fingerprint("sequence-db", group, cache.ContentHash(fasta.Bytes())),
		FilterGroup: group,
		FASTA:       fasta.Bytes(),
		Taxonomy:    taxon.Bytes(),
		Targets:     len(selected),
		Sequences:   len(records),
	}, nil
}
