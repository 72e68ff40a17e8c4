package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bioetl/targetforge/internal/model"
	"github.com/bioetl/targetforge/internal/seqdb"
)

// TargetSource supplies the current set of tracked targets. Upstream target
// resources export FASTA plus a taxon mapping; the workflow consumes them
// through this interface only.
type TargetSource interface {
	FetchTargets(ctx context.Context) ([]model.TargetRecord, error)
}

// FileTargetSource reads targets from an exported FASTA file and an optional
// id<TAB>taxid mapping file alongside it.
type FileTargetSource struct {
	FastaPath string
	TaxonPath string
	Source    string // provenance tag recorded on each target
}

// FetchTargets loads and merges the FASTA and taxon files. Headers follow
// the export convention "id|source"; multi-sequence targets use "id.N".
func (s *FileTargetSource) FetchTargets(_ context.Context) ([]model.TargetRecord, error) {
	data, err := os.ReadFile(s.FastaPath)
	if err != nil {
		return nil, fmt.Errorf("read target fasta: %w", err)
	}
	records, err := seqdb.ParseFasta(data)
	if err != nil {
		return nil, fmt.Errorf("parse target fasta: %w", err)
	}

	taxa, err := s.loadTaxa()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*model.TargetRecord)
	var order []string
	for _, rec := range records {
		id := rec.ID
		source := s.Source
		if i := strings.IndexByte(id, '|'); i >= 0 {
			source = id[i+1:]
			id = id[:i]
		}
		// Fold "id.N" continuation sequences back into their target
		if i := strings.LastIndexByte(id, '.'); i > 0 {
			if _, err := strconv.Atoi(id[i+1:]); err == nil {
				id = id[:i]
			}
		}

		t, ok := byID[id]
		if !ok {
			t = &model.TargetRecord{ID: id, Source: source, TaxonID: taxa[id]}
			byID[id] = t
			order = append(order, id)
		}
		t.Sequences = append(t.Sequences, rec.Seq)
	}

	out := make([]model.TargetRecord, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// loadTaxa reads the optional id<TAB>taxid mapping file
func (s *FileTargetSource) loadTaxa() (map[string]int, error) {
	taxa := make(map[string]int)
	if s.TaxonPath == "" {
		return taxa, nil
	}

	data, err := os.ReadFile(s.TaxonPath)
	if err != nil {
		if os.IsNotExist(err) {
			return taxa, nil
		}
		return nil, fmt.Errorf("read taxon mapping: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		taxonID, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("parse taxon id in %q: %w", line, err)
		}
		taxa[fields[0]] = taxonID
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan taxon mapping: %w", err)
	}
	return taxa, nil
}
