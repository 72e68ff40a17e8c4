// Package search invokes the external sequence similarity-search tool
// out-of-process and parses its results.
package search

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bioetl/targetforge/internal/model"
	"github.com/bioetl/targetforge/internal/seqdb"
)

// resultFormat is the column set requested from the tool
const resultFormat = "query,target,fident,bits"

// Options bound a single search invocation
type Options struct {
	Sensitivity    float64
	IdentityCutoff float64
	// MaxHits caps results per query inside the tool's own ranking cutoff.
	// It is passed through to the tool, never applied as a post-filter.
	MaxHits int
	Timeout time.Duration
}

// Invoker runs the similarity-search tool as a subprocess
type Invoker struct {
	binary  string
	workDir string
	policy  Policy

	// run executes the prepared command (injectable for tests)
	run func(ctx context.Context, name string, args []string) error
}

// NewInvoker creates an invoker for the given tool binary. Intermediate
// files are materialized under workDir.
func NewInvoker(binary, workDir string, policy Policy) *Invoker {
	return &Invoker{
		binary:  binary,
		workDir: workDir,
		policy:  policy,
		run: func(ctx context.Context, name string, args []string) error {
			cmd := exec.CommandContext(ctx, name, args...)
			var stderr strings.Builder
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("%s: %w (%s)", name, err, strings.TrimSpace(stderr.String()))
			}
			return nil
		},
	}
}

// Search runs the tool against the database artifact with the given query
// file and returns hits in the tool's native rank order. Transient failures
// are retried per the invoker's policy; exhaustion is fatal and propagated.
func (inv *Invoker) Search(ctx context.Context, db *seqdb.Artifact, queryPath string, opts Options) ([]model.Hit, error) {
	if db == nil || len(db.FASTA) == 0 {
		return nil, fmt.Errorf("search requires a non-empty sequence database")
	}

	dir := filepath.Join(inv.workDir, db.Fingerprint[strings.LastIndex(db.Fingerprint, ":")+1:])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create search dir: %w", err)
	}

	dbPath := filepath.Join(dir, "targets.fa")
	if err := os.WriteFile(dbPath, db.FASTA, 0644); err != nil {
		return nil, fmt.Errorf("materialize database: %w", err)
	}
	if len(db.Taxonomy) > 0 {
		if err := os.WriteFile(filepath.Join(dir, "targets-taxon.tdd"), db.Taxonomy, 0644); err != nil {
			return nil, fmt.Errorf("materialize taxonomy: %w", err)
		}
	}

	resultPath := filepath.Join(dir, "results.tsv")
	args := []string{
		"easy-search", queryPath, dbPath, resultPath, filepath.Join(dir, "tmp"),
		"--format-output", resultFormat,
		"-s", strconv.FormatFloat(opts.Sensitivity, 'f', -1, 64),
		"--min-seq-id", strconv.FormatFloat(opts.IdentityCutoff, 'f', -1, 64),
	}
	if opts.MaxHits > 0 {
		args = append(args, "--max-seqs", strconv.Itoa(opts.MaxHits))
	}

	err := inv.policy.Do(ctx, func() error {
		runCtx := ctx
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		return inv.run(runCtx, inv.binary, args)
	})
	if err != nil {
		return nil, fmt.Errorf("search failed after %d attempts: %w", inv.policy.MaxAttempts, err)
	}

	hits, err := parseResults(resultPath)
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// parseResults reads the tool's tab-separated output, preserving its rank
// order per query.
func parseResults(path string) ([]model.Hit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open search results: %w", err)
	}
	defer f.Close()

	var hits []model.Hit
	ranks := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			return nil, fmt.Errorf("malformed result row: %q", line)
		}

		identity, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parse identity in %q: %w", line, err)
		}
		score, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("parse score in %q: %w", line, err)
		}

		query := fields[0]
		ranks[query]++
		hits = append(hits, model.Hit{
			QueryID:  query,
			TargetID: fields[1],
			Rank:     ranks[query],
			Identity: identity,
			Score:    score,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan search results: %w", err)
	}

	return hits, nil
}
