// Package pipeline sequences the workflow stages and produces the run report.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bioetl/targetforge/internal/cache"
	"github.com/bioetl/targetforge/internal/docstore"
	"github.com/bioetl/targetforge/internal/fuse"
	"github.com/bioetl/targetforge/internal/model"
	"github.com/bioetl/targetforge/internal/provider"
	"github.com/bioetl/targetforge/internal/search"
	"github.com/bioetl/targetforge/internal/seqdb"
	"github.com/bioetl/targetforge/internal/worker"
)

// Artifact classes used as cache/stash namespaces and backup-policy rows
const (
	classTaxonomy    = "taxonomy"
	classSequenceDB  = "sequence-db"
	classSearchHits  = "search-results"
	classAnnotations = "fused-annotations"
)

// Deps are the collaborators a workflow runs against
type Deps struct {
	Manager  *cache.Manager
	Registry *provider.Registry
	Targets  provider.TargetSource
	Taxonomy *provider.TaxonomySource
	Invoker  *search.Invoker
	Store    *docstore.Store
}

// Options control a single workflow invocation
type Options struct {
	Force         bool        // rebuild every stage, ignoring valid cache entries
	TaxonomyGroup string      // named organism-group filter for the database build
	QueryPath     string      // query FASTA; empty means self-comparison
	MaxHits       int         // override for the search tool's per-query cap
	SkipBackup    bool        // suppress the final backup stage
	StopAfter     model.Stage // stop once this stage completes (empty = full run)
}

// Workflow orchestrates the sequence-database build-and-fusion pipeline
type Workflow struct {
	cfg    *model.Config
	deps   Deps
	policy fuse.Policy

	verbose bool
	now     func() time.Time
}

// New validates configuration and assembles a workflow. Configuration errors
// (unknown provider categories, malformed fusion policy) are fatal here,
// before any stage runs.
func New(cfg *model.Config, deps Deps) (*Workflow, error) {
	if deps.Registry == nil {
		registry, err := provider.FromConfig(cfg)
		if err != nil {
			return nil, err
		}
		deps.Registry = registry
	}

	policy, err := fuse.PolicyFromConfig(cfg.Fusion)
	if err != nil {
		return nil, err
	}

	return &Workflow{
		cfg:     cfg,
		deps:    deps,
		policy:  policy,
		verbose: cfg.Output.Verbose,
		now:     time.Now,
	}, nil
}

// Run executes the stage machine:
//
//	INIT → RESTORE_OR_BUILD_TAXONOMY → BUILD_DATABASE → SEARCH →
//	FUSE_ANNOTATIONS → PERSIST → BACKUP → DONE
//
// A stage failure halts forward progress without rolling back artifacts
// persisted by earlier stages; the next run reattempts from the first
// invalid stage. The report always comes back, even on failure.
func (w *Workflow) Run(ctx context.Context, opts Options) (*model.RunReport, error) {
	report := &model.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: w.now().UTC(),
	}
	defer func() { report.FinishedAt = w.now().UTC() }()

	// Recoverable stash conditions (a failed restore that rebuilds instead)
	// land in the report as warnings.
	w.deps.Manager.OnWarning(report.Warn)

	// INIT: configuration must be coherent before any stage runs
	var filter *seqdb.Filter
	err := w.stage(report, model.StageInit, func() (cache.Outcome, string, error) {
		if opts.TaxonomyGroup != "" {
			taxa, ok := w.cfg.Taxonomy.Groups[opts.TaxonomyGroup]
			if !ok {
				return "", "", fmt.Errorf("taxonomy group %q is not defined", opts.TaxonomyGroup)
			}
			filter = seqdb.NewFilter(opts.TaxonomyGroup, taxa)
		}
		return cache.OutcomeBuilt, "configuration validated", nil
	})
	if err != nil {
		return report, err
	}

	// RESTORE_OR_BUILD_TAXONOMY
	var lineage *provider.Lineage
	err = w.stage(report, model.StageTaxonomy, func() (cache.Outcome, string, error) {
		fp := cache.Fingerprint(classTaxonomy, w.cfg.Taxonomy.MappingURL)
		entry, outcome, err := w.deps.Manager.GetOrBuild(ctx, fp, classTaxonomy, func() ([]byte, error) {
			return w.deps.Taxonomy.FetchMapping(ctx)
		}, opts.Force)
		if err != nil {
			return "", "", err
		}
		lineage, err = provider.DecodeLineage(entry.Data)
		if err != nil {
			return "", "", err
		}
		return outcome, fmt.Sprintf("%d taxa mapped", lineage.Len()), nil
	})
	if err != nil {
		return report, err
	}

	// BUILD_DATABASE
	var targets []model.TargetRecord
	var artifact *seqdb.Artifact
	var dbEntry *cache.Entry
	err = w.stage(report, model.StageBuildDatabase, func() (cache.Outcome, string, error) {
		var err error
		targets, err = w.deps.Targets.FetchTargets(ctx)
		if err != nil {
			return "", "", fmt.Errorf("fetch targets: %w", err)
		}
		report.TargetCount = len(targets)

		fp := cache.Fingerprint(classSequenceDB, opts.TaxonomyGroup, targetSetHash(targets))
		entry, outcome, err := w.deps.Manager.GetOrBuild(ctx, fp, classSequenceDB, func() ([]byte, error) {
			built, err := seqdb.Build(targets, filter)
			if err != nil {
				return nil, err
			}
			return built.Encode()
		}, opts.Force)
		if err != nil {
			return "", "", err
		}

		dbEntry = entry
		artifact, err = seqdb.DecodeArtifact(entry.Data)
		if err != nil {
			return "", "", err
		}
		return outcome, fmt.Sprintf("%d sequences from %d targets", artifact.Sequences, artifact.Targets), nil
	})
	if err != nil {
		return report, err
	}
	if done := w.stopAfter(opts, model.StageBuildDatabase); done {
		return report, nil
	}

	// SEARCH
	var hits []model.Hit
	err = w.stage(report, model.StageSearch, func() (cache.Outcome, string, error) {
		queryPath, queryHash, err := w.resolveQueries(opts.QueryPath, artifact)
		if err != nil {
			return "", "", err
		}

		searchOpts := search.Options{
			Sensitivity:    w.cfg.Search.Sensitivity,
			IdentityCutoff: w.cfg.Search.IdentityCutoff,
			MaxHits:        w.cfg.Search.MaxHits,
			Timeout:        w.cfg.Search.Timeout,
		}
		if opts.MaxHits > 0 {
			searchOpts.MaxHits = opts.MaxHits
		}

		fp := cache.Fingerprint(classSearchHits,
			artifact.Fingerprint,
			queryHash,
			strconv.FormatFloat(searchOpts.Sensitivity, 'f', -1, 64),
			strconv.FormatFloat(searchOpts.IdentityCutoff, 'f', -1, 64),
			strconv.Itoa(searchOpts.MaxHits),
		)
		entry, outcome, err := w.deps.Manager.GetOrBuild(ctx, fp, classSearchHits, func() ([]byte, error) {
			found, err := w.deps.Invoker.Search(ctx, artifact, queryPath, searchOpts)
			if err != nil {
				return nil, err
			}
			return json.Marshal(found)
		}, opts.Force)
		if err != nil {
			return "", "", err
		}

		if err := json.Unmarshal(entry.Data, &hits); err != nil {
			return "", "", fmt.Errorf("decode cached hits: %w", err)
		}
		report.HitCount = len(hits)
		return outcome, fmt.Sprintf("%d hits", len(hits)), nil
	})
	if err != nil {
		return report, err
	}
	if done := w.stopAfter(opts, model.StageSearch); done {
		return report, nil
	}

	// FUSE_ANNOTATIONS
	var fused []model.AnnotationRecord
	var fusedEntry *cache.Entry
	err = w.stage(report, model.StageFuse, func() (cache.Outcome, string, error) {
		asOf := w.now().UTC().Truncate(24 * time.Hour)
		fp := cache.Fingerprint(classAnnotations,
			artifact.Fingerprint,
			asOf.Format("2006-01-02"),
			strings.Join(providerTags(w.deps.Registry), ","),
		)
		entry, outcome, err := w.deps.Manager.GetOrBuild(ctx, fp, classAnnotations, func() ([]byte, error) {
			result, err := w.fetchAndFuse(targets, lineage, asOf, report)
			if err != nil {
				return nil, err
			}
			return json.Marshal(result.Records)
		}, opts.Force)
		if err != nil {
			return "", "", err
		}

		fusedEntry = entry
		if err := json.Unmarshal(entry.Data, &fused); err != nil {
			return "", "", fmt.Errorf("decode fused annotations: %w", err)
		}
		report.AnnotationCount = len(fused)
		return outcome, fmt.Sprintf("%d annotation records", len(fused)), nil
	})
	if err != nil {
		return report, err
	}

	// PERSIST
	err = w.stage(report, model.StagePersist, func() (cache.Outcome, string, error) {
		if err := w.deps.Store.UpsertTargets(ctx, targets); err != nil {
			return "", "", err
		}
		if err := w.deps.Store.UpsertAnnotations(ctx, fused); err != nil {
			return "", "", err
		}
		return cache.OutcomeBuilt, fmt.Sprintf("%d targets, %d annotations upserted", len(targets), len(fused)), nil
	})
	if err != nil {
		return report, err
	}
	if done := w.stopAfter(opts, model.StagePersist); done {
		return report, nil
	}

	// BACKUP: push artifacts that skipped inline backup (cache hits) remotely
	err = w.stage(report, model.StageBackup, func() (cache.Outcome, string, error) {
		if opts.SkipBackup || !w.cfg.Stash.Backup {
			return cache.OutcomeCached, "backup disabled", nil
		}
		if err := w.deps.Manager.Backup(ctx, dbEntry, classSequenceDB); err != nil {
			return "", "", err
		}
		if err := w.deps.Manager.Backup(ctx, fusedEntry, classAnnotations); err != nil {
			return "", "", err
		}
		return cache.OutcomeBuilt, "sequence database and fused annotations stashed", nil
	})
	if err != nil {
		return report, err
	}

	return report, nil
}

// fetchAndFuse fans annotation fetches out over the worker pool and fuses
// the results. Per-provider failures become run-report warnings; the
// remaining categories proceed.
func (w *Workflow) fetchAndFuse(targets []model.TargetRecord, lineage *provider.Lineage, asOf time.Time, report *model.RunReport) (*fuse.Result, error) {
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		ids = append(ids, t.ID)
	}

	fetched := worker.FetchAll(w.deps.Registry.All(), ids, asOf, w.cfg.Concurrency.FetchWorkers)

	results := make(map[string][]model.AnnotationRecord, len(fetched))
	for tag, fr := range fetched {
		if fr.Err != nil {
			report.Warn(fmt.Sprintf("provider %s: %v", tag, fr.Err))
		}
		results[tag] = fr.Records
	}

	engine := fuse.NewEngine(w.policy, lineage, w.deps.Registry.Categories())
	result, err := engine.Fuse(targets, results)
	if err != nil {
		return nil, err
	}
	for _, absence := range result.Absences {
		report.Warn(absence)
	}
	return result, nil
}

// resolveQueries returns the query FASTA path and a content hash for the
// search fingerprint. With no explicit query set, the built database is
// searched against itself to link equivalent targets across sources.
func (w *Workflow) resolveQueries(queryPath string, artifact *seqdb.Artifact) (string, string, error) {
	if queryPath != "" {
		data, err := os.ReadFile(queryPath)
		if err != nil {
			return "", "", fmt.Errorf("read query set: %w", err)
		}
		return queryPath, cache.ContentHash(data), nil
	}

	dir := filepath.Join(w.cfg.Cache.Dir, "queries")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", fmt.Errorf("create query dir: %w", err)
	}
	path := filepath.Join(dir, "self.fa")
	if err := os.WriteFile(path, artifact.FASTA, 0644); err != nil {
		return "", "", fmt.Errorf("materialize query set: %w", err)
	}
	return path, cache.ContentHash(artifact.FASTA), nil
}

// stage runs one stage body, times it, and records the outcome. The body's
// cache outcome maps onto the report status vocabulary.
func (w *Workflow) stage(report *model.RunReport, stage model.Stage, fn func() (cache.Outcome, string, error)) error {
	start := w.now()
	w.logf("stage %s", stage)

	outcome, detail, err := fn()
	elapsed := w.now().Sub(start)
	if err != nil {
		report.Record(stage, model.StatusFailed, elapsed, err.Error())
		return fmt.Errorf("stage %s: %w", stage, err)
	}

	report.Record(stage, statusFor(outcome), elapsed, detail)
	w.logf("stage %s: %s (%s)", stage, statusFor(outcome), detail)
	return nil
}

// stopAfter ends a partial run once the requested stage has completed
func (w *Workflow) stopAfter(opts Options, stage model.Stage) bool {
	return opts.StopAfter == stage
}

func (w *Workflow) logf(format string, args ...interface{}) {
	if w.verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

func statusFor(outcome cache.Outcome) model.StageStatus {
	switch outcome {
	case cache.OutcomeCached:
		return model.StatusSkipped
	case cache.OutcomeRestored:
		return model.StatusRestored
	default:
		return model.StatusBuilt
	}
}

// targetSetHash fingerprints the logical target set: IDs, taxa, sources and
// sequences in canonical order.
func targetSetHash(targets []model.TargetRecord) string {
	rows := make([]string, 0, len(targets))
	for _, t := range targets {
		rows = append(rows, fmt.Sprintf("%s|%d|%s|%s", t.ID, t.TaxonID, t.Source, strings.Join(t.Sequences, ";")))
	}
	// Canonical order regardless of source ordering
	sort.Strings(rows)
	return cache.ContentHash([]byte(strings.Join(rows, "\n")))
}

func providerTags(r *provider.Registry) []string {
	providers := r.All()
	tags := make([]string, 0, len(providers))
	for _, p := range providers {
		tags = append(tags, p.Tag())
	}
	return tags
}
