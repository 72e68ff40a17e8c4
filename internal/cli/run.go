package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bioetl/targetforge/internal/cache"
	"github.com/bioetl/targetforge/internal/docstore"
	"github.com/bioetl/targetforge/internal/model"
	"github.com/bioetl/targetforge/internal/pipeline"
	"github.com/bioetl/targetforge/internal/provider"
	"github.com/bioetl/targetforge/internal/search"
	"github.com/bioetl/targetforge/internal/stash"
)

var (
	fastaPath  string
	taxonPath  string
	sourceTag  string
	groupName  string
	queryPath  string
	maxHits    int
	reportPath string
	skipBackup bool
	force      bool
	runTimeout time.Duration
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full build, search, fuse and persist workflow",
	Long: `Run executes the complete workflow:
- Restore or build the taxonomy mapping
- Build the filtered sequence database from the target collection
- Search the database for similar sequences
- Fetch and fuse provider annotations
- Persist targets and annotations to the document store
- Back fresh artifacts up to the remote stash

Example:
  targetforge run --fasta targets.fa --taxa targets.taxa
  targetforge run --fasta targets.fa --taxa targets.taxa --taxonomy-group bacteria --force
  targetforge run --fasta targets.fa --report run.json --skip-backup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWorkflow("")
	},
}

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the sequence database and stop",
	Long: `Build restores or builds the taxonomy mapping and the filtered
sequence database, then stops before the search stage.

Example:
  targetforge build --fasta targets.fa --taxa targets.taxa --taxonomy-group human`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWorkflow(model.StageBuildDatabase)
	},
}

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Build the database and run the similarity search",
	Long: `Search builds (or restores) the sequence database and runs the
similarity search against it, then stops before annotation fusion.
Without --queries the database is searched against itself.

Example:
  targetforge search --fasta targets.fa --queries antibodies.fa --max-hits 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWorkflow(model.StageSearch)
	},
}

// fuseCmd represents the fuse command
var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Fuse provider annotations and persist them",
	Long: `Fuse runs the workflow through annotation fusion and persistence,
stopping before the final backup stage.

Example:
  targetforge fuse --fasta targets.fa --taxa targets.taxa`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeWorkflow(model.StagePersist)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(fuseCmd)

	for _, cmd := range []*cobra.Command{runCmd, buildCmd, searchCmd, fuseCmd} {
		cmd.Flags().StringVar(&fastaPath, "fasta", "", "target collection FASTA file (required)")
		cmd.Flags().StringVar(&taxonPath, "taxa", "", "target taxon mapping file (id<TAB>taxid rows)")
		cmd.Flags().StringVar(&sourceTag, "source", "primary", "provenance tag recorded on loaded targets")
		cmd.Flags().StringVar(&groupName, "taxonomy-group", "", "named taxonomy group filter for the database build")
		cmd.Flags().BoolVar(&force, "force", false, "rebuild every artifact, ignoring cache and stash")
		cmd.Flags().StringVar(&reportPath, "report", "", "write the run report as JSON to this path")
		cmd.Flags().DurationVar(&runTimeout, "timeout", 4*time.Hour, "overall workflow timeout")
		_ = cmd.MarkFlagRequired("fasta")
	}

	for _, cmd := range []*cobra.Command{runCmd, searchCmd, fuseCmd} {
		cmd.Flags().StringVar(&queryPath, "queries", "", "query FASTA for the similarity search (default: self-comparison)")
		cmd.Flags().IntVar(&maxHits, "max-hits", 0, "per-query hit cap passed to the search tool (0 = config value)")
	}

	runCmd.Flags().BoolVar(&skipBackup, "skip-backup", false, "skip the final remote backup stage")
}

// loadConfig layers the config file and environment over the defaults
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg.Output.Verbose = cfg.Output.Verbose || verbose
	return cfg, nil
}

func executeWorkflow(stopAfter model.Stage) error {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	remote, err := stash.Open(ctx, cfg.Stash)
	if err != nil {
		return fmt.Errorf("open stash: %w", err)
	}

	store, err := docstore.Open(cfg.DocStore.Path)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "close document store: %v\n", closeErr)
		}
	}()

	local := cache.NewLayeredCache(cfg.Cache.MemoryTTL, filepath.Join(cfg.Cache.Dir, "artifacts"))
	manager := cache.NewManager(local, remote, cfg.Stash)

	invoker := search.NewInvoker(
		cfg.Search.Binary,
		filepath.Join(cfg.Cache.Dir, "search"),
		search.NewPolicy(cfg.Search.MaxAttempts, cfg.Search.BackoffBase),
	)

	wf, err := pipeline.New(cfg, pipeline.Deps{
		Manager: manager,
		Targets: &provider.FileTargetSource{
			FastaPath: fastaPath,
			TaxonPath: taxonPath,
			Source:    sourceTag,
		},
		Taxonomy: provider.NewTaxonomySource(cfg.Taxonomy.MappingURL),
		Invoker:  invoker,
		Store:    store,
	})
	if err != nil {
		return err
	}

	report, runErr := wf.Run(ctx, pipeline.Options{
		Force:         force,
		TaxonomyGroup: groupName,
		QueryPath:     queryPath,
		MaxHits:       maxHits,
		SkipBackup:    skipBackup,
		StopAfter:     stopAfter,
	})

	// The report is rendered even when the run failed; it records which
	// stage halted and why.
	pipeline.RenderSummary(os.Stdout, report)
	if path := firstNonEmpty(reportPath, cfg.Output.ReportPath); path != "" {
		if err := pipeline.RenderJSON(report, path); err != nil {
			return err
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "Report written: %s\n", path)
		}
	}

	if runErr != nil {
		return fmt.Errorf("workflow failed: %w", runErr)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
