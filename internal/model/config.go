package model

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the complete targetforge configuration
type Config struct {
	Cache       CacheConfig               `yaml:"cache" mapstructure:"cache"`
	Stash       StashConfig               `yaml:"stash" mapstructure:"stash"`
	Providers   map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Search      SearchConfig              `yaml:"search" mapstructure:"search"`
	Fusion      FusionConfig              `yaml:"fusion" mapstructure:"fusion"`
	DocStore    DocStoreConfig            `yaml:"docstore" mapstructure:"docstore"`
	Concurrency ConcurrencyConfig         `yaml:"concurrency" mapstructure:"concurrency"`
	Taxonomy    TaxonomyConfig            `yaml:"taxonomy" mapstructure:"taxonomy"`
	Output      OutputConfig              `yaml:"output" mapstructure:"output"`
}

// CacheConfig controls the local artifact cache
type CacheConfig struct {
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
}

// StashConfig controls the durable remote backup store
type StashConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"` // fs | s3 | memory
	Dir       string `yaml:"dir" mapstructure:"dir"`       // fs driver root
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"` // optional, for MinIO
	PathStyle bool   `yaml:"path_style" mapstructure:"path_style"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"` // key namespace within the stash

	Backup bool `yaml:"backup" mapstructure:"backup"` // push freshly built artifacts remotely
	// Artifact classes excluded from remote backup even when Backup is true.
	// Declarative table per class so the policy is auditable in one place.
	NoBackupClasses []string `yaml:"no_backup_classes" mapstructure:"no_backup_classes"`
}

// BackupAllowed reports whether the given artifact class may be pushed to the stash
func (s StashConfig) BackupAllowed(class string) bool {
	if !s.Backup {
		return false
	}
	for _, c := range s.NoBackupClasses {
		if c == class {
			return false
		}
	}
	return true
}

// ProviderConfig configures one upstream annotation provider
type ProviderConfig struct {
	Category          string        `yaml:"category" mapstructure:"category"` // activity | cofactor | ontology | feature
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// SearchConfig configures the external similarity-search invocation
type SearchConfig struct {
	Binary         string        `yaml:"binary" mapstructure:"binary"`
	Sensitivity    float64       `yaml:"sensitivity" mapstructure:"sensitivity"`
	IdentityCutoff float64       `yaml:"identity_cutoff" mapstructure:"identity_cutoff"`
	MaxHits        int           `yaml:"max_hits" mapstructure:"max_hits"`
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// FusionConfig controls per-category fusion filter policy
type FusionConfig struct {
	// TaxonomyFilter maps category name to whether the taxonomy inclusion
	// filter applies before fusion for that category.
	TaxonomyFilter map[string]bool `yaml:"taxonomy_filter" mapstructure:"taxonomy_filter"`
}

// DocStoreConfig configures the document-store sink
type DocStoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ConcurrencyConfig bounds intra-stage parallelism
type ConcurrencyConfig struct {
	FetchWorkers int `yaml:"fetch_workers" mapstructure:"fetch_workers"`
}

// TaxonomyConfig defines the taxonomy mapping source and named organism-group filters
type TaxonomyConfig struct {
	// MappingURL points at the taxon lineage dump (taxid<TAB>parent rows)
	MappingURL string `yaml:"mapping_url" mapstructure:"mapping_url"`
	// Groups maps a group name (e.g., "bacteria") to the taxon identifiers it admits.
	Groups map[string][]int `yaml:"groups" mapstructure:"groups"`
}

// OutputConfig controls run-report rendering
type OutputConfig struct {
	Verbose    bool   `yaml:"verbose" mapstructure:"verbose"`
	ReportPath string `yaml:"report_path" mapstructure:"report_path"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".targetforge")

	return &Config{
		Cache: CacheConfig{
			Dir:       filepath.Join(base, "cache"),
			MemoryTTL: 30 * time.Minute,
		},
		Stash: StashConfig{
			Driver: "fs",
			Dir:    filepath.Join(base, "stash"),
			Region: "us-east-1",
			Prefix: "targetforge",
			Backup: true,
			// Taxonomy mappings are large and rebuilt from public dumps; keeping
			// them out of the stash mirrors upstream retention limits.
			NoBackupClasses: []string{"taxonomy"},
		},
		Providers: map[string]ProviderConfig{
			"chembl-activity": {
				Category:          "activity",
				BaseURL:           "https://www.ebi.ac.uk/chembl/api/data",
				Enabled:           true,
				Timeout:           30 * time.Second,
				MaxBodyBytes:      8_000_000,
				RequestsPerSecond: 5,
				Burst:             5,
				MaxRetries:        3,
			},
			"drugbank-cofactor": {
				Category:          "cofactor",
				BaseURL:           "https://go.drugbank.com/api",
				Enabled:           true,
				Timeout:           30 * time.Second,
				MaxBodyBytes:      8_000_000,
				RequestsPerSecond: 2,
				Burst:             2,
				MaxRetries:        3,
			},
			"card-ontology": {
				Category:          "ontology",
				BaseURL:           "https://card.mcmaster.ca/api",
				Enabled:           true,
				Timeout:           30 * time.Second,
				MaxBodyBytes:      8_000_000,
				RequestsPerSecond: 2,
				Burst:             2,
				MaxRetries:        3,
			},
			"sabdab-feature": {
				Category:          "feature",
				BaseURL:           "https://opig.stats.ox.ac.uk/webapps/sabdab/api",
				Enabled:           true,
				Timeout:           30 * time.Second,
				MaxBodyBytes:      8_000_000,
				RequestsPerSecond: 2,
				Burst:             2,
				MaxRetries:        3,
			},
		},
		Search: SearchConfig{
			Binary:         "mmseqs",
			Sensitivity:    4.5,
			IdentityCutoff: 0.9,
			MaxHits:        300,
			MaxAttempts:    3,
			BackoffBase:    2 * time.Second,
			Timeout:        time.Hour,
		},
		Fusion: FusionConfig{
			TaxonomyFilter: map[string]bool{
				"activity": true,
				"cofactor": true,
				// The ontology filter over-excluded valid terms upstream; it
				// stays off by default but remains configurable.
				"ontology": false,
				"feature":  true,
			},
		},
		DocStore: DocStoreConfig{
			Path: filepath.Join(base, "data", "targets.db"),
		},
		Concurrency: ConcurrencyConfig{
			FetchWorkers: 8,
		},
		Taxonomy: TaxonomyConfig{
			MappingURL: "https://ftp.ncbi.nih.gov/pub/taxonomy/taxidlineage.dmp",
			Groups:     map[string][]int{},
		},
		Output: OutputConfig{},
	}
}
