// Package config loads and validates the YAML pipeline configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration document.
type Config struct {
	// PayerEndpoints maps payer name to its ToC index URL.
	PayerEndpoints map[string]string `yaml:"payer_endpoints"`

	// CPTWhitelist restricts extraction to these billing codes. Empty means
	// extract everything.
	CPTWhitelist []string `yaml:"cpt_whitelist"`

	Processing Processing `yaml:"processing"`
	Output     Output     `yaml:"output"`
	Versioning Versioning `yaml:"versioning"`
}

type Processing struct {
	BatchSize         int `yaml:"batch_size"`
	ParallelWorkers   int `yaml:"parallel_workers"`
	MaxFilesPerPayer  int `yaml:"max_files_per_payer"`
	MaxRecordsPerFile int `yaml:"max_records_per_file"`
}

type Output struct {
	LocalDir string   `yaml:"local_dir"`
	S3       S3Output `yaml:"s3"`
}

type S3Output struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type Versioning struct {
	SchemaVersion     string `yaml:"schema_version"`
	ProcessingVersion string `yaml:"processing_version"`
}

// Load reads, env-overrides, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		cfg.Output.S3.Bucket = bucket
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Processing.BatchSize <= 0 {
		c.Processing.BatchSize = 10_000
	}
	if c.Processing.ParallelWorkers <= 0 {
		c.Processing.ParallelWorkers = 2
	}
	if c.Versioning.SchemaVersion == "" {
		c.Versioning.SchemaVersion = "v1.0"
	}
	if c.Versioning.ProcessingVersion == "" {
		c.Versioning.ProcessingVersion = "v1.0"
	}
	if c.Output.LocalDir == "" && c.Output.S3.Bucket == "" {
		c.Output.LocalDir = "output"
	}
}

// Validate rejects configurations the pipeline cannot run with. These are
// the only fatal errors the process exits non-zero for, besides a dead sink.
func (c *Config) Validate() error {
	if len(c.PayerEndpoints) == 0 {
		return fmt.Errorf("config: payer_endpoints is empty")
	}
	for name, url := range c.PayerEndpoints {
		if url == "" {
			return fmt.Errorf("config: payer %q has no index url", name)
		}
	}
	if c.Processing.MaxFilesPerPayer < 0 {
		return fmt.Errorf("config: max_files_per_payer is negative")
	}
	if c.Processing.MaxRecordsPerFile < 0 {
		return fmt.Errorf("config: max_records_per_file is negative")
	}
	return nil
}

// WhitelistSet renders the CPT whitelist as a lookup set.
func (c *Config) WhitelistSet() map[string]struct{} {
	if len(c.CPTWhitelist) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(c.CPTWhitelist))
	for _, code := range c.CPTWhitelist {
		set[code] = struct{}{}
	}
	return set
}
