package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
payer_endpoints:
  acme: https://example.com/index.json
  centene_fidelis: https://example.com/fidelis.json
cpt_whitelist:
  - "99213"
  - "70450"
processing:
  batch_size: 500
  parallel_workers: 4
  max_files_per_payer: 10
output:
  local_dir: out
versioning:
  schema_version: v2.1
  processing_version: v2.1
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PayerEndpoints["acme"] != "https://example.com/index.json" {
		t.Errorf("endpoints = %v", cfg.PayerEndpoints)
	}
	if cfg.Processing.BatchSize != 500 || cfg.Processing.ParallelWorkers != 4 {
		t.Errorf("processing = %+v", cfg.Processing)
	}
	if cfg.Versioning.SchemaVersion != "v2.1" {
		t.Errorf("versioning = %+v", cfg.Versioning)
	}

	set := cfg.WhitelistSet()
	if len(set) != 2 {
		t.Errorf("whitelist = %v", set)
	}
	if _, ok := set["99213"]; !ok {
		t.Error("99213 missing from whitelist set")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "payer_endpoints:\n  acme: https://example.com/i.json\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Processing.BatchSize != 10_000 {
		t.Errorf("batch_size default = %d", cfg.Processing.BatchSize)
	}
	if cfg.Processing.ParallelWorkers != 2 {
		t.Errorf("parallel_workers default = %d", cfg.Processing.ParallelWorkers)
	}
	if cfg.Output.LocalDir != "output" {
		t.Errorf("local_dir default = %q", cfg.Output.LocalDir)
	}
	if cfg.WhitelistSet() != nil {
		t.Error("empty whitelist should yield nil set")
	}
}

func TestLoadEnvOverridesBucket(t *testing.T) {
	t.Setenv("S3_BUCKET", "override-bucket")
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output.S3.Bucket != "override-bucket" {
		t.Errorf("bucket = %q", cfg.Output.S3.Bucket)
	}
}

func TestLoadRejectsEmptyEndpoints(t *testing.T) {
	_, err := Load(writeConfig(t, "payer_endpoints: {}\n"))
	if err == nil || !strings.Contains(err.Error(), "payer_endpoints") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadRejectsMissingURL(t *testing.T) {
	_, err := Load(writeConfig(t, "payer_endpoints:\n  acme: \"\"\n"))
	if err == nil {
		t.Error("expected error for empty index url")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "payer_endpoints: [::bad")); err == nil {
		t.Error("expected parse error")
	}
}
