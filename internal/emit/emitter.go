// Package emit batches normalized rows and writes them as Snappy-compressed
// Parquet artifacts, partitioned by table, payer, and date, to a local
// directory or an S3 bucket.
package emit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Table names in the partition layout.
const (
	TableRates         = "rates"
	TableOrganizations = "organizations"
	TableProviders     = "providers"
)

// Config parameterizes one per-file Emitter.
type Config struct {
	Payer    string
	PlanSafe string // sanitized plan name, see toc.PlanSafeName
	Prefix   string // key prefix under the sink root, may be empty

	// BatchSize is the flush threshold per table.
	BatchSize int

	Sink    Sink
	TempDir string

	// RunTimestamp stamps filenames so artifacts from one run sort together.
	RunTimestamp time.Time

	Logger *slog.Logger
}

// Emitter accumulates the three row batches for one source file and flushes
// them when they reach the threshold or when the file ends. Not safe for
// concurrent use; each file gets its own Emitter.
type Emitter struct {
	cfg   Config
	runTS string

	rates []RateRow
	orgs  []OrganizationRow
	provs []ProviderRow

	batchIdx map[string]int
	uploads  int

	now func() time.Time
}

// New builds an Emitter. BatchSize defaults to 10000.
func New(cfg Config) *Emitter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10_000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RunTimestamp.IsZero() {
		cfg.RunTimestamp = time.Now().UTC()
	}
	return &Emitter{
		cfg:      cfg,
		runTS:    cfg.RunTimestamp.Format("20060102_150405"),
		batchIdx: make(map[string]int),
		now:      time.Now,
	}
}

// Uploads returns the number of batch artifacts stored so far.
func (e *Emitter) Uploads() int { return e.uploads }

func (e *Emitter) AddRate(ctx context.Context, row RateRow) error {
	e.rates = append(e.rates, row)
	if len(e.rates) >= e.cfg.BatchSize {
		return e.flushRates(ctx)
	}
	return nil
}

func (e *Emitter) AddOrganization(ctx context.Context, row OrganizationRow) error {
	e.orgs = append(e.orgs, row)
	if len(e.orgs) >= e.cfg.BatchSize {
		return e.flushOrgs(ctx)
	}
	return nil
}

func (e *Emitter) AddProvider(ctx context.Context, row ProviderRow) error {
	e.provs = append(e.provs, row)
	if len(e.provs) >= e.cfg.BatchSize {
		return e.flushProvs(ctx)
	}
	return nil
}

// Flush drains all three batches. Called at end of file and on graceful
// cancellation; partial batches are valid rows.
func (e *Emitter) Flush(ctx context.Context) error {
	var firstErr error
	for _, f := range []func(context.Context) error{e.flushRates, e.flushOrgs, e.flushProvs} {
		if err := f(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Emitter) flushRates(ctx context.Context) error {
	if len(e.rates) == 0 {
		return nil
	}
	rows := e.rates
	e.rates = nil
	return storeBatch(ctx, e, TableRates, rows)
}

func (e *Emitter) flushOrgs(ctx context.Context) error {
	if len(e.orgs) == 0 {
		return nil
	}
	rows := e.orgs
	e.orgs = nil
	return storeBatch(ctx, e, TableOrganizations, rows)
}

func (e *Emitter) flushProvs(ctx context.Context) error {
	if len(e.provs) == 0 {
		return nil
	}
	rows := e.provs
	e.provs = nil
	return storeBatch(ctx, e, TableProviders, rows)
}

// storeBatch writes one batch to a temp Parquet file and hands it to the
// sink. A failed upload loses only this batch; the buffers were already
// rotated so subsequent batches proceed.
func storeBatch[T any](ctx context.Context, e *Emitter, table string, rows []T) error {
	n := e.batchIdx[table]
	e.batchIdx[table] = n + 1
	key := e.batchKey(table, n)

	tmp, err := os.CreateTemp(e.cfg.TempDir, "batch-*.parquet")
	if err != nil {
		return fmt.Errorf("creating temp batch file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeParquet(tmp, rows); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s batch %d: %w", table, n, err)
	}

	if err := e.cfg.Sink.Store(ctx, tmpPath, key); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("storing %s batch %d: %w", table, n, err)
	}
	e.uploads++
	e.cfg.Logger.Debug("batch stored", "table", table, "batch", n, "rows", len(rows), "key", key)
	return nil
}

func writeParquet[T any](f *os.File, rows []T) error {
	w := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// batchKey renders the partitioned artifact key:
// <prefix>/<table>/payer=<p>/date=<YYYY-MM-DD>/<payer>_<plan>_<runTS>_<table>_batch_<NNNN>_<hhmmss>.parquet
func (e *Emitter) batchKey(table string, n int) string {
	now := e.now().UTC()
	name := fmt.Sprintf("%s_%s_%s_%s_batch_%04d_%s.parquet",
		e.cfg.Payer, e.cfg.PlanSafe, e.runTS, table, n, now.Format("150405"))
	parts := make([]string, 0, 5)
	if e.cfg.Prefix != "" {
		parts = append(parts, e.cfg.Prefix)
	}
	parts = append(parts, table, "payer="+e.cfg.Payer, "date="+now.Format("2006-01-02"), name)
	return path.Join(parts...)
}

// HashURL fingerprints a source URL for lineage columns.
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// TempDirFor creates the per-run scratch directory under base.
func TempDirFor(base string) (string, error) {
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, fmt.Sprintf("tic-rates-%d", os.Getpid()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	return dir, nil
}
