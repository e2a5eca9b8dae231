// Package pipeline orchestrates a full run: payer discovery, per-file
// streaming extraction, normalization, identity, quality, and batched
// emission, finishing with a run report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gyeh/tic-rates/internal/config"
	"github.com/gyeh/tic-rates/internal/emit"
	"github.com/gyeh/tic-rates/internal/fetch"
	"github.com/gyeh/tic-rates/internal/identity"
	"github.com/gyeh/tic-rates/internal/payers"
	"github.com/gyeh/tic-rates/internal/progress"
	"github.com/gyeh/tic-rates/internal/toc"
)

// Pipeline runs the full extraction for one configuration. Workers process
// payers in parallel; each payer's files run sequentially in ToC order.
type Pipeline struct {
	Config   *config.Config
	Client   *fetch.Client
	Sink     emit.Sink
	Logger   *slog.Logger
	Progress progress.Manager
	TempDir  string

	filesDone    atomic.Int64
	recordsTotal atomic.Int64
}

// Run executes the pipeline and writes the run report to the sink. Per-file
// and per-payer failures are recorded in the report and do not fail the run;
// only a dead sink does.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if p.Client == nil {
		p.Client = fetch.New()
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.DiscardHandler)
	}
	if p.Progress == nil {
		p.Progress = &progress.NoopManager{}
	}

	start := time.Now()
	report := newReport(start)
	whitelist := p.Config.WhitelistSet()

	names := make([]string, 0, len(p.Config.PayerEndpoints))
	for name := range p.Config.PayerEndpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]*PayerStats, len(names))
	sem := make(chan struct{}, p.Config.Processing.ParallelWorkers)
	var wg sync.WaitGroup

	for i, name := range names {
		wg.Add(1)
		go func(idx int, payer string) {
			defer wg.Done()

			// a payer the run never started stays out of the stats; the
			// report records it as an error instead
			if ctx.Err() != nil {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			results[idx] = p.processPayer(ctx, payer, p.Config.PayerEndpoints[payer], whitelist, start)
		}(i, name)
	}
	wg.Wait()
	p.Progress.Wait()

	for i, name := range names {
		if results[i] == nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: cancelled before start", name))
			continue
		}
		report.add(name, results[i])
	}
	report.Cancelled = ctx.Err() != nil
	report.finish(start, time.Now())

	key := p.reportKey(start)
	// the report must land even on graceful cancellation
	if err := p.Sink.StoreJSON(context.WithoutCancel(ctx), key, report); err != nil {
		return report, fmt.Errorf("writing run report: %w", err)
	}
	p.Logger.Info("run_complete",
		"payers", report.PayersProcessed,
		"files_succeeded", report.FilesSucceeded,
		"files_failed", report.FilesFailed,
		"records", report.RecordsExtracted,
		"cancelled", report.Cancelled)
	return report, nil
}

func (p *Pipeline) reportKey(start time.Time) string {
	name := fmt.Sprintf("run_report_%s.json", start.UTC().Format("20060102_150405"))
	if prefix := p.Config.Output.S3.Prefix; prefix != "" {
		return path.Join(prefix, "processing_statistics", name)
	}
	return path.Join("processing_statistics", name)
}

// processPayer discovers a payer's files and runs them sequentially.
// Discovery failure marks the whole payer failed without touching the run.
func (p *Pipeline) processPayer(ctx context.Context, payer, indexURL string, whitelist map[string]struct{}, runTS time.Time) *PayerStats {
	stats := &PayerStats{}
	handler := payers.Get(payer)

	descriptors, err := handler.ListFiles(ctx, p.Client, indexURL)
	if err != nil {
		p.Logger.Error("payer_processing_failed", "payer", payer, "error", err)
		stats.Errors = append(stats.Errors, err.Error())
		return stats
	}

	files := make([]toc.Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Kind == toc.KindInNetworkRates {
			files = append(files, d)
		}
	}
	if max := p.Config.Processing.MaxFilesPerPayer; max > 0 && len(files) > max {
		files = files[:max]
	}
	stats.FilesFound = len(files)
	p.Logger.Info("payer_discovered", "payer", payer, "files", len(files))

	payerUUID := identity.Payer(payer, "")
	for i, desc := range files {
		if ctx.Err() != nil {
			break
		}
		stats.FilesProcessed++

		res := p.processFile(ctx, fileJob{
			payer:     payer,
			payerUUID: payerUUID,
			handler:   handler,
			whitelist: whitelist,
			desc:      desc,
			index:     i,
			total:     len(files),
			runTS:     runTS,
		})
		stats.RecordsExtracted += res.records
		stats.RecordsValidated += res.validated
		stats.Uploads += res.uploads
		p.Progress.SetOverallStats(int(p.filesDone.Add(1)), p.recordsTotal.Add(res.records))

		if res.err != nil {
			stats.FilesFailed++
			stats.FailedFiles = append(stats.FailedFiles, FileFailure{URL: desc.URL, Error: res.err.Error()})
			p.Logger.Error("file_processing_failed", "payer", payer, "url", desc.URL, "error", res.err)
			continue
		}
		stats.FilesSucceeded++
	}
	return stats
}
