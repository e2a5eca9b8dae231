package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gyeh/tic-rates/internal/emit"
	"github.com/gyeh/tic-rates/internal/fetch"
	"github.com/gyeh/tic-rates/internal/identity"
	"github.com/gyeh/tic-rates/internal/mrf"
	"github.com/gyeh/tic-rates/internal/normalize"
	"github.com/gyeh/tic-rates/internal/payers"
	"github.com/gyeh/tic-rates/internal/progress"
	"github.com/gyeh/tic-rates/internal/quality"
	"github.com/gyeh/tic-rates/internal/toc"
)

// tupleBuffer bounds the parser→consumer handoff so a fast parser cannot
// outrun Parquet flushes.
const tupleBuffer = 256

type fileJob struct {
	payer     string
	payerUUID string
	handler   payers.Handler
	whitelist map[string]struct{}
	desc      toc.Descriptor
	index     int
	total     int
	runTS     time.Time
}

type fileResult struct {
	records   int64
	validated int64
	uploads   int
	err       error
}

// processFile streams one MRF file through parse → normalize → identity →
// quality → emit. The parser runs in its own goroutine feeding a bounded
// channel; this goroutine consumes. Partial batches are flushed even when
// parsing fails mid-file.
func (p *Pipeline) processFile(ctx context.Context, job fileJob) fileResult {
	tracker := p.Progress.NewTracker(job.index, job.total, fileNameFromURL(job.desc.URL))
	defer tracker.Done()

	fileCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	refs := mrf.NewReferenceTable()
	if job.desc.ProviderReferenceURL != "" {
		tracker.SetStage("Loading provider references")
		table, err := mrf.LoadProviderReferences(fileCtx, p.Client, job.desc.ProviderReferenceURL)
		if err != nil {
			// unresolved references surface per-price as annotations
			p.Logger.Warn("provider_reference_load_failed",
				"payer", job.payer, "url", job.desc.ProviderReferenceURL, "error", err)
		}
		refs = table
	}

	tracker.SetStage("Streaming")
	size := p.Client.Head(fileCtx, job.desc.URL)
	if size == fetch.SizeUnknown {
		size = 0
	}
	body, err := p.Client.OpenStreamProgress(fileCtx, job.desc.URL, func(downloaded int64) {
		tracker.SetProgress(downloaded, size)
	})
	if err != nil {
		return fileResult{err: fmt.Errorf("opening %s: %w", job.desc.URL, err)}
	}
	defer body.Close()

	emitter := emit.New(emit.Config{
		Payer:        job.payer,
		PlanSafe:     toc.PlanSafeName(job.desc.PlanName),
		Prefix:       p.Config.Output.S3.Prefix,
		BatchSize:    p.Config.Processing.BatchSize,
		Sink:         p.Sink,
		TempDir:      p.TempDir,
		RunTimestamp: job.runTS,
		Logger:       p.Logger,
	})

	tuples := make(chan mrf.RateRecord, tupleBuffer)
	parseErr := make(chan error, 1)
	var scanned int64
	go func() {
		defer close(tuples)
		parseErr <- mrf.StreamParse(body, mrf.Options{
			Payer:      job.payer,
			Handler:    job.handler,
			References: refs,
			Whitelist:  job.whitelist,
			Logger:     p.Logger,
			OnItemScanned: func() {
				tracker.SetCounter("items_scanned", atomic.AddInt64(&scanned, 1))
			},
		}, func(rec mrf.RateRecord) error {
			select {
			case tuples <- rec:
				return nil
			case <-fileCtx.Done():
				return mrf.ErrStop
			}
		})
	}()

	res := p.consume(fileCtx, cancel, job, emitter, tuples, tracker)
	for range tuples {
		// drain after early stop so the parser goroutine exits
	}
	if perr := <-parseErr; perr != nil && res.err == nil {
		res.err = fmt.Errorf("parse: %w", perr)
	}

	// partial batches are valid rows; flush them even on parse failure or
	// graceful cancellation
	tracker.SetStage("Flushing")
	if ferr := emitter.Flush(context.WithoutCancel(ctx)); ferr != nil && res.err == nil {
		res.err = ferr
	}
	res.uploads = emitter.Uploads()
	return res
}

func (p *Pipeline) consume(ctx context.Context, cancel context.CancelFunc, job fileJob, emitter *emit.Emitter, tuples <-chan mrf.RateRecord, tracker progress.Tracker) fileResult {
	var res fileResult
	orgSeen := make(map[string]struct{})
	npiSeen := make(map[string]struct{})

	extractedAt := job.runTS.UTC().Format(time.RFC3339)
	lineage := emit.DataLineage{
		SourceURL:         job.desc.URL,
		SourceURLHash:     emit.HashURL(job.desc.URL),
		ExtractedAt:       extractedAt,
		ProcessingVersion: p.Config.Versioning.ProcessingVersion,
	}
	plan := emit.PlanDetails{
		PlanName:   job.desc.PlanName,
		PlanID:     job.desc.PlanID,
		MarketType: job.desc.PlanMarketType,
	}
	maxRecords := int64(p.Config.Processing.MaxRecordsPerFile)

	for rec := range tuples {
		row, ok := normalize.Normalize(rec, job.whitelist)
		if !ok {
			continue
		}
		res.records++
		tracker.SetCounter("records", res.records)

		var orgUUID string
		if row.ProviderTIN != "" || row.ProviderName != "" {
			orgUUID = identity.Organization(row.ProviderTIN, row.ProviderName)
		}

		flags := quality.Score(quality.Input{
			ServiceCode:      row.ServiceCode,
			NegotiatedRate:   row.NegotiatedRate,
			PayerUUID:        job.payerUUID,
			OrganizationUUID: orgUUID,
			NPICount:         len(row.ProviderNPIs),
		})
		if flags.IsValidated {
			res.validated++
		}

		rateRow := emit.RateRow{
			RateUUID:           identity.Rate(job.payerUUID, orgUUID, row.ServiceCode, row.FormattedRate, row.ExpirationDate),
			PayerUUID:          job.payerUUID,
			OrganizationUUID:   orgUUID,
			ServiceCode:        row.ServiceCode,
			ServiceDescription: row.Description,
			BillingCodeType:    row.BillingCodeType,
			NegotiatedRate:     row.NegotiatedRate,
			BillingClass:       row.BillingClass,
			RateType:           row.NegotiatedType,
			ServiceCodes:       row.ServiceCodes,
			PlanDetails:        plan,
			ContractPeriod:     emit.ContractPeriod{ExpirationDate: row.ExpirationDate},
			ProviderNetwork: emit.ProviderNetwork{
				NPIList:      row.ProviderNPIs,
				NPICount:     int32(len(row.ProviderNPIs)),
				CoverageType: "in_network",
			},
			DataLineage: lineage,
			QualityFlags: emit.QualityFlags{
				IsValidated:     flags.IsValidated,
				HasConflicts:    flags.HasConflicts,
				ConfidenceScore: flags.ConfidenceScore,
				Notes:           joinNotes(flags.Notes, row.Annotations),
			},
		}
		if err := emitter.AddRate(ctx, rateRow); err != nil {
			res.err = err
			cancel()
			break
		}

		if orgUUID != "" {
			if _, dup := orgSeen[orgUUID]; !dup {
				orgSeen[orgUUID] = struct{}{}
				err := emitter.AddOrganization(ctx, emit.OrganizationRow{
					OrganizationUUID: orgUUID,
					PayerUUID:        job.payerUUID,
					TIN:              row.ProviderTIN,
					OrganizationName: row.ProviderName,
					SourceURL:        job.desc.URL,
					ExtractedAt:      extractedAt,
				})
				if err != nil {
					res.err = err
					cancel()
					break
				}
			}
		}

		stop := false
		for _, npi := range row.ProviderNPIs {
			if _, dup := npiSeen[npi]; dup {
				continue
			}
			npiSeen[npi] = struct{}{}
			err := emitter.AddProvider(ctx, emit.ProviderRow{
				ProviderUUID:     identity.Provider(npi),
				OrganizationUUID: orgUUID,
				PayerUUID:        job.payerUUID,
				NPI:              npi,
				SourceURL:        job.desc.URL,
				ExtractedAt:      extractedAt,
			})
			if err != nil {
				res.err = err
				cancel()
				stop = true
				break
			}
		}
		if stop {
			break
		}

		if maxRecords > 0 && res.records >= maxRecords {
			cancel()
			break
		}
	}
	return res
}

func joinNotes(notes string, annotations []string) string {
	if len(annotations) == 0 {
		return notes
	}
	parts := make([]string, 0, len(annotations)+1)
	if notes != "" {
		parts = append(parts, notes)
	}
	parts = append(parts, annotations...)
	return strings.Join(parts, "; ")
}

func fileNameFromURL(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	return path.Base(url)
}
