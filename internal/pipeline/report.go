package pipeline

import (
	"fmt"
	"time"
)

// FileFailure records one failed MRF file for the run report.
type FileFailure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// PayerStats aggregates one payer's outcomes.
type PayerStats struct {
	FilesFound       int           `json:"files_found"`
	FilesProcessed   int           `json:"files_processed"`
	FilesSucceeded   int           `json:"files_succeeded"`
	FilesFailed      int           `json:"files_failed"`
	RecordsExtracted int64         `json:"records_extracted"`
	RecordsValidated int64         `json:"records_validated"`
	Uploads          int           `json:"uploads"`
	FailedFiles      []FileFailure `json:"failed_files,omitempty"`
	Errors           []string      `json:"errors,omitempty"`
}

// Report is the run-level statistics document written at the end of every
// run, including cancelled ones.
type Report struct {
	PayersProcessed         int                    `json:"payers_processed"`
	TotalFilesFound         int                    `json:"total_files_found"`
	FilesProcessed          int                    `json:"files_processed"`
	FilesSucceeded          int                    `json:"files_succeeded"`
	FilesFailed             int                    `json:"files_failed"`
	RecordsExtracted        int64                  `json:"records_extracted"`
	RecordsValidated        int64                  `json:"records_validated"`
	Uploads                 int                    `json:"uploads"`
	ProcessingStart         string                 `json:"processing_start"`
	ProcessingTimeSeconds   float64                `json:"processing_time_seconds"`
	ProcessingRatePerSecond float64                `json:"processing_rate_per_second"`
	CompletionTime          string                 `json:"completion_time"`
	Cancelled               bool                   `json:"cancelled"`
	Errors                  []string               `json:"errors"`
	PayerStats              map[string]*PayerStats `json:"payer_stats"`
}

func newReport(start time.Time) *Report {
	return &Report{
		ProcessingStart: start.UTC().Format(time.RFC3339),
		Errors:          []string{},
		PayerStats:      make(map[string]*PayerStats),
	}
}

// add folds one payer's stats into the run totals.
func (r *Report) add(payer string, s *PayerStats) {
	r.PayersProcessed++
	r.TotalFilesFound += s.FilesFound
	r.FilesProcessed += s.FilesProcessed
	r.FilesSucceeded += s.FilesSucceeded
	r.FilesFailed += s.FilesFailed
	r.RecordsExtracted += s.RecordsExtracted
	r.RecordsValidated += s.RecordsValidated
	r.Uploads += s.Uploads
	for _, e := range s.Errors {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", payer, e))
	}
	for _, f := range s.FailedFiles {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %s: %s", payer, f.URL, f.Error))
	}
	r.PayerStats[payer] = s
}

// finish stamps the timing fields.
func (r *Report) finish(start, end time.Time) {
	elapsed := end.Sub(start).Seconds()
	r.ProcessingTimeSeconds = elapsed
	if elapsed > 0 {
		r.ProcessingRatePerSecond = float64(r.RecordsExtracted) / elapsed
	}
	r.CompletionTime = end.UTC().Format(time.RFC3339)
}
