package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyeh/tic-rates/internal/config"
	"github.com/gyeh/tic-rates/internal/emit"
	"github.com/gyeh/tic-rates/internal/fetch"
	"github.com/gyeh/tic-rates/internal/pipeline"
	"github.com/gyeh/tic-rates/internal/progress"
	"github.com/gyeh/tic-rates/internal/toc"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tic-rates",
		Short: "Extract negotiated rates from Transparency-in-Coverage MRF files",
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newAnalyzeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newRunCmd() *cobra.Command {
	var (
		configFile string
		tmpDir     string
		noProgress bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extraction pipeline for all configured payers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logLevel)

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			scratch, err := emit.TempDirFor(tmpDir)
			if err != nil {
				return err
			}
			defer os.RemoveAll(scratch)

			// Handle signals: first signal cancels gracefully (partial
			// batches and the report still land), second one kills.
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "\nInterrupted, finishing current batches...")
				cancel()
				<-sigCh
				// os.Exit skips the deferred cleanup
				os.RemoveAll(scratch)
				os.Exit(1)
			}()

			var sink emit.Sink
			if bucket := cfg.Output.S3.Bucket; bucket != "" {
				s3sink, err := emit.NewS3Sink(ctx, bucket)
				if err != nil {
					return err
				}
				sink = s3sink
				logger.Info("sink_configured", "type", "s3", "bucket", bucket, "prefix", cfg.Output.S3.Prefix)
			} else {
				sink = emit.LocalSink{Dir: cfg.Output.LocalDir}
				logger.Info("sink_configured", "type", "local", "dir", cfg.Output.LocalDir)
			}

			var mgr progress.Manager
			if noProgress {
				mgr = progress.NewLogManager()
			} else {
				mgr = progress.NewMPBManager()
			}

			start := time.Now()
			p := &pipeline.Pipeline{
				Config:   cfg,
				Client:   fetch.New(),
				Sink:     sink,
				Logger:   logger,
				Progress: mgr,
				TempDir:  scratch,
			}
			report, err := p.Run(ctx)
			if err != nil {
				// only a dead sink gets here; per-file failures are in the report
				return err
			}

			fmt.Fprintf(os.Stderr, "\nDone: %d payers, %d/%d files succeeded, %d rates in %.1fs\n",
				report.PayersProcessed, report.FilesSucceeded, report.FilesProcessed,
				report.RecordsExtracted, time.Since(start).Seconds())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "Pipeline configuration file")
	cmd.Flags().StringVar(&tmpDir, "tmp-dir", "", "Temp directory for batch artifacts (default: system temp)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Log status lines instead of progress bars")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var indexURL string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Inspect a payer index: shape, file counts, sample plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			analysis, err := toc.Analyze(ctx, fetch.New(), indexURL)
			if err != nil {
				return fmt.Errorf("analyzing %s: %w", indexURL, err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(analysis)
		},
	}

	cmd.Flags().StringVar(&indexURL, "url", "", "Index (Table of Contents) URL")
	cmd.MarkFlagRequired("url")

	return cmd
}
