package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"nutrisage/internal/core/version"
	"nutrisage/internal/modkit/module"
	"nutrisage/internal/platform/blob"
	"nutrisage/internal/platform/config"
	ingest "nutrisage/internal/services/ingest/domain"
	ingestmod "nutrisage/internal/services/ingest/module"
	validatemod "nutrisage/internal/services/validate/module"
)

// newRootCmd builds the CLI; flags default from NUTRISAGE_* so explicit flags override the environment
func newRootCmd(out io.Writer) *cobra.Command {
	cfg := config.New()
	bo := blobOptions(cfg.Prefix("NUTRISAGE_"))

	root := &cobra.Command{
		Use:           "nutrisage",
		Short:         "Ingest food-product exports into partitioned Parquet and validate the output",
		Version:       version.Info().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	pf := root.PersistentFlags()
	pf.StringVar(&bo.Profile, "profile", bo.Profile, "AWS shared-config profile for s3://, or service-account JSON for gs://")
	pf.StringVar(&bo.Endpoint, "s3-endpoint", bo.Endpoint, "S3-compatible endpoint override")
	pf.StringVar(&bo.Region, "s3-region", bo.Region, "S3 region")

	root.AddCommand(newIngestCmd(cfg, &bo, out), newValidateCmd(cfg, &bo, out))
	return root
}

func newIngestCmd(cfg config.Conf, bo *blob.Options, out io.Writer) *cobra.Command {
	o := ingestmod.FromConfig(cfg)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a gzip NDJSON export into year/country partitioned Parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, closeDeps, err := openDeps(ctx, cfg, *bo)
			if err != nil {
				return err
			}
			defer closeDeps()

			m := ingestmod.New(deps, o)
			sum, err := m.Run(ctx)
			if sum.RunID != "" {
				fmt.Fprintln(out, completionLine(sum))
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.Input, "input", o.Input, "input export: path, file://, s3:// or gs:// object")
	f.StringVar(&o.RawSink, "raw-sink", o.RawSink, "raw archive location")
	f.StringVar(&o.ProcessedSink, "processed-sink", o.ProcessedSink, "partitioned Parquet location")
	f.StringVar(&o.RunID, "run-id", o.RunID, "run id (generated when empty)")
	f.IntVar(&o.ChunkRows, "chunk-rows", o.ChunkRows, "records per read chunk")
	f.IntVar(&o.FlushRows, "flush-rows", o.FlushRows, "rows per partition before a shard is flushed")
	f.Int64Var(&o.FlushBytes, "flush-bytes", o.FlushBytes, "estimated bytes per partition before a shard is flushed")
	f.IntVar(&o.Workers, "workers", o.Workers, "parallel extraction workers")
	f.BoolVar(&o.Overwrite, "overwrite", o.Overwrite, "replace previous output in the processed sink")
	f.BoolVar(&o.SkipArchive, "skip-archive", o.SkipArchive, "do not copy the input into the raw sink")
	f.IntVar(&o.MaxAttempts, "max-attempts", o.MaxAttempts, "storage attempts per operation")
	f.DurationVar(&o.PublishTimeout, "publish-timeout", o.PublishTimeout, "timeout per shard publish attempt")
	f.DurationVar(&o.RunTimeout, "run-timeout", o.RunTimeout, "overall run budget (0 = none)")
	return cmd
}

func newValidateCmd(cfg config.Conf, bo *blob.Options, out io.Writer) *cobra.Command {
	o := validatemod.FromConfig(cfg)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the processed sink against the run summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, closeDeps, err := openDeps(ctx, cfg, *bo)
			if err != nil {
				return err
			}
			defer closeDeps()

			m := validatemod.New(deps, o)
			// the ingest module exposes the run ledger when Postgres is configured
			if l, ok := module.PortsOf[ingest.SummaryLoader](ingestmod.New(deps, ingestmod.FromConfig(cfg))); ok {
				m.WithLedger(l)
			}
			_, err = m.Run(ctx, out)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.ProcessedSink, "processed-sink", o.ProcessedSink, "partitioned Parquet location")
	f.StringVar(&o.Summary, "summary", o.Summary, "explicit run summary object (overrides --run-id)")
	f.StringVar(&o.RunID, "run-id", o.RunID, "run to validate against (latest when empty)")
	f.StringVar(&o.Format, "format", o.Format, "report format: text or json")
	f.StringVar(&o.Out, "out", o.Out, "write the report here instead of stdout")
	f.IntVar(&o.Workers, "workers", o.Workers, "parallel shard readers")
	return cmd
}

// completionLine is the one-line human summary printed after every opened run
func completionLine(s ingest.RunSummary) string {
	elapsed := time.Duration(s.ElapsedMS) * time.Millisecond
	if !s.Finalized() {
		return fmt.Sprintf("run %s failed in %s after %s: %d rows durable in %d partitions",
			s.RunID, s.FailedIn, elapsed, s.RowsWritten, len(s.Partitions))
	}
	return fmt.Sprintf("run %s finalized: %d rows in %d partitions, %d lines skipped, %s (%.0f rows/s)",
		s.RunID, s.RowsWritten, len(s.Partitions), s.LinesSkipped, elapsed, s.RowsPerSec)
}
