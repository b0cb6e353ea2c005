package module

import (
	"time"

	"nutrisage/internal/platform/config"
	"nutrisage/internal/platform/validate"
	"nutrisage/internal/services/ingest/domain"
	"nutrisage/internal/services/ingest/guardrails"
	"nutrisage/internal/services/ingest/service"
)

// Options holds configuration options for an ingest run
// flag tags name the CLI flags that override each value
type Options struct {
	Input         string `flag:"input" validate:"required,location"`
	RawSink       string `flag:"raw-sink" validate:"required_without=SkipArchive,location"`
	ProcessedSink string `flag:"processed-sink" validate:"required,location"`
	RunID         string `flag:"run-id" validate:"omitempty,max=128,excludesall=/"`
	ChunkRows     int    `flag:"chunk-rows" validate:"min=1"`
	FlushRows     int    `flag:"flush-rows" validate:"min=1"`
	FlushBytes    int64  `flag:"flush-bytes" validate:"min=1024"`
	Workers       int    `flag:"workers" validate:"min=1,max=256"`
	Overwrite     bool   `flag:"overwrite"`
	SkipArchive   bool   `flag:"skip-archive"`

	MaxAttempts    int           `flag:"max-attempts" validate:"min=1,max=20"`
	RetryBase      time.Duration `flag:"retry-base" validate:"min=0"`
	RetryMax       time.Duration `flag:"retry-max" validate:"min=0"`
	PublishTimeout time.Duration `flag:"publish-timeout" validate:"min=0"`
	ArchiveTimeout time.Duration `flag:"archive-timeout" validate:"min=0"`
	RunTimeout     time.Duration `flag:"run-timeout" validate:"min=0"`
	DBTimeout      time.Duration `flag:"db-timeout" validate:"min=0"`
}

// FromConfig reads options with the NUTRISAGE_ prefix; sinks are shared with the validator
func FromConfig(cfg config.Conf) Options {
	root := cfg.Prefix("NUTRISAGE_")
	in := root.Prefix("INGEST_")
	return Options{
		Input:         in.MayString("INPUT", ""),
		RawSink:       root.MayString("RAW_SINK", "data/raw"),
		ProcessedSink: root.MayString("PROCESSED_SINK", "data/processed"),
		RunID:         in.MayString("RUN_ID", ""),
		ChunkRows:     in.MayInt("CHUNK_ROWS", domain.DefaultChunkRows),
		FlushRows:     in.MayInt("FLUSH_ROWS", domain.DefaultFlushRows),
		FlushBytes:    in.MayInt64("FLUSH_BYTES", domain.DefaultFlushBytes),
		Workers:       in.MayInt("WORKERS", 4),
		Overwrite:     in.MayBool("OVERWRITE", true),
		SkipArchive:   in.MayBool("SKIP_ARCHIVE", false),

		MaxAttempts:    in.MayInt("MAX_ATTEMPTS", 5),
		RetryBase:      in.MayDuration("RETRY_BASE", 500*time.Millisecond),
		RetryMax:       in.MayDuration("RETRY_MAX", 30*time.Second),
		PublishTimeout: in.MayDuration("PUBLISH_TIMEOUT", 5*time.Minute),
		ArchiveTimeout: in.MayDuration("ARCHIVE_TIMEOUT", 0),
		RunTimeout:     in.MayDuration("RUN_TIMEOUT", 0),
		DBTimeout:      in.MayDuration("DB_TIMEOUT", 30*time.Second),
	}
}

// Validate checks the options and names the offending flag on failure
func (o Options) Validate() error { return validate.Struct(o) }

// RunContext projects the per-run fields
func (o Options) RunContext() domain.RunContext {
	return domain.RunContext{
		RunID:         o.RunID,
		Input:         o.Input,
		RawSink:       o.RawSink,
		ProcessedSink: o.ProcessedSink,
		ChunkRows:     o.ChunkRows,
		FlushRows:     o.FlushRows,
		FlushBytes:    o.FlushBytes,
		Workers:       o.Workers,
		Overwrite:     o.Overwrite,
		SkipArchive:   o.SkipArchive,
	}
}

// ServiceConfig projects the retry and timeout fields
func (o Options) ServiceConfig() service.Config {
	return service.Config{
		Retry: guardrails.Policy{MaxAttempts: o.MaxAttempts, Base: o.RetryBase, Max: o.RetryMax},
		Timeouts: guardrails.Timeouts{
			Run:     o.RunTimeout,
			Publish: o.PublishTimeout,
			Archive: o.ArchiveTimeout,
			DB:      o.DBTimeout,
		},
	}
}
