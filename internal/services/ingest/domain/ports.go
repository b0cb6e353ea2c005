package domain

import (
	"context"
	"time"
)

// RunnerPort is the public port exposed by the module
type RunnerPort interface {
	Run(ctx context.Context, rc RunContext) (RunSummary, error)
}

// LedgerRepo persists run summaries in Postgres
type LedgerRepo interface {
	// EnsureSchema creates the ledger table when missing
	EnsureSchema(ctx context.Context) error

	// RecordRun upserts the summary of a run
	RecordRun(ctx context.Context, s RunSummary) error

	// LoadSummary returns the summary of runID, or of the latest finished run when runID is empty
	LoadSummary(ctx context.Context, runID string) (RunSummary, error)
}

// SummaryLoader reads a durable summary back; the validator consumes it
type SummaryLoader interface {
	LoadSummary(ctx context.Context, runID string) (RunSummary, error)
}

// CatalogShard is one row of the shard catalog
type CatalogShard struct {
	RunID       string
	Year        string
	Country     string
	Seq         int
	Key         string
	Rows        int64
	Bytes       int64
	PublishedAt time.Time
}

// Catalog records published shards in ClickHouse
type Catalog interface {
	EnsureSchema(ctx context.Context) error
	PublishShards(ctx context.Context, shards []CatalogShard) error
}
