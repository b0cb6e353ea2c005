// Package domain holds the run model of the ingest pipeline
package domain

import (
	"sort"
	"time"

	"nutrisage/internal/core/partition"
	"nutrisage/internal/core/version"
)

// Status is the terminal outcome of a run
type Status string

// Run statuses
const (
	StatusFinalized Status = "finalized"
	StatusFailed    Status = "failed"
)

// State is a pipeline stage; runs move Opened → Reading → (Extracting → Deriving → Buffering → Flushing)* → Finalized | Failed
type State string

// Pipeline states
const (
	StateOpened     State = "opened"
	StateReading    State = "reading"
	StateExtracting State = "extracting"
	StateDeriving   State = "deriving"
	StateBuffering  State = "buffering"
	StateFlushing   State = "flushing"
	StateFinalized  State = "finalized"
	StateFailed     State = "failed"
)

// Archive outcomes
const (
	ArchiveArchived = "archived"
	ArchiveSkipped  = "skipped_same_size"
	ArchiveDisabled = "disabled"
	ArchiveFailed   = "failed"
)

// Default thresholds
const (
	DefaultChunkRows  = 50_000
	DefaultFlushRows  = 100_000
	DefaultFlushBytes = 64 << 20
)

// RunContext is fixed at run start and passed through every stage
type RunContext struct {
	RunID         string    `json:"run_id"`
	Input         string    `json:"input"`
	RawSink       string    `json:"raw_sink"`
	ProcessedSink string    `json:"processed_sink"`
	ChunkRows     int       `json:"chunk_rows"`
	FlushRows     int       `json:"flush_rows"`
	FlushBytes    int64     `json:"flush_bytes"`
	Workers       int       `json:"workers"`
	Overwrite     bool      `json:"overwrite"`
	SkipArchive   bool      `json:"skip_archive"`
	StartedAt     time.Time `json:"started_at"`
}

// ShardRef is one published shard; Key is relative to the processed sink
type ShardRef struct {
	Key   string `json:"key"`
	Seq   int    `json:"seq"`
	Rows  int64  `json:"rows"`
	Bytes int64  `json:"bytes"`
}

// PartitionStat is the durable row and shard record of one partition
type PartitionStat struct {
	Year    string     `json:"year"`
	Country string     `json:"country"`
	Rows    int64      `json:"rows"`
	Shards  []ShardRef `json:"shards"`
}

// Path renders the hive directory of the partition
func (p PartitionStat) Path() string { return "year=" + p.Year + "/country=" + p.Country }

// ArchiveOutcome records what the raw archiver did
type ArchiveOutcome struct {
	Status string `json:"status"`
	Key    string `json:"key,omitempty"`
	Bytes  int64  `json:"bytes,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RunSummary is the durable record of a run, frozen from its RunContext and counters
type RunSummary struct {
	RunContext

	Status     Status    `json:"status"`
	FailedIn   State     `json:"failed_in,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	RowsPerSec float64   `json:"rows_per_sec"`
	InputBytes int64     `json:"input_bytes"`
	Error      string    `json:"error,omitempty"`

	LinesRead         int64 `json:"lines_read"`
	LinesSkipped      int64 `json:"lines_skipped"`
	SkippedLineSample []int `json:"skipped_line_sample,omitempty"`
	RowsExtracted     int64 `json:"rows_extracted"`
	RowsWritten       int64 `json:"rows_written"`

	Columns          []string          `json:"columns"`
	Signature        map[string]string `json:"signature"`
	CoercionFailures map[string]int64  `json:"coercion_failures"`
	UnknownYear      int64             `json:"unknown_year"`
	UnknownCountry   int64             `json:"unknown_country"`

	Partitions []PartitionStat   `json:"partitions"`
	Archive    ArchiveOutcome    `json:"archive"`
	Build      version.BuildInfo `json:"build"`
}

// Finalized reports whether the run completed
func (s RunSummary) Finalized() bool { return s.Status == StatusFinalized }

// PartitionRows maps each partition path to its durable row count
func (s RunSummary) PartitionRows() map[string]int64 {
	out := make(map[string]int64, len(s.Partitions))
	for _, p := range s.Partitions {
		out[p.Path()] = p.Rows
	}
	return out
}

// ShardRows maps each shard key to its row count
func (s RunSummary) ShardRows() map[string]int64 {
	out := map[string]int64{}
	for _, p := range s.Partitions {
		for _, sh := range p.Shards {
			out[sh.Key] = sh.Rows
		}
	}
	return out
}

// NewPartitionStat seeds a stat for key
func NewPartitionStat(k partition.Key) PartitionStat {
	return PartitionStat{Year: k.YearSegment(), Country: k.Country}
}

// SortPartitions orders stats by year (unknown last) then country
func SortPartitions(ps []PartitionStat) {
	sort.Slice(ps, func(i, j int) bool {
		a, ea := partition.ParsePath(ps[i].Path())
		b, eb := partition.ParsePath(ps[j].Path())
		if ea != nil || eb != nil {
			return ps[i].Path() < ps[j].Path()
		}
		return partition.Less(a, b)
	})
}

// RunsPrefix holds run summaries inside the processed sink; purges never touch it
const RunsPrefix = "_runs/"

// LatestSummaryKey always holds the summary of the most recent run
const LatestSummaryKey = RunsPrefix + "latest.json"

// SummaryKey is the per-run summary object
func SummaryKey(runID string) string { return RunsPrefix + runID + ".json" }
