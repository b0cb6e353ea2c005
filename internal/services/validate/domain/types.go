// Package domain holds the validator report types and ports
package domain

import (
	"context"
	"sort"
)

// Kind classifies a mismatch; kinds render in declaration order
type Kind string

// Mismatch kinds
const (
	KindRunStatus           Kind = "run_status"
	KindTotalRows           Kind = "total_rows"
	KindPartitionMissing    Kind = "partition_missing"
	KindPartitionUnexpected Kind = "partition_unexpected"
	KindPartitionRows       Kind = "partition_rows"
	KindShardMissing        Kind = "shard_missing"
	KindShardUnexpected     Kind = "shard_unexpected"
	KindShardRows           Kind = "shard_rows"
	KindShardUnreadable     Kind = "shard_unreadable"
	KindShardPath           Kind = "shard_path"
	KindShardMetaRows       Kind = "shard_meta_rows"
	KindColumnMissing       Kind = "column_missing"
	KindColumnUnexpected    Kind = "column_unexpected"
	KindColumnType          Kind = "column_type"
	KindColumnOrder         Kind = "column_order"
	KindRowPartition        Kind = "row_partition"
	KindStoredPartition     Kind = "stored_partition"
)

var kindRank = func() map[Kind]int {
	m := map[Kind]int{}
	for i, k := range []Kind{
		KindRunStatus, KindTotalRows,
		KindPartitionMissing, KindPartitionUnexpected, KindPartitionRows,
		KindShardMissing, KindShardUnexpected, KindShardRows,
		KindShardUnreadable, KindShardPath, KindShardMetaRows,
		KindColumnMissing, KindColumnUnexpected, KindColumnType, KindColumnOrder,
		KindRowPartition, KindStoredPartition,
	} {
		m[k] = i
	}
	return m
}()

// Mismatch is one difference between the written output and the expected summary
// Subject is a shard key, partition path, column name or "run"
type Mismatch struct {
	Kind     Kind   `json:"kind"`
	Subject  string `json:"subject"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// PartitionCount is the observed size of one partition directory
type PartitionCount struct {
	Path   string `json:"path"`
	Rows   int64  `json:"rows"`
	Shards int    `json:"shards"`
}

// Report is the outcome of one validation pass
// It carries no timestamps so re-runs over unchanged output render identically
type Report struct {
	RunID        string            `json:"run_id"`
	RunStatus    string            `json:"run_status"`
	Sink         string            `json:"sink"`
	Summary      string            `json:"summary"`
	Shards       int               `json:"shards"`
	Rows         int64             `json:"rows"`
	ExpectedRows int64             `json:"expected_rows"`
	Columns      []string          `json:"columns"`
	Signature    map[string]string `json:"signature"`
	Partitions   []PartitionCount  `json:"partitions"`
	Mismatches   []Mismatch        `json:"mismatches"`
}

// OK reports a clean pass
func (r Report) OK() bool { return len(r.Mismatches) == 0 }

// SortMismatches orders by kind, then subject, then values
func SortMismatches(ms []Mismatch) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if ra, rb := kindRank[a.Kind], kindRank[b.Kind]; ra != rb {
			return ra < rb
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Expected != b.Expected {
			return a.Expected < b.Expected
		}
		return a.Actual < b.Actual
	})
}

// Request selects the output to check and the summary to check it against
type Request struct {
	ProcessedSink string
	// RunID picks _runs/<id>.json; empty means the latest run
	RunID string
	// Summary is an explicit summary object URI that overrides RunID lookup
	Summary string
	Workers int
}

// ValidatorPort checks a processed sink against a run summary
// A returned error means the pass could not complete; mismatches live in the report
type ValidatorPort interface {
	Validate(ctx context.Context, req Request) (Report, error)
}
