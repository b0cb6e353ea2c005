package repo

import (
	"context"

	"nutrisage/internal/modkit/repokit"
	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/services/ingest/domain"
)

// CatalogTable lists every published shard for analytical lookups
const CatalogTable = "nutrisage_shards"

const catalogDDL = `
	CREATE TABLE IF NOT EXISTS ` + CatalogTable + ` (
		run_id       String,
		year         LowCardinality(String),
		country      LowCardinality(String),
		seq          UInt32,
		key          String,
		rows         UInt64,
		bytes        UInt64,
		published_at DateTime64(3, 'UTC')
	)
	ENGINE = ReplacingMergeTree(published_at)
	ORDER BY (year, country, seq, run_id)
`

// CH writes the shard catalog through the ClickHouse seam
type CH struct{ db repokit.Catalog }

var _ domain.Catalog = (*CH)(nil)

// NewCH returns a catalog over db
func NewCH(db repokit.Catalog) *CH { return &CH{db: db} }

// EnsureSchema creates the catalog table when missing
func (c *CH) EnsureSchema(ctx context.Context) error {
	if err := c.db.Exec(ctx, catalogDDL); err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "ensure "+CatalogTable)
	}
	return nil
}

// PublishShards appends one row per shard in a single batch
func (c *CH) PublishShards(ctx context.Context, shards []domain.CatalogShard) error {
	if len(shards) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(shards))
	for _, s := range shards {
		rows = append(rows, []any{
			s.RunID, s.Year, s.Country, uint32(s.Seq), s.Key,
			uint64(s.Rows), uint64(s.Bytes), s.PublishedAt.UTC(),
		})
	}
	if err := c.db.Insert(ctx, CatalogTable, rows); err != nil {
		return perr.Wrap(err, perr.ErrorCodeDB, "insert "+CatalogTable)
	}
	return nil
}
