package service

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"nutrisage/internal/core/extract"
	"nutrisage/internal/core/partition"
	"nutrisage/internal/platform/blob"
	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/logger"
	"nutrisage/internal/services/ingest/domain"
	"nutrisage/internal/services/ingest/guardrails"
)

// ShardKey renders the object key of shard seq in partition k
func ShardKey(k partition.Key, seq int) string {
	return fmt.Sprintf("%s/part-%04d.parquet", k.Path(), seq)
}

type pending struct {
	recs  []extract.Record
	bytes int
}

// writer buffers canonical records per partition and publishes shards
// Only the run goroutine touches it
type writer struct {
	bucket     blob.Bucket
	flushRows  int
	flushBytes int64
	policy     guardrails.Policy
	timeouts   guardrails.Timeouts
	encode     func([]extract.Record) ([]byte, error)
	stage      func(domain.State)
	now        func() time.Time

	bufs      map[partition.Key]*pending
	seq       map[partition.Key]int
	stats     map[partition.Key]*domain.PartitionStat
	published []domain.CatalogShard
	written   int64
}

func newWriter(b blob.Bucket, rc domain.RunContext, cfg Config, encode func([]extract.Record) ([]byte, error), stage func(domain.State)) *writer {
	return &writer{
		bucket:     b,
		flushRows:  rc.FlushRows,
		flushBytes: rc.FlushBytes,
		policy:     cfg.Retry,
		timeouts:   cfg.Timeouts,
		encode:     encode,
		stage:      stage,
		now:        time.Now,
		bufs:       map[partition.Key]*pending{},
		seq:        map[partition.Key]int{},
		stats:      map[partition.Key]*domain.PartitionStat{},
	}
}

// Add buffers rec under k and flushes the partition once a threshold is reached
func (w *writer) Add(ctx context.Context, k partition.Key, rec extract.Record) error {
	p := w.bufs[k]
	if p == nil {
		p = &pending{}
		w.bufs[k] = p
	}
	p.recs = append(p.recs, rec)
	p.bytes += rec.Size()
	if len(p.recs) >= w.flushRows || (w.flushBytes > 0 && int64(p.bytes) >= w.flushBytes) {
		return w.Flush(ctx, k)
	}
	return nil
}

// Flush publishes the buffered records of k as the next shard
// The publish is detached from run cancellation; each attempt rewrites the same key so retries never duplicate rows
func (w *writer) Flush(ctx context.Context, k partition.Key) error {
	p := w.bufs[k]
	if p == nil || len(p.recs) == 0 {
		return nil
	}
	w.stage(domain.StateFlushing)

	data, err := w.encode(p.recs)
	if err != nil {
		return perr.WithOp(err, "encode "+k.Path())
	}
	seq := w.seq[k]
	key := ShardKey(k, seq)
	log := logger.C(ctx)

	started := time.Now()
	res := guardrails.Retry(context.WithoutCancel(ctx), w.policy, w.timeouts.Publish, "publish shard", func(actx context.Context) error {
		_, err := w.bucket.Put(actx, key, bytes.NewReader(data))
		return err
	})
	if !res.OK() {
		log.Error().Err(res.Err).Str("key", key).Int("attempts", res.Attempts).Bool("exhausted", res.Exhausted).Msg("shard publish failed")
		if res.Exhausted {
			return perr.Wrapf(res.Err, perr.ErrorCodeStorage, "publish %s: gave up after %d attempts", key, res.Attempts)
		}
		return perr.Wrapf(res.Err, perr.CodeOf(res.Err), "publish %s", key)
	}

	rows := int64(len(p.recs))
	st := w.stats[k]
	if st == nil {
		s := domain.NewPartitionStat(k)
		st = &s
		w.stats[k] = st
	}
	st.Rows += rows
	st.Shards = append(st.Shards, domain.ShardRef{Key: key, Seq: seq, Rows: rows, Bytes: int64(len(data))})
	w.published = append(w.published, domain.CatalogShard{
		Year: st.Year, Country: st.Country, Seq: seq, Key: key,
		Rows: rows, Bytes: int64(len(data)), PublishedAt: w.now().UTC(),
	})
	w.seq[k] = seq + 1
	w.written += rows
	delete(w.bufs, k)

	log.Info().
		Str("key", key).
		Int64("rows", rows).
		Int("bytes", len(data)).
		Int("attempts", res.Attempts).
		Dur("took", time.Since(started)).
		Msg("shard published")
	return nil
}

// FlushAll publishes every non-empty buffer in partition order
func (w *writer) FlushAll(ctx context.Context) error {
	keys := make([]partition.Key, 0, len(w.bufs))
	for k := range w.bufs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return partition.Less(keys[i], keys[j]) })
	for _, k := range keys {
		if err := w.Flush(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// Buffered returns the number of records not yet published
func (w *writer) Buffered() int {
	n := 0
	for _, p := range w.bufs {
		n += len(p.recs)
	}
	return n
}

// Partitions returns the durable per-partition stats in partition order
func (w *writer) Partitions() []domain.PartitionStat {
	out := make([]domain.PartitionStat, 0, len(w.stats))
	for _, st := range w.stats {
		out = append(out, *st)
	}
	domain.SortPartitions(out)
	return out
}

// Written returns rows durably published
func (w *writer) Written() int64 { return w.written }

// Published returns catalog rows for every shard published so far
func (w *writer) Published() []domain.CatalogShard { return w.published }
