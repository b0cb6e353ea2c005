// Package service provides the ingest pipeline: read, extract, derive, buffer, flush, archive
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"nutrisage/internal/adapters/columnar"
	"nutrisage/internal/adapters/ingest/ndjson"
	"nutrisage/internal/core/extract"
	"nutrisage/internal/core/partition"
	"nutrisage/internal/core/schema"
	"nutrisage/internal/core/version"
	"nutrisage/internal/modkit/repokit"
	"nutrisage/internal/platform/blob"
	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/logger"
	"nutrisage/internal/services/ingest/domain"
	"nutrisage/internal/services/ingest/guardrails"
)

// Config holds configuration options for the ingest service
type Config struct {
	// Storage retry applied to every publish, purge, archive and summary write
	Retry guardrails.Policy

	// Timeouts applied via guardrails
	Timeouts guardrails.Timeouts
}

// Opener resolves a location to a bucket; blob.OpenerFor in production
type Opener = blob.Opener

// Service implements domain.RunnerPort
type Service struct {
	Open Opener
	Cfg  Config

	// Optional run ledger; nil DB disables it
	DB     repokit.TxRunner
	Ledger repokit.Binder[domain.LedgerRepo]

	// Optional shard catalog
	Catalog domain.Catalog

	encode func([]extract.Record) ([]byte, error)
	now    func() time.Time
	newID  func(time.Time) string
}

var _ domain.RunnerPort = (*Service)(nil)

// New constructs the ingest service
func New(open Opener, cfg Config) *Service {
	if open == nil {
		panic("ingest.Service requires a non nil Opener")
	}
	return &Service{
		Open:   open,
		Cfg:    cfg,
		encode: columnar.Encode,
		now:    time.Now,
		newID:  NewRunID,
	}
}

// WithLedger wires the Postgres run ledger
func (s *Service) WithLedger(db repokit.TxRunner, b repokit.Binder[domain.LedgerRepo]) *Service {
	s.DB, s.Ledger = db, b
	return s
}

// WithCatalog wires the ClickHouse shard catalog
func (s *Service) WithCatalog(c domain.Catalog) *Service {
	s.Catalog = c
	return s
}

// NewRunID returns a sortable unique run id such as 20240101T120000Z-1a2b3c4d
func NewRunID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Normalize fills defaults into rc
func (s *Service) Normalize(rc domain.RunContext) domain.RunContext {
	if rc.StartedAt.IsZero() {
		rc.StartedAt = s.now().UTC()
	}
	if rc.RunID == "" {
		rc.RunID = s.newID(rc.StartedAt)
	}
	if rc.ChunkRows <= 0 {
		rc.ChunkRows = domain.DefaultChunkRows
	}
	if rc.FlushRows <= 0 {
		rc.FlushRows = domain.DefaultFlushRows
	}
	if rc.FlushBytes <= 0 {
		rc.FlushBytes = domain.DefaultFlushBytes
	}
	if rc.Workers <= 0 {
		rc.Workers = runtime.NumCPU()
	}
	return rc
}

// run is the mutable state of one ingest run
type run struct {
	rc        domain.RunContext
	state     domain.State
	log       *logger.Logger
	ex        *extract.Extractor
	w         *writer
	rd        *ndjson.Reader
	extracted int64
	inBytes   int64
}

func (r *run) enter(st domain.State) {
	if r.state == st {
		return
	}
	r.state = st
	r.log.Debug().Str("state", string(st)).Msg("state")
}

// Run implements domain.RunnerPort
// Preflight failures return an empty summary; once the run is opened a summary is always written
func (s *Service) Run(ctx context.Context, rc domain.RunContext) (domain.RunSummary, error) {
	rc = s.Normalize(rc)
	switch {
	case rc.Input == "":
		return domain.RunSummary{}, perr.WithField(perr.InvalidArgf("input is required"), "input")
	case rc.ProcessedSink == "":
		return domain.RunSummary{}, perr.WithField(perr.InvalidArgf("processed sink is required"), "processed-sink")
	case !rc.SkipArchive && rc.RawSink == "":
		return domain.RunSummary{}, perr.WithField(perr.InvalidArgf("raw sink is required unless archiving is skipped"), "raw-sink")
	}
	ctx = logger.WithRun(ctx, rc.RunID)
	log := logger.C(ctx)

	inLoc, inKey, err := blob.SplitObject(rc.Input)
	if err != nil {
		return domain.RunSummary{}, perr.WithField(err, "input")
	}
	in, err := s.Open(ctx, inLoc)
	if err != nil {
		return domain.RunSummary{}, err
	}
	defer closeBucket(ctx, in)
	inAttrs, err := in.Stat(ctx, inKey)
	if err != nil {
		return domain.RunSummary{}, perr.WithOp(err, "stat input")
	}

	processed, err := s.openSink(ctx, rc.ProcessedSink, "processed-sink")
	if err != nil {
		return domain.RunSummary{}, err
	}
	defer closeBucket(ctx, processed)
	if err := s.prepareSink(ctx, processed, rc.Overwrite); err != nil {
		return domain.RunSummary{}, err
	}

	var raw blob.Bucket
	if !rc.SkipArchive {
		if raw, err = s.openSink(ctx, rc.RawSink, "raw-sink"); err != nil {
			return domain.RunSummary{}, err
		}
		defer closeBucket(ctx, raw)
	}

	r := &run{rc: rc, log: log, ex: extract.New(), inBytes: inAttrs.Size}
	r.w = newWriter(processed, rc, s.Cfg, s.encode, r.enter)
	r.w.now = s.now
	r.enter(domain.StateOpened)
	log.Info().
		Str("input", rc.Input).
		Int64("input_bytes", inAttrs.Size).
		Str("processed", processed.URI()).
		Int("chunk_rows", rc.ChunkRows).
		Int("flush_rows", rc.FlushRows).
		Int64("flush_bytes", rc.FlushBytes).
		Int("workers", rc.Workers).
		Msg("ingest run opened")

	archived := make(chan domain.ArchiveOutcome, 1)
	if rc.SkipArchive {
		archived <- domain.ArchiveOutcome{Status: domain.ArchiveDisabled}
	} else {
		go func() { archived <- s.archive(ctx, rc, in, inKey, inAttrs.Size, raw) }()
	}

	runErr := s.pipeline(ctx, r, in, inKey)
	arch := <-archived

	sum := s.summarize(r, runErr, arch)
	if err := s.persist(ctx, processed, sum, r.w.Published()); err != nil {
		log.Error().Err(err).Msg("run summary not persisted")
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		log.Error().Err(runErr).Str("failed_in", string(sum.FailedIn)).Int64("rows_written", sum.RowsWritten).Msg("ingest run failed")
		return sum, runErr
	}
	log.Info().
		Int64("rows_written", sum.RowsWritten).
		Int64("lines_skipped", sum.LinesSkipped).
		Int("partitions", len(sum.Partitions)).
		Int64("elapsed_ms", sum.ElapsedMS).
		Float64("rows_per_sec", sum.RowsPerSec).
		Str("archive", sum.Archive.Status).
		Msg("ingest run finalized")
	return sum, nil
}

func (s *Service) openSink(ctx context.Context, uri, field string) (blob.Bucket, error) {
	loc, err := blob.ParseLocation(uri)
	if err != nil {
		return nil, perr.WithField(err, field)
	}
	return s.Open(ctx, loc)
}

func closeBucket(ctx context.Context, b blob.Bucket) {
	if err := b.Close(); err != nil {
		logger.C(ctx).Warn().Err(err).Str("bucket", b.URI()).Msg("bucket close failed")
	}
}

// pipeline drives Reading → Extracting → Deriving → Buffering → Flushing until the input is drained
func (s *Service) pipeline(ctx context.Context, r *run, in blob.Bucket, inKey string) error {
	runCtx, cancel := guardrails.WithRun(ctx, s.Cfg.Timeouts)
	defer cancel()

	rd, err := ndjson.Open(runCtx, in, inKey, r.rc.ChunkRows)
	if err != nil {
		return err
	}
	r.rd = rd
	defer func() {
		if cerr := rd.Close(); cerr != nil {
			r.log.Warn().Err(cerr).Msg("input close failed")
		}
	}()

	for {
		r.enter(domain.StateReading)
		ch, err := rd.Next(runCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(ch.Records) == 0 {
			continue
		}

		r.enter(domain.StateExtracting)
		recs, err := extractChunk(runCtx, r.ex, ch.Records, r.rc.Workers)
		if err != nil {
			return err
		}

		r.enter(domain.StateDeriving)
		keys := make([]partition.Key, len(recs))
		for i := range recs {
			keys[i] = recs[i].Key()
		}

		r.enter(domain.StateBuffering)
		for i := range recs {
			if err := r.w.Add(runCtx, keys[i], recs[i]); err != nil {
				return err
			}
		}
		r.extracted += int64(len(recs))
		r.log.Debug().
			Int("chunk", ch.Seq).
			Int("records", len(ch.Records)).
			Int("skipped", ch.Skipped).
			Int("first_line", ch.FirstLine).
			Int("buffered", r.w.Buffered()).
			Msg("chunk buffered")
	}
	return r.w.FlushAll(runCtx)
}

// extractChunk maps raws onto canonical records in parallel; slot i always holds raws[i]
func extractChunk(ctx context.Context, ex *extract.Extractor, raws []map[string]any, workers int) ([]extract.Record, error) {
	out := make([]extract.Record, len(raws))
	workers = max(workers, 1)
	stripe := max((len(raws)+workers-1)/workers, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < len(raws); lo += stripe {
		hi := min(lo+stripe, len(raws))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				out[i] = ex.Extract(raws[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// prepareSink enforces the overwrite policy before any shard is written
// overwrite purges everything outside the runs prefix; otherwise existing shards are a conflict
func (s *Service) prepareSink(ctx context.Context, b blob.Bucket, overwrite bool) error {
	var objs []blob.Attrs
	res := guardrails.Retry(ctx, s.Cfg.Retry, s.Cfg.Timeouts.Publish, "list processed sink", func(c context.Context) error {
		var err error
		objs, err = b.List(c, "")
		return err
	})
	if !res.OK() {
		return perr.WithOp(res.Err, "list processed sink")
	}

	var stale []string
	shards := 0
	for _, o := range objs {
		if strings.HasPrefix(o.Key, domain.RunsPrefix) {
			continue
		}
		stale = append(stale, o.Key)
		if strings.HasSuffix(o.Key, ".parquet") {
			shards++
		}
	}
	if !overwrite {
		if shards > 0 {
			return perr.Conflictf("processed sink %s already holds %d shards; rerun with overwrite to replace them", b.URI(), shards)
		}
		return nil
	}

	for _, key := range stale {
		res := guardrails.Retry(ctx, s.Cfg.Retry, s.Cfg.Timeouts.Publish, "purge", func(c context.Context) error {
			return b.Delete(c, key)
		})
		if !res.OK() {
			return perr.WithOp(res.Err, "purge "+key)
		}
	}
	if len(stale) > 0 {
		logger.C(ctx).Info().Int("objects", len(stale)).Int("shards", shards).Str("sink", b.URI()).Msg("purged previous output")
	}
	return nil
}

// summarize freezes the run into its durable summary
func (s *Service) summarize(r *run, runErr error, arch domain.ArchiveOutcome) domain.RunSummary {
	finished := s.now().UTC()
	sum := domain.RunSummary{
		RunContext:    r.rc,
		Status:        domain.StatusFinalized,
		FinishedAt:    finished,
		ElapsedMS:     finished.Sub(r.rc.StartedAt).Milliseconds(),
		InputBytes:    r.inBytes,
		RowsExtracted: r.extracted,
		RowsWritten:   r.w.Written(),
		Columns:       schema.Names(),
		Signature:     schema.Signature(),
		Partitions:    r.w.Partitions(),
		Archive:       arch,
		Build:         version.Info(),
	}
	if r.rd != nil {
		st := r.rd.Stats()
		sum.LinesRead, sum.LinesSkipped, sum.SkippedLineSample = st.Lines, st.Skipped, st.SkipSample
	}
	es := r.ex.Stats()
	sum.CoercionFailures, sum.UnknownYear, sum.UnknownCountry = es.Coercion, es.UnknownYear, es.UnknownCountry
	if secs := finished.Sub(r.rc.StartedAt).Seconds(); secs > 0 {
		sum.RowsPerSec = float64(sum.RowsWritten) / secs
	}
	if runErr != nil {
		sum.Status, sum.FailedIn, sum.Error = domain.StatusFailed, r.state, runErr.Error()
		r.enter(domain.StateFailed)
	} else {
		r.enter(domain.StateFinalized)
	}
	return sum
}

// persist writes the summary to the processed sink, then best-effort to the ledger and catalog
// Runs detached from cancellation so an interrupted run still leaves its record
func (s *Service) persist(ctx context.Context, b blob.Bucket, sum domain.RunSummary, shards []domain.CatalogShard) error {
	ctx = context.WithoutCancel(ctx)
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "encode run summary")
	}
	for _, key := range []string{domain.SummaryKey(sum.RunID), domain.LatestSummaryKey} {
		res := guardrails.Retry(ctx, s.Cfg.Retry, s.Cfg.Timeouts.Publish, "publish summary", func(c context.Context) error {
			_, err := b.Put(c, key, bytes.NewReader(data))
			return err
		})
		if !res.OK() {
			return perr.Wrapf(res.Err, perr.ErrorCodeStorage, "write run summary %s", key)
		}
	}
	s.recordLedger(ctx, sum)
	s.recordCatalog(ctx, sum.RunID, shards)
	return nil
}

func (s *Service) recordLedger(ctx context.Context, sum domain.RunSummary) {
	if s.DB == nil || s.Ledger == nil {
		return
	}
	dbCtx, cancel := guardrails.ForDB(ctx, s.Cfg.Timeouts)
	defer cancel()
	err := repokit.WithTx(dbCtx, s.DB, s.Ledger, func(l domain.LedgerRepo) error {
		if err := l.EnsureSchema(dbCtx); err != nil {
			return err
		}
		return l.RecordRun(dbCtx, sum)
	})
	if err != nil {
		logger.C(ctx).Warn().Err(err).Msg("run ledger write failed")
	}
}

func (s *Service) recordCatalog(ctx context.Context, runID string, shards []domain.CatalogShard) {
	if s.Catalog == nil || len(shards) == 0 {
		return
	}
	rows := make([]domain.CatalogShard, len(shards))
	for i, sh := range shards {
		sh.RunID = runID
		rows[i] = sh
	}
	dbCtx, cancel := guardrails.ForDB(ctx, s.Cfg.Timeouts)
	defer cancel()
	err := s.Catalog.EnsureSchema(dbCtx)
	if err == nil {
		err = s.Catalog.PublishShards(dbCtx, rows)
	}
	if err != nil {
		logger.C(ctx).Warn().Err(err).Int("shards", len(rows)).Msg("shard catalog write failed")
	}
}
