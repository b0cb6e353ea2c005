// Package service re-reads the processed sink and checks it against the run summary
package service

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"nutrisage/internal/adapters/columnar"
	"nutrisage/internal/core/partition"
	"nutrisage/internal/core/schema"
	"nutrisage/internal/platform/blob"
	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/logger"
	ingest "nutrisage/internal/services/ingest/domain"
	"nutrisage/internal/services/ingest/repo"
	"nutrisage/internal/services/validate/domain"
)

// SourceLedger names the run ledger as the summary source in reports
const SourceLedger = "ledger"

// Service implements domain.ValidatorPort
type Service struct {
	Open blob.Opener

	// Optional fallback consulted when the sink holds no summary
	Ledger ingest.SummaryLoader

	decode func(context.Context, []byte) (columnar.Shard, error)
}

var _ domain.ValidatorPort = (*Service)(nil)

// New constructs the validator
func New(open blob.Opener) *Service {
	if open == nil {
		panic("validate.Service requires a non nil Opener")
	}
	return &Service{Open: open, decode: columnar.Decode}
}

// WithLedger wires the run ledger as a summary fallback
func (s *Service) WithLedger(l ingest.SummaryLoader) *Service {
	s.Ledger = l
	return s
}

// shardResult is the outcome of reading one object; slot order follows the sorted key list
type shardResult struct {
	key     string
	path    partition.Key
	pathErr error
	shard   columnar.Shard
	readErr error
}

// Validate implements domain.ValidatorPort
func (s *Service) Validate(ctx context.Context, req domain.Request) (domain.Report, error) {
	if req.ProcessedSink == "" {
		return domain.Report{}, perr.WithField(perr.InvalidArgf("processed sink is required"), "processed-sink")
	}
	if req.Workers <= 0 {
		req.Workers = runtime.NumCPU()
	}
	ctx = logger.WithStage(ctx, "validate")

	loc, err := blob.ParseLocation(req.ProcessedSink)
	if err != nil {
		return domain.Report{}, perr.WithField(err, "processed-sink")
	}
	b, err := s.Open(ctx, loc)
	if err != nil {
		return domain.Report{}, err
	}
	defer func() { _ = b.Close() }()

	sum, source, err := s.loadSummary(ctx, b, req)
	if err != nil {
		return domain.Report{}, err
	}
	ctx = logger.WithRun(ctx, sum.RunID)
	log := logger.C(ctx)

	objs, err := b.List(ctx, "")
	if err != nil {
		return domain.Report{}, perr.WithOp(err, "list processed sink")
	}
	var keys []string
	for _, o := range objs {
		if strings.HasPrefix(o.Key, ingest.RunsPrefix) || !strings.HasSuffix(o.Key, ".parquet") {
			continue
		}
		keys = append(keys, o.Key)
	}
	sort.Strings(keys)
	log.Info().Str("sink", b.URI()).Str("summary", source).Int("shards", len(keys)).Msg("validating")

	results, err := s.readShards(ctx, b, keys, req.Workers)
	if err != nil {
		return domain.Report{}, err
	}

	rep := compare(sum, results)
	rep.Sink, rep.Summary = b.URI(), source

	ev := log.Info()
	if !rep.OK() {
		ev = log.Warn()
	}
	ev.Int("shards", rep.Shards).
		Int64("rows", rep.Rows).
		Int64("expected_rows", rep.ExpectedRows).
		Int("mismatches", len(rep.Mismatches)).
		Msg("validation finished")
	return rep, nil
}

// loadSummary resolves the expected summary: an explicit object, then the sink, then the ledger
func (s *Service) loadSummary(ctx context.Context, b blob.Bucket, req domain.Request) (ingest.RunSummary, string, error) {
	if req.Summary != "" {
		loc, key, err := blob.SplitObject(req.Summary)
		if err != nil {
			return ingest.RunSummary{}, "", perr.WithField(err, "summary")
		}
		sb, err := s.Open(ctx, loc)
		if err != nil {
			return ingest.RunSummary{}, "", err
		}
		defer func() { _ = sb.Close() }()
		sum, err := repo.ReadSummary(ctx, sb, key)
		return sum, req.Summary, err
	}

	key := ingest.LatestSummaryKey
	if req.RunID != "" {
		key = ingest.SummaryKey(req.RunID)
	}
	sum, err := repo.Blob{Bucket: b}.LoadSummary(ctx, req.RunID)
	if err == nil {
		return sum, b.URI() + "/" + key, nil
	}
	if !perr.IsCode(err, perr.ErrorCodeNotFound) || s.Ledger == nil {
		return ingest.RunSummary{}, "", perr.WithOp(err, "load run summary")
	}
	logger.C(ctx).Debug().Str("key", key).Msg("summary not in sink; asking the run ledger")
	sum, err = s.Ledger.LoadSummary(ctx, req.RunID)
	if err != nil {
		return ingest.RunSummary{}, "", perr.WithOp(err, "load run summary")
	}
	return sum, SourceLedger, nil
}

// readShards decodes every key in parallel; undecodable shards are recorded, storage failures abort
func (s *Service) readShards(ctx context.Context, b blob.Bucket, keys []string, workers int) ([]shardResult, error) {
	out := make([]shardResult, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, key := range keys {
		out[i].key = key
		out[i].path, out[i].pathErr = partition.ParsePath(key)
		g.Go(func() error {
			data, err := readAll(gctx, b, key)
			if err != nil {
				return perr.WithOp(err, "read "+key)
			}
			out[i].shard, out[i].readErr = s.decode(gctx, data)
			logger.C(gctx).Debug().Str("key", key).Int64("rows", out[i].shard.Rows).Msg("shard read")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func readAll(ctx context.Context, b blob.Bucket, key string) ([]byte, error) {
	rc, err := b.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStorage, "read %s", key)
	}
	return data, nil
}

// compare builds the report from the summary and the decoded shards
func compare(sum ingest.RunSummary, results []shardResult) domain.Report {
	rep := domain.Report{
		RunID:        sum.RunID,
		RunStatus:    string(sum.Status),
		Shards:       len(results),
		ExpectedRows: sum.RowsWritten,
		Partitions:   []domain.PartitionCount{},
		Mismatches:   []domain.Mismatch{},
	}
	add := func(k domain.Kind, subject, expected, actual string) {
		rep.Mismatches = append(rep.Mismatches, domain.Mismatch{Kind: k, Subject: subject, Expected: expected, Actual: actual})
	}

	if !sum.Finalized() {
		actual := string(sum.Status)
		if sum.FailedIn != "" {
			actual += " in " + string(sum.FailedIn)
		}
		add(domain.KindRunStatus, "run", string(ingest.StatusFinalized), actual)
	}

	expCols, expSig := sum.Columns, sum.Signature
	if len(expCols) == 0 {
		expCols, expSig = schema.Names(), schema.Signature()
	}

	parts := map[string]*domain.PartitionCount{}
	seen := map[string]int64{}
	for _, r := range results {
		if r.readErr != nil {
			add(domain.KindShardUnreadable, r.key, "parquet", r.readErr.Error())
			seen[r.key] = -1
			continue
		}
		sh := r.shard
		seen[r.key] = sh.Rows
		rep.Rows += sh.Rows
		if rep.Columns == nil {
			for _, f := range sh.Fields {
				rep.Columns = append(rep.Columns, f.Name)
			}
			rep.Signature = sh.Labels()
		}

		if sh.MetaRows != sh.Rows {
			add(domain.KindShardMetaRows, r.key, fmt.Sprint(sh.MetaRows), fmt.Sprint(sh.Rows))
		}
		checkColumns(r.key, sh, expCols, expSig, add)

		if r.pathErr != nil {
			add(domain.KindShardPath, r.key, "year=<year>/country=<slug>/<part>.parquet", r.pathErr.Error())
			continue
		}
		checkRows(r.key, r.path.Path(), sh, add)

		p := parts[r.path.Path()]
		if p == nil {
			p = &domain.PartitionCount{Path: r.path.Path()}
			parts[p.Path] = p
		}
		p.Rows += sh.Rows
		p.Shards++
	}

	if rep.Rows != sum.RowsWritten {
		add(domain.KindTotalRows, "run", fmt.Sprint(sum.RowsWritten), fmt.Sprint(rep.Rows))
	}

	expParts := sum.PartitionRows()
	for path, want := range expParts {
		got, ok := parts[path]
		switch {
		case !ok:
			add(domain.KindPartitionMissing, path, fmt.Sprint(want), "")
		case got.Rows != want:
			add(domain.KindPartitionRows, path, fmt.Sprint(want), fmt.Sprint(got.Rows))
		}
	}
	for path, got := range parts {
		if _, ok := expParts[path]; !ok {
			add(domain.KindPartitionUnexpected, path, "", fmt.Sprint(got.Rows))
		}
	}

	expShards := sum.ShardRows()
	for key, want := range expShards {
		got, ok := seen[key]
		switch {
		case !ok:
			add(domain.KindShardMissing, key, fmt.Sprint(want), "")
		case got >= 0 && got != want:
			add(domain.KindShardRows, key, fmt.Sprint(want), fmt.Sprint(got))
		}
	}
	for key, got := range seen {
		if _, ok := expShards[key]; !ok {
			actual := fmt.Sprint(got)
			if got < 0 {
				actual = "unreadable"
			}
			add(domain.KindShardUnexpected, key, "", actual)
		}
	}

	for _, p := range parts {
		rep.Partitions = append(rep.Partitions, *p)
	}
	sort.Slice(rep.Partitions, func(i, j int) bool {
		a, _ := partition.ParsePath(rep.Partitions[i].Path)
		b, _ := partition.ParsePath(rep.Partitions[j].Path)
		return partition.Less(a, b)
	})
	if rep.Columns == nil {
		rep.Columns, rep.Signature = []string{}, map[string]string{}
	}
	domain.SortMismatches(rep.Mismatches)
	return rep
}

type addFunc func(k domain.Kind, subject, expected, actual string)

// checkColumns names every missing, unexpected or retyped column of one shard
// When the column set matches, the first column out of position is reported as well
func checkColumns(key string, sh columnar.Shard, cols []string, sig map[string]string, add addFunc) {
	got := sh.Labels()
	sameSet := len(sh.Fields) == len(cols)
	for _, name := range cols {
		want := columnar.Field{Name: name, Label: sig[name]}
		label, ok := got[name]
		switch {
		case !ok:
			sameSet = false
			add(domain.KindColumnMissing, key, want.String(), "")
		case label != want.Label:
			add(domain.KindColumnType, key, want.String(), columnar.Field{Name: name, Label: label}.String())
		}
	}
	expected := make(map[string]bool, len(cols))
	for _, c := range cols {
		expected[c] = true
	}
	for _, f := range sh.Fields {
		if !expected[f.Name] {
			sameSet = false
			add(domain.KindColumnUnexpected, key, "", f.String())
		}
	}
	if !sameSet {
		return
	}
	for i, f := range sh.Fields {
		if f.Name != cols[i] {
			add(domain.KindColumnOrder, key, fmt.Sprintf("%d:%s", i, cols[i]), fmt.Sprintf("%d:%s", i, f.Name))
			return
		}
	}
}

// checkRows compares every row's derived and stored partition against the shard directory
func checkRows(key, dir string, sh columnar.Shard, add addFunc) {
	derivedBad, storedBad := 0, 0
	firstDerived, firstStored := -1, -1
	var derivedAs, storedAs string
	for i, k := range sh.Keys {
		if k.HasDerived && k.Derived.Path() != dir {
			derivedBad++
			if firstDerived < 0 {
				firstDerived, derivedAs = i, k.Derived.Path()
			}
		}
		if k.HasStored && k.Stored.Path() != dir {
			storedBad++
			if firstStored < 0 {
				firstStored, storedAs = i, k.Stored.Path()
			}
		}
	}
	if derivedBad > 0 {
		add(domain.KindRowPartition, key, dir, fmt.Sprintf("%d rows; first row %d derives %s", derivedBad, firstDerived, derivedAs))
	}
	if storedBad > 0 {
		add(domain.KindStoredPartition, key, dir, fmt.Sprintf("%d rows; first row %d stores %s", storedBad, firstStored, storedAs))
	}
}
