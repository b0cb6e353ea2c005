package repo

import (
	"context"
	"encoding/json"
	"io"

	"nutrisage/internal/platform/blob"
	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/services/ingest/domain"
)

// Blob reads summaries written by the ingest service into the processed sink
type Blob struct{ Bucket blob.Bucket }

var _ domain.SummaryLoader = Blob{}

// LoadSummary reads _runs/<runID>.json, or _runs/latest.json when runID is empty
func (b Blob) LoadSummary(ctx context.Context, runID string) (domain.RunSummary, error) {
	key := domain.LatestSummaryKey
	if runID != "" {
		key = domain.SummaryKey(runID)
	}
	return ReadSummary(ctx, b.Bucket, key)
}

// ReadSummary decodes the summary stored at key in b
func ReadSummary(ctx context.Context, b blob.Bucket, key string) (domain.RunSummary, error) {
	rc, err := b.Open(ctx, key)
	if err != nil {
		return domain.RunSummary{}, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return domain.RunSummary{}, perr.Wrapf(err, perr.ErrorCodeStorage, "read %s", key)
	}
	var s domain.RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.RunSummary{}, perr.Wrapf(err, perr.ErrorCodeParse, "decode %s", key)
	}
	return s, nil
}

// Fallback tries each loader in order, moving on only when a summary is not found
type Fallback []domain.SummaryLoader

// LoadSummary implements domain.SummaryLoader
func (f Fallback) LoadSummary(ctx context.Context, runID string) (domain.RunSummary, error) {
	var last error = perr.NotFoundf("no summary source configured")
	for _, l := range f {
		if l == nil {
			continue
		}
		s, err := l.LoadSummary(ctx, runID)
		if err == nil {
			return s, nil
		}
		if !perr.IsCode(err, perr.ErrorCodeNotFound) {
			return domain.RunSummary{}, err
		}
		last = err
	}
	return domain.RunSummary{}, last
}
