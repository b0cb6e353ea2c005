package service

import (
	"context"
	"path"

	"nutrisage/internal/platform/blob"
	"nutrisage/internal/platform/logger"
	"nutrisage/internal/services/ingest/domain"
	"nutrisage/internal/services/ingest/guardrails"
)

// ArchiveKey is where the untouched input lands in the raw sink
func ArchiveKey(runID, inputKey string) string {
	return runID + "/" + path.Base(inputKey)
}

// archive streams the input object to the raw sink; the outcome never fails the run
// An object of identical size at the target key is treated as already archived
func (s *Service) archive(ctx context.Context, rc domain.RunContext, in blob.Bucket, inKey string, inSize int64, raw blob.Bucket) domain.ArchiveOutcome {
	key := ArchiveKey(rc.RunID, inKey)
	log := logger.C(ctx).With().Str("key", key).Logger()
	out := domain.ArchiveOutcome{Key: key}

	actx, cancel := guardrails.ForArchive(ctx, s.Cfg.Timeouts)
	defer cancel()

	if a, ok, err := blob.Exists(actx, raw, key); err != nil {
		log.Warn().Err(err).Msg("raw archive stat failed; uploading anyway")
	} else if ok && a.Size == inSize {
		out.Status, out.Bytes = domain.ArchiveSkipped, a.Size
		log.Info().Int64("bytes", a.Size).Msg("raw archive already present; skipped")
		return out
	}

	var n int64
	res := guardrails.Retry(actx, s.Cfg.Retry, 0, "archive raw", func(c context.Context) error {
		body, err := in.Open(c, inKey)
		if err != nil {
			return err
		}
		defer func() { _ = body.Close() }()
		n, err = raw.Put(c, key, body)
		return err
	})
	if !res.OK() {
		out.Status, out.Error = domain.ArchiveFailed, res.Err.Error()
		log.Warn().Err(res.Err).Int("attempts", res.Attempts).Msg("raw archive failed; continuing")
		return out
	}
	out.Status, out.Bytes = domain.ArchiveArchived, n
	log.Info().Int64("bytes", n).Int("attempts", res.Attempts).Msg("raw input archived")
	return out
}
