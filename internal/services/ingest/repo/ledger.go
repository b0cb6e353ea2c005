// Package repo provides the run ledger (Postgres), shard catalog (ClickHouse) and summary readers
package repo

import (
	"context"
	"encoding/json"

	"nutrisage/internal/modkit/repokit"
	perr "nutrisage/internal/platform/errors"
	"nutrisage/internal/platform/store"
	"nutrisage/internal/services/ingest/domain"
)

type (
	// PG is a Postgres binder for domain.LedgerRepo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.LedgerRepo
func NewPG() repokit.Binder[domain.LedgerRepo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.LedgerRepo { return &queries{q: q} }

const ledgerDDL = `
	CREATE TABLE IF NOT EXISTS nutrisage_runs (
		run_id        text PRIMARY KEY,
		status        text NOT NULL CHECK (status IN ('finalized', 'failed')),
		input         text NOT NULL,
		started_at    timestamptz NOT NULL,
		finished_at   timestamptz NOT NULL,
		rows_written  bigint NOT NULL DEFAULT 0,
		lines_skipped bigint NOT NULL DEFAULT 0,
		summary       jsonb NOT NULL,
		error         text
	)
`

// EnsureSchema creates the ledger table when missing
func (r *queries) EnsureSchema(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, ledgerDDL); err != nil {
		return perr.FromPostgres(err, "ensure nutrisage_runs")
	}
	return nil
}

// RecordRun upserts the summary (idempotent per run id)
func (r *queries) RecordRun(ctx context.Context, s domain.RunSummary) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnknown, "encode summary")
	}
	err = store.ExecOne(ctx, r.q, `
		INSERT INTO nutrisage_runs (run_id, status, input, started_at, finished_at, rows_written, lines_skipped, summary, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, NULLIF($9,''))
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			rows_written = EXCLUDED.rows_written,
			lines_skipped = EXCLUDED.lines_skipped,
			summary = EXCLUDED.summary,
			error = EXCLUDED.error
	`,
		s.RunID, string(s.Status), s.Input, s.StartedAt, s.FinishedAt,
		s.RowsWritten, s.LinesSkipped, string(doc), s.Error,
	)
	if err != nil {
		return perr.FromPostgresWithField(err, "record run "+s.RunID)
	}
	return nil
}

// LoadSummary returns the summary of runID, or of the most recently finished run when runID is empty
func (r *queries) LoadSummary(ctx context.Context, runID string) (domain.RunSummary, error) {
	scan := func(row store.Row) (string, error) {
		var doc string
		err := row.Scan(&doc)
		return doc, err
	}
	var (
		doc string
		err error
	)
	if runID == "" {
		doc, err = store.One(ctx, r.q, scan, `SELECT summary::text FROM nutrisage_runs ORDER BY finished_at DESC, run_id DESC LIMIT 1`)
	} else {
		doc, err = store.One(ctx, r.q, scan, `SELECT summary::text FROM nutrisage_runs WHERE run_id = $1`, runID)
	}
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			return domain.RunSummary{}, perr.NotFoundf("no ledger entry for run %q", runID)
		}
		return domain.RunSummary{}, perr.FromPostgresf(err, "load ledger summary %q", runID)
	}
	var s domain.RunSummary
	if err := json.Unmarshal([]byte(doc), &s); err != nil {
		return domain.RunSummary{}, perr.Wrap(err, perr.ErrorCodeParse, "decode ledger summary")
	}
	return s, nil
}

// Ledger adapts a TxRunner and binder into a domain.SummaryLoader for the validator
type Ledger struct {
	DB     repokit.TxRunner
	Binder repokit.Binder[domain.LedgerRepo]
}

// LoadSummary implements domain.SummaryLoader
func (l Ledger) LoadSummary(ctx context.Context, runID string) (domain.RunSummary, error) {
	var out domain.RunSummary
	err := repokit.WithTx(ctx, l.DB, l.Binder, func(repo domain.LedgerRepo) error {
		s, err := repo.LoadSummary(ctx, runID)
		out = s
		return err
	})
	return out, err
}
