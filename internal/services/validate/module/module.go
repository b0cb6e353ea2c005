// Package module wires the validator from deps and configuration
package module

import (
	"bytes"
	"context"
	"io"

	"nutrisage/internal/modkit"
	"nutrisage/internal/platform/blob"
	perr "nutrisage/internal/platform/errors"
	ingest "nutrisage/internal/services/ingest/domain"
	"nutrisage/internal/services/validate/domain"
	"nutrisage/internal/services/validate/report"
	"nutrisage/internal/services/validate/service"
)

// Ports defines the validate module ports
type Ports struct {
	Validator domain.ValidatorPort
}

// Module implements the validate module
type Module struct {
	deps modkit.Deps
	opts Options
	svc  *service.Service
}

// New constructs the validate module
func New(deps modkit.Deps, opts Options) *Module {
	return &Module{deps: deps, opts: opts, svc: service.New(blob.OpenerFor(deps.Blob))}
}

// WithLedger adds the run ledger as a summary fallback
func (m *Module) WithLedger(l ingest.SummaryLoader) *Module {
	m.svc.WithLedger(l)
	return m
}

// Run validates the sink and renders the report to Out, or to w when Out is empty
// Mismatches yield a Validation error after the report is written
func (m *Module) Run(ctx context.Context, w io.Writer) (domain.Report, error) {
	if err := m.opts.Validate(); err != nil {
		return domain.Report{}, err
	}
	rep, err := m.svc.Validate(ctx, m.opts.Request())
	if err != nil {
		return domain.Report{}, err
	}

	var buf bytes.Buffer
	if err := report.Write(&buf, rep, m.opts.Format); err != nil {
		return rep, err
	}
	if err := m.emit(ctx, w, buf.Bytes()); err != nil {
		return rep, err
	}
	if !rep.OK() {
		return rep, perr.Newf(perr.ErrorCodeValidation, "validation found %d mismatches", len(rep.Mismatches))
	}
	return rep, nil
}

func (m *Module) emit(ctx context.Context, w io.Writer, data []byte) error {
	if m.opts.Out == "" {
		if _, err := w.Write(data); err != nil {
			return perr.Wrap(err, perr.ErrorCodeStorage, "write report")
		}
		return nil
	}
	loc, key, err := blob.SplitObject(m.opts.Out)
	if err != nil {
		return perr.WithField(err, "out")
	}
	b, err := m.svc.Open(ctx, loc)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	if _, err := b.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return perr.WithOp(err, "write report "+m.opts.Out)
	}
	m.deps.Logger().Info().Str("out", m.opts.Out).Int("bytes", len(data)).Msg("report written")
	return nil
}

// Name returns the module name
func (m *Module) Name() string { return "validate" }

// Ports returns the module ports
func (m *Module) Ports() any { return Ports{Validator: m.svc} }
