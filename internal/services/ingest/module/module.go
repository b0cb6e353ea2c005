// Package module wires the ingest service from deps and configuration
package module

import (
	"context"

	"nutrisage/internal/modkit"
	"nutrisage/internal/platform/blob"
	"nutrisage/internal/services/ingest/domain"
	"nutrisage/internal/services/ingest/repo"
	"nutrisage/internal/services/ingest/service"
)

// Ports defines the ingest module ports
// Summaries is nil when no run ledger is configured
type Ports struct {
	Runner    domain.RunnerPort
	Summaries domain.SummaryLoader
}

// Module implements the ingest module
type Module struct {
	deps  modkit.Deps
	opts  Options
	svc   *service.Service
	ports Ports
}

// New constructs the ingest module; the ledger and catalog are wired only when deps carry them
func New(deps modkit.Deps, opts Options) *Module {
	svc := service.New(blob.OpenerFor(deps.Blob), opts.ServiceConfig())

	m := &Module{deps: deps, opts: opts, svc: svc}
	m.ports.Runner = svc
	if deps.PG != nil {
		binder := repo.NewPG()
		svc.WithLedger(deps.PG, binder)
		m.ports.Summaries = repo.Ledger{DB: deps.PG, Binder: binder}
	}
	if deps.CH != nil {
		svc.WithCatalog(repo.NewCH(deps.CH))
	}
	deps.Logger().Debug().Bool("ledger", deps.PG != nil).Bool("catalog", deps.CH != nil).Msg("ingest module wired")
	return m
}

// Run validates the options and executes one ingest run
func (m *Module) Run(ctx context.Context) (domain.RunSummary, error) {
	if err := m.opts.Validate(); err != nil {
		return domain.RunSummary{}, err
	}
	return m.svc.Run(ctx, m.opts.RunContext())
}

// Name returns the module name
func (m *Module) Name() string { return "ingest" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }
