// Package modkit provides module wiring and core deps
package modkit

import (
	"nutrisage/internal/modkit/repokit"
	"nutrisage/internal/platform/blob"
	"nutrisage/internal/platform/config"
	"nutrisage/internal/platform/logger"
)

// Deps holds core dependencies passed to modules
// PG and CH are nil when the ledger or catalog is not configured
type Deps struct {
	Log  *logger.Logger
	Cfg  config.Conf
	PG   repokit.TxRunner
	CH   repokit.Catalog
	Blob blob.Options
}

// Logger returns Log or the process logger when unset
func (d Deps) Logger() *logger.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logger.Get()
}
