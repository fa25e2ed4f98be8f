// internal/adapters/extract/dbtable/register.go
package dbtable

import (
	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/logx"
	"strata/internal/platform/registry"
)

// Registered on import so the command layer only needs a blank import.
func init() {
	err := registry.Global().Register(domain.SourceTypeDBTable,
		func(source domain.Source, cfg ports.ExtractorConfig, logger logx.Logger) (ports.Extractor, error) {
			return New(Options{
				DSN:    source.Connection["dsn"],
				Config: cfg,
				Logger: logger,
			})
		})
	if err != nil {
		// Registry skips the type during Build; starting up still works.
		logx.New().Warn("failed to register db-table extractor", "error", err.Error())
	}
}
