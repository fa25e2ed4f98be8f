// internal/adapters/extract/filebatch/register.go
package filebatch

import (
	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/logx"
	"strata/internal/platform/registry"
)

func init() {
	err := registry.Global().Register(domain.SourceTypeFileBatch,
		func(source domain.Source, cfg ports.ExtractorConfig, logger logx.Logger) (ports.Extractor, error) {
			return New(cfg, logger), nil
		})
	if err != nil {
		logx.New().Warn("failed to register file-batch extractor", "error", err.Error())
	}
}
