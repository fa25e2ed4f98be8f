// internal/adapters/extract/api/register.go
package api

import (
	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/logx"
	"strata/internal/platform/registry"
)

func init() {
	err := registry.Global().Register(domain.SourceTypeAPIEndpoint,
		func(source domain.Source, cfg ports.ExtractorConfig, logger logx.Logger) (ports.Extractor, error) {
			return New(nil, cfg, logger), nil
		})
	if err != nil {
		logx.New().Warn("failed to register api-endpoint extractor", "error", err.Error())
	}
}
