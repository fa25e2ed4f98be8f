// internal/platform/registry/extractor_registry.go
package registry

import (
	"fmt"
	"sort"
	"sync"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/logx"
)

// ExtractorRegistry maps source types to extractor factories. It
// decouples extractor construction from the application wiring: each
// adapter package registers itself and the command layer builds one
// extractor per configured source.
type ExtractorRegistry struct {
	mu        sync.RWMutex
	factories map[domain.SourceType]ExtractorFactory
	logger    logx.Logger
}

// ExtractorFactory builds an extractor for one source.
type ExtractorFactory func(source domain.Source, cfg ports.ExtractorConfig, logger logx.Logger) (ports.Extractor, error)

var globalRegistry *ExtractorRegistry
var once sync.Once

// Global returns the process-wide registry instance.
func Global() *ExtractorRegistry {
	once.Do(func() {
		globalRegistry = NewExtractorRegistry(logx.New())
	})
	return globalRegistry
}

// NewExtractorRegistry creates an empty registry.
func NewExtractorRegistry(logger logx.Logger) *ExtractorRegistry {
	return &ExtractorRegistry{
		factories: make(map[domain.SourceType]ExtractorFactory),
		logger:    logger.With("component", "extractor-registry"),
	}
}

// Register binds a factory to a source type.
func (r *ExtractorRegistry) Register(typ domain.SourceType, factory ExtractorFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if typ == "" {
		return fmt.Errorf("source type cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory cannot be nil for type %s", typ)
	}
	if _, exists := r.factories[typ]; exists {
		return fmt.Errorf("type %s is already registered", typ)
	}

	r.factories[typ] = factory
	r.logger.Debug("extractor type registered", "type", string(typ))
	return nil
}

// Build constructs one extractor per enabled source. Sources whose type
// has no registered factory are reported but do not abort the rest.
func (r *ExtractorRegistry) Build(sources []domain.Source, configs map[string]ports.ExtractorConfig, logger logx.Logger) (map[string]ports.Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	extractors := make(map[string]ports.Extractor, len(sources))
	var buildErrs []error

	for _, src := range sources {
		cfg, ok := configs[src.ID]
		if !ok {
			cfg = ports.DefaultExtractorConfig()
		}
		if !cfg.Enabled {
			continue
		}

		factory, exists := r.factories[src.Type]
		if !exists {
			r.logger.Warn("no extractor registered for type, skipping",
				"source", src.ID, "type", string(src.Type))
			buildErrs = append(buildErrs, fmt.Errorf("source %s: type %s not registered", src.ID, src.Type))
			continue
		}

		ex, err := factory(src, cfg, logger)
		if err != nil {
			buildErrs = append(buildErrs, fmt.Errorf("building extractor for %s: %w", src.ID, err))
			continue
		}
		extractors[src.ID] = ex
		r.logger.Debug("extractor built", "source", src.ID, "type", string(src.Type))
	}

	for _, err := range buildErrs {
		r.logger.Warn("extractor build error", "error", err.Error())
	}
	if len(extractors) == 0 && len(sources) > 0 {
		return nil, domain.ErrNoSourcesEnabled
	}

	logger.Info("extractors built", "count", len(extractors), "requested", len(sources))
	return extractors, nil
}

// List returns the registered source types, sorted.
func (r *ExtractorRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		names = append(names, string(typ))
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a source type has a factory.
func (r *ExtractorRegistry) IsRegistered(typ domain.SourceType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.factories[typ]
	return exists
}

// Clear removes all registered factories. Useful in tests.
func (r *ExtractorRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories = make(map[domain.SourceType]ExtractorFactory)
}
