// internal/adapters/output/notifier.go
package output

import (
	"context"

	"strata/internal/core/ports"
	"strata/internal/platform/logx"
)

// LogNotifier publishes lifecycle events as structured log lines.
type LogNotifier struct {
	logger logx.Logger
}

var _ ports.Notifier = (*LogNotifier)(nil)

// NewLogNotifier builds a notifier over the given logger.
func NewLogNotifier(logger logx.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// Notify logs the event. Failures and retries log at warn so operators
// see them without debug verbosity.
func (n *LogNotifier) Notify(ctx context.Context, event ports.Event) error {
	kv := []any{
		"event", string(event.Type),
		"run", event.RunID,
	}
	if event.TaskID != "" {
		kv = append(kv, "task", event.TaskID)
	}
	if event.SourceID != "" {
		kv = append(kv, "source", event.SourceID)
	}
	if event.Data != nil {
		kv = append(kv, "data", event.Data)
	}

	switch event.Type {
	case ports.EventTaskFailed, ports.EventTaskRetrying:
		n.logger.Warn("pipeline event", kv...)
	default:
		n.logger.Info("pipeline event", kv...)
	}
	return nil
}

// Close is a no-op; the logger owns its sink.
func (n *LogNotifier) Close() error { return nil }
