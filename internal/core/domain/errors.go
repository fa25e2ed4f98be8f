// internal/core/domain/errors.go
package domain

import "errors"

// Sentinel errors surfaced by domain validation and lookups.
var (
	// ErrInvalidSource indicates a malformed source descriptor.
	ErrInvalidSource = errors.New("invalid source")

	// ErrInvalidRange indicates an empty or inverted watermark range.
	ErrInvalidRange = errors.New("invalid watermark range")

	// ErrInvalidManifest indicates an incomplete staged object manifest.
	ErrInvalidManifest = errors.New("invalid staged object manifest")

	// ErrInvalidTransition indicates a task state transition that the
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrCycleDetected indicates the submitted task graph is not a DAG.
	ErrCycleDetected = errors.New("dependency cycle detected")

	// ErrUnknownTask indicates a task ID with no matching task.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownRun indicates a run ID with no matching run.
	ErrUnknownRun = errors.New("unknown run")

	// ErrNoSourcesEnabled indicates a run spec with nothing to do.
	ErrNoSourcesEnabled = errors.New("no sources enabled")
)
