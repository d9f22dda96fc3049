package policy

import "errors"

// Package-level errors returned by policy operations.
var (
	// ErrInvalidStrategy indicates a strategy value outside the closed set.
	ErrInvalidStrategy = errors.New("policy: invalid strategy")

	// ErrUnknownContext indicates a context id outside the known set.
	ErrUnknownContext = errors.New("policy: unknown context")

	// ErrUnknownPreset indicates a preset name with no table.
	ErrUnknownPreset = errors.New("policy: unknown preset")

	// ErrInvalidTier indicates a tier value outside strong/standard/cautious.
	ErrInvalidTier = errors.New("policy: invalid tier")

	// ErrInvalidRisk indicates an unknown risk level.
	ErrInvalidRisk = errors.New("policy: invalid risk level")

	// ErrModelNotTracked indicates a model-policy edit for a model that has
	// no active override column.
	ErrModelNotTracked = errors.New("policy: model not tracked")
)
